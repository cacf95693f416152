package mail

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"patient-passport-access/internal/platform/httpclient"
	"patient-passport-access/internal/ports/notify"
)

const sendPath = "/v1/messages"

type HTTPConfig struct {
	BaseURL string
	APIKey  string
	From    string
	Timeout time.Duration

	// Opcional (tests).
	Transport http.RoundTripper
}

// HTTPMailer entrega los emails a un gateway HTTP transaccional.
type HTTPMailer struct {
	http *httpclient.Client
	from string
}

func NewHTTPMailer(cfg HTTPConfig) (*HTTPMailer, error) {
	hc, err := httpclient.New(httpclient.Config{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.Timeout,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("mail gateway: %w", err)
	}
	return &HTTPMailer{http: hc, from: strings.TrimSpace(cfg.From)}, nil
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

func (m *HTTPMailer) Send(ctx context.Context, msg notify.Email) error {
	r, err := Render(msg)
	if err != nil {
		return err
	}
	err = m.http.DoJSON(ctx, http.MethodPost, sendPath, nil, sendRequest{
		From:    m.from,
		To:      r.To,
		Subject: r.Subject,
		Text:    r.Text,
	}, nil)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
