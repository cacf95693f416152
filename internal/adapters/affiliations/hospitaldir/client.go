package hospitaldir

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"patient-passport-access/internal/platform/httpclient"
	"patient-passport-access/internal/ports/affiliations"
)

var ErrUpstream = errors.New("hospital directory upstream error")

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// Opcional (tests).
	Transport http.RoundTripper
}

// Client consulta el directorio de hospitales para saber a qué hospital pertenece un doctor.
type Client struct {
	http *httpclient.Client
}

func NewClient(cfg Config) (*Client, error) {
	hc, err := httpclient.New(httpclient.Config{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.Timeout,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("hospital directory: %w", err)
	}
	return &Client{http: hc}, nil
}

type affiliationResponse struct {
	HospitalID string `json:"hospital_id"`
}

// HospitalOf implementa affiliations.Resolver.
// Sin directorio configurado, o sin afiliación, devuelve affiliations.ErrNoAffiliation.
func (c *Client) HospitalOf(ctx context.Context, userID string) (string, error) {
	if c == nil || !c.http.IsConfigured() {
		return "", affiliations.ErrNoAffiliation
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", affiliations.ErrNoAffiliation
	}

	var out affiliationResponse
	err := c.http.DoJSON(ctx, http.MethodGet, "/v1/affiliations?user_id="+url.QueryEscape(userID), nil, nil, &out)
	if err != nil {
		if httpclient.StatusOf(err) == http.StatusNotFound {
			return "", affiliations.ErrNoAffiliation
		}
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	id := strings.TrimSpace(out.HospitalID)
	if id == "" {
		return "", affiliations.ErrNoAffiliation
	}
	return id, nil
}
