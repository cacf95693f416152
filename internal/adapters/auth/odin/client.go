package odin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"patient-passport-access/internal/platform/httpclient"
	"patient-passport-access/internal/ports/auth"
)

var (
	ErrOdinNotConfigured = errors.New("odin client not configured")
	ErrOdinUnauthorized  = errors.New("odin unauthorized")
	ErrOdinUpstream      = errors.New("odin upstream error")
)

const verifyPath = "/v1/tokens/verify"

// Config del IAM Odin. BaseURL y APIKey vienen de auth.odin_* en config.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// Opcional (tests).
	Transport http.RoundTripper
}

type Client struct {
	http   *httpclient.Client
	apiKey string
}

func NewClient(cfg Config) (*Client, error) {
	hc, err := httpclient.New(httpclient.Config{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.Timeout,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("odin: %w", err)
	}
	return &Client{http: hc, apiKey: strings.TrimSpace(cfg.APIKey)}, nil
}

func (c *Client) IsConfigured() bool {
	return c != nil && c.http.IsConfigured() && c.apiKey != ""
}

type verifyResponse struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	HospitalID string `json:"hospital_id"`
}

// VerifyToken le pide a Odin que valide el token y devuelva la identidad.
func (c *Client) VerifyToken(ctx context.Context, token string) (auth.Claims, error) {
	if !c.IsConfigured() {
		return auth.Claims{}, ErrOdinNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Claims{}, ErrOdinUnauthorized
	}

	var out verifyResponse
	err := c.http.DoJSON(ctx, http.MethodPost, verifyPath,
		map[string]string{"Authorization": "Bearer " + token},
		map[string]string{"token": token},
		&out,
	)
	if err != nil {
		switch httpclient.StatusOf(err) {
		case http.StatusUnauthorized, http.StatusForbidden:
			return auth.Claims{}, ErrOdinUnauthorized
		default:
			return auth.Claims{}, fmt.Errorf("%w: %v", ErrOdinUpstream, err)
		}
	}

	return auth.Claims{
		UserID:     strings.TrimSpace(out.UserID),
		Email:      strings.TrimSpace(out.Email),
		HospitalID: strings.TrimSpace(out.HospitalID),
		Role:       auth.ParseRole(out.Role),
	}, nil
}
