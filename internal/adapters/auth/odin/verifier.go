package odin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"patient-passport-access/internal/ports/auth"
)

var (
	ErrTokenEmpty     = errors.New("token is empty")
	ErrMissingSubject = errors.New("odin claims missing user id")
	ErrUnknownRole    = errors.New("odin claims carry an unknown role")
)

// Verifier implementa auth.AuthVerifier delegando en Odin.
type Verifier struct {
	client *Client
}

func NewVerifier(client *Client) *Verifier {
	return &Verifier{client: client}
}

func (v *Verifier) Verify(ctx context.Context, token string) (auth.Claims, error) {
	if v == nil || v.client == nil {
		return auth.Claims{}, ErrOdinNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Claims{}, ErrTokenEmpty
	}

	claims, err := v.client.VerifyToken(ctx, token)
	if err != nil {
		return auth.Claims{}, fmt.Errorf("odin verify failed: %w", err)
	}
	if claims.UserID == "" {
		return auth.Claims{}, ErrMissingSubject
	}
	// sin rol no hay decisión de acceso posible
	if claims.Role == "" {
		return auth.Claims{}, ErrUnknownRole
	}
	return claims, nil
}
