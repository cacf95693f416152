package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"patient-passport-access/internal/ports/auth"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownRole  = errors.New("token carries an unknown role")
)

// Claims del token HS256 que emite el servicio de identidad.
type Claims struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role"`
	HospitalID string `json:"hospital_id,omitempty"`
	jwt.RegisteredClaims
}

// Verifier implementa auth.AuthVerifier con un secreto compartido.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier: issuer vacío => no se valida iss.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		now:    time.Now,
	}
}

func (v *Verifier) Verify(_ context.Context, token string) (auth.Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return auth.Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return auth.Claims{}, ErrInvalidToken
	}

	userID := strings.TrimSpace(c.UserID)
	if userID == "" {
		userID = strings.TrimSpace(c.Subject)
	}
	if userID == "" {
		return auth.Claims{}, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}
	role := auth.ParseRole(c.Role)
	if role == "" {
		return auth.Claims{}, ErrUnknownRole
	}

	return auth.Claims{
		UserID:     userID,
		Email:      strings.TrimSpace(c.Email),
		HospitalID: strings.TrimSpace(c.HospitalID),
		Role:       role,
	}, nil
}

// Sign emite un token HS256 para claims. Lo usan los tests y el comando de desarrollo.
func (v *Verifier) Sign(c auth.Claims, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		UserID:     c.UserID,
		Email:      c.Email,
		Role:       string(c.Role),
		HospitalID: c.HospitalID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
