package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"patient-passport-access/internal/ports/auth"
)

type ctxKey string

const claimsKey ctxKey = "claims"

// AuthContext:
// - Si verifier != nil y viene Bearer token => intenta Verify() y setea claims.
// - Si verifier == nil => modo dev: X-Debug-User-ID (+ X-Debug-Role, X-Debug-Hospital-ID, X-Debug-Email).
// - Si no hay claims, el request sigue igual; los handlers deciden 401/403.
func AuthContext(verifier auth.AuthVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				if uid := strings.TrimSpace(r.Header.Get("X-Debug-User-ID")); uid != "" {
					claims := auth.Claims{
						UserID:     uid,
						Email:      strings.TrimSpace(r.Header.Get("X-Debug-Email")),
						HospitalID: strings.TrimSpace(r.Header.Get("X-Debug-Hospital-ID")),
						Role:       auth.ParseRole(r.Header.Get("X-Debug-Role")),
					}
					ctx := context.WithValue(r.Context(), claimsKey, claims)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}

				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := verifier.Verify(r.Context(), token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetClaims(ctx context.Context) (auth.Claims, bool) {
	v := ctx.Value(claimsKey)
	if v == nil {
		return auth.Claims{}, false
	}
	c, ok := v.(auth.Claims)
	return c, ok
}

// GetCaller arma el Caller del core a partir de los claims + origen del request.
// ok=false si no hay usuario autenticado.
func GetCaller(r *http.Request) (auth.Caller, bool) {
	claims, ok := GetClaims(r.Context())
	if !ok || strings.TrimSpace(claims.UserID) == "" {
		return auth.Caller{}, false
	}
	return auth.Caller{
		UserID:     strings.TrimSpace(claims.UserID),
		Role:       claims.Role,
		HospitalID: claims.HospitalID,
		IPAddress:  clientIP(r),
		UserAgent:  r.UserAgent(),
	}, true
}

// RemoteAddr ya viene reescrito por chi RealIP cuando hay X-Forwarded-For.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(authHeader string) string {
	if strings.TrimSpace(authHeader) == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
