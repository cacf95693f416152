package auth

import (
	"context"
	"strings"
)

type Role string

const (
	RolePatient      Role = "patient"
	RoleDoctor       Role = "doctor"
	RoleAdmin        Role = "admin"
	RoleHospital     Role = "hospital"
	RoleReceptionist Role = "receptionist"
)

// ParseRole normaliza el rol que viene del token / header. Desconocido => "".
func ParseRole(raw string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RolePatient, RoleDoctor, RoleAdmin, RoleHospital, RoleReceptionist:
		return r
	default:
		return ""
	}
}

// Claims representa la información extraída del token.
type Claims struct {
	UserID     string
	Email      string
	HospitalID string
	Role       Role
}

// Caller es la identidad explícita que recibe cada operación del core
// (claims + origen del request, para auditoría).
type Caller struct {
	UserID     string
	Role       Role
	HospitalID string
	IPAddress  string
	UserAgent  string
}

func (c Caller) Is(roles ...Role) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}

// AuthVerifier verifica un token y devuelve claims o error.
type AuthVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}
