package accessrequests

import (
	"strings"
	"time"

	"patient-passport-access/internal/domain/accessgrants"
)

type RequestType string

const (
	TypeView   RequestType = "view"
	TypeUpdate RequestType = "update"
)

// ParseRequestType acepta "edit" como alias de "update". Vacío => view.
func ParseRequestType(raw string) (RequestType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "view":
		return TypeView, true
	case "update", "edit":
		return TypeUpdate, true
	default:
		return "", false
	}
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

type Request struct {
	ID string

	RequesterID string // doctor
	PatientID   string
	HospitalID  string // derivado de la afiliación del doctor, nunca del body

	RequestType   RequestType
	Reason        string
	RequestedData []accessgrants.Scope

	Status         Status
	ResponseReason string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  time.Time
	ResolvedAt *time.Time
}

// StatusAt: un pending vencido se ve como expired aunque el sweeper no haya pasado.
func (r Request) StatusAt(now time.Time) Status {
	if r.Status == StatusPending && !now.Before(r.ExpiresAt) {
		return StatusExpired
	}
	return r.Status
}
