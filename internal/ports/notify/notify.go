package notify

import (
	"context"
	"time"
)

type Kind string

const (
	KindAccessRequested Kind = "access_request.created"
	KindAccessResolved  Kind = "access_request.resolved"
	KindEmergencyAccess Kind = "emergency_access.granted"
)

// Notification es el evento in-app que se publica para un usuario.
type Notification struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	RecipientID string            `json:"recipient_id"`
	PatientID   string            `json:"patient_id"`
	ActorID     string            `json:"actor_id"`
	SubjectID   string            `json:"subject_id,omitempty"`
	Message     string            `json:"message"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Notifier es fire-and-forget desde el punto de vista del core: el error solo se loguea.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

const TemplateOTPCode = "otp_code"

// Email: el adapter resuelve Template (mustache) con Data.
type Email struct {
	To       string
	Template string
	Data     map[string]any
}

type Mailer interface {
	Send(ctx context.Context, msg Email) error
}
