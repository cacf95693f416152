package lognotify

import (
	"context"

	"patient-passport-access/internal/platform/logger"
	"patient-passport-access/internal/ports/notify"
)

// Notifier es el fallback sin broker: las notificaciones quedan en el log.
type Notifier struct {
	log logger.Logger
}

func New(log logger.Logger) *Notifier {
	if log == nil {
		log = logger.Nop()
	}
	return &Notifier{log: log.With(map[string]any{"component": "lognotify"})}
}

func (n *Notifier) Notify(_ context.Context, in notify.Notification) error {
	n.log.Info("notification", map[string]any{
		"notification_id": in.ID,
		"kind":            string(in.Kind),
		"recipient_id":    in.RecipientID,
		"patient_id":      in.PatientID,
		"actor_id":        in.ActorID,
		"subject_id":      in.SubjectID,
		"message":         in.Message,
	})
	return nil
}
