package mail

import (
	"context"

	"patient-passport-access/internal/platform/logger"
	"patient-passport-access/internal/ports/notify"
)

// LogMailer es el mailer de desarrollo: renderiza y loguea en vez de enviar.
// El cuerpo (que trae el código) solo sale en nivel debug.
type LogMailer struct {
	log logger.Logger
}

func NewLogMailer(log logger.Logger) *LogMailer {
	if log == nil {
		log = logger.Nop()
	}
	return &LogMailer{log: log.With(map[string]any{"component": "logmail"})}
}

func (m *LogMailer) Send(_ context.Context, msg notify.Email) error {
	r, err := Render(msg)
	if err != nil {
		return err
	}
	m.log.Info("email queued", map[string]any{
		"to":       r.To,
		"template": msg.Template,
		"subject":  r.Subject,
	})
	m.log.Debug("email body", map[string]any{"to": r.To, "text": r.Text})
	return nil
}
