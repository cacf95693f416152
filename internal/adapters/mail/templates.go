package mail

import (
	"errors"
	"fmt"

	"patient-passport-access/internal/ports/notify"

	"github.com/cbroglie/mustache"
)

var ErrUnknownTemplate = errors.New("unknown email template")

type template struct {
	subject string
	text    string
}

var templates = map[string]template{
	notify.TemplateOTPCode: {
		subject: "Your Patient Passport access code",
		text: `Hello {{name}},

A healthcare provider requested access to your medical passport.
Your one-time access code is: {{code}}

The code expires in {{minutes}} minutes ({{expires_at}}).
Share it only with the provider in front of you. If you did not expect this request, ignore this email.
`,
	},
}

// Rendered es el mensaje listo para el transporte.
type Rendered struct {
	To      string
	Subject string
	Text    string
}

// Render resuelve el template de msg con sus datos.
func Render(msg notify.Email) (Rendered, error) {
	t, ok := templates[msg.Template]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, msg.Template)
	}
	subject, err := mustache.Render(t.subject, msg.Data)
	if err != nil {
		return Rendered{}, fmt.Errorf("render subject: %w", err)
	}
	text, err := mustache.Render(t.text, msg.Data)
	if err != nil {
		return Rendered{}, fmt.Errorf("render body: %w", err)
	}
	return Rendered{To: msg.To, Subject: subject, Text: text}, nil
}
