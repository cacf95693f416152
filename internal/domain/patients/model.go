package patients

import (
	"encoding/json"
	"time"

	"patient-passport-access/internal/domain/accessgrants"
)

// Passport: secciones del pasaporte médico, una por scope.
// El contenido de cada sección es opaco para este servicio.
type Passport map[accessgrants.Scope]json.RawMessage

// Patient es el registro mínimo que necesita el core: dueño (usuario), contacto y pasaporte.
type Patient struct {
	ID     string
	UserID string // cuenta del paciente en el identity provider

	Name       string
	Email      string
	HospitalID string

	Passport Passport

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Contact struct {
	Name  string
	Email string
}

// Filter devuelve solo las secciones incluidas en scopes.
func (p Passport) Filter(scopes []accessgrants.Scope) Passport {
	out := Passport{}
	for _, s := range scopes {
		if v, ok := p[s]; ok {
			out[s] = v
		}
	}
	return out
}
