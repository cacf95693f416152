package accessgrants

import "time"

// Scope es una sección del pasaporte del paciente.
type Scope string

const (
	ScopeMedicalHistory    Scope = "medical_history"
	ScopeMedications       Scope = "medications"
	ScopeAllergies         Scope = "allergies"
	ScopeLabResults        Scope = "lab_results"
	ScopeImaging           Scope = "imaging"
	ScopeEmergencyContacts Scope = "emergency_contacts"
	ScopeInsurance         Scope = "insurance"
)

func AllScopes() []Scope {
	return []Scope{
		ScopeMedicalHistory,
		ScopeMedications,
		ScopeAllergies,
		ScopeLabResults,
		ScopeImaging,
		ScopeEmergencyContacts,
		ScopeInsurance,
	}
}

type Via string

const (
	ViaOTP       Via = "otp"
	ViaConsent   Via = "consent"
	ViaEmergency Via = "emergency"
)

type Grant struct {
	ID string

	GranteeID string // doctor
	PatientID string

	GrantedVia Via
	Scopes     []Scope
	SourceID   string // otp code / access request / emergency override que lo originó

	GrantedAt time.Time
	ExpiresAt time.Time

	Revoked   bool
	RevokedAt *time.Time
}

// ActiveAt: no revocado y no expirado. La expiración es lazy, nadie borra grants.
func (g Grant) ActiveAt(now time.Time) bool {
	return !g.Revoked && g.ExpiresAt.After(now)
}
