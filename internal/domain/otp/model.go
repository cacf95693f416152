package otp

import "time"

// Code es un código de un solo uso ligado al par (doctor, paciente).
// Solo se guarda el hash bcrypt, nunca el código en claro.
type Code struct {
	ID string

	RequesterID string // doctor
	PatientID   string

	CodeHash string

	IssuedAt     time.Time
	ExpiresAt    time.Time
	ConsumedAt   *time.Time
	AttemptCount int
}

// ActiveAt: no consumido y no expirado. Un código bloqueado por intentos sigue activo hasta expirar.
func (c Code) ActiveAt(now time.Time) bool {
	return c.ConsumedAt == nil && now.Before(c.ExpiresAt)
}

// Locked: ya se usaron todos los intentos. Cada verificación cuenta, también la exitosa.
func (c Code) Locked(maxAttempts int) bool {
	return c.AttemptCount >= maxAttempts
}
