package otp

import (
	"context"
	"time"
)

// Los adapters devuelven ErrNotFound / ErrConflict / ErrLocked de este paquete.
type Repository interface {
	// IssueIfNone guarda c solo si no hay un código activo para el par.
	// Si ya hay uno lo devuelve con existing=true. Debe ser atómico por par.
	IssueIfNone(ctx context.Context, c Code, now time.Time) (stored Code, existing bool, err error)
	// Active devuelve el código activo del par (incluye bloqueados) o ErrNotFound.
	Active(ctx context.Context, requesterID, patientID string, now time.Time) (Code, error)
	// ReserveAttempt suma un intento de forma atómica solo si el código sigue activo
	// y attemptCount < max, y devuelve el total. Tope alcanzado => ErrLocked;
	// consumido, expirado o inexistente => ErrNotFound.
	ReserveAttempt(ctx context.Context, id string, max int, now time.Time) (int, error)
	// Consume es condicional (consumedAt vacío y expiresAt > at).
	// Ya consumido => ErrConflict; expirado o inexistente => ErrNotFound.
	Consume(ctx context.Context, id string, at time.Time) error
}
