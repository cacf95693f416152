package accessgrants

import (
	"context"
	"time"
)

// Los adapters devuelven ErrNotFound (de este paquete) cuando no hay filas;
// cualquier otro error se trata como store caído.
type Repository interface {
	// Supersede revoca cualquier grant no revocado del par (grantee, patient)
	// e inserta g en la misma operación atómica.
	Supersede(ctx context.Context, g Grant, now time.Time) error
	GetByID(ctx context.Context, id string) (Grant, error)
	// FindActive devuelve el grant no revocado con ExpiresAt > now más reciente.
	FindActive(ctx context.Context, granteeID, patientID string, now time.Time) (Grant, error)
	// Revoke es condicional (solo si no estaba revocado); si no cambia nada => ErrNotFound.
	Revoke(ctx context.Context, id string, at time.Time) error
	ListByGrantee(ctx context.Context, granteeID string) ([]Grant, error)
	ListByPatient(ctx context.Context, patientID string) ([]Grant, error)
}
