package accessrequests

import (
	"context"
	"time"
)

// Los adapters devuelven ErrNotFound / ErrConflict de este paquete.
type Repository interface {
	// UpsertPending inserta r, o si ya existe un pending vigente para (requester, patient)
	// lo refresca con los datos de r (manteniendo id y createdAt); refreshed=true en ese caso.
	// Un pending del par vencido a r.CreatedAt se marca expired antes y nunca se refresca.
	UpsertPending(ctx context.Context, r Request) (stored Request, refreshed bool, err error)
	GetByID(ctx context.Context, id string) (Request, error)
	// Transition es condicional: solo aplica si el request sigue pending.
	// Si existe pero ya no está pending => ErrConflict.
	Transition(ctx context.Context, id string, to Status, at time.Time, responseReason string) error
	// Revert devuelve a pending un request que sigue en from (compensación si
	// falla lo que la transición disparaba). Si ya no está en from => ErrConflict.
	Revert(ctx context.Context, id string, from Status, at time.Time) error
	// ExpireDue marca expired todos los pending con expiresAt <= now. Idempotente.
	ExpireDue(ctx context.Context, now time.Time) (int, error)
	ListPendingByPatient(ctx context.Context, patientID string, now time.Time) ([]Request, error)
	ListByRequester(ctx context.Context, requesterID string) ([]Request, error)
}
