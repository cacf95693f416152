package patients

import "context"

// Los adapters devuelven ErrNotFound / ErrConflict de este paquete.
type Repository interface {
	Create(ctx context.Context, p Patient) error
	GetByID(ctx context.Context, id string) (Patient, error)
	GetByUserID(ctx context.Context, userID string) (Patient, error)
}
