package emergency

import "context"

// Solo inserción: no hay Update ni Delete.
type Repository interface {
	Create(ctx context.Context, o Override) error
	// ListByDoctor ordena por accessTime desc y devuelve el total sin paginar.
	ListByDoctor(ctx context.Context, doctorID string, offset, limit int) ([]Override, int, error)
	ListByPatient(ctx context.Context, patientID string) ([]Override, error)
}
