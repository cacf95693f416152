package audit

import "context"

type Repository interface {
	Append(ctx context.Context, e Entry) error
	// Query devuelve la página pedida (accessTime desc) y el total que matchea el filtro.
	Query(ctx context.Context, f Filter, offset, limit int) ([]Entry, int, error)
}
