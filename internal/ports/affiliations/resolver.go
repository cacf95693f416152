package affiliations

import (
	"context"
	"errors"
)

// ErrNoAffiliation: el usuario no tiene hospital asociado (o el directorio no está configurado).
var ErrNoAffiliation = errors.New("no hospital affiliation")

// Resolver deriva el hospital de un usuario (doctor) del lado servidor.
type Resolver interface {
	HospitalOf(ctx context.Context, userID string) (string, error)
}
