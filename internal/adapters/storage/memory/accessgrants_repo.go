package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"patient-passport-access/internal/domain/accessgrants"
)

type grantRepo struct {
	mu   sync.RWMutex
	byID map[string]accessgrants.Grant
}

func NewAccessGrantsRepo() accessgrants.Repository {
	return &grantRepo{
		byID: make(map[string]accessgrants.Grant),
	}
}

// Supersede bajo el mismo lock: nunca quedan dos grants vivos para el par.
func (r *grantRepo) Supersede(ctx context.Context, g accessgrants.Grant, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(g.ID) == "" {
		return errors.New("grant id required")
	}
	if _, exists := r.byID[g.ID]; exists {
		return errors.New("grant already exists")
	}

	for id, old := range r.byID {
		if old.GranteeID != g.GranteeID || old.PatientID != g.PatientID || old.Revoked {
			continue
		}
		at := now
		old.Revoked = true
		old.RevokedAt = &at
		r.byID[id] = old
	}

	g.Scopes = append([]accessgrants.Scope(nil), g.Scopes...)
	r.byID[g.ID] = g
	return nil
}

func (r *grantRepo) GetByID(ctx context.Context, id string) (accessgrants.Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.byID[id]
	if !ok {
		return accessgrants.Grant{}, accessgrants.ErrNotFound
	}
	return g, nil
}

// Si por data sucia hubiera varios activos, gana el más reciente por GrantedAt.
func (r *grantRepo) FindActive(ctx context.Context, granteeID, patientID string, now time.Time) (accessgrants.Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var winner accessgrants.Grant
	has := false

	for _, g := range r.byID {
		if g.GranteeID != granteeID || g.PatientID != patientID {
			continue
		}
		if !g.ActiveAt(now) {
			continue
		}
		if !has || g.GrantedAt.After(winner.GrantedAt) {
			winner = g
			has = true
		}
	}

	if !has {
		return accessgrants.Grant{}, accessgrants.ErrNotFound
	}
	return winner, nil
}

func (r *grantRepo) Revoke(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.byID[id]
	if !ok || g.Revoked {
		return accessgrants.ErrNotFound
	}
	g.Revoked = true
	g.RevokedAt = &at
	r.byID[id] = g
	return nil
}

func (r *grantRepo) ListByGrantee(ctx context.Context, granteeID string) ([]accessgrants.Grant, error) {
	return r.list(func(g accessgrants.Grant) bool { return g.GranteeID == granteeID }), nil
}

func (r *grantRepo) ListByPatient(ctx context.Context, patientID string) ([]accessgrants.Grant, error) {
	return r.list(func(g accessgrants.Grant) bool { return g.PatientID == patientID }), nil
}

func (r *grantRepo) list(match func(accessgrants.Grant) bool) []accessgrants.Grant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]accessgrants.Grant, 0)
	for _, g := range r.byID {
		if match(g) {
			out = append(out, g)
		}
	}

	// más recientes primero (solo para consistencia en dev)
	sort.Slice(out, func(i, j int) bool {
		return out[i].GrantedAt.After(out[j].GrantedAt)
	})
	return out
}
