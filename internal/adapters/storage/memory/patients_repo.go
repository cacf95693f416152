package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"patient-passport-access/internal/domain/patients"
)

type patientRepo struct {
	mu     sync.RWMutex
	byID   map[string]patients.Patient
	byUser map[string]string
}

func NewPatientRepo() patients.Repository {
	return &patientRepo{
		byID:   make(map[string]patients.Patient),
		byUser: make(map[string]string),
	}
}

func (r *patientRepo) Create(ctx context.Context, p patients.Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(p.ID) == "" {
		return errors.New("patient id required")
	}
	if _, exists := r.byID[p.ID]; exists {
		return patients.ErrConflict
	}
	if _, exists := r.byUser[p.UserID]; exists {
		return patients.ErrConflict
	}
	r.byID[p.ID] = p
	r.byUser[p.UserID] = p.ID
	return nil
}

func (r *patientRepo) GetByID(ctx context.Context, id string) (patients.Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return patients.Patient{}, patients.ErrNotFound
	}
	return p, nil
}

func (r *patientRepo) GetByUserID(ctx context.Context, userID string) (patients.Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUser[userID]
	if !ok {
		return patients.Patient{}, patients.ErrNotFound
	}
	return r.byID[id], nil
}
