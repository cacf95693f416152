package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"patient-passport-access/internal/domain/emergency"
)

type emergencyRepo struct {
	mu    sync.RWMutex
	items []emergency.Override
}

func NewEmergencyRepo() emergency.Repository {
	return &emergencyRepo{}
}

func (r *emergencyRepo) Create(ctx context.Context, o emergency.Override) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(o.ID) == "" {
		return errors.New("override id required")
	}
	r.items = append(r.items, o)
	return nil
}

func (r *emergencyRepo) ListByDoctor(ctx context.Context, doctorID string, offset, limit int) ([]emergency.Override, int, error) {
	all := r.filter(func(o emergency.Override) bool { return o.DoctorID == doctorID })
	return paginate(all, offset, limit), len(all), nil
}

func (r *emergencyRepo) ListByPatient(ctx context.Context, patientID string) ([]emergency.Override, error) {
	return r.filter(func(o emergency.Override) bool { return o.PatientID == patientID }), nil
}

func (r *emergencyRepo) filter(match func(emergency.Override) bool) []emergency.Override {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]emergency.Override, 0)
	for _, o := range r.items {
		if match(o) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AccessTime.After(out[j].AccessTime)
	})
	return out
}

func paginate[T any](all []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []T{}
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}
