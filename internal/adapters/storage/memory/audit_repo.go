package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"patient-passport-access/internal/domain/audit"
)

// auditRepo es append-only: no expone update ni delete.
type auditRepo struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewAuditRepo() audit.Repository {
	return &auditRepo{}
}

func (r *auditRepo) Append(ctx context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(e.ID) == "" {
		return errors.New("audit entry id required")
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *auditRepo) Query(ctx context.Context, f audit.Filter, offset, limit int) ([]audit.Entry, int, error) {
	r.mu.RLock()
	out := make([]audit.Entry, 0)
	for _, e := range r.entries {
		if matches(e, f) {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AccessTime.After(out[j].AccessTime)
	})
	return paginate(out, offset, limit), len(out), nil
}

func matches(e audit.Entry, f audit.Filter) bool {
	if f.StartDate != nil && e.AccessTime.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && e.AccessTime.After(*f.EndDate) {
		return false
	}
	if f.DoctorID != "" && e.UserID != f.DoctorID {
		return false
	}
	if f.PatientID != "" && e.PatientID != f.PatientID {
		return false
	}
	if f.AccessType != "" && e.AccessType != f.AccessType {
		return false
	}
	return true
}
