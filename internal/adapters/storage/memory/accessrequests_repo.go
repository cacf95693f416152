package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"patient-passport-access/internal/domain/accessrequests"
)

type requestRepo struct {
	mu   sync.RWMutex
	byID map[string]accessrequests.Request
}

func NewAccessRequestsRepo() accessrequests.Repository {
	return &requestRepo{
		byID: make(map[string]accessrequests.Request),
	}
}

func (r *requestRepo) UpsertPending(ctx context.Context, in accessrequests.Request) (accessrequests.Request, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(in.ID) == "" {
		return accessrequests.Request{}, false, errors.New("request id required")
	}

	for id, cur := range r.byID {
		if cur.RequesterID != in.RequesterID || cur.PatientID != in.PatientID {
			continue
		}
		if cur.Status != accessrequests.StatusPending {
			continue
		}
		if !in.CreatedAt.Before(cur.ExpiresAt) {
			cur.Status = accessrequests.StatusExpired
			cur.UpdatedAt = in.CreatedAt
			r.byID[id] = cur
			continue
		}
		// refresco: mantiene id y createdAt
		in.ID = cur.ID
		in.CreatedAt = cur.CreatedAt
		r.byID[id] = in
		return in, true, nil
	}

	r.byID[in.ID] = in
	return in, false, nil
}

func (r *requestRepo) GetByID(ctx context.Context, id string) (accessrequests.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.byID[id]
	if !ok {
		return accessrequests.Request{}, accessrequests.ErrNotFound
	}
	return req, nil
}

func (r *requestRepo) Transition(ctx context.Context, id string, to accessrequests.Status, at time.Time, responseReason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.byID[id]
	if !ok {
		return accessrequests.ErrNotFound
	}
	if req.Status != accessrequests.StatusPending {
		return accessrequests.ErrConflict
	}
	req.Status = to
	req.ResponseReason = responseReason
	req.UpdatedAt = at
	if to != accessrequests.StatusExpired {
		req.ResolvedAt = &at
	}
	r.byID[id] = req
	return nil
}

func (r *requestRepo) Revert(ctx context.Context, id string, from accessrequests.Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.byID[id]
	if !ok {
		return accessrequests.ErrNotFound
	}
	if req.Status != from {
		return accessrequests.ErrConflict
	}
	req.Status = accessrequests.StatusPending
	req.ResponseReason = ""
	req.ResolvedAt = nil
	req.UpdatedAt = at
	r.byID[id] = req
	return nil
}

func (r *requestRepo) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, req := range r.byID {
		if req.Status != accessrequests.StatusPending || now.Before(req.ExpiresAt) {
			continue
		}
		req.Status = accessrequests.StatusExpired
		req.UpdatedAt = now
		r.byID[id] = req
		n++
	}
	return n, nil
}

func (r *requestRepo) ListPendingByPatient(ctx context.Context, patientID string, now time.Time) ([]accessrequests.Request, error) {
	return r.list(func(req accessrequests.Request) bool {
		return req.PatientID == patientID && req.StatusAt(now) == accessrequests.StatusPending
	}), nil
}

func (r *requestRepo) ListByRequester(ctx context.Context, requesterID string) ([]accessrequests.Request, error) {
	return r.list(func(req accessrequests.Request) bool {
		return req.RequesterID == requesterID
	}), nil
}

func (r *requestRepo) list(match func(accessrequests.Request) bool) []accessrequests.Request {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]accessrequests.Request, 0)
	for _, req := range r.byID {
		if match(req) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
