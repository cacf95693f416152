package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"patient-passport-access/internal/domain/otp"
)

type otpRepo struct {
	mu   sync.Mutex
	byID map[string]otp.Code
}

func NewOTPRepo() otp.Repository {
	return &otpRepo{
		byID: make(map[string]otp.Code),
	}
}

func (r *otpRepo) IssueIfNone(ctx context.Context, c otp.Code, now time.Time) (otp.Code, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(c.ID) == "" {
		return otp.Code{}, false, errors.New("otp id required")
	}
	if cur, ok := r.activeLocked(c.RequesterID, c.PatientID, now); ok {
		return cur, true, nil
	}
	r.byID[c.ID] = c
	return c, false, nil
}

func (r *otpRepo) Active(ctx context.Context, requesterID, patientID string, now time.Time) (otp.Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.activeLocked(requesterID, patientID, now); ok {
		return cur, nil
	}
	return otp.Code{}, otp.ErrNotFound
}

func (r *otpRepo) ReserveAttempt(ctx context.Context, id string, max int, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok || !c.ActiveAt(now) {
		return 0, otp.ErrNotFound
	}
	if c.Locked(max) {
		return c.AttemptCount, otp.ErrLocked
	}
	c.AttemptCount++
	r.byID[id] = c
	return c.AttemptCount, nil
}

func (r *otpRepo) Consume(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		return otp.ErrNotFound
	}
	if c.ConsumedAt != nil {
		return otp.ErrConflict
	}
	if !at.Before(c.ExpiresAt) {
		return otp.ErrNotFound
	}
	c.ConsumedAt = &at
	r.byID[id] = c
	return nil
}

func (r *otpRepo) activeLocked(requesterID, patientID string, now time.Time) (otp.Code, bool) {
	for _, c := range r.byID {
		if c.RequesterID == requesterID && c.PatientID == patientID && c.ActiveAt(now) {
			return c, true
		}
	}
	return otp.Code{}, false
}
