package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"patient-passport-access/internal/domain/accessgrants"
	"patient-passport-access/internal/domain/accessrequests"
	"patient-passport-access/internal/domain/audit"
	"patient-passport-access/internal/domain/otp"
	"patient-passport-access/internal/domain/patients"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func TestGrantRepo_SupersedeKeepsOneActive(t *testing.T) {
	repo := NewAccessGrantsRepo()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g := accessgrants.Grant{
				ID:         fmt.Sprintf("g-%d", i),
				GranteeID:  "doc-1",
				PatientID:  "pat-1",
				GrantedVia: accessgrants.ViaOTP,
				GrantedAt:  t0,
				ExpiresAt:  t0.Add(time.Hour),
			}
			assert.NoError(t, repo.Supersede(ctx, g, t0))
		}(i)
	}
	wg.Wait()

	all, err := repo.ListByPatient(ctx, "pat-1")
	require.NoError(t, err)
	require.Len(t, all, 25)

	active := 0
	for _, g := range all {
		if g.ActiveAt(t0) {
			active++
		}
	}
	assert.Equal(t, 1, active)

	_, err = repo.FindActive(ctx, "doc-1", "pat-1", t0.Add(time.Hour))
	assert.ErrorIs(t, err, accessgrants.ErrNotFound)
}

func TestGrantRepo_RevokeIsConditional(t *testing.T) {
	repo := NewAccessGrantsRepo()
	ctx := context.Background()

	g := accessgrants.Grant{ID: "g-1", GranteeID: "doc-1", PatientID: "pat-1", GrantedAt: t0, ExpiresAt: t0.Add(time.Hour)}
	require.NoError(t, repo.Supersede(ctx, g, t0))

	require.NoError(t, repo.Revoke(ctx, "g-1", t0))
	assert.ErrorIs(t, repo.Revoke(ctx, "g-1", t0), accessgrants.ErrNotFound)
	assert.ErrorIs(t, repo.Revoke(ctx, "missing", t0), accessgrants.ErrNotFound)
}

func TestPatientRepo_UniqueUser(t *testing.T) {
	repo := NewPatientRepo()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, patients.Patient{ID: "p-1", UserID: "u-1"}))
	assert.ErrorIs(t, repo.Create(ctx, patients.Patient{ID: "p-2", UserID: "u-1"}), patients.ErrConflict)

	p, err := repo.GetByUserID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", p.ID)

	_, err = repo.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, patients.ErrNotFound)
}

func TestRequestRepo_UpsertTransitionExpire(t *testing.T) {
	repo := NewAccessRequestsRepo()
	ctx := context.Background()

	base := accessrequests.Request{
		ID: "r-1", RequesterID: "doc-1", PatientID: "pat-1",
		Status: accessrequests.StatusPending, CreatedAt: t0, ExpiresAt: t0.Add(24 * time.Hour),
	}
	stored, refreshed, err := repo.UpsertPending(ctx, base)
	require.NoError(t, err)
	assert.False(t, refreshed)

	again := base
	again.ID = "r-2"
	again.Reason = "new reason"
	again.CreatedAt = t0.Add(time.Hour)
	stored2, refreshed, err := repo.UpsertPending(ctx, again)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, stored.ID, stored2.ID)
	assert.Equal(t, t0, stored2.CreatedAt)
	assert.Equal(t, "new reason", stored2.Reason)

	require.NoError(t, repo.Transition(ctx, "r-1", accessrequests.StatusDenied, t0, "no"))
	assert.ErrorIs(t, repo.Transition(ctx, "r-1", accessrequests.StatusApproved, t0, ""), accessrequests.ErrConflict)
	assert.ErrorIs(t, repo.Transition(ctx, "r-9", accessrequests.StatusApproved, t0, ""), accessrequests.ErrNotFound)

	// un pedido nuevo tras resolver el anterior no se deduplica
	_, refreshed, err = repo.UpsertPending(ctx, accessrequests.Request{
		ID: "r-3", RequesterID: "doc-1", PatientID: "pat-1",
		Status: accessrequests.StatusPending, CreatedAt: t0, ExpiresAt: t0.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, refreshed)

	n, err := repo.ExpireDue(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = repo.ExpireDue(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	r, err := repo.GetByID(ctx, "r-3")
	require.NoError(t, err)
	assert.Equal(t, accessrequests.StatusExpired, r.Status)
}

func TestRequestRepo_ReRequestAfterExpiryIsNew(t *testing.T) {
	repo := NewAccessRequestsRepo()
	ctx := context.Background()

	_, _, err := repo.UpsertPending(ctx, accessrequests.Request{
		ID: "r-1", RequesterID: "doc-1", PatientID: "pat-1",
		Status: accessrequests.StatusPending, CreatedAt: t0, ExpiresAt: t0.Add(time.Hour),
	})
	require.NoError(t, err)

	later := t0.Add(2 * time.Hour)
	stored, refreshed, err := repo.UpsertPending(ctx, accessrequests.Request{
		ID: "r-2", RequesterID: "doc-1", PatientID: "pat-1",
		Status: accessrequests.StatusPending, CreatedAt: later, ExpiresAt: later.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, "r-2", stored.ID)

	old, err := repo.GetByID(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, accessrequests.StatusExpired, old.Status)
	assert.Equal(t, accessrequests.StatusExpired, old.StatusAt(later))

	assert.ErrorIs(t, repo.Transition(ctx, "r-1", accessrequests.StatusApproved, later, ""), accessrequests.ErrConflict)
}

func TestRequestRepo_RevertOnlyFromStatus(t *testing.T) {
	repo := NewAccessRequestsRepo()
	ctx := context.Background()

	_, _, err := repo.UpsertPending(ctx, accessrequests.Request{
		ID: "r-1", RequesterID: "doc-1", PatientID: "pat-1",
		Status: accessrequests.StatusPending, CreatedAt: t0, ExpiresAt: t0.Add(time.Hour),
	})
	require.NoError(t, err)

	assert.ErrorIs(t, repo.Revert(ctx, "r-1", accessrequests.StatusApproved, t0), accessrequests.ErrConflict)

	require.NoError(t, repo.Transition(ctx, "r-1", accessrequests.StatusApproved, t0, "ok"))
	require.NoError(t, repo.Revert(ctx, "r-1", accessrequests.StatusApproved, t0))

	r, err := repo.GetByID(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, accessrequests.StatusPending, r.Status)
	assert.Nil(t, r.ResolvedAt)
	assert.Empty(t, r.ResponseReason)

	assert.ErrorIs(t, repo.Revert(ctx, "missing", accessrequests.StatusApproved, t0), accessrequests.ErrNotFound)
}

func TestOTPRepo_IssueIfNoneAndConsume(t *testing.T) {
	repo := NewOTPRepo()
	ctx := context.Background()

	c := otp.Code{ID: "c-1", RequesterID: "doc-1", PatientID: "pat-1", IssuedAt: t0, ExpiresAt: t0.Add(10 * time.Minute)}
	_, existing, err := repo.IssueIfNone(ctx, c, t0)
	require.NoError(t, err)
	assert.False(t, existing)

	dup := c
	dup.ID = "c-2"
	stored, existing, err := repo.IssueIfNone(ctx, dup, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, "c-1", stored.ID)

	n, err := repo.ReserveAttempt(ctx, "c-1", 3, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, repo.Consume(ctx, "c-1", t0))
	assert.ErrorIs(t, repo.Consume(ctx, "c-1", t0), otp.ErrConflict)

	_, err = repo.Active(ctx, "doc-1", "pat-1", t0)
	assert.ErrorIs(t, err, otp.ErrNotFound)

	// consumido => se puede emitir otro
	_, existing, err = repo.IssueIfNone(ctx, dup, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, existing)
}

func TestOTPRepo_ReserveAttemptConcurrentCap(t *testing.T) {
	repo := NewOTPRepo()
	ctx := context.Background()

	c := otp.Code{ID: "c-1", RequesterID: "doc-1", PatientID: "pat-1", IssuedAt: t0, ExpiresAt: t0.Add(10 * time.Minute)}
	_, _, err := repo.IssueIfNone(ctx, c, t0)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
		locked   int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ReserveAttempt(ctx, "c-1", 3, t0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				reserved++
			case errors.Is(err, otp.ErrLocked):
				locked++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, reserved)
	assert.Equal(t, 7, locked)

	got, err := repo.Active(ctx, "doc-1", "pat-1", t0)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AttemptCount)
}

func TestOTPRepo_ExpiredCannotBeReservedOrConsumed(t *testing.T) {
	repo := NewOTPRepo()
	ctx := context.Background()

	c := otp.Code{ID: "c-1", RequesterID: "doc-1", PatientID: "pat-1", IssuedAt: t0, ExpiresAt: t0.Add(10 * time.Minute)}
	_, _, err := repo.IssueIfNone(ctx, c, t0)
	require.NoError(t, err)

	late := t0.Add(10 * time.Minute)
	_, err = repo.ReserveAttempt(ctx, "c-1", 3, late)
	assert.ErrorIs(t, err, otp.ErrNotFound)
	assert.ErrorIs(t, repo.Consume(ctx, "c-1", late), otp.ErrNotFound)

	// sigue sin consumir
	require.NoError(t, repo.Consume(ctx, "c-1", t0.Add(time.Minute)))
}

func TestAuditRepo_FiltersAndPaginates(t *testing.T) {
	repo := NewAuditRepo()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		typ := audit.AccessRegular
		if i%2 == 0 {
			typ = audit.AccessEmergency
		}
		require.NoError(t, repo.Append(ctx, audit.Entry{
			ID: fmt.Sprintf("e-%d", i), UserID: "doc-1", PatientID: "pat-1",
			AccessType: typ, Action: audit.ActionView, AccessTime: t0.Add(time.Duration(i) * time.Minute),
		}))
	}

	items, total, err := repo.Query(ctx, audit.Filter{AccessType: audit.AccessEmergency}, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, "e-4", items[0].ID)

	start := t0.Add(3 * time.Minute)
	items, total, err = repo.Query(ctx, audit.Filter{StartDate: &start}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 2)

	items, total, err = repo.Query(ctx, audit.Filter{DoctorID: "doc-2"}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, items)
}
