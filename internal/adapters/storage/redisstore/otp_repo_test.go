package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"patient-passport-access/internal/domain/otp"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) (*OTPRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewOTPRepo(rdb, "test:otp:"), mr
}

func code(id string) otp.Code {
	return otp.Code{
		ID:          id,
		RequesterID: "doc-1",
		PatientID:   "pat-1",
		CodeHash:    "$2a$04$hash",
		IssuedAt:    t0,
		ExpiresAt:   t0.Add(10 * time.Minute),
	}
}

func TestOTPRepo_IssueIfNone(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	stored, existing, err := repo.IssueIfNone(ctx, code("c-1"), t0)
	require.NoError(t, err)
	assert.False(t, existing)
	assert.Equal(t, "c-1", stored.ID)

	stored, existing, err = repo.IssueIfNone(ctx, code("c-2"), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, "c-1", stored.ID)
	assert.Equal(t, t0.Add(10*time.Minute), stored.ExpiresAt)

	got, err := repo.Active(ctx, "doc-1", "pat-1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "c-1", got.ID)
	assert.Equal(t, "$2a$04$hash", got.CodeHash)
	assert.Nil(t, got.ConsumedAt)
}

func TestOTPRepo_ConcurrentIssueLeavesOneCode(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, _, err := repo.IssueIfNone(ctx, code("c-"+string(rune('a'+i))), t0)
			if assert.NoError(t, err) {
				ids <- c.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[string]struct{}{}
	for id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 1)
}

func TestOTPRepo_ExpiredCodeIsReplaced(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	_, _, err := repo.IssueIfNone(ctx, code("c-1"), t0)
	require.NoError(t, err)

	later := t0.Add(11 * time.Minute)
	_, err = repo.Active(ctx, "doc-1", "pat-1", later)
	assert.ErrorIs(t, err, otp.ErrNotFound)

	next := code("c-2")
	next.IssuedAt = later
	next.ExpiresAt = later.Add(10 * time.Minute)
	_, existing, err := repo.IssueIfNone(ctx, next, later)
	require.NoError(t, err)
	assert.False(t, existing)
}

func TestOTPRepo_AttemptsAndConsume(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	_, _, err := repo.IssueIfNone(ctx, code("c-1"), t0)
	require.NoError(t, err)

	n, err := repo.ReserveAttempt(ctx, "c-1", 2, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = repo.ReserveAttempt(ctx, "c-1", 2, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = repo.ReserveAttempt(ctx, "c-1", 2, t0)
	assert.ErrorIs(t, err, otp.ErrLocked)

	got, err := repo.Active(ctx, "doc-1", "pat-1", t0)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AttemptCount)

	// vencido: ni reserva ni consumo
	late := code("c-1").ExpiresAt
	_, err = repo.ReserveAttempt(ctx, "c-1", 5, late)
	assert.ErrorIs(t, err, otp.ErrNotFound)
	assert.ErrorIs(t, repo.Consume(ctx, "c-1", late), otp.ErrNotFound)

	require.NoError(t, repo.Consume(ctx, "c-1", t0.Add(time.Minute)))
	assert.ErrorIs(t, repo.Consume(ctx, "c-1", t0.Add(time.Minute)), otp.ErrConflict)
	assert.ErrorIs(t, repo.Consume(ctx, "missing", t0), otp.ErrNotFound)

	_, err = repo.ReserveAttempt(ctx, "c-1", 5, t0.Add(time.Minute))
	assert.ErrorIs(t, err, otp.ErrNotFound)

	// consumido => no hay activo y se puede emitir otro
	_, err = repo.Active(ctx, "doc-1", "pat-1", t0.Add(time.Minute))
	assert.ErrorIs(t, err, otp.ErrNotFound)
	_, existing, err := repo.IssueIfNone(ctx, code("c-2"), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, existing)
}

func TestOTPRepo_ActivePointerExpiresWithTTL(t *testing.T) {
	repo, mr := newRepo(t)
	ctx := context.Background()

	_, _, err := repo.IssueIfNone(ctx, code("c-1"), t0)
	require.NoError(t, err)

	mr.FastForward(11 * time.Minute)
	_, err = repo.Active(ctx, "doc-1", "pat-1", t0)
	assert.ErrorIs(t, err, otp.ErrNotFound)
}
