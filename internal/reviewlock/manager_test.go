package reviewlock

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/room-reservation/internal/apperror"
	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/repository"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T, ids ...string) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	for _, id := range ids {
		require.NoError(t, store.Create(context.Background(), &model.Reservation{
			ID:            id,
			Title:         "r " + id,
			StartDateTime: t0.Add(24 * time.Hour),
			EndDateTime:   t0.Add(25 * time.Hour),
			SelectedRooms: []string{"room-101"},
			Status:        model.StatusPending,
		}))
	}
	return store
}

func get(t *testing.T, s *repository.MemoryStore, id string) *model.Reservation {
	t.Helper()
	r, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return r
}

func TestAcquire_GrantAndDeny(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "r1")
	m := NewManager(store)

	g, err := m.Acquire(ctx, "r1", "alice", t0)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(HoldDuration), g.ExpiresAt)
	assert.False(t, g.Renewed)

	_, err = m.Acquire(ctx, "r1", "bob", t0.Add(10*time.Minute))
	var held *apperror.LockHeldError
	require.True(t, errors.As(err, &held))
	assert.Equal(t, "alice", held.ReviewingBy)
	assert.Equal(t, 20, held.MinutesRemaining())
	assert.Equal(t, 423, apperror.StatusOf(err))

	r := get(t, store, "r1")
	assert.Equal(t, model.ReviewReviewing, r.ReviewStatus)
	assert.Equal(t, "alice", *r.ReviewingBy)
}

func TestAcquire_RenewalResetsWindow(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "r1")
	m := NewManager(store)

	_, err := m.Acquire(ctx, "r1", "alice", t0)
	require.NoError(t, err)
	g, err := m.Acquire(ctx, "r1", "alice", t0.Add(20*time.Minute))
	require.NoError(t, err)
	assert.True(t, g.Renewed)
	assert.Equal(t, t0.Add(20*time.Minute), g.StartedAt)
	assert.Equal(t, t0.Add(50*time.Minute), g.ExpiresAt)

	r := get(t, store, "r1")
	assert.Equal(t, r.ReviewStartedAt.Add(HoldDuration), *r.ReviewExpiresAt)
	assert.Empty(t, r.ReviewHistory)
}

func TestAcquire_ExpiredHoldIsTakenOver(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "r1")
	m := NewManager(store)

	_, err := m.Acquire(ctx, "r1", "alice", t0)
	require.NoError(t, err)

	// exactly at expiry the hold is free
	g, err := m.Acquire(ctx, "r1", "bob", t0.Add(HoldDuration))
	require.NoError(t, err)
	assert.Equal(t, "bob", g.ReviewingBy)

	r := get(t, store, "r1")
	require.Len(t, r.ReviewHistory, 1)
	assert.Equal(t, "alice", r.ReviewHistory[0].ReviewingBy)
	assert.Equal(t, OutcomeExpired, r.ReviewHistory[0].Outcome)
	assert.Equal(t, AutoTimeout, r.ReviewHistory[0].ReleasedBy)
}

func TestAcquire_NotFound(t *testing.T) {
	_, err := NewManager(repository.NewMemoryStore()).Acquire(context.Background(), "missing", "alice", t0)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestAcquire_MutualExclusionUnderContention(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "r1")
	m := NewManager(store)

	actors := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted []string
	)
	for _, a := range actors {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			if _, err := m.Acquire(ctx, "r1", actor, t0); err == nil {
				mu.Lock()
				granted = append(granted, actor)
				mu.Unlock()
			}
		}(a)
	}
	wg.Wait()

	require.Len(t, granted, 1)
	assert.Equal(t, granted[0], *get(t, store, "r1").ReviewingBy)
}

// racingStore loses every conditional write, as if another writer always
// got there first.
type racingStore struct {
	*repository.MemoryStore
	writes int
}

func (s *racingStore) UpdateReviewState(context.Context, string, model.ReviewState, model.ReviewState, *model.ReviewHistoryEntry) (bool, error) {
	s.writes++
	return false, nil
}

func TestAcquire_ContendedIsDistinctFromLocked(t *testing.T) {
	store := &racingStore{MemoryStore: newStore(t, "r1")}
	_, err := NewManager(store).Acquire(context.Background(), "r1", "alice", t0)
	require.ErrorIs(t, err, ErrContended)
	assert.Equal(t, maxAttempts, store.writes)

	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindContended, appErr.Kind)
	assert.Equal(t, http.StatusConflict, appErr.HTTPStatus())
	assert.NotEqual(t, apperror.KindLocked, appErr.Kind)
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "r1")
	m := NewManager(store)
	_, err := m.Acquire(ctx, "r1", "alice", t0)
	require.NoError(t, err)

	err = m.Release(ctx, "r1", "bob", t0.Add(time.Minute), false)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	require.NoError(t, m.Release(ctx, "r1", "alice", t0.Add(time.Minute), false))
	r := get(t, store, "r1")
	assert.Equal(t, model.ReviewNotStarted, r.ReviewStatus)
	assert.Nil(t, r.ReviewingBy)
	assert.Nil(t, r.ReviewStartedAt)
	assert.Nil(t, r.ReviewExpiresAt)
	require.Len(t, r.ReviewHistory, 1)
	assert.Equal(t, OutcomeAbandoned, r.ReviewHistory[0].Outcome)
	assert.Equal(t, "alice", r.ReviewHistory[0].ReleasedBy)

	// nothing to release any more
	require.NoError(t, m.Release(ctx, "r1", "alice", t0.Add(2*time.Minute), false))
	assert.Len(t, get(t, store, "r1").ReviewHistory, 1)
}

func TestRelease_Force(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "r1")
	m := NewManager(store)
	_, err := m.Acquire(ctx, "r1", "alice", t0)
	require.NoError(t, err)

	require.NoError(t, m.Release(ctx, "r1", "admin", t0.Add(time.Minute), true))
	r := get(t, store, "r1")
	assert.Equal(t, model.ReviewNotStarted, r.ReviewStatus)
	require.Len(t, r.ReviewHistory, 1)
	assert.Equal(t, "alice", r.ReviewHistory[0].ReviewingBy)
	assert.Equal(t, "admin", r.ReviewHistory[0].ReleasedBy)
	assert.Equal(t, OutcomeAbandoned, r.ReviewHistory[0].Outcome)
}

func TestSweepExpired_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "r1", "r2", "r3")
	m := NewManager(store)
	_, err := m.Acquire(ctx, "r1", "alice", t0)
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "r2", "bob", t0.Add(10*time.Minute))
	require.NoError(t, err)

	// r1 expired at 09:30, r2 still live until 09:40
	n, err := m.SweepExpired(ctx, t0.Add(35*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = m.SweepExpired(ctx, t0.Add(35*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	r1 := get(t, store, "r1")
	assert.Equal(t, model.ReviewNotStarted, r1.ReviewStatus)
	require.Len(t, r1.ReviewHistory, 1)
	assert.Equal(t, OutcomeExpired, r1.ReviewHistory[0].Outcome)
	assert.Equal(t, AutoTimeout, r1.ReviewHistory[0].ReleasedBy)

	assert.Equal(t, model.ReviewReviewing, get(t, store, "r2").ReviewStatus)
}

func TestSweepExpired_StrictlyBefore(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "r1")
	m := NewManager(store)
	_, err := m.Acquire(ctx, "r1", "alice", t0)
	require.NoError(t, err)

	n, err := m.SweepExpired(ctx, t0.Add(HoldDuration))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCheckMutation(t *testing.T) {
	r := &model.Reservation{
		ReviewStatus:    model.ReviewReviewing,
		ReviewingBy:     model.StringPtr("alice"),
		ReviewStartedAt: model.TimePtr(t0),
		ReviewExpiresAt: model.TimePtr(t0.Add(HoldDuration)),
	}
	assert.NoError(t, CheckMutation(r, "alice", t0.Add(time.Minute)))
	assert.Error(t, CheckMutation(r, "bob", t0.Add(time.Minute)))
	assert.NoError(t, CheckMutation(r, "bob", t0.Add(HoldDuration)))
	assert.NoError(t, CheckMutation(&model.Reservation{ReviewStatus: model.ReviewNotStarted}, "bob", t0))
}

func TestComplete(t *testing.T) {
	r := &model.Reservation{
		ReviewStatus:    model.ReviewReviewing,
		ReviewingBy:     model.StringPtr("alice"),
		ReviewStartedAt: model.TimePtr(t0),
		ReviewExpiresAt: model.TimePtr(t0.Add(HoldDuration)),
	}
	entry := Complete(r, "alice", OutcomeApproved, t0.Add(5*time.Minute))
	require.NotNil(t, entry)
	assert.Equal(t, OutcomeApproved, entry.Outcome)
	assert.Equal(t, t0, entry.StartedAt)
	assert.Equal(t, model.ReviewNotStarted, r.ReviewStatus)
	assert.Nil(t, r.ReviewingBy)
	assert.Len(t, r.ReviewHistory, 1)

	assert.Nil(t, Complete(r, "alice", OutcomeApproved, t0))
}

func TestComplete_LapsedHoldIsRecordedAsExpired(t *testing.T) {
	r := &model.Reservation{
		ReviewStatus:    model.ReviewReviewing,
		ReviewingBy:     model.StringPtr("alice"),
		ReviewStartedAt: model.TimePtr(t0),
		ReviewExpiresAt: model.TimePtr(t0.Add(HoldDuration)),
	}
	entry := Complete(r, "bob", OutcomeApproved, t0.Add(HoldDuration+time.Second))
	require.NotNil(t, entry)
	assert.Equal(t, "alice", entry.ReviewingBy)
	assert.Equal(t, AutoTimeout, entry.ReleasedBy)
	assert.Equal(t, OutcomeExpired, entry.Outcome)
	require.NotNil(t, entry.CompletedAt)
	assert.Equal(t, t0.Add(HoldDuration), *entry.CompletedAt)
	assert.Equal(t, model.ReviewNotStarted, r.ReviewStatus)
	assert.Nil(t, r.ReviewingBy)
	require.Len(t, r.ReviewHistory, 1)
	assert.Equal(t, OutcomeExpired, r.ReviewHistory[0].Outcome)
}
