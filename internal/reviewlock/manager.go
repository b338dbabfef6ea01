// Package reviewlock manages the advisory review hold ("soft hold") an
// administrator places on a reservation while reviewing it.
//
// A hold is plain data on the reservation row.  Every write is conditional
// on the lock columns the caller observed, so a sweep racing an acquire or a
// release can never leave the columns in a mixed state: the loser simply
// re-reads and decides again.
package reviewlock

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/iliyamo/room-reservation/internal/apperror"
	"github.com/iliyamo/room-reservation/internal/changekey"
	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/repository"
)

// HoldDuration is the fixed lifetime of a review hold.
const HoldDuration = 30 * time.Minute

// History outcomes and the releaser recorded by the sweep.
const (
	OutcomeAbandoned = "abandoned"
	OutcomeExpired   = "expired"
	OutcomeApproved  = "approved"
	OutcomeRejected  = "rejected"

	AutoTimeout = "auto-timeout"
)

const maxAttempts = 3

// ErrContended is returned when the lock columns kept changing underneath
// every attempt.
var ErrContended = apperror.New(http.StatusConflict, apperror.KindContended, "review hold is changing concurrently; retry")

// Store is the persistence the manager needs.  UpdateReviewState must write
// next (and append entry when non-nil) only if the row's lock columns still
// equal expected, and report whether the write was applied.
type Store interface {
	Get(ctx context.Context, id string) (*model.Reservation, error)
	UpdateReviewState(ctx context.Context, id string, expected, next model.ReviewState, entry *model.ReviewHistoryEntry) (bool, error)
	ListExpiredReviews(ctx context.Context, now time.Time) ([]model.Reservation, error)
}

// Grant describes a hold that was acquired or renewed.
type Grant struct {
	ReviewingBy string
	StartedAt   time.Time
	ExpiresAt   time.Time
	Renewed     bool
}

// Manager grants, renews, releases and expires review holds.
type Manager struct {
	store Store
}

// NewManager returns a Manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Acquire grants actor the review hold on reservation id.  The hold is free
// when nobody holds it, when it has expired (expiry <= now) or when actor
// already holds it, in which case it is renewed from now.  A live hold owned
// by someone else yields *apperror.LockHeldError.
func (m *Manager) Acquire(ctx context.Context, id, actor string, now time.Time) (Grant, error) {
	now = now.UTC().Truncate(changekey.Precision)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		r, err := m.load(ctx, id)
		if err != nil {
			return Grant{}, err
		}
		observed := r.ReviewState()

		var entry *model.ReviewHistoryEntry
		renewed := false
		if Active(r, now) {
			if *r.ReviewingBy != actor {
				return Grant{}, heldError(r, now)
			}
			renewed = true
		} else if observed.Status == model.ReviewReviewing {
			// Taking over a lapsed hold closes the previous session first.
			entry = expiredEntry(r)
		}

		expires := now.Add(HoldDuration)
		next := model.ReviewState{
			Status:    model.ReviewReviewing,
			HeldBy:    model.StringPtr(actor),
			StartedAt: model.TimePtr(now),
			ExpiresAt: model.TimePtr(expires),
		}
		ok, err := m.store.UpdateReviewState(ctx, id, observed, next, entry)
		if err != nil {
			return Grant{}, fmt.Errorf("acquire review hold: %w", err)
		}
		if ok {
			return Grant{ReviewingBy: actor, StartedAt: now, ExpiresAt: expires, Renewed: renewed}, nil
		}
	}
	return Grant{}, ErrContended
}

// Release ends actor's hold and records it as abandoned.  Only the holder
// may release unless force is set.  Releasing a reservation with no active
// review is a no-op.
func (m *Manager) Release(ctx context.Context, id, actor string, now time.Time, force bool) error {
	now = now.UTC().Truncate(changekey.Precision)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		r, err := m.load(ctx, id)
		if err != nil {
			return err
		}
		observed := r.ReviewState()
		if observed.Status != model.ReviewReviewing || observed.HeldBy == nil {
			return nil
		}
		if *observed.HeldBy != actor && !force {
			return apperror.ErrForbidden
		}

		entry := &model.ReviewHistoryEntry{
			ReviewingBy: *observed.HeldBy,
			StartedAt:   startedOf(r, now),
			CompletedAt: model.TimePtr(now),
			ReleasedBy:  actor,
			Outcome:     OutcomeAbandoned,
		}
		ok, err := m.store.UpdateReviewState(ctx, id, observed, model.ClearedReviewState(), entry)
		if err != nil {
			return fmt.Errorf("release review hold: %w", err)
		}
		if ok {
			return nil
		}
	}
	return ErrContended
}

// SweepExpired clears every hold whose expiry lies strictly before now and
// returns how many it released.  A hold that was renewed or released between
// the listing and the write is left alone, which makes the sweep idempotent.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	expired, err := m.store.ListExpiredReviews(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired reviews: %w", err)
	}
	released := 0
	for i := range expired {
		r := &expired[i]
		if r.ReviewStatus != model.ReviewReviewing || r.ReviewExpiresAt == nil || !r.ReviewExpiresAt.Before(now) {
			continue
		}
		ok, err := m.store.UpdateReviewState(ctx, r.ID, r.ReviewState(), model.ClearedReviewState(), expiredEntry(r))
		if err != nil {
			return released, fmt.Errorf("expire review hold %s: %w", r.ID, err)
		}
		if ok {
			released++
		}
	}
	return released, nil
}

// Active reports whether r carries a hold that has not yet expired at now.
func Active(r *model.Reservation, now time.Time) bool {
	return r.ReviewStatus == model.ReviewReviewing &&
		r.ReviewingBy != nil &&
		r.ReviewExpiresAt != nil &&
		r.ReviewExpiresAt.After(now)
}

// CheckMutation returns *apperror.LockHeldError when someone other than
// actor holds a live hold on r.  Reads never call this.
func CheckMutation(r *model.Reservation, actor string, now time.Time) error {
	if Active(r, now) && *r.ReviewingBy != actor {
		return heldError(r, now)
	}
	return nil
}

// Complete folds the current review session into r's history with the
// given outcome and resets the lock columns.  A hold that has already
// lapsed is recorded as expired by auto-timeout instead, whoever completes
// the review.  It mutates r in memory only; the caller persists it with its
// own write.  It returns the appended entry, or nil when no session was open.
func Complete(r *model.Reservation, actor, outcome string, now time.Time) *model.ReviewHistoryEntry {
	now = now.UTC().Truncate(changekey.Precision)
	if r.ReviewStatus != model.ReviewReviewing || r.ReviewingBy == nil {
		r.SetReviewState(model.ClearedReviewState())
		return nil
	}
	if !Active(r, now) {
		entry := expiredEntry(r)
		r.ReviewHistory = append(r.ReviewHistory, *entry)
		r.SetReviewState(model.ClearedReviewState())
		return entry
	}
	entry := model.ReviewHistoryEntry{
		ReviewingBy: *r.ReviewingBy,
		StartedAt:   startedOf(r, now),
		CompletedAt: model.TimePtr(now),
		ReleasedBy:  actor,
		Outcome:     outcome,
	}
	r.ReviewHistory = append(r.ReviewHistory, entry)
	r.SetReviewState(model.ClearedReviewState())
	return &entry
}

func (m *Manager) load(ctx context.Context, id string) (*model.Reservation, error) {
	r, err := m.store.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load reservation %s: %w", id, err)
	}
	return r, nil
}

func heldError(r *model.Reservation, now time.Time) *apperror.LockHeldError {
	e := &apperror.LockHeldError{
		ReviewingBy:     *r.ReviewingBy,
		ReviewExpiresAt: *r.ReviewExpiresAt,
		Now:             now,
	}
	if r.ReviewStartedAt != nil {
		e.ReviewStartedAt = *r.ReviewStartedAt
	}
	return e
}

func expiredEntry(r *model.Reservation) *model.ReviewHistoryEntry {
	holder := ""
	if r.ReviewingBy != nil {
		holder = *r.ReviewingBy
	}
	var completed *time.Time
	if r.ReviewExpiresAt != nil {
		completed = model.TimePtr(*r.ReviewExpiresAt)
	}
	return &model.ReviewHistoryEntry{
		ReviewingBy: holder,
		StartedAt:   startedOf(r, time.Time{}),
		CompletedAt: completed,
		ReleasedBy:  AutoTimeout,
		Outcome:     OutcomeExpired,
	}
}

func startedOf(r *model.Reservation, fallback time.Time) time.Time {
	if r.ReviewStartedAt != nil {
		return *r.ReviewStartedAt
	}
	return fallback
}
