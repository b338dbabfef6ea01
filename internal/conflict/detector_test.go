package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/room-reservation/internal/apperror"
	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/repository"
)

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func booking(id string, status model.Status, start, end time.Time, setup, teardown int, rooms ...string) *model.Reservation {
	return &model.Reservation{
		ID:                  id,
		Title:               "meeting " + id,
		StartDateTime:       start,
		EndDateTime:         end,
		SetupTimeMinutes:    setup,
		TeardownTimeMinutes: teardown,
		SelectedRooms:       rooms,
		Status:              status,
	}
}

func seed(t *testing.T, rs ...*model.Reservation) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	for _, r := range rs {
		require.NoError(t, store.Create(context.Background(), r))
	}
	return store
}

func TestOverlaps_HalfOpen(t *testing.T) {
	assert.True(t, Overlaps(at(10, 0), at(11, 0), at(10, 30), at(12, 0)))
	assert.False(t, Overlaps(at(10, 0), at(11, 0), at(11, 0), at(12, 0)), "touching endpoints")
	assert.False(t, Overlaps(at(11, 0), at(12, 0), at(10, 0), at(11, 0)), "touching endpoints, reversed")
	assert.True(t, Overlaps(at(10, 0), at(13, 0), at(11, 0), at(12, 0)), "containment")
}

func TestFindConflicts_BufferCorrectness(t *testing.T) {
	ctx := context.Background()
	later := booking("later", model.StatusApproved, at(15, 15), at(16, 0), 0, 0, "room-101")

	t.Run("30 minute teardown reaches into the next booking", func(t *testing.T) {
		store := seed(t, later)
		cand := booking("cand", model.StatusPending, at(14, 0), at(15, 0), 0, 30, "room-101")
		got, err := NewDetector(store).FindConflicts(ctx, cand, cand.ID)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "later", got[0].ReservationID)
	})

	t.Run("10 minute teardown stays clear", func(t *testing.T) {
		store := seed(t, later)
		cand := booking("cand", model.StatusPending, at(14, 0), at(15, 0), 0, 10, "room-101")
		got, err := NewDetector(store).FindConflicts(ctx, cand, cand.ID)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestFindConflicts_Symmetry(t *testing.T) {
	ctx := context.Background()
	a := booking("a", model.StatusPending, at(14, 0), at(15, 0), 15, 15, "room-101", "room-102")
	b := booking("b", model.StatusApproved, at(15, 10), at(16, 0), 0, 0, "room-101")
	store := seed(t, a, b)
	d := NewDetector(store)

	fromA, err := d.FindConflicts(ctx, a, a.ID)
	require.NoError(t, err)
	fromB, err := d.FindConflicts(ctx, b, b.ID)
	require.NoError(t, err)

	require.Len(t, fromA, 1)
	require.Len(t, fromB, 1)
	assert.Equal(t, "b", fromA[0].ReservationID)
	assert.Equal(t, "a", fromB[0].ReservationID)
	assert.Equal(t, []string{"room-101"}, fromA[0].OverlappingRooms)
	assert.Equal(t, []string{"room-101"}, fromB[0].OverlappingRooms)
}

func TestFindConflicts_Detail(t *testing.T) {
	r := booking("r", model.StatusApproved, at(14, 0), at(15, 0), 15, 15, "room-101")
	store := seed(t, r)
	s := booking("s", model.StatusPending, at(15, 10), at(16, 0), 0, 0, "room-101")

	got, err := NewDetector(store).FindConflicts(context.Background(), s, s.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "meeting r", c.Title)
	assert.Equal(t, at(13, 45), c.EffectiveStart)
	assert.Equal(t, at(15, 15), c.EffectiveEnd)
	assert.Equal(t, 15, c.SetupTimeMinutes)
	assert.Equal(t, 15, c.TeardownTimeMinutes)
	assert.Equal(t, model.StatusApproved, c.Status)
}

func TestFindConflicts_Filters(t *testing.T) {
	ctx := context.Background()
	store := seed(t,
		booking("draft", model.StatusDraft, at(10, 0), at(11, 0), 0, 0, "room-101"),
		booking("rejected", model.StatusRejected, at(10, 0), at(11, 0), 0, 0, "room-101"),
		booking("cancelled", model.StatusCancelled, at(10, 0), at(11, 0), 0, 0, "room-101"),
		booking("deleted", model.StatusDeleted, at(10, 0), at(11, 0), 0, 0, "room-101"),
		booking("other-room", model.StatusApproved, at(10, 0), at(11, 0), 0, 0, "room-102"),
		booking("pending", model.StatusPending, at(10, 30), at(11, 30), 0, 0, "room-101"),
		booking("approved", model.StatusApproved, at(9, 30), at(10, 30), 0, 0, "room-101", "room-103"),
	)
	cand := booking("cand", model.StatusPending, at(10, 0), at(11, 0), 0, 0, "room-101")

	got, err := NewDetector(store).FindConflicts(ctx, cand, "pending")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "approved", got[0].ReservationID)

	got, err = NewDetector(store).FindConflicts(ctx, cand, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	// ordered by effective start
	assert.Equal(t, "approved", got[0].ReservationID)
	assert.Equal(t, "pending", got[1].ReservationID)
}

func TestFindConflicts_Validation(t *testing.T) {
	d := NewDetector(repository.NewMemoryStore())
	cases := map[string]*model.Reservation{
		"no rooms":          booking("x", model.StatusPending, at(10, 0), at(11, 0), 0, 0),
		"end before start":  booking("x", model.StatusPending, at(11, 0), at(10, 0), 0, 0, "room-101"),
		"zero start":        booking("x", model.StatusPending, time.Time{}, at(10, 0), 0, 0, "room-101"),
		"negative teardown": booking("x", model.StatusPending, at(10, 0), at(11, 0), 0, -5, "room-101"),
	}
	for name, cand := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := d.FindConflicts(context.Background(), cand, "")
			var ve *apperror.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
		})
	}
}

func TestCheckAvailability(t *testing.T) {
	store := seed(t, booking("r", model.StatusApproved, at(14, 0), at(15, 0), 0, 0, "room-101"))
	d := NewDetector(store)

	got, err := d.CheckAvailability(context.Background(), []string{"room-101"}, at(14, 30), at(15, 30), 0, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = d.CheckAvailability(context.Background(), []string{"room-101"}, at(15, 0), at(16, 0), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIntersectRooms(t *testing.T) {
	assert.Equal(t, []string{"a", "c"}, IntersectRooms([]string{"c", "a", "b"}, []string{"a", "c", "c", "d"}))
	assert.Empty(t, IntersectRooms([]string{"a"}, []string{"b"}))
}
