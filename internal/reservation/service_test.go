package reservation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/room-reservation/internal/apperror"
	"github.com/iliyamo/room-reservation/internal/changekey"
	"github.com/iliyamo/room-reservation/internal/conflict"
	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/queue"
	"github.com/iliyamo/room-reservation/internal/repository"
	"github.com/iliyamo/room-reservation/internal/reviewlock"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeCalendar struct {
	mu        sync.Mutex
	createErr error
	created   []string
	updated   []string
	deleted   []string
}

func (f *fakeCalendar) CreateEvent(_ context.Context, r *model.Reservation, _ []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, r.ID)
	return "evt-" + r.ID, nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, eventID string, _ *model.Reservation, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, eventID)
	return nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, eventID)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []queue.ReservationEvent
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ev queue.ReservationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	store    *repository.MemoryStore
	clock    *fakeClock
	calendar *fakeCalendar
	notifier *recordingNotifier
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	store.PutRoom(model.Room{ID: "room-101", Name: "Room 101", Active: true, Mailbox: "room101@example.com"})
	store.PutRoom(model.Room{ID: "room-102", Name: "Room 102", Active: true})
	store.PutRoom(model.Room{ID: "room-old", Name: "Closed", Active: false})

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		store:    store,
		clock:    &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		calendar: &fakeCalendar{},
		notifier: &recordingNotifier{},
	}
	seq := 0
	f.svc = NewService(Deps{
		Store:    store,
		Rooms:    store,
		Detector: conflict.NewDetector(store),
		Locks:    reviewlock.NewManager(store),
		Calendar: f.calendar,
		Notifier: f.notifier,
		Log:      logrus.NewEntry(logger),
		Now:      f.clock.Now,
		NewID: func() string {
			seq++
			return fmt.Sprintf("res-%d", seq)
		},
	})
	return f
}

func day(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func (f *fixture) create(t *testing.T, title string, start, end time.Time, setup, teardown int, rooms ...string) *model.Reservation {
	t.Helper()
	r, err := f.svc.Create(context.Background(), "requester@example.com", CreateInput{
		Title:               title,
		AttendeeCount:       10,
		StartDateTime:       start,
		EndDateTime:         end,
		SetupTimeMinutes:    setup,
		TeardownTimeMinutes: teardown,
		SelectedRooms:       rooms,
	})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return r
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestCreate(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, "Board meeting", day(14, 0), day(15, 0), 15, 15, "room-101", "room-101")

	assert.Equal(t, model.StatusPending, r.Status)
	assert.Equal(t, []string{"room-101"}, r.SelectedRooms)
	assert.Len(t, r.ChangeKey, 64)
	require.Len(t, r.Revisions, 1)
	assert.Equal(t, "created", r.Revisions[0].Action)
	assert.Equal(t, r.ChangeKey, r.Revisions[0].ChangeKey)
	assert.Equal(t, []string{queue.EventSubmitted}, f.notifier.types())
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string]CreateInput{
		"missing title":  {StartDateTime: day(10, 0), EndDateTime: day(11, 0), SelectedRooms: []string{"room-101"}},
		"no rooms":       {Title: "x", StartDateTime: day(10, 0), EndDateTime: day(11, 0)},
		"inverted":       {Title: "x", StartDateTime: day(11, 0), EndDateTime: day(10, 0), SelectedRooms: []string{"room-101"}},
		"unknown room":   {Title: "x", StartDateTime: day(10, 0), EndDateTime: day(11, 0), SelectedRooms: []string{"room-999"}},
		"inactive room":  {Title: "x", StartDateTime: day(10, 0), EndDateTime: day(11, 0), SelectedRooms: []string{"room-old"}},
		"negative setup": {Title: "x", StartDateTime: day(10, 0), EndDateTime: day(11, 0), SetupTimeMinutes: -1, SelectedRooms: []string{"room-101"}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, "requester@example.com", in)
			var ve *apperror.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
		})
	}
}

// The walkthrough: two admins edit R concurrently, then S is approved over
// a conflict with R.
func TestScenario_ConcurrentEditsAndForcedApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.create(t, "R", day(14, 0), day(15, 0), 15, 15, "room-101")
	forA, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	forB, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	k1 := forA.ChangeKey
	require.Equal(t, k1, forB.ChangeKey)

	updated, err := f.svc.Update(ctx, r.ID, k1, "a@example.com", Patch{AttendeeCount: intPtr(25)})
	require.NoError(t, err)
	k2 := updated.ChangeKey
	assert.NotEqual(t, k1, k2)

	_, err = f.svc.Update(ctx, r.ID, k1, "b@example.com", Patch{Description: strPtr("projector please")})
	var vc *apperror.VersionConflictError
	require.True(t, errors.As(err, &vc), "got %v", err)
	assert.Equal(t, k2, vc.CurrentChangeKey)
	assert.Equal(t, "a@example.com", vc.LastModifiedBy)
	require.Len(t, vc.Changes, 1)
	assert.Equal(t, model.FieldChange{Field: "attendeeCount", OldValue: "10", NewValue: "25"}, vc.Changes[0])

	refetched, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, k2, refetched.ChangeKey)
	third, err := f.svc.Update(ctx, r.ID, `"`+k2+`"`, "b@example.com", Patch{Description: strPtr("projector please")})
	require.NoError(t, err)
	k3 := third.ChangeKey
	assert.NotEqual(t, k2, k3)
	assert.NotEqual(t, k1, k3)

	s := f.create(t, "S", day(15, 10), day(16, 0), 0, 0, "room-101")
	conflicts, err := f.svc.Conflicts(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, r.ID, conflicts[0].ReservationID)
	assert.Equal(t, day(13, 45), conflicts[0].EffectiveStart)
	assert.Equal(t, day(15, 15), conflicts[0].EffectiveEnd)

	_, err = f.svc.Approve(ctx, s.ID, s.ChangeKey, "admin@example.com", false)
	var sc *apperror.SchedulingConflictError
	require.True(t, errors.As(err, &sc), "got %v", err)
	assert.True(t, sc.RequiresOverride)
	require.Len(t, sc.Conflicts, 1)
	assert.Equal(t, r.ID, sc.Conflicts[0].ReservationID)

	unchanged, err := f.svc.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, unchanged.Status)
	assert.Equal(t, s.ChangeKey, unchanged.ChangeKey)

	res, err := f.svc.Approve(ctx, s.ID, s.ChangeKey, "admin@example.com", true)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, model.StatusApproved, res.Reservation.Status)

	stored, err := f.svc.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, stored.Status)
	require.Len(t, stored.ConflictDetails, 1)
	assert.Equal(t, r.ID, stored.ConflictDetails[0].ReservationID)
	assert.Equal(t, "evt-"+s.ID, stored.CalendarEventID)
	assert.Equal(t, []string{s.ID}, f.calendar.created)
}

func TestUpdate_StaleTokenNeverMutates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "R", day(14, 0), day(15, 0), 0, 0, "room-101")

	for _, token := range []string{"", "deadbeef", `W/"nope"`} {
		_, err := f.svc.Update(ctx, r.ID, token, "a@example.com", Patch{Title: strPtr("changed")})
		var vc *apperror.VersionConflictError
		require.True(t, errors.As(err, &vc), "token %q: got %v", token, err)
		assert.Equal(t, 409, apperror.StatusOf(err))
	}
	got, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "R", got.Title)
	assert.Equal(t, r.ChangeKey, got.ChangeKey)
	assert.Len(t, got.Revisions, 1)
}

func TestUpdate_TokensNeverRepeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "R", day(14, 0), day(15, 0), 0, 0, "room-101")

	seen := map[string]bool{r.ChangeKey: true}
	token := r.ChangeKey
	// the clock is frozen and values flip back and forth
	for i := 0; i < 20; i++ {
		next, err := f.svc.Update(ctx, r.ID, token, "a@example.com", Patch{AttendeeCount: intPtr(10 + i%2)})
		require.NoError(t, err)
		require.False(t, seen[next.ChangeKey], "token repeated at update %d", i)
		seen[next.ChangeKey] = true
		token = next.ChangeKey
	}
	got, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, got.Revisions, 21)
	assert.Equal(t, 21, got.LatestRevisionNumber())
}

// racingStore lets another writer land between the service's read and its
// conditional write.
type racingStore struct {
	*repository.MemoryStore
	once   sync.Once
	before func()
}

func (s *racingStore) Update(ctx context.Context, r *model.Reservation, w repository.Write) (bool, error) {
	s.once.Do(s.before)
	return s.MemoryStore.Update(ctx, r, w)
}

func TestUpdate_LostRaceIsVersionConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "R", day(14, 0), day(15, 0), 0, 0, "room-101")

	racing := &racingStore{MemoryStore: f.store}
	racing.before = func() {
		other, err := f.store.Get(ctx, r.ID)
		require.NoError(t, err)
		prev := other.ChangeKey
		other.Title = "sneaky"
		changekey.Stamp(other, "other@example.com", f.clock.Now())
		ok, err := f.store.Update(ctx, other, repository.Write{ExpectedChangeKey: prev})
		require.NoError(t, err)
		require.True(t, ok)
	}
	svc := NewService(Deps{
		Store:    racing,
		Detector: conflict.NewDetector(f.store),
		Locks:    reviewlock.NewManager(f.store),
		Log:      f.svc.log,
		Now:      f.clock.Now,
	})

	_, err := svc.Update(ctx, r.ID, r.ChangeKey, "a@example.com", Patch{AttendeeCount: intPtr(30)})
	var vc *apperror.VersionConflictError
	require.True(t, errors.As(err, &vc), "got %v", err)
	assert.Equal(t, "other@example.com", vc.LastModifiedBy)

	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "sneaky", got.Title)
	assert.Equal(t, 10, got.AttendeeCount)
}

func TestApprove_BlockedByAnotherReviewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "R", day(14, 0), day(15, 0), 0, 0, "room-101")

	_, err := f.svc.StartReview(ctx, r.ID, "alice@example.com")
	require.NoError(t, err)

	// viewing is never blocked
	_, err = f.svc.Get(ctx, r.ID)
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, r.ID, r.ChangeKey, "bob@example.com", false)
	var held *apperror.LockHeldError
	require.True(t, errors.As(err, &held), "got %v", err)
	assert.Equal(t, "alice@example.com", held.ReviewingBy)

	res, err := f.svc.Approve(ctx, r.ID, r.ChangeKey, "alice@example.com", false)
	require.NoError(t, err)
	got := res.Reservation
	assert.Equal(t, model.ReviewNotStarted, got.ReviewStatus)
	assert.Nil(t, got.ReviewingBy)

	stored, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, stored.ReviewHistory, 1)
	assert.Equal(t, reviewlock.OutcomeApproved, stored.ReviewHistory[0].Outcome)
	assert.Equal(t, "alice@example.com", stored.ReviewHistory[0].ReleasedBy)
	assert.Equal(t, model.ReviewNotStarted, stored.ReviewStatus)
}

func TestApprove_ExpiredHoldDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "R", day(14, 0), day(15, 0), 0, 0, "room-101")

	_, err := f.svc.StartReview(ctx, r.ID, "alice@example.com")
	require.NoError(t, err)
	f.clock.Advance(reviewlock.HoldDuration)

	_, err = f.svc.StartReview(ctx, r.ID, "bob@example.com")
	require.NoError(t, err)
	res, err := f.svc.Approve(ctx, r.ID, r.ChangeKey, "bob@example.com", false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, res.Reservation.Status)
}

func TestApprove_LapsedHoldIsRecordedAsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "R", day(14, 0), day(15, 0), 0, 0, "room-101")

	_, err := f.svc.StartReview(ctx, r.ID, "alice@example.com")
	require.NoError(t, err)
	f.clock.Advance(reviewlock.HoldDuration + time.Nanosecond)

	res, err := f.svc.Approve(ctx, r.ID, r.ChangeKey, "bob@example.com", false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, res.Reservation.Status)

	stored, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, stored.ReviewHistory, 1)
	entry := stored.ReviewHistory[0]
	assert.Equal(t, "alice@example.com", entry.ReviewingBy)
	assert.Equal(t, reviewlock.AutoTimeout, entry.ReleasedBy)
	assert.Equal(t, reviewlock.OutcomeExpired, entry.Outcome)
	assert.Equal(t, model.ReviewNotStarted, stored.ReviewStatus)
}

func TestApprove_ForceRecordsEveryConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "A", day(10, 0), day(11, 0), 0, 0, "room-101")
	b := f.create(t, "B", day(10, 30), day(11, 30), 0, 0, "room-102")
	cand := f.create(t, "C", day(10, 15), day(10, 45), 0, 0, "room-101", "room-102")

	res, err := f.svc.Approve(ctx, cand.ID, cand.ChangeKey, "admin@example.com", true)
	require.NoError(t, err)
	got, err := f.svc.Get(ctx, res.Reservation.ID)
	require.NoError(t, err)
	require.Len(t, got.ConflictDetails, 2)
	assert.Equal(t, a.ID, got.ConflictDetails[0].ReservationID)
	assert.Equal(t, b.ID, got.ConflictDetails[1].ReservationID)
}

func TestApprove_CalendarFailureIsWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.calendar.createErr = errors.New("503 from provider")
	r := f.create(t, "R", day(14, 0), day(15, 0), 0, 0, "room-101")

	res, err := f.svc.Approve(ctx, r.ID, r.ChangeKey, "admin@example.com", false)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "calendar")

	got, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.Empty(t, got.CalendarEventID)
}

func TestApprove_InvalidTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "R", day(14, 0), day(15, 0), 0, 0, "room-101")
	rejected, err := f.svc.Reject(ctx, r.ID, r.ChangeKey, "admin@example.com", "no catering")
	require.NoError(t, err)
	assert.Equal(t, "no catering", rejected.RejectionReason)

	_, err = f.svc.Approve(ctx, r.ID, rejected.ChangeKey, "admin@example.com", false)
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
}

func TestRestore_NoOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "R", day(14, 0), day(15, 0), 0, 0, "room-101")
	cancelled, err := f.svc.Cancel(ctx, r.ID, r.ChangeKey, "requester@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Reservation.Status)
	assert.Equal(t, model.StatusPending, cancelled.Reservation.PreviousStatus)

	other := f.create(t, "Other", day(14, 30), day(15, 30), 0, 0, "room-101")

	_, err = f.svc.Restore(ctx, r.ID, cancelled.Reservation.ChangeKey, "requester@example.com")
	var sc *apperror.SchedulingConflictError
	require.True(t, errors.As(err, &sc), "got %v", err)
	assert.False(t, sc.RequiresOverride)
	assert.Equal(t, other.ID, sc.Conflicts[0].ReservationID)

	_, err = f.svc.Delete(ctx, other.ID, other.ChangeKey, "requester@example.com")
	require.NoError(t, err)

	restored, err := f.svc.Restore(ctx, r.ID, cancelled.Reservation.ChangeKey, "requester@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, restored.Reservation.Status)
	assert.Empty(t, restored.Reservation.PreviousStatus)
}

func TestCancelApproved_RemovesCalendarEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "R", day(14, 0), day(15, 0), 0, 0, "room-101")
	approved, err := f.svc.Approve(ctx, r.ID, r.ChangeKey, "admin@example.com", false)
	require.NoError(t, err)

	res, err := f.svc.Cancel(ctx, r.ID, approved.Reservation.ChangeKey, "requester@example.com")
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []string{"evt-" + r.ID}, f.calendar.deleted)

	got, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, got.CalendarEventID)

	// restoring to approved materializes a fresh event
	restored, err := f.svc.Restore(ctx, r.ID, got.ChangeKey, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, restored.Reservation.Status)
	assert.Equal(t, []string{r.ID, r.ID}, f.calendar.created)
}

func TestRequestEditAndResubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "R", day(14, 0), day(15, 0), 0, 0, "room-101")
	approved, err := f.svc.Approve(ctx, r.ID, r.ChangeKey, "admin@example.com", false)
	require.NoError(t, err)

	_, err = f.svc.RequestEdit(ctx, r.ID, approved.Reservation.ChangeKey, "requester@example.com", Patch{})
	var ve *apperror.ValidationError
	require.True(t, errors.As(err, &ve))

	edited, err := f.svc.RequestEdit(ctx, r.ID, approved.Reservation.ChangeKey, "requester@example.com",
		Patch{SelectedRooms: []string{"room-102"}})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, edited.Status)
	assert.Equal(t, []string{"room-102"}, edited.SelectedRooms)

	rejected, err := f.svc.Reject(ctx, r.ID, edited.ChangeKey, "admin@example.com", "room 102 is closed")
	require.NoError(t, err)
	again, err := f.svc.Resubmit(ctx, r.ID, rejected.ChangeKey, "requester@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, again.Status)
	assert.Empty(t, again.RejectionReason)

	// re-approval updates the event created by the first approval
	_, err = f.svc.Approve(ctx, r.ID, again.ChangeKey, "admin@example.com", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-" + r.ID}, f.calendar.updated)
}

func TestNotificationFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("broker down")
	r := f.create(t, "R", day(14, 0), day(15, 0), 0, 0, "room-101")

	res, err := f.svc.Approve(context.Background(), r.ID, r.ChangeKey, "admin@example.com", false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, res.Reservation.Status)
	assert.Equal(t, []string{queue.EventSubmitted, queue.EventApproved}, f.notifier.types())
}
