package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/room-reservation/internal/model"
)

// MemoryStore keeps reservations and rooms in process memory with the same
// conditional-write semantics as the SQL repositories.  It backs unit tests
// and single-node demos.
type MemoryStore struct {
	mu           sync.Mutex
	reservations map[string]*model.Reservation
	rooms        map[string]model.Room
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reservations: map[string]*model.Reservation{},
		rooms:        map[string]model.Room{},
	}
}

// Create stores a copy of res.
func (s *MemoryStore) Create(_ context.Context, res *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservations[res.ID]; ok {
		return ErrConflict
	}
	c := res.Clone()
	if c.ReviewStatus == "" {
		c.ReviewStatus = model.ReviewNotStarted
	}
	c.SelectedRooms = model.NormalizeRooms(c.SelectedRooms)
	s.reservations[res.ID] = c
	return nil
}

// Get returns a copy of the stored reservation.
func (s *MemoryStore) Get(_ context.Context, id string) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// List mirrors ReservationRepo.List.
func (s *MemoryStore) List(_ context.Context, f ListFilter) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Reservation
	for _, r := range s.reservations {
		if matchesFilter(r, f) {
			out = append(out, *r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDateTime.Equal(out[j].StartDateTime) {
			return out[i].StartDateTime.Before(out[j].StartDateTime)
		}
		return out[i].ID < out[j].ID
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ListActiveInWindow mirrors ReservationRepo.ListActiveInWindow.
func (s *MemoryStore) ListActiveInWindow(_ context.Context, q WindowQuery) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Reservation
	for _, r := range s.reservations {
		if matchesWindow(r, q) {
			out = append(out, *r.Clone())
		}
	}
	return out, nil
}

// ListExpiredReviews mirrors ReservationRepo.ListExpiredReviews.
func (s *MemoryStore) ListExpiredReviews(_ context.Context, now time.Time) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Reservation
	for _, r := range s.reservations {
		if r.ReviewStatus == model.ReviewReviewing && r.ReviewExpiresAt != nil && r.ReviewExpiresAt.Before(now) {
			out = append(out, *r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Update mirrors ReservationRepo.Update.
func (s *MemoryStore) Update(_ context.Context, res *model.Reservation, w Write) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.reservations[res.ID]
	if !ok || cur.ChangeKey != w.ExpectedChangeKey {
		return false, nil
	}
	if w.ReviewGuard != nil && !cur.ReviewState().Equal(*w.ReviewGuard) {
		return false, nil
	}

	next := res.Clone()
	next.SelectedRooms = model.NormalizeRooms(next.SelectedRooms)
	next.CreatedAt = cur.CreatedAt
	next.RequestedBy = cur.RequestedBy
	// history tables are append-only: start from what is stored
	next.Revisions = append([]model.Revision(nil), cur.Revisions...)
	next.ReviewHistory = append([]model.ReviewHistoryEntry(nil), cur.ReviewHistory...)
	if w.Revision != nil {
		next.Revisions = append(next.Revisions, *w.Revision)
	}
	if w.ReviewEntry != nil {
		next.ReviewHistory = append(next.ReviewHistory, *w.ReviewEntry)
	}
	if w.ReviewGuard == nil {
		next.SetReviewState(cur.Clone().ReviewState())
	}
	if !w.ReplaceConflicts {
		next.ConflictDetails = cur.Clone().ConflictDetails
	}
	s.reservations[res.ID] = next
	return true, nil
}

// UpdateReviewState mirrors ReservationRepo.UpdateReviewState.
func (s *MemoryStore) UpdateReviewState(_ context.Context, id string, expected, next model.ReviewState, entry *model.ReviewHistoryEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.reservations[id]
	if !ok || !cur.ReviewState().Equal(expected) {
		return false, nil
	}
	c := cur.Clone()
	c.SetReviewState(next)
	// detach from the caller's pointers
	c = c.Clone()
	if entry != nil {
		c.ReviewHistory = append(c.ReviewHistory, *entry)
	}
	s.reservations[id] = c
	return true, nil
}

// SetCalendarEventID mirrors ReservationRepo.SetCalendarEventID.
func (s *MemoryStore) SetCalendarEventID(_ context.Context, id, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.reservations[id]
	if !ok {
		return ErrNotFound
	}
	cur.CalendarEventID = eventID
	return nil
}

// PutRoom adds or replaces a room.
func (s *MemoryStore) PutRoom(room model.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = room
}

// MissingRooms mirrors RoomRepo.MissingRooms.
func (s *MemoryStore) MissingRooms(_ context.Context, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids = model.NormalizeRooms(ids)
	var found []string
	for _, id := range ids {
		if room, ok := s.rooms[id]; ok && room.Active {
			found = append(found, id)
		}
	}
	return missing(ids, found), nil
}

// Mailboxes mirrors RoomRepo.Mailboxes.
func (s *MemoryStore) Mailboxes(_ context.Context, ids []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for _, id := range ids {
		if room, ok := s.rooms[id]; ok && room.Mailbox != "" {
			out[id] = room.Mailbox
		}
	}
	return out, nil
}
