package repository

import (
	"time"

	"github.com/iliyamo/room-reservation/internal/model"
)

// WindowQuery is the prefilter used by conflict detection: reservations in
// one of Statuses that share at least one of Rooms and whose stored
// effective window intersects [From, To).  ExcludeID, when set, is skipped.
type WindowQuery struct {
	From      time.Time
	To        time.Time
	Rooms     []string
	Statuses  []model.Status
	ExcludeID string
}

// ListFilter narrows List results.  Zero values mean "no constraint".
type ListFilter struct {
	Status      model.Status
	RoomID      string
	RequestedBy string
	From        time.Time // effective end after From
	To          time.Time // effective start before To
	Limit       int
	Offset      int
}

// Write describes a conditional full-record update.
//
// The row is only written while its change_key still equals
// ExpectedChangeKey.  Review columns are written only when ReviewGuard is
// set, and then only while they still equal the guard, so a hold acquired
// concurrently is never overwritten.  Revision and ReviewEntry are appended
// to the history tables; ReplaceConflicts rewrites the stored conflict audit.
type Write struct {
	ExpectedChangeKey string
	Revision          *model.Revision
	ReviewEntry       *model.ReviewHistoryEntry
	ReviewGuard       *model.ReviewState
	ReplaceConflicts  bool
}

func toMs(t time.Time) int64 { return t.UnixMilli() }

func fromMs(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func matchesWindow(r *model.Reservation, q WindowQuery) bool {
	if q.ExcludeID != "" && r.ID == q.ExcludeID {
		return false
	}
	okStatus := false
	for _, s := range q.Statuses {
		if r.Status == s {
			okStatus = true
			break
		}
	}
	if !okStatus {
		return false
	}
	from, to := r.EffectiveWindow()
	if !from.Before(q.To) || !to.After(q.From) {
		return false
	}
	for _, a := range r.SelectedRooms {
		for _, b := range q.Rooms {
			if a == b {
				return true
			}
		}
	}
	return false
}

func matchesFilter(r *model.Reservation, f ListFilter) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.RequestedBy != "" && r.RequestedBy != f.RequestedBy {
		return false
	}
	from, to := r.EffectiveWindow()
	if !f.From.IsZero() && !to.After(f.From) {
		return false
	}
	if !f.To.IsZero() && !from.Before(f.To) {
		return false
	}
	if f.RoomID != "" {
		found := false
		for _, id := range r.SelectedRooms {
			if id == f.RoomID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
