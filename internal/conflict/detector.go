// Package conflict finds reservations whose buffered time windows collide
// with a candidate in at least one shared room.
//
// The store is only used as a prefilter (rooms, statuses and a date range);
// the final decision always recomputes both effective windows and the exact
// room intersection here.
package conflict

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/repository"
)

// Store lists reservations that may collide with a window.
type Store interface {
	ListActiveInWindow(ctx context.Context, q repository.WindowQuery) ([]model.Reservation, error)
}

// Detector is read-only and safe for concurrent use.
type Detector struct {
	store Store
}

// NewDetector returns a Detector backed by store.
func NewDetector(store Store) *Detector {
	return &Detector{store: store}
}

// FindConflicts returns the approved or pending reservations, other than
// excludeID, whose effective window overlaps the candidate's effective
// window in at least one shared room.  Results are ordered by effective
// start, then ID.
func (d *Detector) FindConflicts(ctx context.Context, candidate *model.Reservation, excludeID string) ([]model.ConflictDetail, error) {
	if err := Validate(candidate); err != nil {
		return nil, err
	}
	return d.find(ctx, candidate.SelectedRooms, candidate.StartDateTime, candidate.EndDateTime,
		candidate.SetupTimeMinutes, candidate.TeardownTimeMinutes, excludeID)
}

// CheckAvailability runs the same check for a prospective booking that has
// not been stored yet.
func (d *Detector) CheckAvailability(ctx context.Context, rooms []string, start, end time.Time, setupMin, teardownMin int) ([]model.ConflictDetail, error) {
	if err := ValidateSchedule(start, end, setupMin, teardownMin, rooms); err != nil {
		return nil, err
	}
	return d.find(ctx, rooms, start, end, setupMin, teardownMin, "")
}

func (d *Detector) find(ctx context.Context, rooms []string, start, end time.Time, setupMin, teardownMin int, excludeID string) ([]model.ConflictDetail, error) {
	rooms = model.NormalizeRooms(rooms)
	from, to := model.EffectiveWindow(start, end, setupMin, teardownMin)

	candidates, err := d.store.ListActiveInWindow(ctx, repository.WindowQuery{
		From:      from,
		To:        to,
		Rooms:     rooms,
		Statuses:  model.ActiveStatuses,
		ExcludeID: excludeID,
	})
	if err != nil {
		return nil, fmt.Errorf("list reservations in window: %w", err)
	}

	conflicts := make([]model.ConflictDetail, 0)
	for i := range candidates {
		other := &candidates[i]
		if other.ID == excludeID || !other.Status.BlocksRooms() {
			continue
		}
		oFrom, oTo := other.EffectiveWindow()
		if !Overlaps(from, to, oFrom, oTo) {
			continue
		}
		shared := IntersectRooms(rooms, other.SelectedRooms)
		if len(shared) == 0 {
			continue
		}
		conflicts = append(conflicts, model.ConflictDetail{
			ReservationID:       other.ID,
			Title:               other.Title,
			StartDateTime:       other.StartDateTime,
			EndDateTime:         other.EndDateTime,
			SetupTimeMinutes:    other.SetupTimeMinutes,
			TeardownTimeMinutes: other.TeardownTimeMinutes,
			EffectiveStart:      oFrom,
			EffectiveEnd:        oTo,
			Status:              other.Status,
			OverlappingRooms:    shared,
		})
	}
	sort.SliceStable(conflicts, func(i, j int) bool {
		if !conflicts[i].EffectiveStart.Equal(conflicts[j].EffectiveStart) {
			return conflicts[i].EffectiveStart.Before(conflicts[j].EffectiveStart)
		}
		return conflicts[i].ReservationID < conflicts[j].ReservationID
	})
	return conflicts, nil
}
