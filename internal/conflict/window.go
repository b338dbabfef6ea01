package conflict

import (
	"sort"
	"time"

	"github.com/iliyamo/room-reservation/internal/apperror"
	"github.com/iliyamo/room-reservation/internal/model"
)

// Overlaps reports whether the half-open ranges [aStart, aEnd) and
// [bStart, bEnd) intersect.  Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// IntersectRooms returns the sorted room IDs present in both sets.
func IntersectRooms(a, b []string) []string {
	in := make(map[string]struct{}, len(a))
	for _, id := range a {
		in[id] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{}, len(b))
	for _, id := range b {
		if _, ok := in[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ValidateSchedule checks the scheduling fields the detector depends on.
func ValidateSchedule(start, end time.Time, setupMin, teardownMin int, rooms []string) error {
	switch {
	case start.IsZero():
		return apperror.Invalid("startDateTime", "is required")
	case end.IsZero():
		return apperror.Invalid("endDateTime", "is required")
	case !end.After(start):
		return apperror.Invalid("endDateTime", "must be after startDateTime")
	case setupMin < 0:
		return apperror.Invalid("setupTimeMinutes", "must not be negative")
	case teardownMin < 0:
		return apperror.Invalid("teardownTimeMinutes", "must not be negative")
	case len(model.NormalizeRooms(rooms)) == 0:
		return apperror.Invalid("selectedRooms", "at least one room is required")
	}
	return nil
}

// Validate runs ValidateSchedule on a reservation.
func Validate(r *model.Reservation) error {
	if r == nil {
		return apperror.Invalid("", "reservation is required")
	}
	return ValidateSchedule(r.StartDateTime, r.EndDateTime, r.SetupTimeMinutes, r.TeardownTimeMinutes, r.SelectedRooms)
}
