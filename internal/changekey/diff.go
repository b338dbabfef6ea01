package changekey

import (
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/room-reservation/internal/model"
)

// Diff lists the user-visible fields whose values differ between before
// and after, in a fixed field order.
func Diff(before, after *model.Reservation) []model.FieldChange {
	var out []model.FieldChange
	add := func(field, oldV, newV string) {
		if oldV != newV {
			out = append(out, model.FieldChange{Field: field, OldValue: oldV, NewValue: newV})
		}
	}
	add("title", before.Title, after.Title)
	add("description", before.Description, after.Description)
	add("attendeeCount", strconv.Itoa(before.AttendeeCount), strconv.Itoa(after.AttendeeCount))
	add("department", before.Department, after.Department)
	add("contactEmail", before.ContactEmail, after.ContactEmail)
	add("startDateTime", displayTime(before.StartDateTime), displayTime(after.StartDateTime))
	add("endDateTime", displayTime(before.EndDateTime), displayTime(after.EndDateTime))
	add("setupTimeMinutes", strconv.Itoa(before.SetupTimeMinutes), strconv.Itoa(after.SetupTimeMinutes))
	add("teardownTimeMinutes", strconv.Itoa(before.TeardownTimeMinutes), strconv.Itoa(after.TeardownTimeMinutes))
	add("selectedRooms",
		strings.Join(model.NormalizeRooms(before.SelectedRooms), ","),
		strings.Join(model.NormalizeRooms(after.SelectedRooms), ","))
	add("status", string(before.Status), string(after.Status))
	add("rejectionReason", before.RejectionReason, after.RejectionReason)
	return out
}

// ChangesSince returns the changes recorded by every revision written after
// the revision that produced token, i.e. what other actors changed while
// the caller was editing a copy carrying that token.  It returns nil when
// the token is unknown.
func ChangesSince(r *model.Reservation, token string) []model.FieldChange {
	t := Normalize(token)
	if t == "" {
		return nil
	}
	idx := -1
	for i, rev := range r.Revisions {
		if strings.EqualFold(rev.ChangeKey, t) {
			idx = i
		}
	}
	if idx < 0 {
		return nil
	}
	var out []model.FieldChange
	for _, rev := range r.Revisions[idx+1:] {
		out = append(out, rev.Changes...)
	}
	return out
}

func displayTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
