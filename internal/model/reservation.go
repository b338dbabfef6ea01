package model

import (
	"sort"
	"time"
)

// Status is the workflow state of a reservation.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusDeleted   Status = "deleted"
)

// Valid reports whether s is one of the known workflow states.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected, StatusCancelled, StatusDeleted:
		return true
	}
	return false
}

// BlocksRooms reports whether reservations in this state occupy their rooms
// for scheduling purposes.  Only pending and approved reservations do.
func (s Status) BlocksRooms() bool {
	return s == StatusPending || s == StatusApproved
}

// ActiveStatuses lists the states that participate in conflict detection.
var ActiveStatuses = []Status{StatusApproved, StatusPending}

// ReviewStatus tracks the advisory review hold on a reservation.
type ReviewStatus string

const (
	ReviewNotStarted ReviewStatus = "not_started"
	ReviewReviewing  ReviewStatus = "reviewing"
	ReviewCompleted  ReviewStatus = "completed"
)

// Reservation is a request to occupy one or more rooms for a time range.
// It corresponds to a row in the `reservations` table plus its child rows
// in reservation_rooms, reservation_revisions, reservation_review_history
// and reservation_conflicts.
//
// Fields:
//  ID                  – stable identifier (UUID).
//  Title, Description  – descriptive content, not used for scheduling.
//  AttendeeCount       – expected number of attendees.
//  RequestedBy         – actor who submitted the reservation.
//  StartDateTime       – scheduled start (UTC).
//  EndDateTime         – scheduled end (UTC); must be after StartDateTime.
//  SetupTimeMinutes    – buffer occupied before the start.
//  TeardownTimeMinutes – buffer occupied after the end.
//  SelectedRooms       – sorted, de-duplicated room identifiers.
//  Status              – workflow state.
//  PreviousStatus      – state before cancel/delete, used by restore.
//  ChangeKey           – opaque version token over the fingerprinted fields.
//  LastModified        – instant of the last field mutation.
//  ReviewStatus        – advisory review hold state and its holder fields.
//  Revisions           – append-only change history.
//  ReviewHistory       – append-only review session history.
//  ConflictDetails     – conflicts accepted by a forced approval.
type Reservation struct {
	ID                  string    // reservations.id
	Title               string    // reservations.title
	Description         string    // reservations.description
	AttendeeCount       int       // reservations.attendee_count
	RequestedBy         string    // reservations.requested_by
	Department          string    // reservations.department
	ContactEmail        string    // reservations.contact_email
	StartDateTime       time.Time // reservations.start_date_time
	EndDateTime         time.Time // reservations.end_date_time
	SetupTimeMinutes    int       // reservations.setup_time_minutes
	TeardownTimeMinutes int       // reservations.teardown_time_minutes
	SelectedRooms       []string  // reservation_rooms.room_id

	Status          Status // reservations.status
	PreviousStatus  Status // reservations.previous_status (empty when unset)
	RejectionReason string // reservations.rejection_reason
	CalendarEventID string // reservations.calendar_event_id

	ChangeKey      string    // reservations.change_key
	LastModified   time.Time // reservations.last_modified
	LastModifiedBy string    // reservations.last_modified_by

	ReviewStatus    ReviewStatus // reservations.review_status
	ReviewingBy     *string      // reservations.reviewing_by (nullable)
	ReviewStartedAt *time.Time   // reservations.review_started_at (nullable)
	ReviewExpiresAt *time.Time   // reservations.review_expires_at (nullable)

	Revisions       []Revision           // reservation_revisions
	ReviewHistory   []ReviewHistoryEntry // reservation_review_history
	ConflictDetails []ConflictDetail     // reservation_conflicts

	CreatedAt time.Time // reservations.created_at
}

// EffectiveWindow returns the room-occupied range including setup and
// teardown buffers.  Conflict checks always use this range.
func (r *Reservation) EffectiveWindow() (time.Time, time.Time) {
	return EffectiveWindow(r.StartDateTime, r.EndDateTime, r.SetupTimeMinutes, r.TeardownTimeMinutes)
}

// EffectiveWindow computes [start - setup, end + teardown].
func EffectiveWindow(start, end time.Time, setupMin, teardownMin int) (time.Time, time.Time) {
	return start.Add(-time.Duration(setupMin) * time.Minute), end.Add(time.Duration(teardownMin) * time.Minute)
}

// ReviewState returns a snapshot of the review-lock columns.
func (r *Reservation) ReviewState() ReviewState {
	return ReviewState{
		Status:    r.ReviewStatus,
		HeldBy:    r.ReviewingBy,
		StartedAt: r.ReviewStartedAt,
		ExpiresAt: r.ReviewExpiresAt,
	}
}

// SetReviewState overwrites the review-lock columns with s.
func (r *Reservation) SetReviewState(s ReviewState) {
	r.ReviewStatus = s.Status
	r.ReviewingBy = s.HeldBy
	r.ReviewStartedAt = s.StartedAt
	r.ReviewExpiresAt = s.ExpiresAt
}

// LatestRevisionNumber returns the number of the last recorded revision or
// zero when the reservation has no history yet.
func (r *Reservation) LatestRevisionNumber() int {
	if len(r.Revisions) == 0 {
		return 0
	}
	return r.Revisions[len(r.Revisions)-1].RevisionNumber
}

// Clone returns a deep copy so callers can mutate a working copy without
// touching the persisted snapshot.
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	c.SelectedRooms = append([]string(nil), r.SelectedRooms...)
	c.ReviewingBy = cloneString(r.ReviewingBy)
	c.ReviewStartedAt = cloneTime(r.ReviewStartedAt)
	c.ReviewExpiresAt = cloneTime(r.ReviewExpiresAt)
	c.Revisions = make([]Revision, len(r.Revisions))
	for i, rev := range r.Revisions {
		rev.Changes = append([]FieldChange(nil), rev.Changes...)
		c.Revisions[i] = rev
	}
	c.ReviewHistory = make([]ReviewHistoryEntry, len(r.ReviewHistory))
	for i, h := range r.ReviewHistory {
		h.CompletedAt = cloneTime(h.CompletedAt)
		c.ReviewHistory[i] = h
	}
	c.ConflictDetails = make([]ConflictDetail, len(r.ConflictDetails))
	for i, cd := range r.ConflictDetails {
		cd.OverlappingRooms = append([]string(nil), cd.OverlappingRooms...)
		c.ConflictDetails[i] = cd
	}
	return &c
}

// NormalizeRooms trims empty entries, removes duplicates and sorts the
// room identifiers so the set has a single canonical representation.
func NormalizeRooms(rooms []string) []string {
	seen := make(map[string]struct{}, len(rooms))
	out := make([]string, 0, len(rooms))
	for _, id := range rooms {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FieldChange is a single field-level difference between two states of a
// reservation.  Values are rendered as strings for display.
type FieldChange struct {
	Field    string
	OldValue string
	NewValue string
}

// Revision is one entry of the append-only change history.
type Revision struct {
	RevisionNumber int           // reservation_revisions.revision_number
	ChangeKey      string        // token produced by this revision
	Timestamp      time.Time     // when the revision was written
	ModifiedBy     string        // actor responsible for the change
	Action         string        // created, updated, approved, ...
	Changes        []FieldChange // field-level diff against the previous state
}

// ReviewHistoryEntry records one finished review session.
type ReviewHistoryEntry struct {
	ReviewingBy string     // actor who held the review
	StartedAt   time.Time  // when the hold was acquired
	CompletedAt *time.Time // when the session ended
	ReleasedBy  string     // actor (or "auto-timeout") that ended it
	Outcome     string     // abandoned, expired, approved, rejected
}

// ConflictDetail describes an existing reservation whose effective window
// overlaps a candidate in at least one shared room.
type ConflictDetail struct {
	ReservationID       string
	Title               string
	StartDateTime       time.Time
	EndDateTime         time.Time
	SetupTimeMinutes    int
	TeardownTimeMinutes int
	EffectiveStart      time.Time
	EffectiveEnd        time.Time
	Status              Status
	OverlappingRooms    []string
}

// ReviewState is the set of review-lock columns written together.  The
// not_started state always has nil holder and timestamps.
type ReviewState struct {
	Status    ReviewStatus
	HeldBy    *string
	StartedAt *time.Time
	ExpiresAt *time.Time
}

// ClearedReviewState is the idle lock state with every lock field null.
func ClearedReviewState() ReviewState {
	return ReviewState{Status: ReviewNotStarted}
}

// Equal compares two review states field by field.
func (s ReviewState) Equal(o ReviewState) bool {
	if s.Status != o.Status {
		return false
	}
	if (s.HeldBy == nil) != (o.HeldBy == nil) || (s.HeldBy != nil && *s.HeldBy != *o.HeldBy) {
		return false
	}
	if !timePtrEqual(s.StartedAt, o.StartedAt) || !timePtrEqual(s.ExpiresAt, o.ExpiresAt) {
		return false
	}
	return true
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StringPtr and TimePtr are small helpers for the nullable lock fields.
func StringPtr(s string) *string { return &s }

func TimePtr(t time.Time) *time.Time { return &t }
