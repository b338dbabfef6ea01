// Package reservation orchestrates the reservation workflow.
//
// Every mutation follows the same order: load the latest persisted state,
// check the caller's change key, check the review hold, check that the
// transition is allowed, run conflict detection where the transition
// commits a room, then issue a write that only lands while the change key
// is still the one that was loaded.  A write that loses that race is
// reported exactly like a stale key.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/room-reservation/internal/apperror"
	"github.com/iliyamo/room-reservation/internal/changekey"
	"github.com/iliyamo/room-reservation/internal/conflict"
	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/queue"
	"github.com/iliyamo/room-reservation/internal/repository"
	"github.com/iliyamo/room-reservation/internal/reviewlock"
)

// Store is the reservation persistence the service needs.
type Store interface {
	Create(ctx context.Context, r *model.Reservation) error
	Get(ctx context.Context, id string) (*model.Reservation, error)
	List(ctx context.Context, f repository.ListFilter) ([]model.Reservation, error)
	Update(ctx context.Context, r *model.Reservation, w repository.Write) (bool, error)
	SetCalendarEventID(ctx context.Context, id, eventID string) error
}

// RoomCatalog validates room selections and resolves room mailboxes.
type RoomCatalog interface {
	MissingRooms(ctx context.Context, ids []string) ([]string, error)
	Mailboxes(ctx context.Context, ids []string) (map[string]string, error)
}

// CalendarProxy materializes approved reservations as calendar events.
type CalendarProxy interface {
	CreateEvent(ctx context.Context, r *model.Reservation, attendees []string) (string, error)
	UpdateEvent(ctx context.Context, eventID string, r *model.Reservation, attendees []string) error
	DeleteEvent(ctx context.Context, eventID string) error
}

// Notifier receives lifecycle events.  Failures are logged, never returned
// to the caller.
type Notifier interface {
	Notify(ctx context.Context, ev queue.ReservationEvent) error
}

// Deps wires a Service.  Store, Detector and Locks are required; the rest
// fall back to no-op implementations.
type Deps struct {
	Store    Store
	Rooms    RoomCatalog
	Detector *conflict.Detector
	Locks    *reviewlock.Manager
	Calendar CalendarProxy
	Notifier Notifier
	Log      *logrus.Entry
	Now      func() time.Time
	NewID    func() string
}

// Service implements the reservation operations.
type Service struct {
	store    Store
	rooms    RoomCatalog
	detector *conflict.Detector
	locks    *reviewlock.Manager
	calendar CalendarProxy
	notifier Notifier
	log      *logrus.Entry
	now      func() time.Time
	newID    func() string
}

// NewService builds a Service from d.
func NewService(d Deps) *Service {
	s := &Service{
		store:    d.Store,
		rooms:    d.Rooms,
		detector: d.Detector,
		locks:    d.Locks,
		calendar: d.Calendar,
		notifier: d.Notifier,
		log:      d.Log,
		now:      d.Now,
		newID:    d.NewID,
	}
	if s.calendar == nil {
		s.calendar = noopCalendar{}
	}
	if s.notifier == nil {
		s.notifier = queue.Discard{}
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Result is returned by mutating operations.  Warnings carry downgraded
// external failures (calendar proxy) that did not roll back the change.
type Result struct {
	Reservation *model.Reservation
	Warnings    []string
}

// CreateInput holds the fields of a new reservation.
type CreateInput struct {
	Title               string
	Description         string
	AttendeeCount       int
	Department          string
	ContactEmail        string
	StartDateTime       time.Time
	EndDateTime         time.Time
	SetupTimeMinutes    int
	TeardownTimeMinutes int
	SelectedRooms       []string
	Draft               bool
}

// Patch lists the fields to change.  Nil fields are left untouched.
type Patch struct {
	Title               *string
	Description         *string
	AttendeeCount       *int
	Department          *string
	ContactEmail        *string
	StartDateTime       *time.Time
	EndDateTime         *time.Time
	SetupTimeMinutes    *int
	TeardownTimeMinutes *int
	SelectedRooms       []string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.AttendeeCount == nil && p.Department == nil &&
		p.ContactEmail == nil && p.StartDateTime == nil && p.EndDateTime == nil &&
		p.SetupTimeMinutes == nil && p.TeardownTimeMinutes == nil && p.SelectedRooms == nil
}

// Create validates and stores a new reservation in pending (or draft)
// state with its first revision.
func (s *Service) Create(ctx context.Context, actor string, in CreateInput) (*model.Reservation, error) {
	now := s.now().UTC().Truncate(changekey.Precision)
	r := &model.Reservation{
		ID:                  s.newID(),
		Title:               in.Title,
		Description:         in.Description,
		AttendeeCount:       in.AttendeeCount,
		RequestedBy:         actor,
		Department:          in.Department,
		ContactEmail:        in.ContactEmail,
		StartDateTime:       in.StartDateTime.UTC().Truncate(changekey.Precision),
		EndDateTime:         in.EndDateTime.UTC().Truncate(changekey.Precision),
		SetupTimeMinutes:    in.SetupTimeMinutes,
		TeardownTimeMinutes: in.TeardownTimeMinutes,
		SelectedRooms:       model.NormalizeRooms(in.SelectedRooms),
		Status:              model.StatusPending,
		ReviewStatus:        model.ReviewNotStarted,
		CreatedAt:           now,
	}
	if in.Draft {
		r.Status = model.StatusDraft
	}
	if err := s.validate(ctx, r); err != nil {
		return nil, err
	}
	changekey.Stamp(r, actor, now)
	r.Revisions = []model.Revision{{
		RevisionNumber: 1,
		ChangeKey:      r.ChangeKey,
		Timestamp:      r.LastModified,
		ModifiedBy:     actor,
		Action:         "created",
	}}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create reservation: %w", err)
	}
	s.log.WithFields(logrus.Fields{"reservation_id": r.ID, "actor": actor, "status": r.Status}).Info("reservation created")
	if r.Status == model.StatusPending {
		s.notify(ctx, queue.EventSubmitted, r, actor, "", nil)
	}
	return r, nil
}

// Get returns the latest persisted state.  Reads are never blocked by a
// review hold.
func (s *Service) Get(ctx context.Context, id string) (*model.Reservation, error) {
	return s.load(ctx, id)
}

// List returns reservations matching f.
func (s *Service) List(ctx context.Context, f repository.ListFilter) ([]model.Reservation, error) {
	out, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return out, nil
}

// Conflicts previews the conflicts of a stored reservation without
// changing it.
func (s *Service) Conflicts(ctx context.Context, id string) ([]model.ConflictDetail, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.detector.FindConflicts(ctx, r, r.ID)
}

// CheckAvailability reports what a prospective booking would conflict with.
func (s *Service) CheckAvailability(ctx context.Context, rooms []string, start, end time.Time, setupMin, teardownMin int) ([]model.ConflictDetail, error) {
	return s.detector.CheckAvailability(ctx, rooms, start.UTC(), end.UTC(), setupMin, teardownMin)
}

// StartReview acquires (or renews) the review hold for actor.
func (s *Service) StartReview(ctx context.Context, id, actor string) (reviewlock.Grant, error) {
	return s.locks.Acquire(ctx, id, actor, s.now())
}

// ReleaseReview releases actor's review hold, or anyone's with force.
func (s *Service) ReleaseReview(ctx context.Context, id, actor string, force bool) error {
	return s.locks.Release(ctx, id, actor, s.now(), force)
}

// Update applies patch to a draft, pending or rejected reservation.
func (s *Service) Update(ctx context.Context, id, token, actor string, patch Patch) (*model.Reservation, error) {
	r, err := s.mutate(ctx, id, token, actor, mutation{
		action:  "updated",
		allowed: statuses(model.StatusDraft, model.StatusPending, model.StatusRejected),
		apply: func(_ *model.Reservation, next *model.Reservation) error {
			patch.apply(next)
			return s.validate(ctx, next)
		},
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Approve moves a pending reservation to approved.  Conflicts found on the
// persisted state fail the call with a SchedulingConflictError that offers
// an override, unless force is set, in which case they are stored on the
// approved record for audit.  The calendar event is materialized after the
// write; its failure is returned as a warning only.
func (s *Service) Approve(ctx context.Context, id, token, actor string, force bool) (*Result, error) {
	r, err := s.mutate(ctx, id, token, actor, mutation{
		action:        "approved",
		allowed:       statuses(model.StatusPending),
		reviewOutcome: reviewlock.OutcomeApproved,
		replaceAudit:  true,
		apply: func(cur, next *model.Reservation) error {
			conflicts, err := s.detector.FindConflicts(ctx, cur, cur.ID)
			if err != nil {
				return err
			}
			if len(conflicts) > 0 && !force {
				return &apperror.SchedulingConflictError{Conflicts: conflicts, RequiresOverride: true}
			}
			next.Status = model.StatusApproved
			next.RejectionReason = ""
			next.ConflictDetails = conflicts
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	res := &Result{Reservation: r}
	if len(r.ConflictDetails) > 0 {
		s.log.WithFields(logrus.Fields{"reservation_id": r.ID, "actor": actor, "conflicts": len(r.ConflictDetails)}).
			Warn("reservation force-approved over conflicts")
	}
	res.Warnings = s.materialize(ctx, r)
	s.notify(ctx, queue.EventApproved, r, actor, "", res.Warnings)
	return res, nil
}

// Reject moves a pending reservation to rejected with an optional reason.
func (s *Service) Reject(ctx context.Context, id, token, actor, reason string) (*model.Reservation, error) {
	r, err := s.mutate(ctx, id, token, actor, mutation{
		action:        "rejected",
		allowed:       statuses(model.StatusPending),
		reviewOutcome: reviewlock.OutcomeRejected,
		apply: func(_, next *model.Reservation) error {
			next.Status = model.StatusRejected
			next.RejectionReason = reason
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, queue.EventRejected, r, actor, reason, nil)
	return r, nil
}

// Restore returns a cancelled or deleted reservation to the status it had
// before.  Restoring into a room-blocking status re-checks conflicts and
// offers no override.
func (s *Service) Restore(ctx context.Context, id, token, actor string) (*Result, error) {
	r, err := s.mutate(ctx, id, token, actor, mutation{
		action:  "restored",
		allowed: statuses(model.StatusCancelled, model.StatusDeleted),
		apply: func(cur, next *model.Reservation) error {
			target := restoreTarget(cur)
			if target.BlocksRooms() {
				conflicts, err := s.detector.FindConflicts(ctx, cur, cur.ID)
				if err != nil {
					return err
				}
				if len(conflicts) > 0 {
					return &apperror.SchedulingConflictError{Conflicts: conflicts, RequiresOverride: false}
				}
			}
			next.Status = target
			next.PreviousStatus = ""
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	res := &Result{Reservation: r}
	if r.Status == model.StatusApproved {
		res.Warnings = s.materialize(ctx, r)
	}
	s.notify(ctx, queue.EventRestored, r, actor, "", res.Warnings)
	return res, nil
}

// Cancel withdraws a pending or approved reservation.
func (s *Service) Cancel(ctx context.Context, id, token, actor string) (*Result, error) {
	return s.retire(ctx, id, token, actor, model.StatusCancelled, "cancelled", queue.EventCancelled,
		statuses(model.StatusPending, model.StatusApproved))
}

// Delete soft-deletes a reservation, remembering its status for Restore.
func (s *Service) Delete(ctx context.Context, id, token, actor string) (*Result, error) {
	return s.retire(ctx, id, token, actor, model.StatusDeleted, "deleted", queue.EventDeleted,
		statuses(model.StatusDraft, model.StatusPending, model.StatusApproved, model.StatusRejected, model.StatusCancelled))
}

// Resubmit puts a rejected or draft reservation back into the pending
// queue.  Conflicts are checked again on approval.
func (s *Service) Resubmit(ctx context.Context, id, token, actor string) (*model.Reservation, error) {
	r, err := s.mutate(ctx, id, token, actor, mutation{
		action:  "resubmitted",
		allowed: statuses(model.StatusRejected, model.StatusDraft),
		apply: func(_, next *model.Reservation) error {
			next.Status = model.StatusPending
			next.RejectionReason = ""
			return s.validate(ctx, next)
		},
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, queue.EventSubmitted, r, actor, "", nil)
	return r, nil
}

// RequestEdit applies patch to an approved reservation and sends it back
// to pending for re-approval.
func (s *Service) RequestEdit(ctx context.Context, id, token, actor string, patch Patch) (*model.Reservation, error) {
	if patch.Empty() {
		return nil, apperror.Invalid("", "edit request changes nothing")
	}
	r, err := s.mutate(ctx, id, token, actor, mutation{
		action:  "edit-requested",
		allowed: statuses(model.StatusApproved),
		apply: func(_, next *model.Reservation) error {
			patch.apply(next)
			next.Status = model.StatusPending
			return s.validate(ctx, next)
		},
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, queue.EventSubmitted, r, actor, "", nil)
	return r, nil
}

func (s *Service) retire(ctx context.Context, id, token, actor string, to model.Status, action, event string, allowed func(model.Status) bool) (*Result, error) {
	var wasApproved bool
	r, err := s.mutate(ctx, id, token, actor, mutation{
		action:  action,
		allowed: allowed,
		apply: func(cur, next *model.Reservation) error {
			wasApproved = cur.Status == model.StatusApproved
			next.PreviousStatus = cur.Status
			next.Status = to
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	res := &Result{Reservation: r}
	if wasApproved && r.CalendarEventID != "" {
		if w := s.removeEvent(ctx, r); w != "" {
			res.Warnings = append(res.Warnings, w)
		}
	}
	s.notify(ctx, event, r, actor, "", res.Warnings)
	return res, nil
}

func (s *Service) validate(ctx context.Context, r *model.Reservation) error {
	if r.Title == "" {
		return apperror.Invalid("title", "is required")
	}
	if r.AttendeeCount < 0 {
		return apperror.Invalid("attendeeCount", "must not be negative")
	}
	r.SelectedRooms = model.NormalizeRooms(r.SelectedRooms)
	if err := conflict.Validate(r); err != nil {
		return err
	}
	if s.rooms == nil {
		return nil
	}
	missing, err := s.rooms.MissingRooms(ctx, r.SelectedRooms)
	if err != nil {
		return fmt.Errorf("check rooms: %w", err)
	}
	if len(missing) > 0 {
		return apperror.Invalid("selectedRooms", fmt.Sprintf("unknown or inactive rooms: %v", missing))
	}
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*model.Reservation, error) {
	r, err := s.store.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load reservation %s: %w", id, err)
	}
	return r, nil
}

func restoreTarget(r *model.Reservation) model.Status {
	if r.PreviousStatus == "" || r.PreviousStatus == model.StatusDeleted {
		return model.StatusPending
	}
	return r.PreviousStatus
}

func statuses(list ...model.Status) func(model.Status) bool {
	return func(s model.Status) bool {
		for _, v := range list {
			if v == s {
				return true
			}
		}
		return false
	}
}

func (p Patch) apply(r *model.Reservation) {
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.AttendeeCount != nil {
		r.AttendeeCount = *p.AttendeeCount
	}
	if p.Department != nil {
		r.Department = *p.Department
	}
	if p.ContactEmail != nil {
		r.ContactEmail = *p.ContactEmail
	}
	if p.StartDateTime != nil {
		r.StartDateTime = p.StartDateTime.UTC().Truncate(changekey.Precision)
	}
	if p.EndDateTime != nil {
		r.EndDateTime = p.EndDateTime.UTC().Truncate(changekey.Precision)
	}
	if p.SetupTimeMinutes != nil {
		r.SetupTimeMinutes = *p.SetupTimeMinutes
	}
	if p.TeardownTimeMinutes != nil {
		r.TeardownTimeMinutes = *p.TeardownTimeMinutes
	}
	if p.SelectedRooms != nil {
		r.SelectedRooms = model.NormalizeRooms(p.SelectedRooms)
	}
}
