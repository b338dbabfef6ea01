package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/room-reservation/internal/apperror"
	"github.com/iliyamo/room-reservation/internal/changekey"
	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/queue"
	"github.com/iliyamo/room-reservation/internal/repository"
	"github.com/iliyamo/room-reservation/internal/reviewlock"
)

type mutation struct {
	action  string
	allowed func(model.Status) bool
	// apply edits next (a copy of cur) or rejects the transition.
	apply func(cur, next *model.Reservation) error
	// reviewOutcome, when set, folds the open review session into history.
	reviewOutcome string
	replaceAudit  bool
}

func (s *Service) mutate(ctx context.Context, id, token, actor string, m mutation) (*model.Reservation, error) {
	cur, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !changekey.Validate(cur, token) {
		return nil, versionConflict(cur, token)
	}
	now := s.now().UTC().Truncate(changekey.Precision)
	if err := reviewlock.CheckMutation(cur, actor, now); err != nil {
		return nil, err
	}
	if !m.allowed(cur.Status) {
		return nil, apperror.InvalidTransition(m.action, cur.Status)
	}

	next := cur.Clone()
	if err := m.apply(cur, next); err != nil {
		return nil, err
	}

	w := repository.Write{ExpectedChangeKey: cur.ChangeKey, ReplaceConflicts: m.replaceAudit}
	if m.reviewOutcome != "" {
		guard := cur.ReviewState()
		w.ReviewGuard = &guard
		w.ReviewEntry = reviewlock.Complete(next, actor, m.reviewOutcome, now)
	}

	changes := changekey.Diff(cur, next)
	changekey.Stamp(next, actor, now)
	rev := model.Revision{
		RevisionNumber: cur.LatestRevisionNumber() + 1,
		ChangeKey:      next.ChangeKey,
		Timestamp:      next.LastModified,
		ModifiedBy:     actor,
		Action:         m.action,
		Changes:        changes,
	}
	next.Revisions = append(next.Revisions, rev)
	w.Revision = &rev

	ok, err := s.store.Update(ctx, next, w)
	if err != nil {
		return nil, fmt.Errorf("%s reservation: %w", m.action, err)
	}
	if !ok {
		return nil, s.lostRace(ctx, cur, token, actor, now)
	}
	s.log.WithFields(logrus.Fields{
		"reservation_id": next.ID,
		"actor":          actor,
		"action":         m.action,
		"status":         next.Status,
		"change_key":     next.ChangeKey,
	}).Info("reservation updated")
	return next, nil
}

// lostRace explains a conditional write that matched no row.  A moved change
// key is a version conflict; an unchanged key means the review columns moved,
// which is either a new hold by someone else or a plain retryable race.
func (s *Service) lostRace(ctx context.Context, cur *model.Reservation, token, actor string, now time.Time) error {
	latest, err := s.load(ctx, cur.ID)
	if err != nil {
		return err
	}
	if latest.ChangeKey != cur.ChangeKey {
		return versionConflict(latest, token)
	}
	if err := reviewlock.CheckMutation(latest, actor, now); err != nil {
		return err
	}
	return reviewlock.ErrContended
}

func versionConflict(cur *model.Reservation, supplied string) error {
	changes := changekey.ChangesSince(cur, supplied)
	if changes == nil {
		changes = []model.FieldChange{}
	}
	return &apperror.VersionConflictError{
		CurrentChangeKey: cur.ChangeKey,
		LastModifiedBy:   cur.LastModifiedBy,
		LastModified:     cur.LastModified,
		Changes:          changes,
	}
}

// materialize creates or updates the calendar event of an approved
// reservation.  Failures never undo the approval; they come back as
// warnings.
func (s *Service) materialize(ctx context.Context, r *model.Reservation) []string {
	attendees := s.attendees(ctx, r)
	op := "create event"
	var err error
	if r.CalendarEventID != "" {
		op = "update event"
		err = s.calendar.UpdateEvent(ctx, r.CalendarEventID, r, attendees)
	} else {
		var eventID string
		eventID, err = s.calendar.CreateEvent(ctx, r, attendees)
		if err == nil && eventID != "" {
			r.CalendarEventID = eventID
			if serr := s.store.SetCalendarEventID(ctx, r.ID, eventID); serr != nil {
				s.log.WithError(serr).WithField("reservation_id", r.ID).Error("store calendar event id failed")
			}
		}
	}
	if err == nil {
		return nil
	}
	ext := &apperror.ExternalServiceError{Service: "calendar", Operation: op, Err: err}
	s.log.WithError(err).WithFields(logrus.Fields{"reservation_id": r.ID, "operation": op}).
		Warn("calendar proxy failed; approval kept")
	return []string{ext.Error()}
}

func (s *Service) removeEvent(ctx context.Context, r *model.Reservation) string {
	err := s.calendar.DeleteEvent(ctx, r.CalendarEventID)
	if err != nil {
		ext := &apperror.ExternalServiceError{Service: "calendar", Operation: "delete event", Err: err}
		s.log.WithError(err).WithField("reservation_id", r.ID).Warn("calendar event delete failed")
		return ext.Error()
	}
	r.CalendarEventID = ""
	if serr := s.store.SetCalendarEventID(ctx, r.ID, ""); serr != nil {
		s.log.WithError(serr).WithField("reservation_id", r.ID).Error("clear calendar event id failed")
	}
	return ""
}

func (s *Service) attendees(ctx context.Context, r *model.Reservation) []string {
	if s.rooms == nil {
		return nil
	}
	boxes, err := s.rooms.Mailboxes(ctx, r.SelectedRooms)
	if err != nil {
		s.log.WithError(err).WithField("reservation_id", r.ID).Warn("room mailbox lookup failed")
		return nil
	}
	out := make([]string, 0, len(boxes))
	for _, id := range r.SelectedRooms {
		if box, ok := boxes[id]; ok {
			out = append(out, box)
		}
	}
	return out
}

func (s *Service) notify(ctx context.Context, eventType string, r *model.Reservation, actor, reason string, warnings []string) {
	ev := queue.ReservationEvent{
		EventID:       uuid.NewString(),
		Type:          eventType,
		ReservationID: r.ID,
		Title:         r.Title,
		Status:        string(r.Status),
		Actor:         actor,
		RequestedBy:   r.RequestedBy,
		ContactEmail:  r.ContactEmail,
		Reason:        reason,
		StartsAt:      r.StartDateTime.UTC().Format(time.RFC3339),
		EndsAt:        r.EndDateTime.UTC().Format(time.RFC3339),
		Rooms:         r.SelectedRooms,
		Warnings:      warnings,
		OccurredAt:    s.now().UTC().Format(time.RFC3339),
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"reservation_id": r.ID, "event": eventType}).
			Warn("notification not delivered")
	}
}

type noopCalendar struct{}

func (noopCalendar) CreateEvent(context.Context, *model.Reservation, []string) (string, error) {
	return "", nil
}

func (noopCalendar) UpdateEvent(context.Context, string, *model.Reservation, []string) error {
	return nil
}

func (noopCalendar) DeleteEvent(context.Context, string) error { return nil }
