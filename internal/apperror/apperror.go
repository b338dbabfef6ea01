// Package apperror defines the error taxonomy shared by the reservation
// services and translated into HTTP responses by the handler layer.  Each
// typed error carries the structured detail a client needs to present an
// actionable message (who changed the record, what conflicts, who holds the
// review lock and for how long).
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/iliyamo/room-reservation/internal/model"
)

// Kind names the error class.  It is emitted as the "error" field of JSON
// error bodies.
type Kind string

const (
	KindVersionConflict    Kind = "ConflictError"
	KindSchedulingConflict Kind = "SchedulingConflict"
	KindLocked             Kind = "ResourceLocked"
	KindContended          Kind = "Contended"
	KindForbidden          Kind = "Forbidden"
	KindValidation         Kind = "ValidationError"
	KindNotFound           Kind = "NotFound"
	KindInvalidTransition  Kind = "InvalidTransition"
	KindExternalService    Kind = "ExternalServiceError"
)

// Error is a simple kinded error with a fixed HTTP status.
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

// New builds an Error with the given status, kind and message.
func New(status int, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Status: status, Message: msg}
}

func (e *Error) Error() string { return e.Message }

// HTTPStatus returns the status code for the error.
func (e *Error) HTTPStatus() int { return e.Status }

var (
	// ErrNotFound is returned when a reservation or room does not exist.
	ErrNotFound = New(http.StatusNotFound, KindNotFound, "reservation not found")
	// ErrForbidden is returned when the actor may not release a hold it does
	// not own or perform a privileged transition.
	ErrForbidden = New(http.StatusForbidden, KindForbidden, "you do not hold the review lock on this reservation")
	// ErrInvalidTransition is returned when the workflow does not allow the
	// requested state change from the current status.
	ErrInvalidTransition = New(http.StatusConflict, KindInvalidTransition, "transition not allowed from the current status")
)

// InvalidTransition wraps ErrInvalidTransition with the attempted action and
// the status the reservation is currently in.
func InvalidTransition(action string, from model.Status) error {
	return fmt.Errorf("cannot %s a %s reservation: %w", action, from, ErrInvalidTransition)
}

// VersionConflictError reports that the supplied change key is stale.  It
// also covers the race where the conditional write matched no row.
type VersionConflictError struct {
	CurrentChangeKey string
	LastModifiedBy   string
	LastModified     time.Time
	Changes          []model.FieldChange
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("reservation was modified by %s at %s; refresh and retry",
		e.LastModifiedBy, e.LastModified.UTC().Format(time.RFC3339))
}

// HTTPStatus returns 409.
func (e *VersionConflictError) HTTPStatus() int { return http.StatusConflict }

// SchedulingConflictError reports overlapping reservations.  RequiresOverride
// is true when the caller may retry with an explicit force flag.
type SchedulingConflictError struct {
	Conflicts        []model.ConflictDetail
	RequiresOverride bool
}

func (e *SchedulingConflictError) Error() string {
	titles := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		titles = append(titles, fmt.Sprintf("%q in %s", c.Title, strings.Join(c.OverlappingRooms, ",")))
	}
	return fmt.Sprintf("scheduling conflict with %d reservation(s): %s", len(e.Conflicts), strings.Join(titles, "; "))
}

// HTTPStatus returns 409.
func (e *SchedulingConflictError) HTTPStatus() int { return http.StatusConflict }

// LockHeldError reports a non-expired review hold owned by another actor.
type LockHeldError struct {
	ReviewingBy     string
	ReviewStartedAt time.Time
	ReviewExpiresAt time.Time
	Now             time.Time
}

// MinutesRemaining rounds the remaining hold time up to whole minutes.
func (e *LockHeldError) MinutesRemaining() int {
	left := e.ReviewExpiresAt.Sub(e.Now)
	if left <= 0 {
		return 0
	}
	m := int(left / time.Minute)
	if left%time.Minute != 0 {
		m++
	}
	return m
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("reservation is being reviewed by %s for another %d minute(s)", e.ReviewingBy, e.MinutesRemaining())
}

// HTTPStatus returns 423.
func (e *LockHeldError) HTTPStatus() int { return http.StatusLocked }

// ValidationError reports malformed scheduling input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// HTTPStatus returns 400.
func (e *ValidationError) HTTPStatus() int { return http.StatusBadRequest }

// Invalid is shorthand for a field-level ValidationError.
func Invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// ExternalServiceError wraps a failed calendar proxy call.  It is reported
// as a warning on successful responses and never fails the request.
type ExternalServiceError struct {
	Service   string
	Operation string
	Err       error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Operation, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// StatusOf returns the HTTP status associated with err, or 500 when err does
// not carry one.
func StatusOf(err error) int {
	var s interface{ HTTPStatus() int }
	if errors.As(err, &s) {
		return s.HTTPStatus()
	}
	return http.StatusInternalServerError
}
