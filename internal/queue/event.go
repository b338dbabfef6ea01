// Package queue defines the reservation lifecycle messages exchanged over
// RabbitMQ, the publisher used by the reservation service and the consumer
// that turns them into notification log lines.
package queue

// Lifecycle event types carried in ReservationEvent.Type.
const (
	EventSubmitted = "reservation.submitted"
	EventApproved  = "reservation.approved"
	EventRejected  = "reservation.rejected"
	EventCancelled = "reservation.cancelled"
	EventDeleted   = "reservation.deleted"
	EventRestored  = "reservation.restored"
)

// ReservationEvent is published after a reservation changes workflow state.
// It contains enough information for the notification consumer to address
// the requester without querying the primary database.
type ReservationEvent struct {
	EventID       string   `json:"event_id"`
	Type          string   `json:"type"`
	ReservationID string   `json:"reservation_id"`
	Title         string   `json:"title"`
	Status        string   `json:"status"`
	Actor         string   `json:"actor"`
	RequestedBy   string   `json:"requested_by"`
	ContactEmail  string   `json:"contact_email"`
	Reason        string   `json:"reason,omitempty"`
	StartsAt      string   `json:"starts_at"`
	EndsAt        string   `json:"ends_at"`
	Rooms         []string `json:"rooms"`
	Warnings      []string `json:"warnings,omitempty"`
	OccurredAt    string   `json:"occurred_at"`
}
