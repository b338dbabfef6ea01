package model

import "time"

// Room is a bookable location.  Reservations reference rooms by ID in
// their SelectedRooms set.
//
// Fields:
//  ID        – stable room identifier (e.g. "room-101").
//  Name      – display name.
//  Capacity  – maximum number of attendees (0 when unknown).
//  Location  – building/floor description.
//  Mailbox   – calendar mailbox of the room resource (optional).
//  Active    – inactive rooms cannot be selected for new reservations.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Room struct {
	ID        string    // rooms.id
	Name      string    // rooms.name
	Capacity  int       // rooms.capacity
	Location  string    // rooms.location
	Mailbox   string    // rooms.mailbox
	Active    bool      // rooms.is_active
	CreatedAt time.Time // rooms.created_at
	UpdatedAt time.Time // rooms.updated_at
}
