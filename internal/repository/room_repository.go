package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/room-reservation/internal/model"
)

// RoomRepo manages the room catalogue.  Reservations reference rooms by ID
// and are validated against it on submission.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo returns a RoomRepo bound to db.
func NewRoomRepo(db *sqlx.DB) *RoomRepo { return &RoomRepo{db: db} }

const roomColumns = `id, name, capacity, location, mailbox, is_active, created_at, updated_at`

type roomRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Capacity  int       `db:"capacity"`
	Location  string    `db:"location"`
	Mailbox   string    `db:"mailbox"`
	Active    bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row roomRow) toModel() model.Room {
	return model.Room(row)
}

// Create inserts a room.  It returns ErrConflict if the ID is taken.
func (r *RoomRepo) Create(ctx context.Context, room *model.Room) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	room.CreatedAt, room.UpdatedAt = now, now
	q := r.db.Rebind(`INSERT INTO rooms (` + roomColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q, room.ID, room.Name, room.Capacity, room.Location, room.Mailbox,
		room.Active, room.CreatedAt, room.UpdatedAt)
	if isDuplicate(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields of a room.
func (r *RoomRepo) Update(ctx context.Context, room *model.Room) error {
	room.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
	q := r.db.Rebind(`UPDATE rooms SET name = ?, capacity = ?, location = ?, mailbox = ?, is_active = ?, updated_at = ?
		WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, q, room.Name, room.Capacity, room.Location, room.Mailbox, room.Active,
		room.UpdatedAt, room.ID)
	if err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the room with the given ID or ErrNotFound.
func (r *RoomRepo) Get(ctx context.Context, id string) (model.Room, error) {
	var row roomRow
	q := r.db.Rebind(`SELECT ` + roomColumns + ` FROM rooms WHERE id = ?`)
	if err := sqlx.GetContext(ctx, r.db, &row, q, id); err != nil {
		return model.Room{}, notFound(err)
	}
	return row.toModel(), nil
}

// List returns rooms ordered by ID, optionally only the active ones.
func (r *RoomRepo) List(ctx context.Context, activeOnly bool) ([]model.Room, error) {
	q := `SELECT ` + roomColumns + ` FROM rooms`
	var args []interface{}
	if activeOnly {
		q += ` WHERE is_active = ?`
		args = append(args, true)
	}
	q += ` ORDER BY id`
	var rows []roomRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("select rooms: %w", err)
	}
	out := make([]model.Room, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
}

// MissingRooms returns the IDs among ids that are unknown or inactive.
func (r *RoomRepo) MissingRooms(ctx context.Context, ids []string) ([]string, error) {
	ids = model.NormalizeRooms(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(`SELECT id FROM rooms WHERE is_active = ? AND id IN (?)`, true, ids)
	if err != nil {
		return nil, fmt.Errorf("build rooms query: %w", err)
	}
	var found []string
	if err := sqlx.SelectContext(ctx, r.db, &found, r.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("select rooms: %w", err)
	}
	return missing(ids, found), nil
}

// Mailboxes returns the calendar mailbox of each room that has one.
func (r *RoomRepo) Mailboxes(ctx context.Context, ids []string) (map[string]string, error) {
	out := map[string]string{}
	if len(ids) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(`SELECT id, mailbox FROM rooms WHERE id IN (?) AND mailbox <> ''`, ids)
	if err != nil {
		return nil, fmt.Errorf("build mailbox query: %w", err)
	}
	var rows []struct {
		ID      string `db:"id"`
		Mailbox string `db:"mailbox"`
	}
	if err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("select mailboxes: %w", err)
	}
	for _, row := range rows {
		out[row.ID] = row.Mailbox
	}
	return out, nil
}

func missing(want, found []string) []string {
	have := make(map[string]struct{}, len(found))
	for _, id := range found {
		have[id] = struct{}{}
	}
	var out []string
	for _, id := range want {
		if _, ok := have[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
