package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/room-reservation/internal/model"
)

// ReservationRepo persists reservations and their child rows
// (reservation_rooms, reservation_revisions, reservation_review_history and
// reservation_conflicts).  Every mutating method runs in a single
// transaction and only touches the executor of that transaction.
//
// Optimistic concurrency is implemented by the WHERE clause of the UPDATE:
// a write only lands while change_key (and, when guarded, the review
// columns) still hold the values the caller observed.  A write that matched
// no row reports false instead of an error.
type ReservationRepo struct {
	db *sqlx.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sqlx.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// DB exposes the underlying handle for callers that need their own
// transactions.
func (r *ReservationRepo) DB() *sqlx.DB { return r.db }

const reservationColumns = `id, title, description, attendee_count, requested_by, department, contact_email,
	start_ms, end_ms, setup_minutes, teardown_minutes, effective_start_ms, effective_end_ms,
	status, previous_status, rejection_reason, calendar_event_id,
	change_key, last_modified_ms, last_modified_by,
	review_status, reviewing_by, review_started_ms, review_expires_ms, created_ms`

// reservationRow mirrors the reservations table.
type reservationRow struct {
	ID               string         `db:"id"`
	Title            string         `db:"title"`
	Description      string         `db:"description"`
	AttendeeCount    int            `db:"attendee_count"`
	RequestedBy      string         `db:"requested_by"`
	Department       string         `db:"department"`
	ContactEmail     string         `db:"contact_email"`
	StartMs          int64          `db:"start_ms"`
	EndMs            int64          `db:"end_ms"`
	SetupMinutes     int            `db:"setup_minutes"`
	TeardownMinutes  int            `db:"teardown_minutes"`
	EffectiveStartMs int64          `db:"effective_start_ms"`
	EffectiveEndMs   int64          `db:"effective_end_ms"`
	Status           string         `db:"status"`
	PreviousStatus   string         `db:"previous_status"`
	RejectionReason  string         `db:"rejection_reason"`
	CalendarEventID  string         `db:"calendar_event_id"`
	ChangeKey        string         `db:"change_key"`
	LastModifiedMs   int64          `db:"last_modified_ms"`
	LastModifiedBy   string         `db:"last_modified_by"`
	ReviewStatus     string         `db:"review_status"`
	ReviewingBy      sql.NullString `db:"reviewing_by"`
	ReviewStartedMs  sql.NullInt64  `db:"review_started_ms"`
	ReviewExpiresMs  sql.NullInt64  `db:"review_expires_ms"`
	CreatedMs        int64          `db:"created_ms"`
}

// Create inserts a reservation together with its rooms and any history it
// already carries.
func (r *ReservationRepo) Create(ctx context.Context, res *model.Reservation) error {
	if res.ReviewStatus == "" {
		res.ReviewStatus = model.ReviewNotStarted
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const q = `INSERT INTO reservations (` + reservationColumns + `) VALUES (
		:id, :title, :description, :attendee_count, :requested_by, :department, :contact_email,
		:start_ms, :end_ms, :setup_minutes, :teardown_minutes, :effective_start_ms, :effective_end_ms,
		:status, :previous_status, :rejection_reason, :calendar_event_id,
		:change_key, :last_modified_ms, :last_modified_by,
		:review_status, :reviewing_by, :review_started_ms, :review_expires_ms, :created_ms)`
	if _, err := sqlx.NamedExecContext(ctx, tx, q, toRow(res)); err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	if err := insertRooms(ctx, tx, res.ID, res.SelectedRooms); err != nil {
		return err
	}
	for i := range res.Revisions {
		if err := insertRevision(ctx, tx, res.ID, &res.Revisions[i]); err != nil {
			return err
		}
	}
	for i := range res.ReviewHistory {
		if err := insertReviewEntry(ctx, tx, res.ID, i+1, &res.ReviewHistory[i]); err != nil {
			return err
		}
	}
	if err := insertConflicts(ctx, tx, res.ID, res.ConflictDetails); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Get loads a reservation with all of its child rows.  It returns
// ErrNotFound when the ID is unknown.
func (r *ReservationRepo) Get(ctx context.Context, id string) (*model.Reservation, error) {
	var row reservationRow
	q := r.db.Rebind(`SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`)
	if err := sqlx.GetContext(ctx, r.db, &row, q, id); err != nil {
		return nil, notFound(err)
	}
	res := row.toModel()
	list := []*model.Reservation{res}
	if err := loadRooms(ctx, r.db, list); err != nil {
		return nil, err
	}
	if err := loadRevisions(ctx, r.db, res); err != nil {
		return nil, err
	}
	if err := loadReviewHistory(ctx, r.db, res); err != nil {
		return nil, err
	}
	if err := loadConflicts(ctx, r.db, res); err != nil {
		return nil, err
	}
	return res, nil
}

// List returns reservations matching f ordered by start time then ID.
// Only the room sets are loaded; use Get for the histories.
func (r *ReservationRepo) List(ctx context.Context, f ListFilter) ([]model.Reservation, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.RequestedBy != "" {
		conds = append(conds, "requested_by = ?")
		args = append(args, f.RequestedBy)
	}
	if !f.From.IsZero() {
		conds = append(conds, "effective_end_ms > ?")
		args = append(args, toMs(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "effective_start_ms < ?")
		args = append(args, toMs(f.To))
	}
	if f.RoomID != "" {
		conds = append(conds, "id IN (SELECT reservation_id FROM reservation_rooms WHERE room_id = ?)")
		args = append(args, f.RoomID)
	}
	q := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY start_ms, id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}
	return r.selectWithRooms(ctx, r.db.Rebind(q), args...)
}

// ListActiveInWindow is the conflict-detection prefilter.  It compares the
// stored effective window columns and joins on reservation_rooms; the
// caller makes the final overlap decision.
func (r *ReservationRepo) ListActiveInWindow(ctx context.Context, wq WindowQuery) ([]model.Reservation, error) {
	if len(wq.Rooms) == 0 || len(wq.Statuses) == 0 {
		return nil, nil
	}
	statuses := make([]string, len(wq.Statuses))
	for i, s := range wq.Statuses {
		statuses[i] = string(s)
	}
	q, args, err := sqlx.In(`SELECT `+reservationColumns+` FROM reservations
		WHERE status IN (?)
		  AND effective_start_ms < ?
		  AND effective_end_ms > ?
		  AND id <> ?
		  AND id IN (SELECT reservation_id FROM reservation_rooms WHERE room_id IN (?))
		ORDER BY effective_start_ms, id`,
		statuses, toMs(wq.To), toMs(wq.From), wq.ExcludeID, wq.Rooms)
	if err != nil {
		return nil, fmt.Errorf("build window query: %w", err)
	}
	return r.selectWithRooms(ctx, r.db.Rebind(q), args...)
}

// ListExpiredReviews returns reservations whose review hold expired
// strictly before now.  Child rows are not loaded.
func (r *ReservationRepo) ListExpiredReviews(ctx context.Context, now time.Time) ([]model.Reservation, error) {
	var rows []reservationRow
	q := r.db.Rebind(`SELECT ` + reservationColumns + ` FROM reservations
		WHERE review_status = ? AND review_expires_ms < ? ORDER BY review_expires_ms, id`)
	if err := sqlx.SelectContext(ctx, r.db, &rows, q, string(model.ReviewReviewing), toMs(now)); err != nil {
		return nil, fmt.Errorf("select expired reviews: %w", err)
	}
	out := make([]model.Reservation, len(rows))
	for i := range rows {
		out[i] = *rows[i].toModel()
	}
	return out, nil
}

// Update writes res conditionally as described by w.  It returns false when
// the guards matched no row (stale change key or a concurrent review-state
// change), in which case nothing was written.
func (r *ReservationRepo) Update(ctx context.Context, res *model.Reservation, w Write) (bool, error) {
	row := toRow(res)
	sets := []string{
		"title = ?", "description = ?", "attendee_count = ?", "department = ?", "contact_email = ?",
		"start_ms = ?", "end_ms = ?", "setup_minutes = ?", "teardown_minutes = ?",
		"effective_start_ms = ?", "effective_end_ms = ?",
		"status = ?", "previous_status = ?", "rejection_reason = ?", "calendar_event_id = ?",
		"change_key = ?", "last_modified_ms = ?", "last_modified_by = ?",
	}
	args := []interface{}{
		row.Title, row.Description, row.AttendeeCount, row.Department, row.ContactEmail,
		row.StartMs, row.EndMs, row.SetupMinutes, row.TeardownMinutes,
		row.EffectiveStartMs, row.EffectiveEndMs,
		row.Status, row.PreviousStatus, row.RejectionReason, row.CalendarEventID,
		row.ChangeKey, row.LastModifiedMs, row.LastModifiedBy,
	}
	if w.ReviewGuard != nil {
		sets = append(sets, "review_status = ?", "reviewing_by = ?", "review_started_ms = ?", "review_expires_ms = ?")
		args = append(args, row.ReviewStatus, row.ReviewingBy, row.ReviewStartedMs, row.ReviewExpiresMs)
	}
	where := "id = ? AND change_key = ?"
	args = append(args, res.ID, w.ExpectedChangeKey)
	if w.ReviewGuard != nil {
		cond, gargs := reviewGuard(*w.ReviewGuard)
		where += " AND " + cond
		args = append(args, gargs...)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	q := tx.Rebind("UPDATE reservations SET " + strings.Join(sets, ", ") + " WHERE " + where)
	result, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("update reservation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM reservation_rooms WHERE reservation_id = ?`), res.ID); err != nil {
		return false, fmt.Errorf("clear rooms: %w", err)
	}
	if err := insertRooms(ctx, tx, res.ID, res.SelectedRooms); err != nil {
		return false, err
	}
	if w.Revision != nil {
		if err := insertRevision(ctx, tx, res.ID, w.Revision); err != nil {
			return false, err
		}
	}
	if w.ReviewEntry != nil {
		if err := appendReviewEntry(ctx, tx, res.ID, w.ReviewEntry); err != nil {
			return false, err
		}
	}
	if w.ReplaceConflicts {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM reservation_conflicts WHERE reservation_id = ?`), res.ID); err != nil {
			return false, fmt.Errorf("clear conflicts: %w", err)
		}
		if err := insertConflicts(ctx, tx, res.ID, res.ConflictDetails); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return true, nil
}

// UpdateReviewState writes the review columns to next, and appends entry to
// the review history, only while the columns still equal expected.
func (r *ReservationRepo) UpdateReviewState(ctx context.Context, id string, expected, next model.ReviewState, entry *model.ReviewHistoryEntry) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	cond, gargs := reviewGuard(expected)
	args := []interface{}{string(next.Status), nullString(next.HeldBy), nullMs(next.StartedAt), nullMs(next.ExpiresAt), id}
	args = append(args, gargs...)
	q := tx.Rebind(`UPDATE reservations
		SET review_status = ?, reviewing_by = ?, review_started_ms = ?, review_expires_ms = ?
		WHERE id = ? AND ` + cond)
	result, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("update review state: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if entry != nil {
		if err := appendReviewEntry(ctx, tx, id, entry); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return true, nil
}

// SetCalendarEventID records the external event materialized for a
// reservation.  It does not touch the change key.
func (r *ReservationRepo) SetCalendarEventID(ctx context.Context, id, eventID string) error {
	q := r.db.Rebind(`UPDATE reservations SET calendar_event_id = ? WHERE id = ?`)
	result, err := r.db.ExecContext(ctx, q, eventID, id)
	if err != nil {
		return fmt.Errorf("set calendar event: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ReservationRepo) selectWithRooms(ctx context.Context, q string, args ...interface{}) ([]model.Reservation, error) {
	var rows []reservationRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select reservations: %w", err)
	}
	ptrs := make([]*model.Reservation, len(rows))
	for i := range rows {
		ptrs[i] = rows[i].toModel()
	}
	if err := loadRooms(ctx, r.db, ptrs); err != nil {
		return nil, err
	}
	out := make([]model.Reservation, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
	}
	return out, nil
}

// reviewGuard renders an equality predicate over the review columns.  NULL
// never compares equal with "=", so absent values use IS NULL.
func reviewGuard(s model.ReviewState) (string, []interface{}) {
	conds := []string{"review_status = ?"}
	args := []interface{}{string(s.Status)}
	if s.HeldBy == nil {
		conds = append(conds, "reviewing_by IS NULL")
	} else {
		conds = append(conds, "reviewing_by = ?")
		args = append(args, *s.HeldBy)
	}
	if s.StartedAt == nil {
		conds = append(conds, "review_started_ms IS NULL")
	} else {
		conds = append(conds, "review_started_ms = ?")
		args = append(args, toMs(*s.StartedAt))
	}
	if s.ExpiresAt == nil {
		conds = append(conds, "review_expires_ms IS NULL")
	} else {
		conds = append(conds, "review_expires_ms = ?")
		args = append(args, toMs(*s.ExpiresAt))
	}
	return strings.Join(conds, " AND "), args
}

func toRow(res *model.Reservation) reservationRow {
	from, to := res.EffectiveWindow()
	return reservationRow{
		ID:               res.ID,
		Title:            res.Title,
		Description:      res.Description,
		AttendeeCount:    res.AttendeeCount,
		RequestedBy:      res.RequestedBy,
		Department:       res.Department,
		ContactEmail:     res.ContactEmail,
		StartMs:          toMs(res.StartDateTime),
		EndMs:            toMs(res.EndDateTime),
		SetupMinutes:     res.SetupTimeMinutes,
		TeardownMinutes:  res.TeardownTimeMinutes,
		EffectiveStartMs: toMs(from),
		EffectiveEndMs:   toMs(to),
		Status:           string(res.Status),
		PreviousStatus:   string(res.PreviousStatus),
		RejectionReason:  res.RejectionReason,
		CalendarEventID:  res.CalendarEventID,
		ChangeKey:        res.ChangeKey,
		LastModifiedMs:   toMs(res.LastModified),
		LastModifiedBy:   res.LastModifiedBy,
		ReviewStatus:     string(res.ReviewStatus),
		ReviewingBy:      nullString(res.ReviewingBy),
		ReviewStartedMs:  nullMs(res.ReviewStartedAt),
		ReviewExpiresMs:  nullMs(res.ReviewExpiresAt),
		CreatedMs:        toMs(res.CreatedAt),
	}
}

func (row *reservationRow) toModel() *model.Reservation {
	res := &model.Reservation{
		ID:                  row.ID,
		Title:               row.Title,
		Description:         row.Description,
		AttendeeCount:       row.AttendeeCount,
		RequestedBy:         row.RequestedBy,
		Department:          row.Department,
		ContactEmail:        row.ContactEmail,
		StartDateTime:       fromMs(row.StartMs),
		EndDateTime:         fromMs(row.EndMs),
		SetupTimeMinutes:    row.SetupMinutes,
		TeardownTimeMinutes: row.TeardownMinutes,
		Status:              model.Status(row.Status),
		PreviousStatus:      model.Status(row.PreviousStatus),
		RejectionReason:     row.RejectionReason,
		CalendarEventID:     row.CalendarEventID,
		ChangeKey:           row.ChangeKey,
		LastModified:        fromMs(row.LastModifiedMs),
		LastModifiedBy:      row.LastModifiedBy,
		ReviewStatus:        model.ReviewStatus(row.ReviewStatus),
		CreatedAt:           fromMs(row.CreatedMs),
	}
	if row.ReviewingBy.Valid {
		res.ReviewingBy = model.StringPtr(row.ReviewingBy.String)
	}
	if row.ReviewStartedMs.Valid {
		res.ReviewStartedAt = model.TimePtr(fromMs(row.ReviewStartedMs.Int64))
	}
	if row.ReviewExpiresMs.Valid {
		res.ReviewExpiresAt = model.TimePtr(fromMs(row.ReviewExpiresMs.Int64))
	}
	return res
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullMs(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMs(*t), Valid: true}
}
