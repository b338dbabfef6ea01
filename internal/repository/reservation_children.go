package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/room-reservation/internal/model"
)

type roomLink struct {
	ReservationID string `db:"reservation_id"`
	RoomID        string `db:"room_id"`
}

type revisionRow struct {
	RevisionNumber int    `db:"revision_number"`
	ChangeKey      string `db:"change_key"`
	ModifiedMs     int64  `db:"modified_ms"`
	ModifiedBy     string `db:"modified_by"`
	Action         string `db:"action"`
	Changes        string `db:"changes"`
}

// fieldChangeJSON is the stored shape of one entry of revisions.changes.
type fieldChangeJSON struct {
	Field    string `json:"field"`
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
}

type reviewEntryRow struct {
	Seq         int           `db:"seq"`
	ReviewingBy string        `db:"reviewing_by"`
	StartedMs   int64         `db:"started_ms"`
	CompletedMs sql.NullInt64 `db:"completed_ms"`
	ReleasedBy  string        `db:"released_by"`
	Outcome     string        `db:"outcome"`
}

type conflictRow struct {
	ConflictingID    string `db:"conflicting_id"`
	Title            string `db:"title"`
	StartMs          int64  `db:"start_ms"`
	EndMs            int64  `db:"end_ms"`
	SetupMinutes     int    `db:"setup_minutes"`
	TeardownMinutes  int    `db:"teardown_minutes"`
	EffectiveStartMs int64  `db:"effective_start_ms"`
	EffectiveEndMs   int64  `db:"effective_end_ms"`
	Status           string `db:"status"`
	OverlappingRooms string `db:"overlapping_rooms"`
}

func insertRooms(ctx context.Context, e sqlx.ExtContext, id string, rooms []string) error {
	q := e.Rebind(`INSERT INTO reservation_rooms (reservation_id, room_id) VALUES (?, ?)`)
	for _, room := range model.NormalizeRooms(rooms) {
		if _, err := e.ExecContext(ctx, q, id, room); err != nil {
			return fmt.Errorf("insert room %s: %w", room, err)
		}
	}
	return nil
}

func insertRevision(ctx context.Context, e sqlx.ExtContext, id string, rev *model.Revision) error {
	changes := make([]fieldChangeJSON, len(rev.Changes))
	for i, c := range rev.Changes {
		changes[i] = fieldChangeJSON{Field: c.Field, OldValue: c.OldValue, NewValue: c.NewValue}
	}
	raw, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("encode revision changes: %w", err)
	}
	q := e.Rebind(`INSERT INTO reservation_revisions
		(reservation_id, revision_number, change_key, modified_ms, modified_by, action, changes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := e.ExecContext(ctx, q, id, rev.RevisionNumber, rev.ChangeKey, toMs(rev.Timestamp),
		rev.ModifiedBy, rev.Action, string(raw)); err != nil {
		return fmt.Errorf("insert revision %d: %w", rev.RevisionNumber, err)
	}
	return nil
}

func insertReviewEntry(ctx context.Context, e sqlx.ExtContext, id string, seq int, h *model.ReviewHistoryEntry) error {
	q := e.Rebind(`INSERT INTO reservation_review_history
		(reservation_id, seq, reviewing_by, started_ms, completed_ms, released_by, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := e.ExecContext(ctx, q, id, seq, h.ReviewingBy, toMs(h.StartedAt), nullMs(h.CompletedAt),
		h.ReleasedBy, h.Outcome); err != nil {
		return fmt.Errorf("insert review entry: %w", err)
	}
	return nil
}

// appendReviewEntry adds h after the last stored entry.  Callers hold the
// reservation row through a guarded UPDATE in the same transaction.
func appendReviewEntry(ctx context.Context, e sqlx.ExtContext, id string, h *model.ReviewHistoryEntry) error {
	var last sql.NullInt64
	q := e.Rebind(`SELECT MAX(seq) FROM reservation_review_history WHERE reservation_id = ?`)
	if err := sqlx.GetContext(ctx, e, &last, q, id); err != nil {
		return fmt.Errorf("next review seq: %w", err)
	}
	return insertReviewEntry(ctx, e, id, int(last.Int64)+1, h)
}

func insertConflicts(ctx context.Context, e sqlx.ExtContext, id string, conflicts []model.ConflictDetail) error {
	q := e.Rebind(`INSERT INTO reservation_conflicts
		(reservation_id, conflicting_id, title, start_ms, end_ms, setup_minutes, teardown_minutes,
		effective_start_ms, effective_end_ms, status, overlapping_rooms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, c := range conflicts {
		if _, err := e.ExecContext(ctx, q, id, c.ReservationID, c.Title, toMs(c.StartDateTime), toMs(c.EndDateTime),
			c.SetupTimeMinutes, c.TeardownTimeMinutes, toMs(c.EffectiveStart), toMs(c.EffectiveEnd),
			string(c.Status), strings.Join(c.OverlappingRooms, ",")); err != nil {
			return fmt.Errorf("insert conflict %s: %w", c.ReservationID, err)
		}
	}
	return nil
}

// loadRooms fills SelectedRooms for every reservation in one query.
func loadRooms(ctx context.Context, e sqlx.ExtContext, list []*model.Reservation) error {
	if len(list) == 0 {
		return nil
	}
	byID := make(map[string]*model.Reservation, len(list))
	ids := make([]string, 0, len(list))
	for _, r := range list {
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}
	q, args, err := sqlx.In(`SELECT reservation_id, room_id FROM reservation_rooms
		WHERE reservation_id IN (?) ORDER BY reservation_id, room_id`, ids)
	if err != nil {
		return fmt.Errorf("build rooms query: %w", err)
	}
	var links []roomLink
	if err := sqlx.SelectContext(ctx, e, &links, e.Rebind(q), args...); err != nil {
		return fmt.Errorf("select rooms: %w", err)
	}
	for _, l := range links {
		if r, ok := byID[l.ReservationID]; ok {
			r.SelectedRooms = append(r.SelectedRooms, l.RoomID)
		}
	}
	return nil
}

func loadRevisions(ctx context.Context, e sqlx.ExtContext, res *model.Reservation) error {
	var rows []revisionRow
	q := e.Rebind(`SELECT revision_number, change_key, modified_ms, modified_by, action, changes
		FROM reservation_revisions WHERE reservation_id = ? ORDER BY revision_number`)
	if err := sqlx.SelectContext(ctx, e, &rows, q, res.ID); err != nil {
		return fmt.Errorf("select revisions: %w", err)
	}
	res.Revisions = make([]model.Revision, 0, len(rows))
	for _, row := range rows {
		var stored []fieldChangeJSON
		if row.Changes != "" {
			if err := json.Unmarshal([]byte(row.Changes), &stored); err != nil {
				return fmt.Errorf("decode revision %d: %w", row.RevisionNumber, err)
			}
		}
		changes := make([]model.FieldChange, len(stored))
		for i, c := range stored {
			changes[i] = model.FieldChange{Field: c.Field, OldValue: c.OldValue, NewValue: c.NewValue}
		}
		res.Revisions = append(res.Revisions, model.Revision{
			RevisionNumber: row.RevisionNumber,
			ChangeKey:      row.ChangeKey,
			Timestamp:      fromMs(row.ModifiedMs),
			ModifiedBy:     row.ModifiedBy,
			Action:         row.Action,
			Changes:        changes,
		})
	}
	return nil
}

func loadReviewHistory(ctx context.Context, e sqlx.ExtContext, res *model.Reservation) error {
	var rows []reviewEntryRow
	q := e.Rebind(`SELECT seq, reviewing_by, started_ms, completed_ms, released_by, outcome
		FROM reservation_review_history WHERE reservation_id = ? ORDER BY seq`)
	if err := sqlx.SelectContext(ctx, e, &rows, q, res.ID); err != nil {
		return fmt.Errorf("select review history: %w", err)
	}
	res.ReviewHistory = make([]model.ReviewHistoryEntry, 0, len(rows))
	for _, row := range rows {
		h := model.ReviewHistoryEntry{
			ReviewingBy: row.ReviewingBy,
			StartedAt:   fromMs(row.StartedMs),
			ReleasedBy:  row.ReleasedBy,
			Outcome:     row.Outcome,
		}
		if row.CompletedMs.Valid {
			h.CompletedAt = model.TimePtr(fromMs(row.CompletedMs.Int64))
		}
		res.ReviewHistory = append(res.ReviewHistory, h)
	}
	return nil
}

func loadConflicts(ctx context.Context, e sqlx.ExtContext, res *model.Reservation) error {
	var rows []conflictRow
	q := e.Rebind(`SELECT conflicting_id, title, start_ms, end_ms, setup_minutes, teardown_minutes,
		effective_start_ms, effective_end_ms, status, overlapping_rooms
		FROM reservation_conflicts WHERE reservation_id = ? ORDER BY effective_start_ms, conflicting_id`)
	if err := sqlx.SelectContext(ctx, e, &rows, q, res.ID); err != nil {
		return fmt.Errorf("select conflicts: %w", err)
	}
	res.ConflictDetails = make([]model.ConflictDetail, 0, len(rows))
	for _, row := range rows {
		var rooms []string
		if row.OverlappingRooms != "" {
			rooms = strings.Split(row.OverlappingRooms, ",")
		}
		res.ConflictDetails = append(res.ConflictDetails, model.ConflictDetail{
			ReservationID:       row.ConflictingID,
			Title:               row.Title,
			StartDateTime:       fromMs(row.StartMs),
			EndDateTime:         fromMs(row.EndMs),
			SetupTimeMinutes:    row.SetupMinutes,
			TeardownTimeMinutes: row.TeardownMinutes,
			EffectiveStart:      fromMs(row.EffectiveStartMs),
			EffectiveEnd:        fromMs(row.EffectiveEndMs),
			Status:              model.Status(row.Status),
			OverlappingRooms:    rooms,
		})
	}
	return nil
}
