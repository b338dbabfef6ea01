package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/room-reservation/internal/model"
)

// TokenRepo stores refresh tokens by SHA-256 hash.  A token is spent by a
// conditional UPDATE on revoked_at, so two concurrent refreshes with the
// same token cannot both succeed.
type TokenRepo struct{ DB *sqlx.DB }

func NewTokenRepo(db *sqlx.DB) *TokenRepo { return &TokenRepo{DB: db} }

type tokenRow struct {
	ID        uint64       `db:"id"`
	UserID    uint64       `db:"user_id"`
	TokenHash string       `db:"token_hash"`
	ExpiresAt time.Time    `db:"expires_at"`
	RevokedAt sql.NullTime `db:"revoked_at"`
	CreatedAt time.Time    `db:"created_at"`
}

func (t tokenRow) model() model.RefreshToken {
	rt := model.RefreshToken{ID: t.ID, UserID: t.UserID, TokenHash: t.TokenHash, ExpiresAt: t.ExpiresAt, CreatedAt: t.CreatedAt}
	if t.RevokedAt.Valid {
		at := t.RevokedAt.Time
		rt.RevokedAt = &at
	}
	return rt
}

// StoreRefresh inserts a refresh token hash row.
func (r *TokenRepo) StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		r.DB.Rebind("INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at) VALUES (?,?,?,?)"),
		userID, tokenHash, exp.UTC(), time.Now().UTC())
	return err
}

// Lookup returns the token row for a hash, usable or not.
func (r *TokenRepo) Lookup(ctx context.Context, tokenHash string) (model.RefreshToken, error) {
	var row tokenRow
	err := sqlx.GetContext(ctx, r.DB, &row, r.DB.Rebind(
		"SELECT id, user_id, token_hash, expires_at, revoked_at, created_at FROM refresh_tokens WHERE token_hash=? LIMIT 1"),
		tokenHash)
	if err != nil {
		return model.RefreshToken{}, notFound(err)
	}
	return row.model(), nil
}

// ValidateRefresh returns the owner of a usable (unrevoked, unexpired)
// token, or ErrNotFound.
func (r *TokenRepo) ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error) {
	rt, err := r.Lookup(ctx, tokenHash)
	if err != nil {
		return 0, err
	}
	if rt.RevokedAt != nil || !time.Now().UTC().Before(rt.ExpiresAt) {
		return 0, ErrNotFound
	}
	return rt.UserID, nil
}

// Consume validates and revokes a token in one step and returns its owner.
// Of two callers racing with the same token only one gets a user id; the
// other sees ErrNotFound.
func (r *TokenRepo) Consume(ctx context.Context, tokenHash string) (uint64, error) {
	userID, err := r.ValidateRefresh(ctx, tokenHash)
	if err != nil {
		return 0, err
	}
	if err := r.RevokeByHash(ctx, tokenHash); err != nil {
		return 0, err
	}
	return userID, nil
}

// RevokeByHash marks a token as revoked.  ErrNotFound means no unrevoked
// token had that hash.
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	res, err := r.DB.ExecContext(ctx,
		r.DB.Rebind("UPDATE refresh_tokens SET revoked_at=? WHERE token_hash=? AND revoked_at IS NULL"),
		time.Now().UTC(), tokenHash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAllForUser revokes all of a user's active tokens.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		r.DB.Rebind("UPDATE refresh_tokens SET revoked_at=? WHERE user_id=? AND revoked_at IS NULL"),
		time.Now().UTC(), userID)
	return err
}
