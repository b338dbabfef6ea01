package model

import "time"

// Roles carried in the access token's role claim.  Admins review, approve
// and reject reservations and may force-release another admin's hold;
// requesters submit and edit their own reservations.
const (
	RoleAdmin     = "ADMIN"
	RoleRequester = "REQUESTER"
)

// User is a row of `users`.  Email doubles as the actor identity written
// into lastModifiedBy, reviewingBy and the review history.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email, stored lower-case
	PasswordHash string    // users.password_hash (bcrypt)
	Role         string    // users.role: RoleAdmin or RoleRequester
	IsActive     bool      // users.is_active; inactive users cannot log in
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// RefreshToken is a row of `refresh_tokens`.  Only the SHA-256 of the raw
// token is kept.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at, nil while usable
	CreatedAt time.Time  // refresh_tokens.created_at
}
