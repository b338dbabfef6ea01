package middleware

// identity.go exposes the authenticated caller to handlers. JWTAuth stores
// the claims under the context keys below; Actor is the identity recorded
// on reservations (review holder, last modifier, approver).

import (
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	CtxUserID = "user_id"
	CtxRole   = "role"
	CtxActor  = "actor"
)

// Actor returns the caller's identity: the e-mail claim when the token has
// one, else the subject.  It returns "" for unauthenticated requests.
func Actor(c echo.Context) string {
	if v, ok := c.Get(CtxActor).(string); ok {
		return v
	}
	return ""
}

// Role returns the caller's role claim.
func Role(c echo.Context) string {
	if v, ok := c.Get(CtxRole).(string); ok {
		return v
	}
	return ""
}

// userID returns the subject claim, or "guest" when no user is
// authenticated.
func userID(c echo.Context) string {
	if v, ok := c.Get(CtxUserID).(string); ok && v != "" {
		return v
	}
	return "guest"
}
