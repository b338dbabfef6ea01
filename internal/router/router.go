package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/room-reservation/internal/handler"
	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/model"
)

// RegisterRoutes registers the unauthenticated operational endpoints:
// liveness at /healthz and database readiness at /readyz.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health)
	if db != nil {
		e.GET("/readyz", handler.Ready(db))
	}
}

// RegisterAuth registers the authentication routes.  Register, login,
// refresh and logout live under /v1/auth and need no session; /v1/me
// requires a valid access token of either role.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// rotates the refresh token
	g.POST("/refresh", a.Refresh)
	// issues a new access token and keeps the refresh token
	g.POST("/refresh-access", a.RefreshAccess)
	// logout takes a refresh token in the body or a bearer token; no JWT middleware
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin, model.RoleRequester),
	)
	auth.GET("/me", a.Me)

	e.POST("/v1/logout", a.Logout)
}

// RegisterCalendar mounts the calendar webhook.  The endpoint is called by
// the calendar service, not by users, so it carries no JWT; notifications
// are authenticated by their client state.
func RegisterCalendar(e *echo.Echo, h *handler.CalendarHandler) {
	e.POST("/v1/calendar/notifications", h.Notifications)
}
