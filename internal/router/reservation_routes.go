package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/room-reservation/internal/handler"
	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/model"
)

// RegisterReservations registers the reservation endpoints under /v1.
// Any authenticated user may submit and manage reservations; limiter is
// applied after authentication so buckets can be keyed by caller.
func RegisterReservations(e *echo.Echo, h *handler.ReservationHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	mws := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin, model.RoleRequester),
	}
	if limiter != nil {
		mws = append(mws, limiter)
	}
	g := e.Group("/v1", mws...)

	g.POST("/reservations", h.Create)
	g.GET("/reservations", h.List)
	g.GET("/reservations/:id", h.Get)
	g.PATCH("/reservations/:id", h.Update)
	g.DELETE("/reservations/:id", h.Delete)

	// ---- Workflow ----
	g.POST("/reservations/:id/cancel", h.Cancel)
	g.POST("/reservations/:id/restore", h.Restore)
	g.POST("/reservations/:id/resubmit", h.Resubmit)
	g.POST("/reservations/:id/request-edit", h.RequestEdit)

	// ---- Scheduling previews ----
	g.GET("/reservations/:id/conflicts", h.Conflicts)
	g.GET("/rooms/availability", h.Availability)
}
