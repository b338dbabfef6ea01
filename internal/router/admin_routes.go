package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/room-reservation/internal/handler"
	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/model"
)

// RegisterAdmin registers ADMIN-scoped endpoints under /v1/admin: the
// review workflow and room catalogue writes.
func RegisterAdmin(e *echo.Echo, rv *handler.ReviewHandler, rooms *handler.RoomHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	mws := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
	}
	if limiter != nil {
		mws = append(mws, limiter)
	}
	g := e.Group("/v1/admin", mws...)

	// ---- Review ----
	g.POST("/reservations/:id/review", rv.StartReview)
	g.DELETE("/reservations/:id/review", rv.ReleaseReview)
	g.POST("/reservations/:id/approve", rv.Approve)
	g.POST("/reservations/:id/reject", rv.Reject)

	// ---- Rooms ----
	g.POST("/rooms", rooms.Create)
	g.PUT("/rooms/:id", rooms.Update)
	g.PATCH("/rooms/:id", rooms.Update)
}
