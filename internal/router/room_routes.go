package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/room-reservation/internal/handler"
	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/model"
)

// RegisterRooms registers the room catalogue reads.  The list and detail
// routes are public and wrapped by cache; /v1/rooms/availability is
// registered with the reservation routes because it reads reservations
// and must never be cached.
func RegisterRooms(e *echo.Echo, h *handler.RoomHandler, jwtSecret string, cache echo.MiddlewareFunc) {
	var mws []echo.MiddlewareFunc
	if cache != nil {
		mws = append(mws, cache)
	}
	e.GET("/v1/rooms", h.List, mws...)
	e.GET("/v1/rooms/:id", h.Get, mws...)

	// live calendar view of the room mailbox
	e.GET("/v1/rooms/:id/events", h.Events,
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin, model.RoleRequester),
	)
}
