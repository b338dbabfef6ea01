package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/room-reservation/internal/calendar"
	"github.com/iliyamo/room-reservation/internal/config"
	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/repository"
)

// RoomStore is the room catalogue used by RoomHandler.
type RoomStore interface {
	List(ctx context.Context, activeOnly bool) ([]model.Room, error)
	Get(ctx context.Context, id string) (model.Room, error)
	Create(ctx context.Context, room *model.Room) error
	Update(ctx context.Context, room *model.Room) error
}

// EventLister reads a mailbox's calendar.  *calendar.Client satisfies it.
type EventLister interface {
	ListEvents(ctx context.Context, mailbox string, from, to time.Time) ([]calendar.Event, error)
}

// RoomHandler serves the room catalogue.  Reads are public and may be
// served from the response cache; writes are admin-only and drop the cache.
type RoomHandler struct {
	Rooms    RoomStore
	Calendar EventLister // nil when the calendar integration is disabled
	Cache    config.CacheConfig
	Redis    *redis.Client
	Log      *logrus.Entry
}

type roomReq struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Capacity *int   `json:"capacity"`
	Location string `json:"location"`
	Mailbox  string `json:"mailbox"`
	Active   *bool  `json:"active"`
}

type roomJSON struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Capacity  int       `json:"capacity"`
	Location  string    `json:"location,omitempty"`
	Mailbox   string    `json:"mailbox,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type calendarEventJSON struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

func toRoomJSON(r model.Room) roomJSON { return roomJSON(r) }

// List handles GET /v1/rooms.  Inactive rooms are hidden unless
// ?all=true is passed.
func (h *RoomHandler) List(c echo.Context) error {
	all, _ := strconv.ParseBool(c.QueryParam("all"))
	rooms, err := h.Rooms.List(c.Request().Context(), !all)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	out := make([]roomJSON, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, toRoomJSON(r))
	}
	return c.JSON(http.StatusOK, out)
}

// Get handles GET /v1/rooms/:id.
func (h *RoomHandler) Get(c echo.Context) error {
	room, err := h.Rooms.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "NotFound", "message": "room not found"})
		}
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toRoomJSON(room))
}

// Create handles POST /v1/admin/rooms.
func (h *RoomHandler) Create(c echo.Context) error {
	var req roomReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	if req.ID == "" || req.Name == "" {
		return badRequest(c, "id and name are required")
	}
	room := model.Room{
		ID:       req.ID,
		Name:     req.Name,
		Location: strings.TrimSpace(req.Location),
		Mailbox:  strings.TrimSpace(req.Mailbox),
		Active:   true,
	}
	if req.Capacity != nil {
		if *req.Capacity < 0 {
			return badRequest(c, "capacity must not be negative")
		}
		room.Capacity = *req.Capacity
	}
	if req.Active != nil {
		room.Active = *req.Active
	}
	if err := h.Rooms.Create(c.Request().Context(), &room); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "Conflict", "message": "room id already exists"})
		}
		return writeError(c, h.Log, err)
	}
	h.invalidate(c)
	return c.JSON(http.StatusCreated, toRoomJSON(room))
}

// Update handles PUT/PATCH /v1/admin/rooms/:id.  Omitted fields keep
// their stored values.
func (h *RoomHandler) Update(c echo.Context) error {
	var req roomReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx := c.Request().Context()
	room, err := h.Rooms.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "NotFound", "message": "room not found"})
		}
		return writeError(c, h.Log, err)
	}
	if v := strings.TrimSpace(req.Name); v != "" {
		room.Name = v
	}
	if req.Capacity != nil {
		if *req.Capacity < 0 {
			return badRequest(c, "capacity must not be negative")
		}
		room.Capacity = *req.Capacity
	}
	if req.Location != "" {
		room.Location = strings.TrimSpace(req.Location)
	}
	if req.Mailbox != "" {
		room.Mailbox = strings.TrimSpace(req.Mailbox)
	}
	if req.Active != nil {
		room.Active = *req.Active
	}
	if err := h.Rooms.Update(ctx, &room); err != nil {
		return writeError(c, h.Log, err)
	}
	h.invalidate(c)
	return c.JSON(http.StatusOK, toRoomJSON(room))
}

// Events handles GET /v1/rooms/:id/events?from=&to= by reading the room
// mailbox's calendar.  The window defaults to the next 24 hours.
func (h *RoomHandler) Events(c echo.Context) error {
	if h.Calendar == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "ExternalServiceError", "message": "calendar integration is disabled"})
	}
	ctx := c.Request().Context()
	room, err := h.Rooms.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "NotFound", "message": "room not found"})
		}
		return writeError(c, h.Log, err)
	}
	if room.Mailbox == "" {
		return badRequest(c, "room has no calendar mailbox")
	}
	from, err := optionalTime(c.QueryParam("from"))
	if err != nil {
		return badRequest(c, "from must be RFC3339")
	}
	if from.IsZero() {
		from = time.Now().UTC()
	}
	to, err := optionalTime(c.QueryParam("to"))
	if err != nil {
		return badRequest(c, "to must be RFC3339")
	}
	if to.IsZero() {
		to = from.Add(24 * time.Hour)
	}
	if !to.After(from) {
		return badRequest(c, "to must be after from")
	}
	events, err := h.Calendar.ListEvents(ctx, room.Mailbox, from, to)
	if err != nil {
		h.Log.WithError(err).WithField("room_id", room.ID).Warn("calendar read failed")
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "ExternalServiceError", "message": "calendar read failed"})
	}
	out := make([]calendarEventJSON, 0, len(events))
	for _, e := range events {
		out = append(out, calendarEventJSON{ID: e.ID, Subject: e.Subject, Start: e.Start, End: e.End})
	}
	return c.JSON(http.StatusOK, echo.Map{"roomId": room.ID, "events": out})
}

func (h *RoomHandler) invalidate(c echo.Context) {
	if err := middleware.InvalidateCache(c.Request().Context(), h.Cache, h.Redis); err != nil && h.Log != nil {
		h.Log.WithError(err).Warn("room cache invalidation failed")
	}
}
