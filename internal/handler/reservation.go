package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/room-reservation/internal/changekey"
	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/repository"
	"github.com/iliyamo/room-reservation/internal/reservation"
)

// ReservationHandler serves the requester-facing reservation endpoints.
// Every write needs the change key the caller last saw, sent in If-Match
// (or as "changeKey" in the body); the current key comes back in ETag.
type ReservationHandler struct {
	Svc *reservation.Service
	Log *logrus.Entry
}

// NewReservationHandler panics if svc is nil.
func NewReservationHandler(svc *reservation.Service, log *logrus.Entry) *ReservationHandler {
	if svc == nil {
		panic("nil service passed to NewReservationHandler")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ReservationHandler{Svc: svc, Log: log}
}

const maxListLimit = 200

// Create handles POST /v1/reservations.
func (h *ReservationHandler) Create(c echo.Context) error {
	var req createReservationReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	r, err := h.Svc.Create(c.Request().Context(), middleware.Actor(c), req.input())
	if err != nil {
		return writeError(c, h.Log, err)
	}
	c.Response().Header().Set(headerETag, changekey.ETag(r.ChangeKey))
	c.Response().Header().Set(echo.HeaderLocation, "/v1/reservations/"+r.ID)
	return c.JSON(http.StatusCreated, toReservationJSON(r, true))
}

// Get handles GET /v1/reservations/:id.  A matching If-None-Match yields
// 304 so pollers can cheaply check for changes.
func (h *ReservationHandler) Get(c echo.Context) error {
	r, err := h.Svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	etag := changekey.ETag(r.ChangeKey)
	c.Response().Header().Set(headerETag, etag)
	if inm := c.Request().Header.Get(headerIfNoneMatch); inm != "" && changekey.Validate(r, inm) {
		return c.NoContent(http.StatusNotModified)
	}
	return c.JSON(http.StatusOK, toReservationJSON(r, true))
}

// List handles GET /v1/reservations.  Requesters only see their own
// reservations; admins may filter by requestedBy.
func (h *ReservationHandler) List(c echo.Context) error {
	f := repository.ListFilter{
		Status:      model.Status(strings.ToLower(c.QueryParam("status"))),
		RoomID:      c.QueryParam("roomId"),
		RequestedBy: c.QueryParam("requestedBy"),
		Limit:       50,
	}
	if f.Status != "" && !f.Status.Valid() {
		return badRequest(c, "unknown status")
	}
	if middleware.Role(c) != model.RoleAdmin {
		f.RequestedBy = middleware.Actor(c)
	}
	var err error
	if f.From, err = optionalTime(c.QueryParam("from")); err != nil {
		return badRequest(c, "from must be RFC3339")
	}
	if f.To, err = optionalTime(c.QueryParam("to")); err != nil {
		return badRequest(c, "to must be RFC3339")
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		f.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return badRequest(c, "offset must be a non-negative integer")
		}
		f.Offset = n
	}

	list, err := h.Svc.List(c.Request().Context(), f)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	items := make([]reservationJSON, 0, len(list))
	for i := range list {
		items = append(items, toReservationJSON(&list[i], false))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "limit": f.Limit, "offset": f.Offset})
}

// Update handles PATCH /v1/reservations/:id.
func (h *ReservationHandler) Update(c echo.Context) error {
	var req patchReservationReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	token, ok := changeKeyFrom(c, req.ChangeKey)
	if !ok {
		return preconditionRequired(c)
	}
	r, err := h.Svc.Update(c.Request().Context(), c.Param("id"), token, middleware.Actor(c), req.patch())
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return respondMutation(c, r, nil)
}

// RequestEdit handles POST /v1/reservations/:id/request-edit.
func (h *ReservationHandler) RequestEdit(c echo.Context) error {
	var req patchReservationReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	token, ok := changeKeyFrom(c, req.ChangeKey)
	if !ok {
		return preconditionRequired(c)
	}
	r, err := h.Svc.RequestEdit(c.Request().Context(), c.Param("id"), token, middleware.Actor(c), req.patch())
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return respondMutation(c, r, nil)
}

// Cancel handles POST /v1/reservations/:id/cancel.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	return h.transition(c, h.Svc.Cancel)
}

// Delete handles DELETE /v1/reservations/:id (soft delete).
func (h *ReservationHandler) Delete(c echo.Context) error {
	return h.transition(c, h.Svc.Delete)
}

// Restore handles POST /v1/reservations/:id/restore.
func (h *ReservationHandler) Restore(c echo.Context) error {
	return h.transition(c, h.Svc.Restore)
}

// Resubmit handles POST /v1/reservations/:id/resubmit.
func (h *ReservationHandler) Resubmit(c echo.Context) error {
	var req tokenReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	token, ok := changeKeyFrom(c, req.ChangeKey)
	if !ok {
		return preconditionRequired(c)
	}
	r, err := h.Svc.Resubmit(c.Request().Context(), c.Param("id"), token, middleware.Actor(c))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return respondMutation(c, r, nil)
}

// Conflicts handles GET /v1/reservations/:id/conflicts.
func (h *ReservationHandler) Conflicts(c echo.Context) error {
	list, err := h.Svc.Conflicts(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"conflicts": toConflicts(list), "hasConflicts": len(list) > 0})
}

// Availability handles GET /v1/rooms/availability?rooms=a,b&start=&end=.
func (h *ReservationHandler) Availability(c echo.Context) error {
	rooms := splitList(c.QueryParam("rooms"))
	start, err := time.Parse(time.RFC3339, c.QueryParam("start"))
	if err != nil {
		return badRequest(c, "start must be RFC3339")
	}
	end, err := time.Parse(time.RFC3339, c.QueryParam("end"))
	if err != nil {
		return badRequest(c, "end must be RFC3339")
	}
	setup, err := optionalInt(c.QueryParam("setupTimeMinutes"))
	if err != nil {
		return badRequest(c, "setupTimeMinutes must be an integer")
	}
	teardown, err := optionalInt(c.QueryParam("teardownTimeMinutes"))
	if err != nil {
		return badRequest(c, "teardownTimeMinutes must be an integer")
	}
	list, err := h.Svc.CheckAvailability(c.Request().Context(), rooms, start, end, setup, teardown)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"available": len(list) == 0, "conflicts": toConflicts(list)})
}

type transitionFunc func(ctx context.Context, id, token, actor string) (*reservation.Result, error)

func (h *ReservationHandler) transition(c echo.Context, fn transitionFunc) error {
	var req tokenReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	token, ok := changeKeyFrom(c, req.ChangeKey)
	if !ok {
		return preconditionRequired(c)
	}
	res, err := fn(c.Request().Context(), c.Param("id"), token, middleware.Actor(c))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return respondMutation(c, res.Reservation, res.Warnings)
}

func respondMutation(c echo.Context, r *model.Reservation, warnings []string) error {
	c.Response().Header().Set(headerETag, changekey.ETag(r.ChangeKey))
	return c.JSON(http.StatusOK, mutationResp{reservationJSON: toReservationJSON(r, true), Warnings: warnings})
}

// changeKeyFrom prefers the If-Match header and falls back to the body.
func changeKeyFrom(c echo.Context, body string) (string, bool) {
	if v := strings.TrimSpace(c.Request().Header.Get(headerIfMatch)); v != "" {
		return v, true
	}
	if v := strings.TrimSpace(body); v != "" {
		return v, true
	}
	return "", false
}

func preconditionRequired(c echo.Context) error {
	return c.JSON(http.StatusPreconditionRequired, echo.Map{
		"error":   "PreconditionRequired",
		"message": "send the reservation's changeKey in If-Match",
	})
}

func optionalTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func optionalInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
