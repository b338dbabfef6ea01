package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/reservation"
	"github.com/iliyamo/room-reservation/internal/reviewlock"
)

// ReviewHandler serves the administrator endpoints: review holds,
// approval and rejection.  Routes are mounted behind RequireRole(ADMIN).
type ReviewHandler struct {
	Svc *reservation.Service
	Log *logrus.Entry
}

func NewReviewHandler(svc *reservation.Service, log *logrus.Entry) *ReviewHandler {
	if svc == nil {
		panic("nil service passed to NewReviewHandler")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ReviewHandler{Svc: svc, Log: log}
}

// StartReview handles POST /v1/admin/reservations/:id/review.  Calling it
// again while holding the review renews the hold.
func (h *ReviewHandler) StartReview(c echo.Context) error {
	id := c.Param("id")
	g, err := h.Svc.StartReview(c.Request().Context(), id, middleware.Actor(c))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"reservationId":   id,
		"reviewingBy":     g.ReviewingBy,
		"reviewStartedAt": g.StartedAt,
		"reviewExpiresAt": g.ExpiresAt,
		"durationMinutes": int(reviewlock.HoldDuration.Minutes()),
		"renewed":         g.Renewed,
	})
}

// ReleaseReview handles DELETE /v1/admin/reservations/:id/review.  With
// ?force=true an admin may release someone else's hold.
func (h *ReviewHandler) ReleaseReview(c echo.Context) error {
	force := false
	if v := c.QueryParam("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, "force must be a boolean")
		}
		force = b
	}
	if force && middleware.Role(c) != model.RoleAdmin {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "Forbidden", "message": "only admins may force-release a review"})
	}
	id := c.Param("id")
	if err := h.Svc.ReleaseReview(c.Request().Context(), id, middleware.Actor(c), force); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reservationId": id, "released": true})
}

// Approve handles POST /v1/admin/reservations/:id/approve.  Conflicts
// fail the call with requiresOverride unless forceApprove is set.
func (h *ReviewHandler) Approve(c echo.Context) error {
	var req approveReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	force := req.ForceApprove || req.Force
	for _, name := range []string{"forceApprove", "force"} {
		v := c.QueryParam(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, name+" must be a boolean")
		}
		force = force || b
	}
	token, ok := changeKeyFrom(c, req.ChangeKey)
	if !ok {
		return preconditionRequired(c)
	}
	res, err := h.Svc.Approve(c.Request().Context(), c.Param("id"), token, middleware.Actor(c), force)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return respondMutation(c, res.Reservation, res.Warnings)
}

// Reject handles POST /v1/admin/reservations/:id/reject.
func (h *ReviewHandler) Reject(c echo.Context) error {
	var req rejectReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	token, ok := changeKeyFrom(c, req.ChangeKey)
	if !ok {
		return preconditionRequired(c)
	}
	r, err := h.Svc.Reject(c.Request().Context(), c.Param("id"), token, middleware.Actor(c), req.Reason)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return respondMutation(c, r, nil)
}
