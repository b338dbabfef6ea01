package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/room-reservation/internal/apperror"
	"github.com/iliyamo/room-reservation/internal/changekey"
	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/repository"
)

// Header names echo does not define.
const (
	headerETag        = "ETag"
	headerIfMatch     = "If-Match"
	headerIfNoneMatch = "If-None-Match"
)

type fieldChangeJSON struct {
	Field    string `json:"field"`
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
}

type conflictJSON struct {
	ReservationID       string    `json:"reservationId"`
	Title               string    `json:"title"`
	StartDateTime       time.Time `json:"startDateTime"`
	EndDateTime         time.Time `json:"endDateTime"`
	SetupTimeMinutes    int       `json:"setupTimeMinutes"`
	TeardownTimeMinutes int       `json:"teardownTimeMinutes"`
	EffectiveStart      time.Time `json:"effectiveStart"`
	EffectiveEnd        time.Time `json:"effectiveEnd"`
	Status              string    `json:"status"`
	OverlappingRooms    []string  `json:"overlappingRooms"`
}

func toFieldChanges(in []model.FieldChange) []fieldChangeJSON {
	out := make([]fieldChangeJSON, 0, len(in))
	for _, fc := range in {
		out = append(out, fieldChangeJSON{Field: fc.Field, OldValue: fc.OldValue, NewValue: fc.NewValue})
	}
	return out
}

func toConflicts(in []model.ConflictDetail) []conflictJSON {
	out := make([]conflictJSON, 0, len(in))
	for _, cd := range in {
		out = append(out, conflictJSON{
			ReservationID:       cd.ReservationID,
			Title:               cd.Title,
			StartDateTime:       cd.StartDateTime,
			EndDateTime:         cd.EndDateTime,
			SetupTimeMinutes:    cd.SetupTimeMinutes,
			TeardownTimeMinutes: cd.TeardownTimeMinutes,
			EffectiveStart:      cd.EffectiveStart,
			EffectiveEnd:        cd.EffectiveEnd,
			Status:              string(cd.Status),
			OverlappingRooms:    cd.OverlappingRooms,
		})
	}
	return out
}

// writeError renders err as {"error": kind, "message": ...} plus the detail
// its type carries.  Errors without a kind become a 500 and are logged.
func writeError(c echo.Context, log *logrus.Entry, err error) error {
	var (
		vc *apperror.VersionConflictError
		sc *apperror.SchedulingConflictError
		lh *apperror.LockHeldError
		ve *apperror.ValidationError
		ae *apperror.Error
	)
	switch {
	case errors.As(err, &vc):
		c.Response().Header().Set(headerETag, changekey.ETag(vc.CurrentChangeKey))
		return c.JSON(http.StatusConflict, echo.Map{
			"error":            apperror.KindVersionConflict,
			"message":          vc.Error(),
			"currentChangeKey": vc.CurrentChangeKey,
			"lastModifiedBy":   vc.LastModifiedBy,
			"lastModified":     vc.LastModified,
			"changes":          toFieldChanges(vc.Changes),
		})
	case errors.As(err, &sc):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":            apperror.KindSchedulingConflict,
			"message":          sc.Error(),
			"conflicts":        toConflicts(sc.Conflicts),
			"requiresOverride": sc.RequiresOverride,
		})
	case errors.As(err, &lh):
		return c.JSON(http.StatusLocked, echo.Map{
			"error":            apperror.KindLocked,
			"message":          lh.Error(),
			"reviewingBy":      lh.ReviewingBy,
			"reviewStartedAt":  lh.ReviewStartedAt,
			"reviewExpiresAt":  lh.ReviewExpiresAt,
			"minutesRemaining": lh.MinutesRemaining(),
		})
	case errors.As(err, &ve):
		body := echo.Map{"error": apperror.KindValidation, "message": ve.Error()}
		if ve.Field != "" {
			body["field"] = ve.Field
		}
		return c.JSON(http.StatusBadRequest, body)
	case errors.As(err, &ae):
		// wrapped sentinels keep the wrapping message, e.g. the attempted action
		return c.JSON(ae.Status, echo.Map{"error": ae.Kind, "message": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": apperror.KindNotFound, "message": "not found"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "Conflict", "message": "resource already exists"})
	}
	if log != nil {
		log.WithError(err).WithField("route", c.Path()).Error("request failed")
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "InternalError", "message": "internal server error"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": apperror.KindValidation, "message": msg})
}
