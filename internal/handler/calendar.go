package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// CalendarHandler receives change notifications for the subscription
// created at startup.  Notifications are only logged; reservations stay
// the source of truth.
type CalendarHandler struct {
	ClientState string
	Log         *logrus.Entry
}

type calendarNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
	Resource       string `json:"resource"`
	ResourceData   struct {
		ID string `json:"id"`
	} `json:"resourceData"`
}

// Notifications handles POST /v1/calendar/notifications.  The subscription
// handshake sends ?validationToken=..., which must be echoed back as plain
// text within a few seconds.
func (h *CalendarHandler) Notifications(c echo.Context) error {
	if token := c.QueryParam("validationToken"); token != "" {
		return c.String(http.StatusOK, token)
	}
	var body struct {
		Value []calendarNotification `json:"value"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid notification body")
	}
	accepted := 0
	for _, n := range body.Value {
		if subtle.ConstantTimeCompare([]byte(n.ClientState), []byte(h.ClientState)) != 1 {
			h.Log.WithField("subscription_id", n.SubscriptionID).Warn("calendar notification with unexpected client state dropped")
			continue
		}
		accepted++
		h.Log.WithFields(logrus.Fields{
			"subscription_id": n.SubscriptionID,
			"change_type":     n.ChangeType,
			"event_id":        n.ResourceData.ID,
			"resource":        n.Resource,
		}).Info("calendar change notification")
	}
	return c.JSON(http.StatusAccepted, echo.Map{"accepted": accepted})
}
