package router

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/room-reservation/internal/config"
	"github.com/iliyamo/room-reservation/internal/conflict"
	"github.com/iliyamo/room-reservation/internal/database"
	"github.com/iliyamo/room-reservation/internal/handler"
	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/repository"
	"github.com/iliyamo/room-reservation/internal/reservation"
	"github.com/iliyamo/room-reservation/internal/reviewlock"
	"github.com/iliyamo/room-reservation/internal/utils"
)

const secret = "router-secret"

func newServer(t *testing.T) *echo.Echo {
	t.Helper()
	db, err := database.Open(database.Options{Driver: database.DriverSQLite, Name: filepath.Join(t.TempDir(), "api.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	log := logrus.NewEntry(logger)

	reservations := repository.NewReservationRepo(db)
	rooms := repository.NewRoomRepo(db)
	svc := reservation.NewService(reservation.Deps{
		Store:    reservations,
		Rooms:    rooms,
		Detector: conflict.NewDetector(reservations),
		Locks:    reviewlock.NewManager(reservations),
		Log:      log,
	})
	roomHandler := &handler.RoomHandler{Rooms: rooms, Log: log}

	e := echo.New()
	RegisterRoutes(e, db)
	RegisterAuth(e, handler.NewAuthHandler(config.Config{JWTSecret: secret, AccessTTLMin: 5, RefreshTTLDays: 1, BcryptCost: 4},
		repository.NewUserRepo(db), repository.NewTokenRepo(db)), secret)
	RegisterReservations(e, handler.NewReservationHandler(svc, log), secret, nil)
	RegisterRooms(e, roomHandler, secret, nil)
	RegisterAdmin(e, handler.NewReviewHandler(svc, log), roomHandler, secret, nil)
	RegisterCalendar(e, &handler.CalendarHandler{ClientState: "state", Log: log})
	return e
}

func call(e *echo.Echo, method, path, role, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if role != "" {
		tok, _ := utils.NewAccessToken(secret, 1, strings.ToLower(role)+"@example.com", role, 5)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_AccessControl(t *testing.T) {
	e := newServer(t)

	assert.Equal(t, http.StatusOK, call(e, http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusOK, call(e, http.MethodGet, "/readyz", "", "").Code)

	assert.Equal(t, http.StatusUnauthorized, call(e, http.MethodGet, "/v1/reservations", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(e, http.MethodGet, "/v1/me", "", "").Code)
	assert.Equal(t, http.StatusForbidden,
		call(e, http.MethodPost, "/v1/admin/rooms", model.RoleRequester, `{"id":"room-101","name":"Room 101"}`).Code)

	rec := call(e, http.MethodPost, "/v1/calendar/notifications?validationToken=tok", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok", rec.Body.String())
}

func TestRoutes_RoomCatalogueAndReservation(t *testing.T) {
	e := newServer(t)

	rec := call(e, http.MethodPost, "/v1/admin/rooms", model.RoleAdmin, `{"id":"room-101","name":"Room 101","capacity":10}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(e, http.MethodGet, "/v1/rooms", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"room-101"`)

	rec = call(e, http.MethodPost, "/v1/reservations", model.RoleRequester, `{"title":"Standup","attendeeCount":4,
		"startDateTime":"2030-01-07T09:00:00Z","endDateTime":"2030-01-07T09:30:00Z","selectedRooms":["room-101"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderLocation))

	rec = call(e, http.MethodGet, "/v1/rooms/availability?rooms=room-101&start=2030-01-07T09:15:00Z&end=2030-01-07T10:00:00Z", model.RoleRequester, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"available":false`)
}
