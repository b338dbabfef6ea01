package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/room-reservation/internal/utils"
)

const secret = "test-secret"

func whoami(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"actor": Actor(c), "role": Role(c)})
}

func serve(e *echo.Echo, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, JWTAuth(secret))
	e.GET("/admin", whoami, JWTAuth(secret), RequireRole("ADMIN"))

	tok, err := utils.NewAccessToken(secret, 7, "alice@example.com", "ADMIN", 5)
	require.NoError(t, err)

	rec := serve(e, http.MethodGet, "/me", tok.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"actor":"alice@example.com","role":"ADMIN"}`, rec.Body.String())

	rec = serve(e, http.MethodGet, "/admin", tok.Token)
	assert.Equal(t, http.StatusOK, rec.Code)

	requester, err := utils.NewAccessToken(secret, 8, "", "REQUESTER", 5)
	require.NoError(t, err)
	rec = serve(e, http.MethodGet, "/me", requester.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"actor":"8","role":"REQUESTER"}`, rec.Body.String(), "falls back to the subject")

	rec = serve(e, http.MethodGet, "/admin", requester.Token)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/me", "garbage").Code)

	forged, err := utils.NewAccessToken("other-secret", 7, "alice@example.com", "ADMIN", 5)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/me", forged.Token).Code)
}

func TestRequestLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	e := echo.New()
	e.Use(RequestLogger(logrus.NewEntry(logger)))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/missing", func(c echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "nope") })

	assert.Equal(t, http.StatusNoContent, serve(e, http.MethodGet, "/ok", "").Code)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "/ok", entry.Data["route"])

	assert.Equal(t, http.StatusNotFound, serve(e, http.MethodGet, "/missing", "").Code)
	entry = hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, http.StatusNotFound, entry.Data["status"])
}
