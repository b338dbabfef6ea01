package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Identity is what an access token says about the caller.
type Identity struct {
	UserID string // sub
	Role   string
	Actor  string // email claim, or the subject when the token has none
}

var errNoBearer = errors.New("missing bearer token")

// ParseBearer validates the request's "Authorization: Bearer" access token
// (HS256, unexpired, non-empty subject) and returns its identity.
func ParseBearer(r *http.Request, secret string) (Identity, error) {
	raw, ok := strings.CutPrefix(r.Header.Get(echo.HeaderAuthorization), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return Identity{}, errNoBearer
	}
	tok, err := jwt.ParseWithClaims(strings.TrimSpace(raw), jwt.MapClaims{},
		func(*jwt.Token) (interface{}, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, jwt.ErrTokenInvalidClaims
	}
	id := Identity{}
	id.UserID, _ = claims["sub"].(string)
	id.Role, _ = claims["role"].(string)
	id.Actor, _ = claims["email"].(string)
	if id.UserID == "" {
		return Identity{}, jwt.ErrTokenInvalidSubject
	}
	if id.Actor == "" {
		id.Actor = id.UserID
	}
	return id, nil
}

// JWTAuth rejects requests without a valid access token and stores the
// caller's identity for Actor, Role and the rate limiter.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := ParseBearer(c.Request(), secret)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, errNoBearer) {
					msg = err.Error()
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Unauthorized", "message": msg})
			}
			c.Set(CtxUserID, id.UserID)
			c.Set(CtxRole, id.Role)
			c.Set(CtxActor, id.Actor)
			return next(c)
		}
	}
}
