package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireRole lets the request through only when JWTAuth stored one of the
// given roles.  Admin routes use it with model.RoleAdmin: only admins may
// review, approve, reject or force-release a hold.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := Role(c)
			if _, ok := allowed[role]; !ok {
				return c.JSON(http.StatusForbidden, echo.Map{
					"error":   "Forbidden",
					"message": "role " + quoteRole(role) + " may not call this endpoint",
				})
			}
			return next(c)
		}
	}
}

func quoteRole(r string) string {
	if r == "" {
		return "(none)"
	}
	return r
}
