package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Roles carried in the access token's "role" claim.
const (
	RoleOperator = "OPERATOR"
	RoleAdmin    = "ADMIN"
)

// RequireRole aborts with 403 unless the role stored by JWTAuth is one of
// roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, ok := c.Get(RoleKey).(string)
			if !ok || !allowed[role] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
