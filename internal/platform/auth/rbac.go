package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	RoleSystemAdmin     = "system_admin"
	RoleHospitalAdmin   = "hospital_admin"
	RoleAccountsManager = "accounts_manager"
	RoleAccountant      = "accountant"
)

// RequireAuthenticated rejects requests that carry no user.
func RequireAuthenticated() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if UserIDFromContext(c.Request().Context()) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}

// HasAnyRole reports whether granted and wanted intersect.
func HasAnyRole(granted []string, wanted ...string) bool {
	for _, w := range wanted {
		for _, g := range granted {
			if g == w {
				return true
			}
		}
	}
	return false
}
