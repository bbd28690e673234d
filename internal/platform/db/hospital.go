package db

import (
	"context"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"
)

var hospitalIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// HospitalMiddleware resolves the hospital the request acts on and stores it
// in the request context. Every billing query is scoped by this value.
func HospitalMiddleware(defaultHospital string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			hospitalID := extractHospitalID(c, defaultHospital)

			if !ValidHospitalID(hospitalID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid hospital identifier")
			}

			ctx := WithHospital(c.Request().Context(), hospitalID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("hospital_id", hospitalID)

			return next(c)
		}
	}
}

func extractHospitalID(c echo.Context, defaultHospital string) string {
	// 1. JWT claim (set by auth middleware)
	if hid, ok := c.Get("jwt_hospital_id").(string); ok && hid != "" {
		return hid
	}

	// 2. X-Hospital-ID header
	if hid := c.Request().Header.Get("X-Hospital-ID"); hid != "" {
		return hid
	}

	// 3. Query parameter
	if hid := c.QueryParam("hospital_id"); hid != "" {
		return hid
	}

	return defaultHospital
}

// ValidHospitalID reports whether id is an acceptable hospital identifier.
func ValidHospitalID(id string) bool {
	return hospitalIDPattern.MatchString(id)
}

// WithHospital stores the hospital id in ctx.
func WithHospital(ctx context.Context, hospitalID string) context.Context {
	return context.WithValue(ctx, HospitalIDKey, hospitalID)
}

// HospitalFromContext retrieves the hospital id from context.
func HospitalFromContext(ctx context.Context) string {
	hid, _ := ctx.Value(HospitalIDKey).(string)
	return hid
}
