package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

// InternalKeyMiddleware authenticates scheduler- and back-office-triggered
// endpoints using the shared X-Internal-Key header.
func InternalKeyMiddleware(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if key == "" {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "internal key not configured"})
			}
			got := strings.TrimSpace(c.Request().Header.Get("X-Internal-Key"))
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid internal key"})
			}
			return next(c)
		}
	}
}
