package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Allower decides whether a request charged to key may proceed.
type Allower interface {
	Allow(key string) bool
}

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c echo.Context) string

// RateLimit rejects requests the limiter refuses with 429.
func RateLimit(limiter Allower, keyFn KeyFunc) echo.MiddlewareFunc {
	if keyFn == nil {
		keyFn = func(c echo.Context) string { return c.RealIP() }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if limiter != nil && !limiter.Allow(keyFn(c)) {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"status":  http.StatusTooManyRequests,
					"message": http.StatusText(http.StatusTooManyRequests),
				})
			}
			return next(c)
		}
	}
}
