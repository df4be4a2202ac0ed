package middleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"pasargamex-realtime/internal/infrastructure/ratelimit"
	"pasargamex-realtime/pkg/logger"
)

// RateLimit throttles requests per authenticated user, falling back to the
// client IP before authentication has run.
func RateLimit(limiter *ratelimit.RateLimiter, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key, ok := c.Get("uid").(string)
			if !ok || key == "" {
				key = "ip:" + c.RealIP()
			}

			allowed, wait := limiter.Allow(key, action)
			if !allowed {
				logger.Warn("RATE LIMIT: %s blocked for %s (retry in %v)", action, key, wait)
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":       "Rate limit exceeded",
					"retry_after": int(wait.Seconds()) + 1,
				})
			}

			return next(c)
		}
	}
}
