package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig configures the Redis-based fixed-window limiter applied to
// the manual send endpoint.
type RateLimitConfig struct {
	Redis          *redis.Client
	Max            int           // sends per window
	KeyPrefix      string        // e.g. "rl:manual:"
	Window         time.Duration // usually 1h
	RetryAfterHint bool          // set Retry-After header when limited
}

// RateLimitMiddleware applies a fixed-window limit keyed by the
// X-Operator-Id header (falling back to the client IP), so one over-eager
// admin composer cannot drain the provider quota.
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:manual:"
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Max <= 0 || cfg.Redis == nil {
				return next(c)
			}

			who := strings.TrimSpace(c.Request().Header.Get("X-Operator-Id"))
			if who == "" {
				who = c.RealIP()
			}

			ctx := c.Request().Context()
			window := time.Now().Unix() / int64(cfg.Window.Seconds())
			key := cfg.KeyPrefix + who + ":" + strconv.FormatInt(window, 10)

			n, err := cfg.Redis.Incr(ctx, key).Result()
			if err != nil {
				// limiter outage must not block sends
				return next(c)
			}
			if n == 1 {
				_ = cfg.Redis.Expire(ctx, key, cfg.Window).Err()
			}
			if n > int64(cfg.Max) {
				if cfg.RetryAfterHint {
					c.Response().Header().Set("Retry-After", strconv.Itoa(int(cfg.Window.Seconds())))
				}
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			}
			return next(c)
		}
	}
}
