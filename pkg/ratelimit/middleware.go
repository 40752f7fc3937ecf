package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Middleware 超出限额的请求直接返回429并带上Retry-After，放行的请求带上X-RateLimit-Remaining
func (l *Limiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := l.Allow()
			if !d.Allowed {
				retryAfter := int(math.Ceil(d.WaitTime.Seconds()))
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(l.Remaining()))
			return next(c)
		}
	}
}
