package echoapi

import (
	"math"
	"strconv"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/trezcool/masomo-marks/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}
	ord.Orderings = core.ParseOrdering(val)
}

// writeRateLimiter caps the rate of write requests across all callers. A limit <= 0 disables it.
func writeRateLimiter(limit float64, burst int) echo.MiddlewareFunc {
	if limit <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if burst <= 0 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(limit), burst)
	retryAfter := strconv.Itoa(int(math.Ceil(1 / limit)))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if !lim.Allow() {
				ctx.Response().Header().Set("Retry-After", retryAfter)
				return errTooManyRequests
			}
			return next(ctx)
		}
	}
}
