package middleware

import (
	"context"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/contatto/internal/application/dto"
	"github.com/turtacn/contatto/internal/infrastructure/ratelimit"
	"github.com/turtacn/contatto/pkg/errors"
	"github.com/turtacn/contatto/pkg/logger"
)

// CommandLimiter decides whether a device may receive another command.
type CommandLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// CommandRateLimit throttles requests per device serial taken from the
// ":serial" route parameter. A failing limiter lets the request through.
func CommandRateLimit(limiter CommandLimiter, log logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		serial := c.Param("serial")
		ctx := c.Request.Context()

		d, err := limiter.Allow(ctx, serial)
		if err != nil {
			log.Error(ctx, "Rate limiter failed", err, logger.Serial(serial))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			retry := int(math.Ceil(d.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(retry))
			log.Warn(ctx, "Device command rate limited",
				logger.Serial(serial),
				logger.Duration("retry_after", d.RetryAfter))
			status, body := dto.ErrorResponse(errors.ErrRateLimited(serial, d.RetryAfter), TraceID(c))
			c.AbortWithStatusJSON(status, body)
			return
		}
		c.Next()
	}
}
