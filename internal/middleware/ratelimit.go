package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/response"
)

type beaconCounter interface {
	Hit(ctx context.Context, attemptID string, window time.Duration) (int64, error)
}

// BeaconLimiter caps tab-switch and heartbeat beacons per attempt. Counting
// lives in Redis so every replica sees the same budget.
type BeaconLimiter struct {
	counter beaconCounter
	limit   int64
	window  time.Duration
	log     zerolog.Logger
}

// NewBeaconLimiter allows limit beacons per attempt per window.
func NewBeaconLimiter(counter beaconCounter, limit int, window time.Duration, log zerolog.Logger) *BeaconLimiter {
	if window < time.Second {
		window = time.Minute
	}
	return &BeaconLimiter{
		counter: counter,
		limit:   int64(limit),
		window:  window,
		log:     log.With().Str("component", "beacon_limiter").Logger(),
	}
}

// Middleware rate-limits by the :id route parameter. A limit <= 0 disables it.
func (l *BeaconLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		attemptID := c.Param("id")
		if l.limit <= 0 || attemptID == "" {
			c.Next()
			return
		}

		n, err := l.counter.Hit(c.Request.Context(), attemptID, l.window)
		if err != nil {
			// Fail open: losing telemetry beats blocking an exam.
			l.log.Warn().Err(err).Str("attempt_id", attemptID).Msg("Beacon counter unavailable")
			c.Next()
			return
		}
		if n > l.limit {
			c.Header("Retry-After", "60")
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
