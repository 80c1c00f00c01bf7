package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/pharmacy-platform/internal/common"
)

// Limiter is a shared counter store. redisstore.Store implements it.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit allows limit requests per user per window. It must run after
// AuthRequired. A nil limiter or a non-positive limit disables it, and
// limiter errors let the request through.
func RateLimit(l Limiter, scope string, limit int, window time.Duration, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || limit <= 0 {
			c.Next()
			return
		}

		uid, _ := c.Get(UserIDKey)
		id, _ := uid.(uint64)
		key := scope + ":" + strconv.FormatUint(id, 10)

		allowed, err := l.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			logger.Warn().Err(err).
				Str("request_id", c.GetString(RequestIDKey)).
				Str("key", key).
				Msg("rate limiter unavailable, allowing request")
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			common.AbortFail(c, http.StatusTooManyRequests, 42901, "rate limit exceeded")
			return
		}
		c.Next()
	}
}
