package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/response"
)

const rateLimitTimeout = 500 * time.Millisecond

// RateLimiter is a per-IP fixed-window limiter kept in Redis, so every
// instance behind the load balancer shares the same budget.
type RateLimiter struct {
	rdb      *redis.Client
	rate     int           // Requests per window
	interval time.Duration // Window length
	log      zerolog.Logger
}

// NewRateLimiter creates a RateLimiter (e.g., 30 connects per minute).
func NewRateLimiter(rdb *redis.Client, rate int, interval time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:      rdb,
		rate:     rate,
		interval: interval,
		log:      log.With().Str("component", "rate_limiter").Logger(),
	}
}

// Middleware returns a Gin middleware that rate-limits requests by IP.
// Requests pass when Redis cannot be reached.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rate <= 0 {
			c.Next()
			return
		}

		now := time.Now()
		count, err := rl.count(c.Request.Context(), c.ClientIP(), now)
		if err != nil {
			rl.log.Warn().Err(err).Msg("Rate limit check failed, letting request through")
			c.Next()
			return
		}

		if !rl.writeHeaders(c, count, now) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

// writeHeaders sets the X-RateLimit headers for the count-th request of the
// current window and reports whether the request is within the limit.
func (rl *RateLimiter) writeHeaders(c *gin.Context, count int64, now time.Time) bool {
	remaining := int64(rl.rate) - count
	if remaining < 0 {
		remaining = 0
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(rl.rate))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	if count <= int64(rl.rate) {
		return true
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter(now, rl.interval)))
	return false
}

// retryAfter returns the whole seconds left in the window containing now,
// never less than one.
func retryAfter(now time.Time, interval time.Duration) int {
	left := interval - time.Duration(now.UnixNano()%int64(interval))
	secs := int((left + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// count increments and returns the caller's request count in the window
// containing now.
func (rl *RateLimiter) count(parent context.Context, ip string, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(parent, rateLimitTimeout)
	defer cancel()

	window := now.UnixNano() / int64(rl.interval)
	key := config.CacheKey.StreamRateKey(ip, window)

	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.interval)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
