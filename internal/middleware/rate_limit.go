package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/dto"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/metrics"
)

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter token bucket per scope and client: max requests per window, refilled continuously
type RateLimiter struct {
	window  time.Duration
	max     int
	limit   rate.Limit
	entries map[string]*rateEntry
	mutex   sync.Mutex
	now     func() time.Time
	logger  *logrus.Logger
}

// NewRateLimiter allows max requests per key per window
func NewRateLimiter(window time.Duration, max int, logger *logrus.Logger) *RateLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		window:  window,
		max:     max,
		limit:   rate.Every(window / time.Duration(max)),
		entries: make(map[string]*rateEntry),
		now:     time.Now,
		logger:  logger,
	}
}

// Allow takes one token for key. When refused it returns how long until a token is available.
func (r *RateLimiter) Allow(key string) (bool, time.Duration) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	entry, ok := r.entries[key]
	if !ok {
		entry = &rateEntry{limiter: rate.NewLimiter(r.limit, r.max)}
		r.entries[key] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Sweep drops keys idle for a full window; their bucket has refilled by then
func (r *RateLimiter) Sweep() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	removed := 0
	for key, entry := range r.entries {
		if now.Sub(entry.lastSeen) >= r.window {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

// Limit applies the limiter per client IP under scope
func (r *RateLimiter) Limit(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retryAfter := r.Allow(scope + ":" + c.ClientIP())
		if ok {
			c.Next()
			return
		}
		metrics.RateLimited.WithLabelValues(scope).Inc()
		r.logger.WithFields(logrus.Fields{
			"scope":     scope,
			"client_ip": c.ClientIP(),
		}).Warn("Rate limited")

		seconds := int(retryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewError(dto.ReasonRateLimited, "too many requests"))
	}
}
