package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibe-coding-tgbot-go/internal/config"
	"golang.org/x/time/rate"
)

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Allow(userID int64) bool
	Reset(userID int64)
}

// UserRateLimiter throttles how fast a single user can send text to the model
type UserRateLimiter struct {
	enabled         bool
	limiters        map[int64]*rate.Limiter
	mu              sync.RWMutex
	rpm             int
	burst           int
	logger          logrus.FieldLogger
	cleanupInterval time.Duration
	maxTracked      int
}

// NewRateLimiter creates a new rate limiter. The cleanup loop stops with ctx.
func NewRateLimiter(ctx context.Context, cfg *config.RateLimitConfig, logger logrus.FieldLogger) RateLimiter {
	if !cfg.Enabled || cfg.RequestsPerMinute <= 0 {
		return &UserRateLimiter{enabled: false}
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	rl := &UserRateLimiter{
		enabled:         true,
		limiters:        make(map[int64]*rate.Limiter),
		rpm:             cfg.RequestsPerMinute,
		burst:           burst,
		logger:          logger,
		cleanupInterval: time.Hour,
		maxTracked:      10000,
	}

	go rl.cleanup(ctx)

	return rl
}

// Allow checks if a user is allowed to make a request
func (r *UserRateLimiter) Allow(userID int64) bool {
	if !r.enabled {
		return true
	}

	allowed := r.getLimiter(userID).Allow()
	if !allowed {
		r.logger.WithField("user_id", userID).Warn("Rate limit exceeded")
	}

	return allowed
}

// Reset resets the rate limiter for a user
func (r *UserRateLimiter) Reset(userID int64) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	delete(r.limiters, userID)
	r.mu.Unlock()
}

// getLimiter gets or creates a rate limiter for a user
func (r *UserRateLimiter) getLimiter(userID int64) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[userID]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := r.limiters[userID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(float64(r.rpm)/60.0), r.burst)
	r.limiters[userID] = limiter

	return limiter
}

// cleanup drops limiters that are back to a full bucket; they carry no state worth keeping
func (r *UserRateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.prune()
		}
	}
}

func (r *UserRateLimiter) prune() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, limiter := range r.limiters {
		if limiter.Tokens() >= float64(r.burst) {
			delete(r.limiters, userID)
		}
	}
	if len(r.limiters) > r.maxTracked {
		r.logger.Warn("Rate limiter map size exceeded threshold, clearing")
		r.limiters = make(map[int64]*rate.Limiter)
	}
}
