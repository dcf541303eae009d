package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/vibe-coding-tgbot-go/internal/config"
	"github.com/vibe-coding-tgbot-go/internal/models"
)

// Unlimited is reported as remaining quota when the daily cap is disabled
const Unlimited = -1

const dayLayout = "2006-01-02"

// CooldownResult is the outcome of a cooldown check
type CooldownResult struct {
	Allowed          bool
	RemainingSeconds int
}

// QuotaResult is the outcome of a quota check
type QuotaResult struct {
	Allowed   bool
	Remaining int
}

// userBucket holds one user's cooldown timestamp and per-day counters.
// All reads and writes go through mu.
type userBucket struct {
	mu          sync.Mutex
	lastSuccess time.Time
	counts      map[string]int
}

// ImageLimiter guards image generation with a per-user cooldown and a per-day quota
type ImageLimiter struct {
	cooldown   time.Duration
	dailyLimit int
	buckets    *cache.Cache
	now        func() time.Time
	logger     logrus.FieldLogger
}

// ImageLimiterOption customizes an ImageLimiter
type ImageLimiterOption func(*ImageLimiter)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) ImageLimiterOption {
	return func(l *ImageLimiter) {
		l.now = now
	}
}

// NewImageLimiter creates the limiter. Cooldown <= 0 or daily limit <= 0 disable that check.
func NewImageLimiter(cfg *config.ImagesConfig, logger logrus.FieldLogger, opts ...ImageLimiterOption) *ImageLimiter {
	l := &ImageLimiter{
		cooldown:   cfg.CooldownDuration(),
		dailyLimit: cfg.DailyLimit,
		buckets:    cache.New(cache.NoExpiration, 0),
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *ImageLimiter) bucket(userID int64) *userBucket {
	key := strconv.FormatInt(userID, 10)
	if v, found := l.buckets.Get(key); found {
		return v.(*userBucket)
	}

	b := &userBucket{counts: make(map[string]int)}
	if err := l.buckets.Add(key, b, cache.NoExpiration); err != nil {
		// another goroutine created it first
		v, _ := l.buckets.Get(key)
		return v.(*userBucket)
	}
	return b
}

// CheckCooldown reports whether the user's cooldown since the last successful image has passed.
// It never writes state.
func (l *ImageLimiter) CheckCooldown(userID int64) CooldownResult {
	b := l.bucket(userID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return l.checkCooldownLocked(b, l.now())
}

// ConsumeQuota takes one unit of today's quota if any is left. Rejections leave the counter untouched.
func (l *ImageLimiter) ConsumeQuota(userID int64) QuotaResult {
	b := l.bucket(userID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return l.consumeQuotaLocked(b, l.now())
}

// Admit runs the cooldown check and then the quota check under the user's lock.
// On success one unit of quota is consumed; the cooldown is only started by MarkSuccess.
func (l *ImageLimiter) Admit(userID int64) (models.Admission, error) {
	b := l.bucket(userID)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	log := l.logger.WithField("user_id", userID)

	cd := l.checkCooldownLocked(b, now)
	if !cd.Allowed {
		log.WithField("remaining_seconds", cd.RemainingSeconds).Info("Image request rejected: cooldown active")
		return models.Admission{}, &models.CooldownError{RemainingSeconds: cd.RemainingSeconds}
	}

	q := l.consumeQuotaLocked(b, now)
	if !q.Allowed {
		log.Info("Image request rejected: daily quota exhausted")
		return models.Admission{}, models.ErrQuotaExhausted
	}

	log.WithField("remaining_quota", q.Remaining).Debug("Image request admitted")
	return models.Admission{UserID: userID, RemainingQuota: q.Remaining, GrantedAt: now}, nil
}

// MarkSuccess starts the user's cooldown. Call it only after the image was delivered.
func (l *ImageLimiter) MarkSuccess(userID int64) {
	b := l.bucket(userID)
	b.mu.Lock()
	b.lastSuccess = l.now()
	b.mu.Unlock()
}

// UsedToday returns how many images the user was granted today
func (l *ImageLimiter) UsedToday(userID int64) int {
	b := l.bucket(userID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[dayTag(l.now())]
}

// UserCount returns the number of users with limiter state
func (l *ImageLimiter) UserCount() int {
	return l.buckets.ItemCount()
}

func (l *ImageLimiter) checkCooldownLocked(b *userBucket, now time.Time) CooldownResult {
	if l.cooldown <= 0 || b.lastSuccess.IsZero() {
		return CooldownResult{Allowed: true}
	}

	elapsed := now.Sub(b.lastSuccess)
	if elapsed >= l.cooldown {
		return CooldownResult{Allowed: true}
	}

	// rounded up so that waiting exactly the reported time is always enough
	remaining := int(math.Ceil((l.cooldown - elapsed).Seconds()))
	return CooldownResult{Allowed: false, RemainingSeconds: remaining}
}

func (l *ImageLimiter) consumeQuotaLocked(b *userBucket, now time.Time) QuotaResult {
	if l.dailyLimit <= 0 {
		return QuotaResult{Allowed: true, Remaining: Unlimited}
	}

	day := dayTag(now)
	count := b.counts[day]
	if count >= l.dailyLimit {
		return QuotaResult{Allowed: false, Remaining: 0}
	}

	count++
	b.counts[day] = count
	return QuotaResult{Allowed: true, Remaining: l.dailyLimit - count}
}

func dayTag(t time.Time) string {
	return t.UTC().Format(dayLayout)
}
