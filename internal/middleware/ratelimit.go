package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/SergeiKhy/fairlink/internal/metrics"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// OwnerHeader несёт идентификатор владельца ссылок для admin API
const OwnerHeader = "X-Owner-ID"

// KeyFunc возвращает ключ, по которому считается лимит.
// Пустой ключ означает "считать по IP клиента".
type KeyFunc func(*gin.Context) string

// ByClientIP считает лимит по адресу клиента
func ByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// ByOwner считает лимит по владельцу из X-Owner-ID
func ByOwner(c *gin.Context) string {
	if owner := c.GetHeader(OwnerHeader); owner != "" {
		return "owner:" + owner
	}
	return ""
}

type RateLimiterConfig struct {
	// Scope попадает в метку метрики fairlink_rate_limited_total
	Scope             string
	RequestsPerSecond float64
	BurstSize         int

	// IdleTTL: через сколько без запросов ключ забывается
	IdleTTL time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter ограничивает запросы token bucket'ом на каждый ключ
type RateLimiter struct {
	cfg     RateLimiterConfig
	key     KeyFunc
	mu      sync.Mutex
	buckets map[string]*bucket

	done     chan struct{}
	stopOnce sync.Once
}

func NewRateLimiter(cfg RateLimiterConfig, key KeyFunc) *RateLimiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 3 * time.Minute
	}
	if cfg.Scope == "" {
		cfg.Scope = "api"
	}
	if key == nil {
		key = ByClientIP
	}

	rl := &RateLimiter{
		cfg:     cfg,
		key:     key,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Stop останавливает фоновую очистку
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.cfg.IdleTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			rl.sweep(now)
		case <-rl.done:
			return
		}
	}
}

func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for k, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.cfg.IdleTTL {
			delete(rl.buckets, k)
		}
	}
}

// Tracked возвращает число ключей, для которых сейчас хранится bucket
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func (rl *RateLimiter) allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.BurstSize)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) retryAfter() int {
	if rl.cfg.RequestsPerSecond > 0 && rl.cfg.RequestsPerSecond < 1 {
		return int(1/rl.cfg.RequestsPerSecond + 0.5)
	}
	return 1
}

// Middleware отвечает 429 с Retry-After, когда bucket ключа пуст
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.key(c)
		if key == "" {
			key = c.ClientIP()
		}

		if !rl.allow(key) {
			metrics.RateLimited.WithLabelValues(rl.cfg.Scope).Inc()
			retry := rl.retryAfter()
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":     false,
				"error":       "rate_limit_exceeded",
				"message":     "Слишком много запросов, попробуйте позже",
				"retry_after": retry,
			})
			return
		}

		c.Next()
	}
}
