package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/cppla/aiblog/config"
	"github.com/cppla/aiblog/utils"
)

const limiterIdle = 5 * time.Minute

type rateLimiter struct {
	limiter *rate.Limiter
	expires time.Time
}

// limiterSet is a token bucket per client IP, dropped after limiterIdle without traffic.
type limiterSet struct {
	mu      sync.Mutex
	byKey   map[string]*rateLimiter
	limit   rate.Limit
	burst   int
	nowFunc func() time.Time
}

func newLimiterSet(perMinute int) *limiterSet {
	perMinute = max(perMinute, 1)
	return &limiterSet{
		byKey:   map[string]*rateLimiter{},
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   max(perMinute/2, 1),
		nowFunc: time.Now,
	}
}

func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	for k, l := range s.byKey {
		if now.After(l.expires) {
			delete(s.byKey, k)
		}
	}
	l, ok := s.byKey[key]
	if !ok {
		l = &rateLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.byKey[key] = l
	}
	l.expires = now.Add(limiterIdle)
	return l.limiter.AllowN(now, 1)
}

// RateLimit applies an IP based token bucket allowing perMinute requests.
func RateLimit(perMinute int) gin.HandlerFunc {
	set := newLimiterSet(perMinute)
	return func(ctx *gin.Context) {
		if !set.allow(ctx.ClientIP()) {
			utils.Error(ctx, http.StatusTooManyRequests, 42901, "rate limit exceeded")
			return
		}
		ctx.Next()
	}
}

// RateLimitMiddleware is RateLimit with the configured RATE_LIMIT_PER_MINUTE.
func RateLimitMiddleware() gin.HandlerFunc {
	return RateLimit(config.Get().RateLimitPerMinute)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
