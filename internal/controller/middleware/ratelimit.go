package middleware

import (
	"net/http"
	"sync"
	"time"

	"ticketflow/internal/store"

	"golang.org/x/time/rate"
)

// RateLimiter applies each tenant's own request rate. Limiters are rebuilt
// after the TTL so rate changes on the tenant take effect.
type RateLimiter struct {
	limiters sync.Map // tenantID -> *cachedLimiter
	ttl      time.Duration
	now      func() time.Time
}

type RateLimiterOption func(*RateLimiter)

func WithTTL(ttl time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) {
		if ttl > 0 {
			rl.ttl = ttl
		}
	}
}

func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{ttl: 5 * time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Middleware must run after AuthMiddleware.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant, ok := TenantFromContext(r.Context())
			if !ok {
				writeError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// RateLimit=0 means unlimited
			if tenant.RateLimit > 0 && !rl.limiter(tenant).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func (rl *RateLimiter) limiter(tenant *store.Tenant) *rate.Limiter {
	if v, ok := rl.limiters.Load(tenant.ID); ok {
		cached := v.(*cachedLimiter)
		if rl.now().Before(cached.expiresAt) {
			return cached.limiter
		}
	}

	burst := tenant.RateLimitBurst
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(tenant.RateLimit), burst)
	rl.limiters.Store(tenant.ID, &cachedLimiter{
		limiter:   limiter,
		expiresAt: rl.now().Add(rl.ttl),
	})
	return limiter
}
