package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/clydra/backend/internal/api/response"
	"github.com/clydra/backend/internal/auth"
	"github.com/clydra/backend/internal/models"
)

// TierAnonymous is the implicit tier for unauthenticated requests,
// identified by client IP.
const TierAnonymous = "anonymous"

// Limit defines the request rate for a tier.
type Limit struct {
	RequestsPerMinute int `json:"requests_per_minute"`
}

// DefaultLimits defines the default per-minute limits per tier.
var DefaultLimits = map[string]Limit{
	models.TierFree: {RequestsPerMinute: 30},
	models.TierPro:  {RequestsPerMinute: 120},
	TierAnonymous:   {RequestsPerMinute: 10},
}

// Info describes the current rate limit state for a client, used to
// populate X-RateLimit headers.
type Info struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"` // Unix timestamp
}

// RateLimiter enforces per-client request rates with an in-process
// sliding window. State is local to the process: the distributed cache
// is advisory in this system and can degrade away mid-flight, so the
// limiter never depends on it.
type RateLimiter struct {
	limits  map[string]Limit
	windows *windowStore
}

// NewRateLimiter creates a rate limiter with the default tier limits.
func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithLimits(DefaultLimits)
}

// NewRateLimiterWithLimits creates a rate limiter with custom limits.
func NewRateLimiterWithLimits(limits map[string]Limit) *RateLimiter {
	return &RateLimiter{
		limits:  limits,
		windows: newWindowStore(time.Minute),
	}
}

// Allow records a request for the identifier and reports whether it is
// within the tier's per-minute limit.
func (r *RateLimiter) Allow(identifier, tier string) (bool, Info) {
	limit := r.LimitForTier(tier)
	allowed, remaining, reset := r.windows.allow(identifier, limit.RequestsPerMinute)
	return allowed, Info{
		Limit:     limit.RequestsPerMinute,
		Remaining: remaining,
		Reset:     reset,
	}
}

// LimitForTier returns the configured limit for a tier, falling back to
// the anonymous limit for unknown tiers.
func (r *RateLimiter) LimitForTier(tier string) Limit {
	if limit, ok := r.limits[tier]; ok {
		return limit
	}
	return r.limits[TierAnonymous]
}

// Close stops the limiter's background cleanup.
func (r *RateLimiter) Close() {
	r.windows.close()
}

// Middleware returns HTTP middleware that enforces per-client rate limits.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		identifier, tier := identifierAndTier(req)

		allowed, info := r.Allow(identifier, tier)
		setRateLimitHeaders(w, info)

		if !allowed {
			w.Header().Set("Retry-After", strconv.FormatInt(info.Reset-time.Now().Unix(), 10))
			response.TooManyRequests(w, "")
			return
		}

		next.ServeHTTP(w, req)
	})
}

// identifierAndTier keys authenticated requests by user ID and
// everything else by client IP.
func identifierAndTier(req *http.Request) (string, string) {
	if user := auth.GetUser(req.Context()); user != nil {
		return user.ID, user.Tier
	}
	return clientIP(req), TierAnonymous
}

func setRateLimitHeaders(w http.ResponseWriter, info Info) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.Reset, 10))
}

// clientIP extracts the client IP, honoring proxy headers.
func clientIP(req *http.Request) string {
	xff := req.Header.Get("X-Forwarded-For")
	if xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}

	if xri := req.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := req.RemoteAddr
	for i := len(ip) - 1; i >= 0; i-- {
		if ip[i] == ':' {
			return ip[:i]
		}
		if ip[i] == ']' {
			break
		}
	}
	return ip
}
