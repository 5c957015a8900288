package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// clientIdleTTL is how long a client's limiter survives without requests.
const clientIdleTTL = 10 * time.Minute

var rateLimited = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected with 429 by route template.",
	},
	[]string{"route"},
)

// RateLimitConfig configures a per-client token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig matches the summary endpoint defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 1, BurstSize: 5}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clients holds one limiter per client IP and drops idle ones lazily.
type clients struct {
	mu        sync.Mutex
	byKey     map[string]*client
	cfg       RateLimitConfig
	lastSweep time.Time
	now       func() time.Time
}

func newClients(cfg RateLimitConfig) *clients {
	return &clients{byKey: make(map[string]*client), cfg: cfg, now: time.Now}
}

func (s *clients) reserve(key string) *rate.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) > clientIdleTTL {
		for k, cl := range s.byKey {
			if now.Sub(cl.lastSeen) > clientIdleTTL {
				delete(s.byKey, k)
			}
		}
		s.lastSweep = now
	}

	cl, ok := s.byKey[key]
	if !ok {
		cl = &client{limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)}
		s.byKey[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.ReserveN(now, 1)
}

// RateLimit limits requests per client IP. Each call builds its own limiter
// set, so it is meant to wrap individual routes.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newClients(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			res := store.reserve(c.RealIP())
			if wait := res.DelayFrom(store.now()); !res.OK() || wait > 0 {
				// The request is rejected, so it must not consume a token.
				res.CancelAt(store.now())
				h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait, res.OK())))
				h.Set("X-RateLimit-Remaining", "0")
				rateLimited.WithLabelValues(routeOf(c)).Inc()
				return echo.NewHTTPError(http.StatusTooManyRequests, "Rate limit exceeded")
			}
			return next(c)
		}
	}
}

func retryAfterSeconds(wait time.Duration, ok bool) int {
	if !ok || wait <= 0 {
		return 1
	}
	return int(math.Ceil(wait.Seconds()))
}
