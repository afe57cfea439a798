package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/toshiapp/toshi-auth-go/pkg/verifier"
)

const limiterIdleTTL = 5 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// addressLimiter rate limits verified callers by identity address. Entries
// idle for limiterIdleTTL are dropped on the next sweep.
type addressLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	visitors  map[string]*limiterEntry
	lastSweep time.Time
}

func newAddressLimiter(perSecond float64, burst int, now func() time.Time) *addressLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &addressLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      now,
		visitors: make(map[string]*limiterEntry),
	}
}

func (l *addressLimiter) allow(address string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for addr, e := range l.visitors {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.visitors, addr)
			}
		}
		l.lastSweep = now
	}

	e, ok := l.visitors[address]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[address] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// middleware must run after verifier.Middleware
func (l *addressLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := verifier.ResultFromContext(r.Context())
		if res != nil && !l.allow(strings.ToLower(res.Address.Hex())) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", http.StatusText(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}
