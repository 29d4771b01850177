package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyFunc derives the rate-limit bucket key for a request. An empty key
// bypasses limiting.
type KeyFunc func(r *http.Request) string

// ClientIPKey keys buckets on the remote address, port stripped.
func ClientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientEntry pairs a limiter with its last use for eviction.
type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PerClient is an HTTP middleware applying an independent token bucket per
// client key. Idle entries are evicted lazily to bound memory.
type PerClient struct {
	rps   rate.Limit
	burst int
	key   KeyFunc

	mu      sync.Mutex
	clients map[string]*clientEntry
	swept   time.Time
	now     func() time.Time
}

const clientIdleTTL = 10 * time.Minute

// NewPerClient creates a per-client limiter allowing rps requests per second
// with the given burst. A nil key defaults to ClientIPKey.
func NewPerClient(rps, burst int, key KeyFunc) *PerClient {
	if rps <= 0 {
		rps = 1
	}
	if burst < rps {
		burst = rps
	}
	if key == nil {
		key = ClientIPKey
	}
	return &PerClient{
		rps:     rate.Limit(rps),
		burst:   burst,
		key:     key,
		clients: make(map[string]*clientEntry),
		now:     time.Now,
	}
}

func (p *PerClient) allow(key string) bool {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()

	if now.Sub(p.swept) > clientIdleTTL {
		for k, e := range p.clients {
			if now.Sub(e.lastSeen) > clientIdleTTL {
				delete(p.clients, k)
			}
		}
		p.swept = now
	}

	e, ok := p.clients[key]
	if !ok {
		e = &clientEntry{limiter: rate.NewLimiter(p.rps, p.burst)}
		p.clients[key] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

// Middleware rejects over-limit requests with 429 and a JSON error body.
func (p *PerClient) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := p.key(r)
		if key != "" && !p.allow(key) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
