package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures RateLimiter.
type RateLimitConfig struct {
	// PerMinute is the sustained number of requests a client may make.
	PerMinute int
	// Burst is how many requests a client may make back to back.
	Burst int
	// IdleTTL is how long a client's bucket is kept after its last request.
	IdleTTL time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-client-IP token bucket. Over-limit requests get 429
// with a Retry-After header.
//
// A background goroutine drops idle buckets; it stops when ctx is cancelled.
func RateLimiter(ctx context.Context, cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.PerMinute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}

	var (
		mu      sync.Mutex
		clients = make(map[string]*clientLimiter)
	)

	go func() {
		ticker := time.NewTicker(cfg.IdleTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				for ip, cl := range clients {
					if time.Since(cl.lastSeen) > cfg.IdleTTL {
						delete(clients, ip)
					}
				}
				mu.Unlock()
			}
		}
	}()

	every := rate.Every(time.Minute / time.Duration(cfg.PerMinute))
	getLimiter := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		cl, ok := clients[ip]
		if !ok {
			cl = &clientLimiter{limiter: rate.NewLimiter(every, cfg.Burst)}
			clients[ip] = cl
		}
		cl.lastSeen = time.Now()
		return cl.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := getLimiter(clientIP(r))

			reservation := limiter.Reserve()
			if !reservation.OK() {
				writeTooManyRequests(w, 0)
				return
			}
			if delay := reservation.Delay(); delay > 0 {
				reservation.Cancel()
				writeTooManyRequests(w, int(delay.Seconds())+1)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP is the connection's remote address without the port.
// X-Forwarded-For is ignored: it is client-controlled and would let anyone
// pick a fresh bucket per request.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	if retryAfterSecs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "rate_limited",
		"message": "too many requests, please try again later",
	})
}
