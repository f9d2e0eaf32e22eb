// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/stravigor/oauth2/internal/config"
	"golang.org/x/time/rate"
)

// bucket manages per-IP limiters for a single named rate-limit bucket
// (e.g. "authorize" or "token").
type bucket struct {
	ips   map[string]*rate.Limiter
	mu    sync.RWMutex
	rps   rate.Limit
	burst int
}

func newBucket(cfg config.RateLimitBucket) *bucket {
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	rps := rate.Limit(float64(cfg.Max) / window.Seconds())
	return &bucket{
		ips:   make(map[string]*rate.Limiter),
		rps:   rps,
		burst: cfg.Max,
	}
}

func (b *bucket) limiterFor(ip string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	limiter, exists := b.ips[ip]
	if !exists {
		limiter = rate.NewLimiter(b.rps, b.burst)
		b.ips[ip] = limiter
	}
	return limiter
}

func (b *bucket) reset() {
	b.mu.Lock()
	b.ips = make(map[string]*rate.Limiter)
	b.mu.Unlock()
}

// RateLimiter holds one bucket per protected endpoint, each with its own
// rate and burst, keyed by client IP.
type RateLimiter struct {
	buckets         map[string]*bucket
	cleanupInterval time.Duration
}

// NewRateLimiter builds a RateLimiter with an "authorize" and a "token"
// bucket, configured per the server's rate-limit settings.
func NewRateLimiter(authorize, token config.RateLimitBucket) *RateLimiter {
	rl := &RateLimiter{
		buckets: map[string]*bucket{
			"authorize": newBucket(authorize),
			"token":     newBucket(token),
		},
		cleanupInterval: 10 * time.Minute,
	}

	go rl.cleanup()

	return rl
}

// cleanup periodically clears every bucket's IP map to bound memory from
// drive-by callers. Active callers get a fresh limiter on their next
// request.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	for range ticker.C {
		for _, b := range rl.buckets {
			b.reset()
		}
	}
}

// RateLimitMiddleware creates a middleware enforcing the named bucket's
// limit per client IP. A bucket name with no matching configuration lets
// every request through.
func RateLimitMiddleware(rl *RateLimiter, name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, ok := rl.buckets[name]
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			ip := getClientIP(r)
			if !b.limiterFor(ip).Allow() {
				respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the caller's IP, honoring a reverse proxy's
// X-Forwarded-For header.
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}
