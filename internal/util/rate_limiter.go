// Package util holds small helpers shared by the API clients.
package util

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/buildlearn/learning-session/internal/logger"
)

var (
	// ErrRateLimited is returned when the backend keeps answering 429
	ErrRateLimited = errors.New("rate limited")
	// DefaultRate is the default minimum time between requests
	DefaultRate = 100 * time.Millisecond
	// DefaultBurst is the default burst size
	DefaultBurst = 10
	// MaxRate caps the backoff applied after repeated 429s
	MaxRate = 5 * time.Second
)

// timeNow is swapped in tests
var timeNow = time.Now

// RateLimiter is a token bucket shared by every request of one API client.
// The refill interval grows when the backend signals rate limiting.
type RateLimiter struct {
	mu        sync.Mutex
	log       *logger.Logger
	last      time.Time
	rate      time.Duration
	minRate   time.Duration
	tokens    int
	maxTokens int
	lastDrop  time.Time
}

// NewRateLimiter creates a limiter allowing one request per rate with the
// given burst. Non-positive values fall back to the defaults.
func NewRateLimiter(rate time.Duration, burst int, log *logger.Logger) *RateLimiter {
	if rate <= 0 {
		rate = DefaultRate
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	if log == nil {
		log = logger.Get()
	}
	now := timeNow()
	return &RateLimiter{
		log:       log.Component("rate_limiter"),
		last:      now,
		rate:      rate,
		minRate:   rate,
		tokens:    burst,
		maxTokens: burst,
		lastDrop:  now,
	}
}

// Wait blocks until a token is available or ctx is done
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	now := timeNow()
	if refill := int(now.Sub(r.last) / r.rate); refill > 0 {
		r.tokens = min(r.tokens+refill, r.maxTokens)
		r.last = now
	}
	if r.tokens > 0 {
		r.tokens--
		r.mu.Unlock()
		return nil
	}

	// up to 20% jitter so parallel fetches do not wake together
	wait := r.rate + time.Duration(rand.Float64()*0.2*float64(r.rate))
	next := r.last.Add(wait)
	r.last = next
	r.mu.Unlock()

	timer := time.NewTimer(next.Sub(now))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// OnRateLimit slows the limiter down after a 429 and returns how long the
// caller should back off before retrying.
func (r *RateLimiter) OnRateLimit(retryAfter time.Duration) time.Duration {
	r.mu.Lock()
	now := timeNow()
	factor := 1.2
	if now.Sub(r.lastDrop) < 5*time.Minute {
		factor = 1.5
	}
	r.rate = min(time.Duration(factor*float64(r.rate)), MaxRate)
	r.lastDrop = now
	rate := r.rate
	r.mu.Unlock()

	r.log.Warn("Rate limited, increasing delay between requests", map[string]interface{}{
		"new_rate_ms":    rate.Milliseconds(),
		"retry_after_ms": retryAfter.Milliseconds(),
	})
	return max(rate, retryAfter)
}

// ResetRate returns the limiter to its configured rate
func (r *RateLimiter) ResetRate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rate = r.minRate
}

// Rate returns the current minimum interval between requests
func (r *RateLimiter) Rate() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rate
}

// ParseRetryAfter reads a Retry-After header given either in seconds or as
// an HTTP date. Dates in the past yield zero.
func ParseRetryAfter(header string) (time.Duration, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative Retry-After: %q", header)
		}
		return time.Duration(secs) * time.Second, nil
	}
	at, err := http.ParseTime(header)
	if err != nil {
		return 0, fmt.Errorf("invalid Retry-After %q: %w", header, err)
	}
	return max(at.Sub(timeNow()), 0), nil
}
