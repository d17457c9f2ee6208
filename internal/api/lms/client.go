// Package lms is the REST client for the learning management backend. It
// serves course content to the navigator and session commits to the tracker.
package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/buildlearn/learning-session/internal/cache"
	"github.com/buildlearn/learning-session/internal/content"
	"github.com/buildlearn/learning-session/internal/logger"
	"github.com/buildlearn/learning-session/internal/session"
	"github.com/buildlearn/learning-session/internal/util"
)

const (
	apiPath = "/api"

	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 2
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultModuleTTL  = 5 * time.Minute
)

// Config holds the client settings
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	RateLimit  time.Duration
	Burst      int
	ModuleTTL  time.Duration
}

// DefaultConfig returns a config with the default timings and no endpoint
func DefaultConfig() Config {
	return Config{
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
		RateLimit:  util.DefaultRate,
		Burst:      util.DefaultBurst,
		ModuleTTL:  DefaultModuleTTL,
	}
}

// HTTPError is a non-2xx answer from the backend
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status code %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request can succeed
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to the LMS REST API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *util.RateLimiter
	maxRetries int
	retryDelay time.Duration
	modules    cache.Cache[string, []content.Module]
	logger     *logger.Logger
}

var (
	_ content.Fetcher         = (*Client)(nil)
	_ content.ModuleRefresher = (*Client)(nil)
	_ session.ProgressAPI     = (*Client)(nil)
)

// NewClient creates a client. Zero config values take the defaults.
func NewClient(cfg Config, log *logger.Logger) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.ModuleTTL <= 0 {
		cfg.ModuleTTL = def.ModuleTTL
	}
	if log == nil {
		log = logger.Get()
	}
	log = log.Component("lms_client")

	log.Debug("Creating LMS client", map[string]interface{}{
		"base_url":    cfg.BaseURL,
		"timeout":     cfg.Timeout.String(),
		"max_retries": cfg.MaxRetries,
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    util.NewRateLimiter(cfg.RateLimit, cfg.Burst, log),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		modules: cache.WithTTL[string, []content.Module](
			cache.NewMemoryCache[string, []content.Module](log),
			cfg.ModuleTTL,
		),
		logger: log,
	}
}

// authHeader returns the Authorization value, adding the Bearer prefix if missing
func (c *Client) authHeader() string {
	if c.token == "" || strings.HasPrefix(c.token, "Bearer ") {
		return c.token
	}
	return "Bearer " + c.token
}

// do sends one API call with rate limiting and retries. Every attempt of the
// same call carries the same X-Request-ID so the backend can deduplicate.
func (c *Client) do(ctx context.Context, method, endpoint string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}
	requestID := uuid.NewString()
	log := c.logger.With(map[string]interface{}{
		"method":     method,
		"endpoint":   endpoint,
		"request_id": requestID,
	})

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(attempt)
			var herr *HTTPError
			if errors.As(lastErr, &herr) && herr.StatusCode == http.StatusTooManyRequests {
				delay = c.limiter.OnRateLimit(retryAfterOf(lastErr))
			}
			log.Debug("Retrying request", map[string]interface{}{
				"attempt":  attempt,
				"delay_ms": delay.Milliseconds(),
				"error":    lastErr.Error(),
			})
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		body, err := c.roundTrip(ctx, method, endpoint, requestID, payload)
		if err == nil {
			if attempt > 0 {
				c.limiter.ResetRate()
			}
			if out == nil || len(bytes.TrimSpace(body)) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				log.Error("Failed to decode response", map[string]interface{}{"error": err.Error()})
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}

	log.Warn("Request failed", map[string]interface{}{"error": lastErr.Error()})
	return lastErr
}

type retryAfterError struct {
	*HTTPError
	after time.Duration
}

func (e *retryAfterError) Unwrap() error { return e.HTTPError }

func retryAfterOf(err error) time.Duration {
	var ra *retryAfterError
	if errors.As(err, &ra) {
		return ra.after
	}
	return 0
}

func retryable(err error) bool {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.Temporary()
	}
	// transport errors
	return true
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint, requestID string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPath+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if auth := c.authHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		herr := &HTTPError{
			Method:     method,
			Path:       endpoint,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), 512),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			after, _ := util.ParseRetryAfter(resp.Header.Get("Retry-After"))
			return nil, &retryAfterError{HTTPError: herr, after: after}
		}
		return nil, herr
	}
	return body, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func escape(id string) string {
	return url.PathEscape(id)
}
