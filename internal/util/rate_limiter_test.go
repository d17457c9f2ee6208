package util

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildlearn/learning-session/internal/logger"
)

func TestRateLimiter_BurstIsImmediate(t *testing.T) {
	rl := NewRateLimiter(time.Hour, 3, logger.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Wait(ctx), "request %d", i)
	}
}

func TestRateLimiter_WaitsOnceBurstIsSpent(t *testing.T) {
	rl := NewRateLimiter(30*time.Millisecond, 1, logger.Nop())
	ctx := context.Background()

	require.NoError(t, rl.Wait(ctx))
	start := time.Now()
	require.NoError(t, rl.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestRateLimiter_HonoursContext(t *testing.T) {
	rl := NewRateLimiter(time.Hour, 1, logger.Nop())
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.DeadlineExceeded)

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	assert.ErrorIs(t, rl.Wait(cancelled), context.Canceled)
}

func TestRateLimiter_Backoff(t *testing.T) {
	rl := NewRateLimiter(time.Second, 1, logger.Nop())

	wait := rl.OnRateLimit(0)
	assert.Equal(t, 1500*time.Millisecond, wait, "recent drop backs off by half")
	assert.Equal(t, 1500*time.Millisecond, rl.Rate())

	assert.Equal(t, 10*time.Second, rl.OnRateLimit(10*time.Second), "server hint wins when longer")

	for i := 0; i < 10; i++ {
		rl.OnRateLimit(0)
	}
	assert.Equal(t, MaxRate, rl.Rate())

	rl.ResetRate()
	assert.Equal(t, time.Second, rl.Rate())
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0, nil)
	assert.Equal(t, DefaultRate, rl.Rate())
	assert.Equal(t, DefaultBurst, rl.maxTokens)
}

func TestParseRetryAfter(t *testing.T) {
	fixed := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	orig := timeNow
	timeNow = func() time.Time { return fixed }
	defer func() { timeNow = orig }()

	tests := []struct {
		name    string
		header  string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty", header: "", want: 0},
		{name: "seconds", header: "60", want: time.Minute},
		{name: "http date", header: fixed.Add(30 * time.Second).Format(http.TimeFormat), want: 30 * time.Second},
		{name: "date in the past", header: fixed.Add(-time.Hour).Format(http.TimeFormat), want: 0},
		{name: "negative", header: "-5", wantErr: true},
		{name: "garbage", header: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRetryAfter(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
