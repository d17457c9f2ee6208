package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/buildlearn/learning-session/internal/logger"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Add(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func TestMemoryCache_Expiry(t *testing.T) {
	clock := &fakeNow{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	c := newMemoryCache[string, []string](logger.Nop(), clock.Now)

	c.Set("course-1", []string{"m-1", "m-2"}, time.Minute)
	c.Set("course-2", []string{"m-9"}, 0)

	got, ok := c.Get("course-1")
	assert.True(t, ok)
	assert.Equal(t, []string{"m-1", "m-2"}, got)
	assert.Equal(t, 2, c.Len())

	clock.Add(time.Minute)
	_, ok = c.Get("course-1")
	assert.False(t, ok, "entry expires at its deadline")
	_, ok = c.Get("course-2")
	assert.True(t, ok, "zero ttl never expires")
	assert.Equal(t, 1, c.Len())
}

func TestMemoryCache_DeleteAndClear(t *testing.T) {
	c := NewMemoryCache[string, int](logger.Nop())
	c.Set("a", 1, time.Hour)
	c.Set("b", 2, time.Hour)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
}

func TestWithTTL_OverridesSetTTL(t *testing.T) {
	clock := &fakeNow{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	c := WithTTL[string, int](newMemoryCache[string, int](logger.Nop(), clock.Now), 5*time.Minute)

	c.Set("a", 1, 0)
	clock.Add(4 * time.Minute)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
}
