package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildlearn/learning-session/internal/logger"
)

type orderLog struct {
	mu  sync.Mutex
	ops []string
}

func (o *orderLog) add(op string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, op)
}

func (o *orderLog) All() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.ops...)
}

func TestQueue_LaneRunsInOrderOtherLanesRunConcurrently(t *testing.T) {
	q := NewQueue(logger.Nop())
	gate := make(chan struct{})
	log := &orderLog{}

	_, err := q.Enqueue(Task{Op: OpStart, Lane: "a", Run: func(ctx context.Context) error {
		<-gate
		log.add("a1")
		return nil
	}})
	require.NoError(t, err)
	_, err = q.Enqueue(Task{Op: OpEnd, Lane: "a", Run: func(ctx context.Context) error {
		log.add("a2")
		return nil
	}})
	require.NoError(t, err)

	bDone := make(chan struct{})
	_, err = q.Enqueue(Task{Op: OpStart, Lane: "b", Run: func(ctx context.Context) error {
		log.add("b1")
		close(bDone)
		return nil
	}})
	require.NoError(t, err)

	select {
	case <-bDone:
	case <-time.After(5 * time.Second):
		t.Fatal("lane b was blocked by lane a")
	}
	assert.Equal(t, []string{"b1"}, log.All())
	assert.Eventually(t, func() bool { return q.Pending() == 2 }, 5*time.Second, time.Millisecond)

	close(gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Flush(ctx))
	assert.Equal(t, []string{"b1", "a1", "a2"}, log.All())
	assert.Zero(t, q.Pending())
}

func TestQueue_CoalescesPendingTasks(t *testing.T) {
	q := NewQueue(logger.Nop())
	gate := make(chan struct{})
	log := &orderLog{}

	_, err := q.Enqueue(Task{Lane: "a", Run: func(ctx context.Context) error {
		<-gate
		return nil
	}})
	require.NoError(t, err)

	first, err := q.Enqueue(Task{Op: OpHeartbeat, Lane: "a", Coalesce: "hb", Run: func(ctx context.Context) error {
		log.add("hb-1")
		return nil
	}})
	require.NoError(t, err)
	second, err := q.Enqueue(Task{Op: OpHeartbeat, Lane: "a", Coalesce: "hb", Run: func(ctx context.Context) error {
		log.add("hb-2")
		return nil
	}})
	require.NoError(t, err)
	assert.Equal(t, first, second, "the pending task is reused")

	close(gate)
	require.NoError(t, q.Flush(context.Background()))
	assert.Equal(t, []string{"hb-2"}, log.All(), "latest wins")
}

func TestQueue_FailedTaskDoesNotStopLane(t *testing.T) {
	q := NewQueue(logger.Nop())
	log := &orderLog{}

	_, err := q.Enqueue(Task{Lane: "a", Run: func(ctx context.Context) error {
		log.add("fail")
		return errors.New("boom")
	}})
	require.NoError(t, err)
	_, err = q.Enqueue(Task{Lane: "a", Run: func(ctx context.Context) error {
		log.add("next")
		return nil
	}})
	require.NoError(t, err)

	require.NoError(t, q.Flush(context.Background()))
	assert.Equal(t, []string{"fail", "next"}, log.All())
}

func TestQueue_FlushHonoursContext(t *testing.T) {
	q := NewQueue(logger.Nop())
	gate := make(chan struct{})
	defer close(gate)

	_, err := q.Enqueue(Task{Lane: "a", Run: func(ctx context.Context) error {
		<-gate
		return nil
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Flush(ctx), context.DeadlineExceeded)
}

func TestQueue_CloseRejectsNewTasks(t *testing.T) {
	q := NewQueue(logger.Nop())
	ran := make(chan struct{})
	_, err := q.Enqueue(Task{Lane: "a", Run: func(ctx context.Context) error {
		close(ran)
		return nil
	}})
	require.NoError(t, err)

	require.NoError(t, q.Close(context.Background()))
	<-ran

	_, err = q.Enqueue(Task{Lane: "a", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_AssignsTaskIDs(t *testing.T) {
	q := NewQueue(logger.Nop())
	a, err := q.Enqueue(Task{Lane: "a", Run: func(ctx context.Context) error { return nil }})
	require.NoError(t, err)
	b, err := q.Enqueue(Task{Lane: "b", Run: func(ctx context.Context) error { return nil }})
	require.NoError(t, err)
	c, err := q.Enqueue(Task{ID: "fixed", Lane: "c", Run: func(ctx context.Context) error { return nil }})
	require.NoError(t, err)

	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
	assert.Equal(t, "fixed", c)
	require.NoError(t, q.Flush(context.Background()))
}

func TestManualClock(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	after := c.After(2 * time.Second)
	ticker := c.NewTicker(time.Second)

	c.Advance(time.Second)
	assert.Equal(t, start.Add(time.Second), c.Now())
	select {
	case <-after:
		t.Fatal("timer fired early")
	default:
	}
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire")
	}

	c.Advance(time.Second)
	select {
	case got := <-after:
		assert.Equal(t, start.Add(2*time.Second), got)
	default:
		t.Fatal("timer did not fire")
	}

	ticker.Stop()
	<-ticker.C()
	c.Advance(5 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}

	select {
	case <-c.After(0):
	default:
		t.Fatal("zero delay should fire immediately")
	}
}
