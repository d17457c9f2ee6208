package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/buildlearn/learning-session/internal/logger"
)

// ErrQueueClosed is returned by Enqueue after Close
var ErrQueueClosed = errors.New("commit queue closed")

// Task is one background commit. Tasks sharing a Lane run one after another in
// enqueue order; different lanes run concurrently. A pending task whose
// Coalesce key matches a newer task is replaced by it.
type Task struct {
	ID       string
	Op       Op
	Lane     string
	Coalesce string
	Run      func(ctx context.Context) error
}

type lane struct {
	pending []*Task
	running bool
}

// Queue runs commits off the caller's goroutine. Callers never wait for a
// network round trip; Flush exists for shutdown and tests.
type Queue struct {
	log *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	active int
	idle   chan struct{}
}

// NewQueue creates an empty queue
func NewQueue(log *logger.Logger) *Queue {
	if log == nil {
		log = logger.Get()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		log:    log.Component("commit_queue"),
		ctx:    ctx,
		cancel: cancel,
		lanes:  make(map[string]*lane),
	}
}

// Enqueue schedules t and returns its id. It only blocks until the lane's
// worker has started, never on the task itself.
func (q *Queue) Enqueue(t Task) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	l, ok := q.lanes[t.Lane]
	if !ok {
		l = &lane{}
		q.lanes[t.Lane] = l
	}
	if t.Coalesce != "" {
		for _, p := range l.pending {
			if p.Coalesce == t.Coalesce {
				p.Run = t.Run
				q.mu.Unlock()
				q.log.Debug("Coalesced commit task", map[string]interface{}{
					"task_id":  p.ID,
					"op":       string(t.Op),
					"coalesce": t.Coalesce,
				})
				return p.ID, nil
			}
		}
	}
	task := t
	l.pending = append(l.pending, &task)
	if q.active == 0 {
		q.idle = make(chan struct{})
	}
	q.active++

	var started chan struct{}
	if !l.running {
		l.running = true
		started = make(chan struct{})
		go q.drain(t.Lane, l, started)
	}
	q.mu.Unlock()

	if started != nil {
		<-started
	}
	return task.ID, nil
}

func (q *Queue) drain(name string, l *lane, started chan struct{}) {
	close(started)
	for {
		q.mu.Lock()
		if len(l.pending) == 0 {
			l.running = false
			if q.lanes[name] == l {
				delete(q.lanes, name)
			}
			q.mu.Unlock()
			return
		}
		t := l.pending[0]
		l.pending = l.pending[1:]
		q.mu.Unlock()

		q.run(t)

		q.mu.Lock()
		q.active--
		if q.active == 0 {
			close(q.idle)
		}
		q.mu.Unlock()
	}
}

func (q *Queue) run(t *Task) {
	start := time.Now()
	err := t.Run(q.ctx)
	fields := map[string]interface{}{
		"task_id":     t.ID,
		"op":          string(t.Op),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		q.log.Warn("Commit task failed", fields)
		return
	}
	q.log.Debug("Commit task done", fields)
}

// Pending returns the number of queued or running tasks
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Flush waits until every task enqueued so far, and every task those tasks
// enqueue, has finished.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if q.active == 0 {
		q.mu.Unlock()
		return nil
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks, waits for the backlog up to ctx and then
// cancels whatever is still running.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	err := q.Flush(ctx)
	q.cancel()
	return err
}
