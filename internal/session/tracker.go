package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/buildlearn/learning-session/internal/content"
	"github.com/buildlearn/learning-session/internal/logger"
	"github.com/buildlearn/learning-session/internal/viewer"
)

// Status is the lifecycle state of a learning session
type Status string

const (
	StatusIdle     Status = "idle"
	StatusStarting Status = "starting"
	StatusOpen     Status = "open"
	StatusEnding   Status = "ending"
	StatusClosed   Status = "closed"
	StatusFailed   Status = "failed"
)

// Config holds the tracker's timing knobs
type Config struct {
	TickInterval      time.Duration
	HeartbeatInterval time.Duration
	HiddenExitAfter   time.Duration
	StartRetryDelay   time.Duration
}

// DefaultConfig returns the production timings
func DefaultConfig() Config {
	return Config{
		TickInterval:      time.Second,
		HeartbeatInterval: time.Minute,
		HiddenExitAfter:   10 * time.Minute,
		StartRetryDelay:   3 * time.Second,
	}
}

// CompletionUpdate carries a new completion value for one item. Confirmed
// values come from the server; the rest are optimistic display hints.
type CompletionUpdate struct {
	ItemKey   string
	Index     int
	Percent   float64
	Complete  bool
	Confirmed bool
}

// CompletionFunc receives completion updates in production order
type CompletionFunc func(CompletionUpdate)

// Stats counts commit outcomes for operational visibility
type Stats struct {
	Started     int `json:"started"`
	Opened      int `json:"opened"`
	Ended       int `json:"ended"`
	Heartbeats  int `json:"heartbeats"`
	Failures    int `json:"failures"`
	LostSeconds int `json:"lost_seconds"`
}

// Snapshot is a read-only view of one session
type Snapshot struct {
	Generation      uint64
	Subject         Subject
	ItemKey         string
	Index           int
	Total           int
	Status          Status
	SessionID       string
	LocalOnly       bool
	StartedAt       time.Time
	ServerStartedAt time.Time
	ElapsedSeconds  int
	Percent         float64
}

type record struct {
	gen     uint64
	pos     content.Position
	subject Subject
	itemKey string

	status          Status
	sessionID       string
	localOnly       bool
	retried         bool
	startedAt       time.Time
	serverStartedAt time.Time

	elapsed   int
	sinceBeat int
	percent   float64

	done chan struct{}
}

func (r *record) ticking() bool {
	switch r.status {
	case StatusStarting, StatusOpen:
		return true
	case StatusFailed:
		return r.localOnly
	}
	return false
}

func (r *record) snapshot() Snapshot {
	return Snapshot{
		Generation:      r.gen,
		Subject:         r.subject,
		ItemKey:         r.itemKey,
		Index:           r.pos.Index,
		Total:           r.pos.Total,
		Status:          r.status,
		SessionID:       r.sessionID,
		LocalOnly:       r.localOnly,
		StartedAt:       r.startedAt,
		ServerStartedAt: r.serverStartedAt,
		ElapsedSeconds:  r.elapsed,
		Percent:         r.percent,
	}
}

// Tracker owns at most one open learning session. It counts visible seconds,
// commits start/heartbeat/end calls through the queue and never blocks the
// caller on the network.
type Tracker struct {
	api   ProgressAPI
	queue *Queue
	clock Clock
	cfg   Config
	log   *logger.Logger

	mu          sync.Mutex
	journal     Journal
	listeners   []CompletionFunc
	gen         uint64
	cur         *record
	last        *record
	visible     bool
	hiddenTicks int
	resume      *content.Position
	stats       Stats
}

var _ viewer.ProgressSink = (*Tracker)(nil)

// NewTracker creates a tracker. A nil clock means the system clock.
func NewTracker(api ProgressAPI, queue *Queue, clock Clock, cfg Config, log *logger.Logger) *Tracker {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = logger.Get()
	}
	if queue == nil {
		queue = NewQueue(log)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Tracker{
		api:     api,
		queue:   queue,
		clock:   clock,
		cfg:     cfg,
		log:     log.Component("session_tracker"),
		visible: true,
	}
}

// SetJournal attaches an optional commit ledger
func (t *Tracker) SetJournal(j Journal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.journal = j
}

// OnCompletion registers fn for completion updates. fn runs with the tracker
// locked and must not call back into it.
func (t *Tracker) OnCompletion(fn CompletionFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Queue returns the commit queue
func (t *Tracker) Queue() *Queue {
	return t.queue
}

// Begin is called when an item becomes active. The previous session, if any,
// is ended first; its end call is queued before the new start call.
func (t *Tracker) Begin(pos content.Position) {
	var updates []CompletionUpdate
	t.mu.Lock()
	t.resume = nil
	if t.cur != nil && !pos.Empty() && t.cur.pos.CourseID == pos.CourseID && t.cur.itemKey == pos.Item.Key() {
		// same item after a reload; only its place in the sequence may have moved
		t.cur.pos = pos
		t.mu.Unlock()
		return
	}
	if t.cur != nil {
		updates = append(updates, t.endLocked(ReasonNavigate))
	}
	if !pos.Empty() {
		t.startLocked(pos)
	}
	t.publishLocked(updates...)
	t.mu.Unlock()
}

// End closes the current session. It reports false when none was active.
func (t *Tracker) End(reason EndReason) bool {
	t.mu.Lock()
	if t.cur == nil {
		t.mu.Unlock()
		return false
	}
	t.publishLocked(t.endLocked(reason))
	t.mu.Unlock()
	return true
}

// Complete is the explicit mark-complete path: the item is recorded at 100%,
// the mark-complete call is queued and the session ends.
func (t *Tracker) Complete() bool {
	t.mu.Lock()
	rec := t.cur
	if rec == nil {
		t.mu.Unlock()
		return false
	}
	rec.percent = 100
	if rec.subject.Valid() {
		t.enqueueLocked(Task{
			Op:   OpComplete,
			Lane: rec.subject.Key(),
			Run:  func(ctx context.Context) error { return t.runComplete(ctx, rec) },
		})
	}
	t.publishLocked(t.endLocked(ReasonComplete))
	t.mu.Unlock()
	return true
}

// Close ends the current session as an unload and waits for pending commits
func (t *Tracker) Close(ctx context.Context) error {
	t.End(ReasonUnload)
	return t.queue.Flush(ctx)
}

// SetVisible records document visibility. Becoming visible after a hidden
// exit opens a fresh session for the same item.
func (t *Tracker) SetVisible(visible bool) {
	t.mu.Lock()
	if t.visible == visible {
		t.mu.Unlock()
		return
	}
	t.visible = visible
	t.hiddenTicks = 0
	resume := t.resume
	if visible {
		t.resume = nil
	}
	t.mu.Unlock()

	t.log.Debug("Visibility changed", map[string]interface{}{"visible": visible})
	if visible && resume != nil {
		t.log.Info("Resuming after hidden exit", map[string]interface{}{"item": resume.Item.Key()})
		t.Begin(*resume)
	}
}

// Visible reports the last visibility seen
func (t *Tracker) Visible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

// Tick advances the session by one tick interval. Elapsed time only grows
// while visible; a long enough hidden stretch ends the session.
func (t *Tracker) Tick() {
	t.mu.Lock()
	if !t.visible {
		t.hiddenTicks++
		if t.cur != nil && t.cfg.HiddenExitAfter > 0 &&
			time.Duration(t.hiddenTicks)*t.cfg.TickInterval >= t.cfg.HiddenExitAfter {
			pos := t.cur.pos
			t.publishLocked(t.endLocked(ReasonHidden))
			t.resume = &pos
		}
		t.mu.Unlock()
		return
	}

	rec := t.cur
	if rec == nil || !rec.ticking() {
		t.mu.Unlock()
		return
	}
	rec.elapsed++
	if rec.status == StatusOpen && t.cfg.HeartbeatInterval > 0 {
		rec.sinceBeat++
		if time.Duration(rec.sinceBeat)*t.cfg.TickInterval >= t.cfg.HeartbeatInterval {
			rec.sinceBeat = 0
			t.heartbeatLocked(rec)
		}
	}
	t.mu.Unlock()
}

// Run drives Tick from the clock until ctx is done
func (t *Tracker) Run(ctx context.Context) error {
	ticker := t.clock.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			t.Tick()
		}
	}
}

// OnProgress folds viewer milestones into the recorded percent. The recorded
// value never decreases within a session.
func (t *Tracker) OnProgress(ev viewer.Event) {
	t.mu.Lock()
	rec := t.cur
	if rec == nil || rec.itemKey != ev.ItemKey {
		t.mu.Unlock()
		return
	}
	if ev.Kind == viewer.EventFailed {
		t.mu.Unlock()
		t.log.Debug("Viewer reported item failure", map[string]interface{}{"item": ev.ItemKey})
		return
	}
	if !ev.HasNative || ev.NativePercent <= rec.percent {
		t.mu.Unlock()
		return
	}
	rec.percent = clampPercent(ev.NativePercent)
	if ev.Kind == viewer.EventAssessment {
		t.publishLocked(CompletionUpdate{
			ItemKey:  rec.itemKey,
			Index:    rec.pos.Index,
			Percent:  rec.percent,
			Complete: rec.percent >= 100,
		})
	}
	t.mu.Unlock()
}

// Current returns the active session
func (t *Tracker) Current() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return Snapshot{Status: StatusIdle}, false
	}
	return t.cur.snapshot(), true
}

// Last returns the most recently ended session
func (t *Tracker) Last() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return Snapshot{}, false
	}
	return t.last.snapshot(), true
}

// Stats returns the commit counters
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *Tracker) startLocked(pos content.Position) {
	t.gen++
	rec := &record{
		gen:       t.gen,
		pos:       pos,
		subject:   SubjectFor(pos),
		itemKey:   pos.Item.Key(),
		status:    StatusStarting,
		startedAt: t.clock.Now(),
		percent:   max(positionPercent(pos.Index, pos.Total), clampPercent(pos.Item.Completion.Percent)),
		done:      make(chan struct{}),
	}
	t.cur = rec
	t.stats.Started++

	if !rec.subject.Valid() {
		rec.status = StatusFailed
		rec.localOnly = true
		t.log.Warn("Item has no server subject, tracking locally", map[string]interface{}{"item": rec.itemKey})
		return
	}

	t.log.Debug("Starting session", map[string]interface{}{
		"item":       rec.itemKey,
		"generation": rec.gen,
	})
	t.enqueueLocked(Task{
		Op:   OpStart,
		Lane: rec.subject.Key(),
		Run:  func(ctx context.Context) error { return t.runStart(ctx, rec, OpStart) },
	})
}

func (t *Tracker) runStart(ctx context.Context, rec *record, op Op) error {
	res, err := t.api.StartSession(ctx, rec.subject)
	if err == nil && (res == nil || res.SessionID == "") {
		err = errors.New("start response carried no session id")
	}

	t.mu.Lock()
	stale := t.cur != rec
	if err != nil {
		t.stats.Failures++
		if !stale {
			rec.status = StatusFailed
			rec.localOnly = true
			if !rec.retried {
				rec.retried = true
				t.enqueueLocked(Task{
					Op:   OpRetry,
					Lane: rec.subject.Key(),
					Run:  func(ctx context.Context) error { return t.runRetry(ctx, rec) },
				})
			}
		}
		t.mu.Unlock()

		cerr := &SessionCommitError{Op: op, Subject: rec.subject, Err: err}
		t.write(ctx, JournalEntry{Op: op, Subject: rec.subject, Err: cerr})
		return cerr
	}
	if stale {
		t.mu.Unlock()
		t.log.Debug("Discarding stale start response", map[string]interface{}{
			"item":       rec.itemKey,
			"generation": rec.gen,
			"session_id": res.SessionID,
		})
		t.write(ctx, JournalEntry{Op: op, Subject: rec.subject, SessionID: res.SessionID, Stale: true})
		return nil
	}
	rec.status = StatusOpen
	rec.localOnly = false
	rec.sessionID = res.SessionID
	rec.serverStartedAt = res.ServerStartedAt
	t.stats.Opened++
	t.mu.Unlock()

	t.log.Info("Learning session open", map[string]interface{}{
		"item":       rec.itemKey,
		"session_id": res.SessionID,
	})
	t.write(ctx, JournalEntry{Op: op, Subject: rec.subject, SessionID: res.SessionID})
	return nil
}

func (t *Tracker) runRetry(ctx context.Context, rec *record) error {
	select {
	case <-t.clock.After(t.cfg.StartRetryDelay):
	case <-rec.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	t.mu.Lock()
	active := t.cur == rec
	t.mu.Unlock()
	if !active {
		return nil
	}
	return t.runStart(ctx, rec, OpRetry)
}

// endLocked detaches the current session and queues its end call
func (t *Tracker) endLocked(reason EndReason) CompletionUpdate {
	rec := t.cur
	t.cur = nil
	t.last = rec
	close(rec.done)

	req := EndRequest{
		SessionID:         rec.sessionID,
		Subject:           rec.subject,
		ElapsedSeconds:    rec.elapsed,
		ElapsedMinutes:    wholeMinutes(rec.elapsed),
		CompletionPercent: rec.percent,
		Reason:            reason,
	}
	upd := CompletionUpdate{
		ItemKey:  rec.itemKey,
		Index:    rec.pos.Index,
		Percent:  rec.percent,
		Complete: rec.percent >= 100,
	}

	t.log.Info("Ending learning session", map[string]interface{}{
		"item":            rec.itemKey,
		"reason":          string(reason),
		"elapsed_seconds": rec.elapsed,
		"percent":         rec.percent,
		"session_id":      rec.sessionID,
	})

	rec.status = StatusEnding
	if !rec.subject.Valid() {
		rec.status = StatusFailed
		t.stats.LostSeconds += rec.elapsed
		return upd
	}
	err := t.enqueueLocked(Task{
		Op:   OpEnd,
		Lane: rec.subject.Key(),
		Run:  func(ctx context.Context) error { return t.runEnd(ctx, rec, req) },
	})
	if err != nil {
		rec.status = StatusFailed
		t.stats.Failures++
		t.stats.LostSeconds += rec.elapsed
	}
	return upd
}

func (t *Tracker) runEnd(ctx context.Context, rec *record, req EndRequest) error {
	res, err := t.api.EndSession(ctx, req)

	t.mu.Lock()
	if err != nil {
		rec.status = StatusFailed
		t.stats.Failures++
		t.stats.LostSeconds += req.ElapsedSeconds
	} else {
		rec.status = StatusClosed
		t.stats.Ended++
		if res != nil {
			t.publishLocked(CompletionUpdate{
				ItemKey:   rec.itemKey,
				Index:     rec.pos.Index,
				Percent:   clampPercent(res.ConfirmedPercent),
				Complete:  res.ConfirmedComplete,
				Confirmed: true,
			})
		}
	}
	t.mu.Unlock()

	entry := JournalEntry{
		Op:             OpEnd,
		Subject:        req.Subject,
		SessionID:      req.SessionID,
		ElapsedSeconds: req.ElapsedSeconds,
		Percent:        req.CompletionPercent,
		Reason:         req.Reason,
	}
	if err != nil {
		cerr := &SessionCommitError{Op: OpEnd, Subject: req.Subject, Err: err}
		entry.Err = cerr
		entry.Lost = true
		t.write(ctx, entry)
		return cerr
	}
	t.write(ctx, entry)
	return nil
}

func (t *Tracker) heartbeatLocked(rec *record) {
	id := rec.sessionID
	hb := Heartbeat{ElapsedSeconds: rec.elapsed, CompletionPercent: rec.percent}
	subject := rec.subject
	t.enqueueLocked(Task{
		Op:       OpHeartbeat,
		Lane:     subject.Key(),
		Coalesce: "heartbeat:" + id,
		Run: func(ctx context.Context) error {
			err := t.api.UpdateSession(ctx, id, hb)
			t.mu.Lock()
			if err != nil {
				t.stats.Failures++
			} else {
				t.stats.Heartbeats++
			}
			t.mu.Unlock()

			entry := JournalEntry{Op: OpHeartbeat, Subject: subject, SessionID: id, ElapsedSeconds: hb.ElapsedSeconds, Percent: hb.CompletionPercent}
			if err != nil {
				cerr := &SessionCommitError{Op: OpHeartbeat, Subject: subject, Err: err}
				entry.Err = cerr
				t.write(ctx, entry)
				return cerr
			}
			t.write(ctx, entry)
			return nil
		},
	})
}

func (t *Tracker) runComplete(ctx context.Context, rec *record) error {
	err := t.api.MarkItemComplete(ctx, rec.subject.CourseID, rec.subject.ItemID())
	entry := JournalEntry{Op: OpComplete, Subject: rec.subject, SessionID: rec.sessionID, Percent: 100}
	if err != nil {
		t.mu.Lock()
		t.stats.Failures++
		t.mu.Unlock()
		cerr := &SessionCommitError{Op: OpComplete, Subject: rec.subject, Err: err}
		entry.Err = cerr
		t.write(ctx, entry)
		return cerr
	}
	t.mu.Lock()
	t.publishLocked(CompletionUpdate{
		ItemKey:   rec.itemKey,
		Index:     rec.pos.Index,
		Percent:   100,
		Complete:  true,
		Confirmed: true,
	})
	t.mu.Unlock()
	t.write(ctx, entry)
	return nil
}

func (t *Tracker) enqueueLocked(task Task) error {
	if _, err := t.queue.Enqueue(task); err != nil {
		t.log.Warn("Commit not queued", map[string]interface{}{
			"op":    string(task.Op),
			"error": err.Error(),
		})
		return err
	}
	return nil
}

// publishLocked delivers updates in the order the tracker produced them
func (t *Tracker) publishLocked(updates ...CompletionUpdate) {
	for _, u := range updates {
		for _, fn := range t.listeners {
			fn(u)
		}
	}
}

func (t *Tracker) write(ctx context.Context, e JournalEntry) {
	t.mu.Lock()
	j := t.journal
	t.mu.Unlock()
	if j == nil {
		return
	}
	if e.At.IsZero() {
		e.At = t.clock.Now()
	}
	if err := j.Record(ctx, e); err != nil {
		t.log.Warn("Failed to write commit ledger", map[string]interface{}{
			"op":    string(e.Op),
			"error": err.Error(),
		})
	}
}

func positionPercent(index, total int) float64 {
	if total <= 0 {
		return 0
	}
	return clampPercent(float64(index+1) / float64(total) * 100)
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
