// Package portal wires the content navigator, the viewer controller and the
// session tracker for one learner on one device.
package portal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/buildlearn/learning-session/internal/content"
	"github.com/buildlearn/learning-session/internal/logger"
	"github.com/buildlearn/learning-session/internal/session"
	"github.com/buildlearn/learning-session/internal/viewer"
)

// ErrClosed is returned by Open after Close
var ErrClosed = errors.New("portal closed")

// Config collects the collaborators of a Portal. Fetcher and API are required.
type Config struct {
	Fetcher content.Fetcher
	API     session.ProgressAPI
	Media   viewer.Media
	Runner  viewer.AssessmentRunner
	Journal session.Journal
	Clock   session.Clock
	Session session.Config
	Logger  *logger.Logger
}

// Portal is the learner-facing surface: navigation, viewer commands,
// visibility and explicit completion all go through it.
type Portal struct {
	nav     *content.Navigator
	viewer  *viewer.Controller
	tracker *session.Tracker
	log     *logger.Logger

	activeMu sync.Mutex
	active   *activeItem

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New builds a portal and connects its parts
func New(cfg Config) (*Portal, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("content fetcher is required")
	}
	if cfg.API == nil {
		return nil, fmt.Errorf("progress API is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	nav := content.NewNavigator(cfg.Fetcher, log)
	tracker := session.NewTracker(cfg.API, session.NewQueue(log), cfg.Clock, cfg.Session, log)
	if cfg.Journal != nil {
		tracker.SetJournal(cfg.Journal)
	}
	ctrl := viewer.NewController(nav, cfg.Media, log)
	ctrl.SetProgressSink(tracker)
	if cfg.Runner != nil {
		ctrl.SetAssessmentRunner(cfg.Runner)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Portal{
		nav:     nav,
		viewer:  ctrl,
		tracker: tracker,
		log:     log.Component("portal"),
		ctx:     ctx,
		cancel:  cancel,
	}
	nav.Subscribe(p.activate)
	tracker.OnCompletion(p.applyCompletion)
	return p, nil
}

// activeItem identifies what the viewer is showing
type activeItem struct {
	courseID string
	index    int
	key      string
	kind     content.RenderableType
}

func activeOf(pos content.Position) *activeItem {
	return &activeItem{courseID: pos.CourseID, index: pos.Index, key: pos.Item.Key(), kind: pos.Item.Type}
}

// activate runs on every cursor move. The tracker goes first so the end of the
// previous session is queued before the viewer emits anything for the new item.
// A reload that lands on the item already shown keeps the viewer state.
func (p *Portal) activate(pos content.Position) {
	p.tracker.Begin(pos)

	next := activeOf(pos)
	p.activeMu.Lock()
	same := !pos.Empty() && p.active != nil && *p.active == *next
	p.active = next
	p.activeMu.Unlock()
	if same {
		p.log.Debug("Item unchanged, keeping viewer state", map[string]interface{}{"item": next.key})
		return
	}
	p.viewer.Activate(p.ctx, pos)
}

func (p *Portal) applyCompletion(u session.CompletionUpdate) {
	if u.Confirmed {
		p.nav.ConfirmCompletion(u.ItemKey, u.Complete, u.Percent)
		return
	}
	// the index may point at a different item after a reload
	item, ok := p.nav.ItemAt(u.Index)
	if !ok || item.Key() != u.ItemKey {
		return
	}
	p.nav.MarkComplete(u.Index, u.Percent)
}

// Open loads a course and activates its current item. Reopening the same
// course with an unchanged shape keeps the learner where they were.
func (p *Portal) Open(ctx context.Context, courseID string) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if _, err := p.nav.Load(ctx, courseID); err != nil {
		return fmt.Errorf("failed to open course %s: %w", courseID, err)
	}
	p.log.Info("Course opened", map[string]interface{}{
		"course_id": courseID,
		"items":     p.nav.Len(),
		"index":     p.nav.Index(),
	})
	return nil
}

// Run drives the tracker's once-per-second tick until ctx is done
func (p *Portal) Run(ctx context.Context) error {
	return p.tracker.Run(ctx)
}

// Tick advances the session clock by one tick
func (p *Portal) Tick() {
	p.tracker.Tick()
}

// Next moves to the next item
func (p *Portal) Next() int {
	return p.nav.Advance(1)
}

// Prev moves to the previous item
func (p *Portal) Prev() int {
	return p.nav.Advance(-1)
}

// GoTo jumps to index, clamped to the sequence
func (p *Portal) GoTo(index int) int {
	return p.nav.GoTo(index)
}

// MarkComplete records the current item as complete and ends its session
func (p *Portal) MarkComplete() bool {
	return p.tracker.Complete()
}

// SetVisible forwards document visibility to the tracker
func (p *Portal) SetVisible(visible bool) {
	p.tracker.SetVisible(visible)
}

// Position returns the current position
func (p *Portal) Position() content.Position {
	return p.nav.Position()
}

// Items returns the loaded items with their cached completion
func (p *Portal) Items() []content.Item {
	return p.nav.Items()
}

// Sidebar returns the module grouping of a content-item course
func (p *Portal) Sidebar() []content.Module {
	return p.nav.Sidebar()
}

// Viewer exposes the controller for renderer callbacks and media commands
func (p *Portal) Viewer() *viewer.Controller {
	return p.viewer
}

// Session returns the active session, if any
func (p *Portal) Session() (session.Snapshot, bool) {
	return p.tracker.Current()
}

// LastSession returns the most recently ended session
func (p *Portal) LastSession() (session.Snapshot, bool) {
	return p.tracker.Last()
}

// Stats returns the tracker's commit counters
func (p *Portal) Stats() session.Stats {
	return p.tracker.Stats()
}

// Flush waits for queued commits
func (p *Portal) Flush(ctx context.Context) error {
	return p.tracker.Queue().Flush(ctx)
}

// Close is the unload path: the active session ends, pending commits are
// given until ctx expires and running assessments are cancelled.
func (p *Portal) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.tracker.Close(ctx)
	if qerr := p.tracker.Queue().Close(ctx); err == nil {
		err = qerr
	}
	p.cancel()
	p.viewer.Wait()

	stats := p.tracker.Stats()
	p.log.Info("Portal closed", map[string]interface{}{
		"sessions":     stats.Started,
		"ended":        stats.Ended,
		"failures":     stats.Failures,
		"lost_seconds": stats.LostSeconds,
	})
	return err
}
