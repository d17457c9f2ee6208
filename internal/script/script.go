// Package script replays a scripted viewing session against a portal. Each
// tick step stands for one visible or hidden second.
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/buildlearn/learning-session/internal/content"
	"github.com/buildlearn/learning-session/internal/logger"
	"github.com/buildlearn/learning-session/internal/portal"
	"github.com/buildlearn/learning-session/internal/session"
	"github.com/buildlearn/learning-session/internal/viewer"
)

// Action names a script step
type Action string

const (
	ActionOpen     Action = "open"
	ActionTick     Action = "tick"
	ActionHide     Action = "hide"
	ActionShow     Action = "show"
	ActionNext     Action = "next"
	ActionPrev     Action = "prev"
	ActionGoTo     Action = "goto"
	ActionMetadata Action = "metadata"
	ActionPlay     Action = "play"
	ActionPause    Action = "pause"
	ActionSeek     Action = "seek"
	ActionPage     Action = "page"
	ActionZoom     Action = "zoom"
	ActionSwipe    Action = "swipe"
	ActionKey      Action = "key"
	ActionComplete Action = "complete"
	ActionFlush    Action = "flush"
	ActionClose    Action = "close"
)

// ErrInvalidScript wraps every validation failure
var ErrInvalidScript = errors.New("invalid script")

// Step is one scripted learner action
type Step struct {
	Action    Action  `yaml:"action"`
	Course    string  `yaml:"course,omitempty"`
	Count     int     `yaml:"count,omitempty"`
	Index     int     `yaml:"index,omitempty"`
	Seconds   float64 `yaml:"seconds,omitempty"`
	Duration  float64 `yaml:"duration,omitempty"`
	Pages     int     `yaml:"pages,omitempty"`
	Page      string  `yaml:"page,omitempty"`
	Zoom      int     `yaml:"zoom,omitempty"`
	Direction string  `yaml:"direction,omitempty"`
	Key       string  `yaml:"key,omitempty"`
}

// Script is a named list of steps
type Script struct {
	Name   string `yaml:"name"`
	Course string `yaml:"course"`
	Steps  []Step `yaml:"steps"`
}

// Load reads and validates a script file
func Load(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and validates a script. Unknown fields are rejected.
func Parse(r io.Reader) (*Script, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks every step. A script that never opens a course needs a
// top-level course, which is opened first.
func (s *Script) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidScript)
	}
	opened := s.Course != ""
	for i, st := range s.Steps {
		if err := st.validate(); err != nil {
			return fmt.Errorf("%w: step %d (%s): %v", ErrInvalidScript, i+1, st.Action, err)
		}
		if st.Action == ActionOpen {
			opened = true
		}
	}
	if !opened {
		return fmt.Errorf("%w: no course to open", ErrInvalidScript)
	}
	return nil
}

func (st Step) validate() error {
	switch st.Action {
	case ActionOpen:
		if st.Course == "" {
			return errors.New("course is required")
		}
	case ActionTick:
		if st.Count < 0 {
			return errors.New("count must not be negative")
		}
	case ActionSwipe:
		if viewer.ParseSwipe(st.Direction) == viewer.SwipeNone {
			return fmt.Errorf("unknown direction %q", st.Direction)
		}
	case ActionKey:
		if st.Key == "" {
			return errors.New("key is required")
		}
	case ActionPage:
		if st.Page == "" {
			return errors.New("page is required")
		}
	case ActionHide, ActionShow, ActionNext, ActionPrev, ActionGoTo, ActionMetadata,
		ActionPlay, ActionPause, ActionSeek, ActionZoom, ActionComplete, ActionFlush, ActionClose:
	default:
		return errors.New("unknown action")
	}
	return nil
}

// Report summarises a replay
type Report struct {
	Name     string          `json:"name"`
	Steps    int             `json:"steps"`
	Ticks    int             `json:"ticks"`
	Position int             `json:"position"`
	Stats    session.Stats   `json:"stats"`
	Items    []ItemReport    `json:"items"`
	Last     *SessionSummary `json:"last_session,omitempty"`
}

// ItemReport is the cached completion of one item after the replay
type ItemReport struct {
	Order     int     `json:"order"`
	Title     string  `json:"title"`
	Type      string  `json:"type"`
	Percent   float64 `json:"percent"`
	Complete  bool    `json:"complete"`
	Confirmed bool    `json:"confirmed"`
}

// SessionSummary describes the last ended session
type SessionSummary struct {
	Item           string  `json:"item"`
	Status         string  `json:"status"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	Percent        float64 `json:"percent"`
}

// Runner executes scripts against one portal
type Runner struct {
	portal *portal.Portal
	clock  *session.ManualClock
	tick   time.Duration
	flush  time.Duration
	log    *logger.Logger
}

// NewRunner creates a runner. When clock is set it is advanced by tick
// so recorded timestamps follow the script rather than the wall clock.
func NewRunner(p *portal.Portal, clock *session.ManualClock, tick time.Duration, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Get()
	}
	if tick <= 0 {
		tick = time.Second
	}
	return &Runner{
		portal: p,
		clock:  clock,
		tick:   tick,
		flush:  30 * time.Second,
		log:    log.Component("script"),
	}
}

// Run executes s step by step. It stops at the first step that fails and
// always waits for pending commits before returning.
func (r *Runner) Run(ctx context.Context, s *Script) (*Report, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	rep := &Report{Name: s.Name}

	steps := s.Steps
	if s.Course != "" && (len(steps) == 0 || steps[0].Action != ActionOpen) {
		steps = append([]Step{{Action: ActionOpen, Course: s.Course}}, steps...)
	}

	var runErr error
	for i, st := range steps {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		r.log.Debug("Running step", map[string]interface{}{
			"step":   i + 1,
			"action": string(st.Action),
		})
		n, err := r.step(ctx, st)
		rep.Ticks += n
		rep.Steps++
		if err != nil {
			runErr = fmt.Errorf("step %d (%s): %w", i+1, st.Action, err)
			break
		}
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.flush)
	defer cancel()
	if err := r.portal.Flush(flushCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("waiting for commits: %w", err)
	}

	r.fill(rep)
	r.log.Info("Script finished", map[string]interface{}{
		"name":     s.Name,
		"steps":    rep.Steps,
		"ticks":    rep.Ticks,
		"sessions": rep.Stats.Started,
		"failures": rep.Stats.Failures,
	})
	return rep, runErr
}

func (r *Runner) step(ctx context.Context, st Step) (int, error) {
	v := r.portal.Viewer()
	switch st.Action {
	case ActionOpen:
		return 0, r.portal.Open(ctx, st.Course)
	case ActionTick:
		count := st.Count
		if count == 0 {
			count = 1
		}
		for i := 0; i < count; i++ {
			if r.clock != nil {
				r.clock.Advance(r.tick)
			}
			r.portal.Tick()
		}
		return count, nil
	case ActionHide:
		r.portal.SetVisible(false)
	case ActionShow:
		r.portal.SetVisible(true)
	case ActionNext:
		r.portal.Next()
	case ActionPrev:
		r.portal.Prev()
	case ActionGoTo:
		r.portal.GoTo(st.Index)
	case ActionMetadata:
		v.OnLoadedMetadata(st.Duration, st.Pages)
	case ActionPlay:
		v.Play()
	case ActionPause:
		v.Pause()
	case ActionSeek:
		v.Seek(st.Seconds)
	case ActionPage:
		if !v.EnterPage(st.Page) {
			r.log.Warn("Ignoring unparsable page", map[string]interface{}{"page": st.Page})
		}
	case ActionZoom:
		v.SetZoom(st.Zoom)
	case ActionSwipe:
		v.HandleSwipe(viewer.ParseSwipe(st.Direction))
	case ActionKey:
		v.HandleKey(st.Key)
	case ActionComplete:
		r.portal.MarkComplete()
	case ActionFlush:
		return 0, r.portal.Flush(ctx)
	case ActionClose:
		return 0, r.portal.Close(ctx)
	}
	return 0, nil
}

func (r *Runner) fill(rep *Report) {
	rep.Stats = r.portal.Stats()
	rep.Position = r.portal.Position().Index
	for _, it := range r.portal.Items() {
		rep.Items = append(rep.Items, itemReport(it))
	}
	if last, ok := r.portal.LastSession(); ok {
		rep.Last = &SessionSummary{
			Item:           last.ItemKey,
			Status:         string(last.Status),
			ElapsedSeconds: last.ElapsedSeconds,
			Percent:        last.Percent,
		}
	}
}

func itemReport(it content.Item) ItemReport {
	return ItemReport{
		Order:     it.Order,
		Title:     it.Title,
		Type:      string(it.Type),
		Percent:   it.Completion.Percent,
		Complete:  it.Completion.IsComplete,
		Confirmed: it.Completion.Confirmed,
	}
}
