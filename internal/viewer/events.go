package viewer

import (
	"context"
	"errors"
	"fmt"

	"github.com/buildlearn/learning-session/internal/content"
)

// ErrItemRenderFailure marks a single item whose renderer failed to load
var ErrItemRenderFailure = errors.New("item render failure")

// RenderError scopes a renderer failure to one item
type RenderError struct {
	ItemID string
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render item %s: %v", e.ItemID, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Is makes every RenderError match ErrItemRenderFailure
func (e *RenderError) Is(target error) bool {
	return target == ErrItemRenderFailure
}

// Media is the opaque rendering surface (video element, PDF embed, image view).
// Load receives the item so the surface can resolve its payload reference.
type Media interface {
	Load(item content.Item) error
	Play() error
	Pause() error
	Seek(sec float64) error
	SetPage(page int) error
	SetPlaybackRate(rate float64) error
	SetVolume(volume float64, muted bool) error
	RequestFullscreen(on bool) error
}

// Navigation moves the shared content cursor
type Navigation interface {
	Advance(direction int) int
}

// AssessmentResult is what the external runner reports for a test item
type AssessmentResult struct {
	Passed bool
	Score  float64
}

// AssessmentRunner runs a test item to completion
type AssessmentRunner interface {
	Run(ctx context.Context, item content.Item) (AssessmentResult, error)
}

// EventKind names a salient progress milestone
type EventKind string

const (
	EventViewed     EventKind = "viewed"
	EventSeek       EventKind = "seek"
	EventPageTurn   EventKind = "page_turn"
	EventZoom       EventKind = "zoom"
	EventMilestone  EventKind = "milestone"
	EventEnded      EventKind = "ended"
	EventAssessment EventKind = "assessment"
	EventFailed     EventKind = "render_failed"
)

// Event is sent to the progress sink on meaningful viewer changes only.
// NativePercent is valid when HasNative is set.
type Event struct {
	Kind      EventKind
	ItemKey   string
	Index     int
	Type      content.RenderableType
	HasNative bool

	NativePercent float64
	TimeSec       float64
	Page          int
	Zoom          int
	Assessment    *AssessmentResult
	Err           error
}

// ProgressSink receives viewer events; the session tracker implements it
type ProgressSink interface {
	OnProgress(Event)
}

// ProgressSinkFunc adapts a function to ProgressSink
type ProgressSinkFunc func(Event)

func (f ProgressSinkFunc) OnProgress(e Event) { f(e) }

type nopMedia struct{}

func (nopMedia) Load(content.Item) error { return nil }
func (nopMedia) Play() error { return nil }
func (nopMedia) Pause() error { return nil }
func (nopMedia) Seek(float64) error { return nil }
func (nopMedia) SetPage(int) error { return nil }
func (nopMedia) SetPlaybackRate(float64) error { return nil }
func (nopMedia) SetVolume(float64, bool) error { return nil }
func (nopMedia) RequestFullscreen(bool) error { return nil }
