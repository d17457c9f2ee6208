package viewer

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/buildlearn/learning-session/internal/content"
	"github.com/buildlearn/learning-session/internal/logger"
)

// Status is the controller's coarse state for the active item
type Status string

const (
	StatusIdle        Status = "idle"
	StatusEmpty       Status = "empty"
	StatusReady       Status = "ready"
	StatusUnavailable Status = "unavailable"
)

// ErrNoAssessmentRunner is reported for test items when no runner is wired
var ErrNoAssessmentRunner = errors.New("no assessment runner configured")

// Snapshot is a copy of the viewer state for display and tests
type Snapshot struct {
	Status        Status
	Index         int
	Total         int
	Item          content.Item
	Video         VideoState
	PDF           PDFState
	Image         ImageState
	ChromeVisible bool
	Assessment    *AssessmentResult
	Err           error
}

// Controller owns the ViewerState of the active item. Nothing else writes it;
// the tracker and the navigator only see the events it emits.
type Controller struct {
	nav   Navigation
	media Media
	log   *logger.Logger

	mu         sync.Mutex
	sink       ProgressSink
	runner     AssessmentRunner
	gen        uint64
	status     Status
	pos        content.Position
	video      VideoState
	pdf        PDFState
	image      ImageState
	chrome     bool
	quartile   int
	assessment *AssessmentResult
	err        error
	cancelRun  context.CancelFunc

	runs sync.WaitGroup
}

// NewController creates a controller driving media and moving nav on gestures.
// A nil media is replaced by a surface that accepts every command.
func NewController(nav Navigation, media Media, log *logger.Logger) *Controller {
	if media == nil {
		media = nopMedia{}
	}
	if log == nil {
		log = logger.Get()
	}
	return &Controller{
		nav:    nav,
		media:  media,
		log:    log.Component("viewer"),
		status: StatusIdle,
		chrome: true,
		video:  NewVideoState(),
		pdf:    NewPDFState(),
		image:  NewImageState(),
	}
}

// SetProgressSink sets the receiver of progress events
func (c *Controller) SetProgressSink(sink ProgressSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// SetAssessmentRunner sets the runner used for test items
func (c *Controller) SetAssessmentRunner(runner AssessmentRunner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runner = runner
}

// Activate switches the controller to the item at pos. All renderer state is
// reset to defaults; an in-flight assessment for the previous item is cancelled.
func (c *Controller) Activate(ctx context.Context, pos content.Position) {
	c.mu.Lock()
	if c.cancelRun != nil {
		c.cancelRun()
		c.cancelRun = nil
	}
	c.gen++
	gen := c.gen
	c.pos = pos
	c.video = NewVideoState()
	c.pdf = NewPDFState()
	c.image = NewImageState()
	c.chrome = true
	c.quartile = 0
	c.assessment = nil
	c.err = nil

	if pos.Empty() {
		c.status = StatusEmpty
		c.mu.Unlock()
		c.log.Info("No content for course", map[string]interface{}{"course_id": pos.CourseID})
		return
	}
	c.status = StatusReady

	item := pos.Item
	runner := c.runner
	var runCtx context.Context
	if item.Type == content.RenderTest && runner != nil {
		runCtx, c.cancelRun = context.WithCancel(ctx)
	}
	c.mu.Unlock()

	c.log.Debug("Activating item", map[string]interface{}{
		"item":  item.Key(),
		"type":  string(item.Type),
		"index": pos.Index,
	})

	if item.Type == content.RenderTest {
		if runner == nil {
			c.fail(gen, ErrNoAssessmentRunner)
			return
		}
		c.runs.Add(1)
		go c.runAssessment(runCtx, gen, item, runner)
		return
	}

	if err := c.media.Load(item); err != nil {
		c.fail(gen, err)
		return
	}

	if item.Type == content.RenderInteractive {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		ev := c.eventLocked(EventViewed)
		ev.HasNative, ev.NativePercent = true, 100
		c.mu.Unlock()
		c.emit(ev)
	}
}

func (c *Controller) runAssessment(ctx context.Context, gen uint64, item content.Item, runner AssessmentRunner) {
	defer c.runs.Done()

	res, err := runner.Run(ctx, item)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		c.fail(gen, err)
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.assessment = &res
	ev := c.eventLocked(EventAssessment)
	ev.Assessment = &res
	ev.HasNative = true
	if res.Passed {
		ev.NativePercent = 100
	} else {
		ev.NativePercent = clampFloat(res.Score, 0, 100)
	}
	c.mu.Unlock()

	c.log.Info("Assessment finished", map[string]interface{}{
		"item":   item.Key(),
		"passed": res.Passed,
		"score":  res.Score,
	})
	c.emit(ev)
}

// Wait blocks until background assessment runs have returned
func (c *Controller) Wait() {
	c.runs.Wait()
}

// OnError is the surface's failure callback. Only the active item is affected.
func (c *Controller) OnError(err error) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.fail(gen, err)
}

func (c *Controller) fail(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.status == StatusEmpty || c.status == StatusIdle {
		c.mu.Unlock()
		return
	}
	c.status = StatusUnavailable
	c.err = &RenderError{ItemID: c.pos.Item.ID, Err: err}
	c.video.IsPlaying = false
	ev := c.eventLocked(EventFailed)
	ev.Err = c.err
	c.mu.Unlock()

	c.log.Warn("Content unavailable for item", map[string]interface{}{
		"item":  ev.ItemKey,
		"error": err.Error(),
	})
	c.emit(ev)
}

// State returns a snapshot of the active item's viewer state
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Status:        c.status,
		Index:         c.pos.Index,
		Total:         c.pos.Total,
		Item:          c.pos.Item,
		Video:         c.video,
		PDF:           c.pdf,
		Image:         c.image,
		ChromeVisible: c.chrome,
		Assessment:    c.assessment,
		Err:           c.err,
	}
}

// Video transport

// TogglePlay plays a paused video and pauses a playing one
func (c *Controller) TogglePlay() {
	c.mu.Lock()
	ok := c.readyLocked(content.RenderVideo)
	playing := c.video.IsPlaying
	c.mu.Unlock()
	if !ok {
		return
	}
	if playing {
		c.Pause()
	} else {
		c.Play()
	}
}

// Play commands the surface and mirrors the result
func (c *Controller) Play() {
	c.setPlaying(true)
}

// Pause commands the surface and mirrors the result
func (c *Controller) Pause() {
	c.setPlaying(false)
}

func (c *Controller) setPlaying(playing bool) {
	c.mu.Lock()
	if !c.readyLocked(content.RenderVideo) {
		c.mu.Unlock()
		return
	}
	gen := c.gen
	c.mu.Unlock()

	cmd := c.media.Pause
	if playing {
		cmd = c.media.Play
	}
	if err := cmd(); err != nil {
		c.log.Warn("Media refused playback command", map[string]interface{}{
			"play":  playing,
			"error": err.Error(),
		})
		return
	}
	c.OnPlayStateChanged(playing, gen)
}

// OnPlayStateChanged mirrors the element's own play/pause notifications.
// gen ties the callback to the activation it was issued for; pass 0 for
// surface-initiated changes on the current item.
func (c *Controller) OnPlayStateChanged(playing bool, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != 0 && gen != c.gen {
		return
	}
	if c.readyLocked(content.RenderVideo) {
		c.video.IsPlaying = playing
	}
}

// Seek moves the playhead, clamped to [0, duration]
func (c *Controller) Seek(sec float64) {
	c.mu.Lock()
	if !c.readyLocked(content.RenderVideo) {
		c.mu.Unlock()
		return
	}
	t := c.video.ClampTime(sec)
	c.video.CurrentTimeSec = t
	ev := c.eventLocked(EventSeek)
	ev.TimeSec = t
	if pct, ok := c.video.Percent(); ok {
		ev.HasNative, ev.NativePercent = true, pct
		c.quartile = max(c.quartile, quartileOf(pct))
	}
	c.mu.Unlock()

	if err := c.media.Seek(t); err != nil {
		c.log.Warn("Media seek failed", map[string]interface{}{"time_sec": t, "error": err.Error()})
	}
	c.emit(ev)
}

// SetPlaybackRate applies rate if it is one of AllowedRates; anything else is ignored
func (c *Controller) SetPlaybackRate(rate float64) bool {
	if !ValidRate(rate) {
		return false
	}
	c.mu.Lock()
	if !c.readyLocked(content.RenderVideo) {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	if err := c.media.SetPlaybackRate(rate); err != nil {
		c.log.Warn("Media rejected playback rate", map[string]interface{}{"rate": rate, "error": err.Error()})
		return false
	}
	c.mu.Lock()
	c.video.PlaybackRate = rate
	c.mu.Unlock()
	return true
}

// SetVolume sets the volume in [0, 1]
func (c *Controller) SetVolume(volume float64) {
	c.updateVolume(func(v *VideoState) { v.Volume = clampFloat(volume, 0, 1) })
}

// ToggleMute flips the mute flag
func (c *Controller) ToggleMute() {
	c.updateVolume(func(v *VideoState) { v.IsMuted = !v.IsMuted })
}

func (c *Controller) updateVolume(fn func(*VideoState)) {
	c.mu.Lock()
	if !c.readyLocked(content.RenderVideo) {
		c.mu.Unlock()
		return
	}
	fn(&c.video)
	volume, muted := c.video.Volume, c.video.IsMuted
	c.mu.Unlock()

	if err := c.media.SetVolume(volume, muted); err != nil {
		c.log.Warn("Media volume change failed", map[string]interface{}{"error": err.Error()})
	}
}

// ToggleFullscreen asks the surface for fullscreen. The tracked flag only
// changes when OnFullscreenChanged reports back.
func (c *Controller) ToggleFullscreen() {
	c.mu.Lock()
	if !c.readyLocked(content.RenderVideo) {
		c.mu.Unlock()
		return
	}
	want := !c.video.IsFullscreen
	c.mu.Unlock()

	if err := c.media.RequestFullscreen(want); err != nil {
		c.log.Warn("Fullscreen request failed", map[string]interface{}{"error": err.Error()})
	}
}

// OnFullscreenChanged records the fullscreen state reported by the surface
func (c *Controller) OnFullscreenChanged(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.video.IsFullscreen = on
}

// OnLoadedMetadata receives the media duration (video) or page count (PDF)
func (c *Controller) OnLoadedMetadata(durationSec float64, totalPages int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusReady {
		return
	}
	switch c.pos.Item.Type {
	case content.RenderVideo:
		if durationSec > 0 && !math.IsInf(durationSec, 0) {
			c.video.DurationSec = durationSec
			c.video.CurrentTimeSec = c.video.ClampTime(c.video.CurrentTimeSec)
		}
	case content.RenderPDF:
		if totalPages > 0 {
			c.pdf.TotalPages = totalPages
			c.pdf.CurrentPage = c.pdf.ClampPage(c.pdf.CurrentPage)
		}
	}
}

// OnTimeUpdate tracks the playhead. Only quartile crossings reach the sink.
func (c *Controller) OnTimeUpdate(sec float64) {
	c.mu.Lock()
	if !c.readyLocked(content.RenderVideo) {
		c.mu.Unlock()
		return
	}
	c.video.CurrentTimeSec = c.video.ClampTime(sec)
	pct, ok := c.video.Percent()
	if !ok {
		c.mu.Unlock()
		return
	}
	q := quartileOf(pct)
	if q <= c.quartile {
		c.mu.Unlock()
		return
	}
	c.quartile = q
	ev := c.eventLocked(EventMilestone)
	ev.TimeSec = c.video.CurrentTimeSec
	ev.HasNative, ev.NativePercent = true, pct
	c.mu.Unlock()

	c.emit(ev)
}

// OnEnded marks the video as played through
func (c *Controller) OnEnded() {
	c.mu.Lock()
	if !c.readyLocked(content.RenderVideo) {
		c.mu.Unlock()
		return
	}
	c.video.IsPlaying = false
	if c.video.DurationSec > 0 {
		c.video.CurrentTimeSec = c.video.DurationSec
	}
	c.quartile = 4
	ev := c.eventLocked(EventEnded)
	ev.TimeSec = c.video.CurrentTimeSec
	ev.HasNative, ev.NativePercent = true, 100
	c.mu.Unlock()

	c.emit(ev)
}

// PDF pager

// GoToPage turns to page, clamped to [1, total]
func (c *Controller) GoToPage(page int) {
	c.mu.Lock()
	if !c.readyLocked(content.RenderPDF) {
		c.mu.Unlock()
		return
	}
	target := c.pdf.ClampPage(page)
	if target == c.pdf.CurrentPage {
		c.mu.Unlock()
		return
	}
	c.pdf.CurrentPage = target
	ev := c.eventLocked(EventPageTurn)
	ev.Page = target
	if pct, ok := c.pdf.Percent(); ok {
		ev.HasNative, ev.NativePercent = true, pct
	}
	c.mu.Unlock()

	if err := c.media.SetPage(target); err != nil {
		c.log.Warn("Page change failed", map[string]interface{}{"page": target, "error": err.Error()})
	}
	c.emit(ev)
}

// NextPage turns forward one page
func (c *Controller) NextPage() {
	c.GoToPage(c.currentPage() + 1)
}

// PrevPage turns back one page
func (c *Controller) PrevPage() {
	c.GoToPage(c.currentPage() - 1)
}

// EnterPage handles a page number typed by the learner. Invalid input keeps
// the current page and returns false.
func (c *Controller) EnterPage(input string) bool {
	c.mu.Lock()
	if !c.readyLocked(content.RenderPDF) {
		c.mu.Unlock()
		return false
	}
	page, ok := c.pdf.ParsePage(input)
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.GoToPage(page)
	return true
}

func (c *Controller) currentPage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pdf.CurrentPage
}

// Zoom and rotation (PDF and image)

// ZoomIn raises zoom by one step
func (c *Controller) ZoomIn() {
	c.zoom(func(z int) int { return z + ZoomStep })
}

// ZoomOut lowers zoom by one step
func (c *Controller) ZoomOut() {
	c.zoom(func(z int) int { return z - ZoomStep })
}

// SetZoom snaps zoom to the step grid and clamps it to the renderer's range
func (c *Controller) SetZoom(percent int) {
	c.zoom(func(int) int { return percent })
}

func (c *Controller) zoom(next func(int) int) {
	c.mu.Lock()
	if c.status != StatusReady {
		c.mu.Unlock()
		return
	}
	var (
		cur *int
		lo  int
		hi  int
	)
	switch c.pos.Item.Type {
	case content.RenderPDF:
		cur, lo, hi = &c.pdf.ZoomPercent, PDFMinZoom, PDFMaxZoom
	case content.RenderImage:
		cur, lo, hi = &c.image.ZoomPercent, ImageMinZoom, ImageMaxZoom
	default:
		c.mu.Unlock()
		return
	}
	z := SnapZoom(next(*cur), lo, hi)
	if z == *cur {
		c.mu.Unlock()
		return
	}
	*cur = z
	ev := c.eventLocked(EventZoom)
	ev.Zoom = z
	c.mu.Unlock()

	c.emit(ev)
}

// Rotate turns the document or image a quarter clockwise
func (c *Controller) Rotate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusReady {
		return
	}
	switch c.pos.Item.Type {
	case content.RenderPDF:
		c.pdf.RotationDeg = NextRotation(c.pdf.RotationDeg)
	case content.RenderImage:
		c.image.RotationDeg = NextRotation(c.image.RotationDeg)
	}
}

// ResetImage restores zoom 100 and rotation 0
func (c *Controller) ResetImage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readyLocked(content.RenderImage) {
		c.image = NewImageState()
	}
}

// ToggleChrome shows or hides the viewer controls
func (c *Controller) ToggleChrome() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chrome = !c.chrome
}

// Generation identifies the current activation for OnPlayStateChanged
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Controller) readyLocked(t content.RenderableType) bool {
	return c.status == StatusReady && c.pos.Item.Type == t
}

func (c *Controller) eventLocked(kind EventKind) Event {
	return Event{
		Kind:    kind,
		ItemKey: c.pos.Item.Key(),
		Index:   c.pos.Index,
		Type:    c.pos.Item.Type,
	}
}

func (c *Controller) emit(ev Event) {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink != nil {
		sink.OnProgress(ev)
	}
}

func quartileOf(pct float64) int {
	q := int(pct / 25)
	if q > 4 {
		return 4
	}
	return q
}
