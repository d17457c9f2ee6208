package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildlearn/learning-session/internal/content"
	"github.com/buildlearn/learning-session/internal/logger"
	"github.com/buildlearn/learning-session/internal/portal"
	"github.com/buildlearn/learning-session/internal/session"
)

type sectionFetcher struct{ n int }

func (f sectionFetcher) FetchConvertedContent(ctx context.Context, courseID string) (*content.ConvertedContent, error) {
	cc := &content.ConvertedContent{}
	for i := 1; i <= f.n; i++ {
		cc.Sections = append(cc.Sections, content.Section{Order: i, Page: i, Title: fmt.Sprintf("Page %d", i)})
	}
	return cc, nil
}

func (sectionFetcher) FetchContentItems(ctx context.Context, courseID string) ([]content.ContentItem, error) {
	return nil, nil
}

func (sectionFetcher) FetchModules(ctx context.Context, courseID string) ([]content.Module, error) {
	return nil, nil
}

type recordingAPI struct {
	mu   sync.Mutex
	n    int
	ends []session.EndRequest
}

func (a *recordingAPI) StartSession(ctx context.Context, s session.Subject) (*session.StartResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n++
	return &session.StartResult{SessionID: fmt.Sprintf("s-%d", a.n)}, nil
}

func (a *recordingAPI) EndSession(ctx context.Context, req session.EndRequest) (*session.EndResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ends = append(a.ends, req)
	return &session.EndResult{ConfirmedComplete: req.CompletionPercent >= 100, ConfirmedPercent: req.CompletionPercent}, nil
}

func (a *recordingAPI) UpdateSession(ctx context.Context, id string, hb session.Heartbeat) error {
	return nil
}

func (a *recordingAPI) MarkItemComplete(ctx context.Context, courseID, itemID string) error {
	return nil
}

func newRunner(t *testing.T, api session.ProgressAPI) (*Runner, *portal.Portal) {
	t.Helper()
	clock := session.NewManualClock(time.Date(2026, 8, 3, 7, 0, 0, 0, time.UTC))
	p, err := portal.New(portal.Config{
		Fetcher: sectionFetcher{n: 7},
		API:     api,
		Clock:   clock,
		Session: session.DefaultConfig(),
		Logger:  logger.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return NewRunner(p, clock, time.Second, logger.Nop()), p
}

const walkthrough = `
name: induction walkthrough
course: course-7
steps:
  - action: tick
    count: 20
  - action: hide
  - action: tick
    count: 10
  - action: show
  - action: tick
    count: 12
  - action: next
  - action: tick
    count: 5
  - action: swipe
    direction: right
  - action: close
`

func TestParse(t *testing.T) {
	s, err := Parse(strings.NewReader(walkthrough))
	require.NoError(t, err)
	assert.Equal(t, "induction walkthrough", s.Name)
	assert.Equal(t, "course-7", s.Course)
	require.Len(t, s.Steps, 10)
	assert.Equal(t, ActionTick, s.Steps[0].Action)
	assert.Equal(t, 20, s.Steps[0].Count)
	assert.Equal(t, "right", s.Steps[8].Direction)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "no steps", yaml: "course: c\n", want: "no steps"},
		{name: "unknown action", yaml: "course: c\nsteps:\n  - action: dance\n", want: "unknown action"},
		{name: "unknown field", yaml: "course: c\nsteps:\n  - action: tick\n    times: 3\n", want: "times"},
		{name: "no course", yaml: "steps:\n  - action: tick\n", want: "no course"},
		{name: "bad swipe", yaml: "course: c\nsteps:\n  - action: swipe\n    direction: diagonal\n", want: "diagonal"},
		{name: "open without course", yaml: "course: c\nsteps:\n  - action: open\n", want: "course is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidScript)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(walkthrough), 0o644))
	s, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, s.Steps, 10)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRunner_Walkthrough(t *testing.T) {
	api := &recordingAPI{}
	r, _ := newRunner(t, api)
	s, err := Parse(strings.NewReader(walkthrough))
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 11, rep.Steps, "implicit open counts as a step")
	assert.Equal(t, 47, rep.Ticks)
	assert.Equal(t, 0, rep.Position)

	api.mu.Lock()
	ends := append([]session.EndRequest(nil), api.ends...)
	api.mu.Unlock()
	require.Len(t, ends, 3)
	// lanes are per item, so only same-item ends are ordered
	byItem := map[string][]session.EndRequest{}
	for _, e := range ends {
		byItem[e.Subject.ContentID] = append(byItem[e.Subject.ContentID], e)
	}
	require.Len(t, byItem["section-1"], 2)
	require.Len(t, byItem["section-2"], 1)
	assert.Equal(t, 32, byItem["section-1"][0].ElapsedSeconds)
	assert.Equal(t, session.ReasonNavigate, byItem["section-1"][0].Reason)
	assert.Equal(t, session.ReasonUnload, byItem["section-1"][1].Reason)
	assert.Equal(t, 5, byItem["section-2"][0].ElapsedSeconds)

	require.Len(t, rep.Items, 7)
	assert.InDelta(t, 100.0/7, rep.Items[0].Percent, 0.001)
	assert.True(t, rep.Items[0].Confirmed)
	assert.InDelta(t, 200.0/7, rep.Items[1].Percent, 0.001)
	assert.Equal(t, 3, rep.Stats.Started)
	require.NotNil(t, rep.Last)
	assert.Equal(t, "section:1", rep.Last.Item)
}

func TestRunner_StopsAtFailingStep(t *testing.T) {
	r, _ := newRunner(t, &recordingAPI{})
	s := &Script{Course: "course-7", Steps: []Step{
		{Action: ActionTick, Count: 2},
		{Action: ActionClose},
		{Action: ActionOpen, Course: "course-7"},
		{Action: ActionTick},
	}}

	rep, err := r.Run(context.Background(), s)
	require.Error(t, err)
	assert.ErrorIs(t, err, portal.ErrClosed)
	assert.Contains(t, err.Error(), "step 4 (open)")
	assert.Equal(t, 4, rep.Steps)
	assert.Equal(t, 2, rep.Ticks)
}

func TestRunner_Cancelled(t *testing.T) {
	r, _ := newRunner(t, &recordingAPI{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := r.Run(ctx, &Script{Course: "course-7", Steps: []Step{{Action: ActionTick}}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, rep.Steps)
}
