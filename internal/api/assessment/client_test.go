package assessment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildlearn/learning-session/internal/content"
	"github.com/buildlearn/learning-session/internal/logger"
)

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

func respond(t *testing.T, w http.ResponseWriter, data interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{"data": data}))
}

func quizItem(id string) content.Item {
	return content.Item{
		ID:     id,
		Order:  1,
		Title:  "Fall protection quiz",
		Type:   content.RenderTest,
		Source: content.ItemSource{ContentID: id},
	}
}

// runnerServer answers startAssessment once and then reports in_progress
// for the given number of polls before returning final.
func runnerServer(t *testing.T, inProgress int32, final map[string]interface{}) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer runner-token", r.Header.Get("Authorization"))
		var req gqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch {
		case strings.Contains(req.Query, "startAssessment"):
			assert.Equal(t, "quiz-1", req.Variables["contentId"])
			respond(t, w, map[string]interface{}{
				"startAssessment": map[string]interface{}{"id": "att-1", "status": StatusInProgress},
			})
		case strings.Contains(req.Query, "assessmentAttempt"):
			assert.Equal(t, "att-1", req.Variables["id"])
			if polls.Add(1) <= inProgress {
				respond(t, w, map[string]interface{}{
					"assessmentAttempt": map[string]interface{}{"id": "att-1", "status": StatusInProgress},
				})
				return
			}
			respond(t, w, map[string]interface{}{"assessmentAttempt": final})
		default:
			t.Errorf("unexpected query %q", req.Query)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &polls
}

func newTestClient(url string) *Client {
	return NewClient(Config{
		URL:          url,
		Token:        "runner-token",
		PollInterval: time.Millisecond,
		RateLimit:    time.Millisecond,
		Burst:        100,
	}, logger.Nop())
}

func TestRun_PollsUntilGraded(t *testing.T) {
	srv, polls := runnerServer(t, 2, map[string]interface{}{
		"id": "att-1", "status": StatusGraded, "passed": true, "score": 92.5,
	})

	res, err := newTestClient(srv.URL).Run(context.Background(), quizItem("quiz-1"))
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 92.5, res.Score)
	assert.Equal(t, int32(3), polls.Load())
}

func TestRun_Abandoned(t *testing.T) {
	srv, _ := runnerServer(t, 0, map[string]interface{}{
		"id": "att-1", "status": StatusAbandoned,
	})

	_, err := newTestClient(srv.URL).Run(context.Background(), quizItem("quiz-1"))
	assert.ErrorIs(t, err, ErrAttemptAbandoned)
}

func TestRun_Cancelled(t *testing.T) {
	srv, _ := runnerServer(t, 1<<30, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := newTestClient(srv.URL).Run(ctx, quizItem("quiz-1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_NeedsContentID(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1")
	item := content.Item{ID: "3", Type: content.RenderTest, Source: content.SectionSource{Page: 3}}
	_, err := c.Run(context.Background(), item)
	assert.ErrorIs(t, err, ErrNoContentID)
}

func TestStart_GraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors":[{"message":"content is not an assessment"}]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Start(context.Background(), "ci-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content is not an assessment")
}
