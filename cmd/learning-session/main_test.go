package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildlearn/learning-session/internal/database"
	"github.com/buildlearn/learning-session/internal/script"
)

func fakeLMS(t *testing.T) *httptest.Server {
	t.Helper()
	var sessions atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/courses/course-1/web-content", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"sections": []map[string]interface{}{
			{"order": 1, "page": 1, "title": "Site induction"},
			{"order": 2, "page": 2, "title": "Hazard reporting"},
			{"order": 3, "page": 3, "title": "Emergency exits"},
		}})
	})
	mux.HandleFunc("/api/learning-sessions/start", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"session_id": fmt.Sprintf("s-%d", sessions.Add(1)),
			"started_at": "2026-09-01T08:00:00Z",
		})
	})
	mux.HandleFunc("/api/learning-sessions/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/end") {
			http.NotFound(w, r)
			return
		}
		var body struct {
			CompletionPercent float64 `json:"completion_percent"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"confirmed_complete": body.CompletionPercent >= 100,
			"confirmed_percent":  body.CompletionPercent,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(append([]string{"learning-session"}, args...))
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "learning-session dev")
}

func TestReplayAndLedger(t *testing.T) {
	srv := fakeLMS(t)
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "ledger.db")
	cfgPath := writeFile(t, dir, "config.yaml", fmt.Sprintf(`
logging:
  level: error
api:
  url: %q
  token: test-token
  retry_delay: 1ms
  rate_limit: 1ms
ledger:
  enabled: true
  driver: sqlite-pure
  path: %q
`, srv.URL, ledgerPath))
	scriptPath := writeFile(t, dir, "walk.yaml", `
name: smoke
course: course-1
steps:
  - action: tick
    count: 75
  - action: next
  - action: tick
    count: 10
  - action: complete
`)

	out, err := runApp(t, "--config", cfgPath, "replay", "--script", scriptPath)
	require.NoError(t, err)

	var rep script.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "smoke", rep.Name)
	assert.Equal(t, 85, rep.Ticks)
	assert.Equal(t, 2, rep.Stats.Started)
	assert.Equal(t, 2, rep.Stats.Ended)
	require.Len(t, rep.Items, 3)
	assert.True(t, rep.Items[1].Complete)

	out, err = runApp(t, "--config", cfgPath, "ledger", "summary")
	require.NoError(t, err)
	var summary database.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Positive(t, summary.Total)
	assert.Equal(t, int64(85), summary.CommittedSecs)

	out, err = runApp(t, "--config", cfgPath, "ledger", "recent", "-n", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "OP")
	assert.Contains(t, out, "course-1")
}

func TestReplay_RequiresScript(t *testing.T) {
	_, err := runApp(t, "replay")
	assert.Error(t, err)
}
