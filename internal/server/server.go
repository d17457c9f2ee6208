// Package server exposes a running portal over a local HTTP API so a renderer
// can report visibility, media callbacks and learner input to the headless
// tracker, and read back the current position and session.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/buildlearn/learning-session/internal/content"
	"github.com/buildlearn/learning-session/internal/logger"
	"github.com/buildlearn/learning-session/internal/session"
	"github.com/buildlearn/learning-session/internal/viewer"
)

// Portal is the part of the portal the server drives
type Portal interface {
	Position() content.Position
	Items() []content.Item
	Session() (session.Snapshot, bool)
	LastSession() (session.Snapshot, bool)
	Stats() session.Stats
	Next() int
	Prev() int
	GoTo(index int) int
	MarkComplete() bool
	SetVisible(visible bool)
	Viewer() *viewer.Controller
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	portal Portal
	logger *logger.Logger
}

// New creates a server bound to addr
func New(addr string, p Portal, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Get()
	}
	s := &Server{
		server: &http.Server{
			Addr:         addr,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		portal: p,
		logger: log.Component("server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthCheck)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/items", s.handleItems)
	mux.HandleFunc("/api/navigate", s.handleNavigate)
	mux.HandleFunc("/api/visibility", s.handleVisibility)
	mux.HandleFunc("/api/complete", s.handleComplete)
	mux.HandleFunc("/api/input", s.handleInput)
	mux.HandleFunc("/api/media/", s.handleMedia)

	s.server.Handler = s.requestLogger(mux)
	return s
}

// Handler returns the routed handler, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"addr": s.server.Addr,
	})
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server", nil)
	return s.server.Shutdown(ctx)
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ItemView is one entry of the course outline
type ItemView struct {
	Index      int                `json:"index"`
	ID         string             `json:"id"`
	Key        string             `json:"key"`
	Title      string             `json:"title"`
	Type       string             `json:"type"`
	Completion content.Completion `json:"completion"`
}

// SessionView is the wire form of a session snapshot
type SessionView struct {
	SessionID      string    `json:"session_id,omitempty"`
	ItemKey        string    `json:"item_key"`
	ContentID      string    `json:"content_id,omitempty"`
	Status         string    `json:"status"`
	LocalOnly      bool      `json:"local_only"`
	StartedAt      time.Time `json:"started_at"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
	Percent        float64   `json:"percent"`
}

// ViewerView is the wire form of the viewer state
type ViewerView struct {
	Status        string                   `json:"status"`
	Video         viewer.VideoState        `json:"video"`
	PDF           viewer.PDFState          `json:"pdf"`
	Image         viewer.ImageState        `json:"image"`
	ChromeVisible bool                     `json:"chrome_visible"`
	Assessment    *viewer.AssessmentResult `json:"assessment,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

// StatusView is returned by GET /api/status
type StatusView struct {
	CourseID string        `json:"course_id"`
	Index    int           `json:"index"`
	Total    int           `json:"total"`
	Item     *ItemView     `json:"item,omitempty"`
	Session  *SessionView  `json:"session,omitempty"`
	Last     *SessionView  `json:"last_session,omitempty"`
	Viewer   ViewerView    `json:"viewer"`
	Stats    session.Stats `json:"stats"`
}

func itemView(index int, it content.Item) ItemView {
	return ItemView{
		Index:      index,
		ID:         it.ID,
		Key:        it.Key(),
		Title:      it.Title,
		Type:       string(it.Type),
		Completion: it.Completion,
	}
}

func sessionView(snap session.Snapshot, ok bool) *SessionView {
	if !ok {
		return nil
	}
	return &SessionView{
		SessionID:      snap.SessionID,
		ItemKey:        snap.ItemKey,
		ContentID:      snap.Subject.ContentID,
		Status:         string(snap.Status),
		LocalOnly:      snap.LocalOnly,
		StartedAt:      snap.StartedAt,
		ElapsedSeconds: snap.ElapsedSeconds,
		Percent:        snap.Percent,
	}
}

func (s *Server) status() StatusView {
	pos := s.portal.Position()
	view := StatusView{
		CourseID: pos.CourseID,
		Index:    pos.Index,
		Total:    pos.Total,
		Session:  sessionView(s.portal.Session()),
		Last:     sessionView(s.portal.LastSession()),
		Stats:    s.portal.Stats(),
	}
	if !pos.Empty() {
		iv := itemView(pos.Index, pos.Item)
		view.Item = &iv
	}
	v := s.portal.Viewer().State()
	view.Viewer = ViewerView{
		Status:        string(v.Status),
		Video:         v.Video,
		PDF:           v.PDF,
		Image:         v.Image,
		ChromeVisible: v.ChromeVisible,
		Assessment:    v.Assessment,
	}
	if v.Err != nil {
		view.Viewer.Error = v.Err.Error()
	}
	return view
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeSuccess(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeSuccess(w, s.status())
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	items := s.portal.Items()
	out := make([]ItemView, 0, len(items))
	for i, it := range items {
		out = append(out, itemView(i, it))
	}
	s.writeSuccess(w, out)
}

// NavigateRequest is the body of POST /api/navigate
type NavigateRequest struct {
	Action string `json:"action"`
	Index  int    `json:"index"`
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req NavigateRequest
	if !s.decode(w, r, &req) {
		return
	}
	switch req.Action {
	case "next":
		s.portal.Next()
	case "prev":
		s.portal.Prev()
	case "goto":
		s.portal.GoTo(req.Index)
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
		return
	}
	s.writeSuccess(w, s.status())
}

// VisibilityRequest is the body of POST /api/visibility
type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req VisibilityRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.portal.SetVisible(req.Visible)
	s.writeSuccess(w, map[string]bool{"visible": req.Visible})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.portal.MarkComplete() {
		s.writeError(w, http.StatusConflict, "no active session")
		return
	}
	s.writeSuccess(w, s.status())
}

// InputRequest is the body of POST /api/input. Exactly one of the fields is used.
type InputRequest struct {
	Swipe string      `json:"swipe,omitempty"`
	Key   string      `json:"key,omitempty"`
	Drag  *[2]float64 `json:"drag,omitempty"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req InputRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctrl := s.portal.Viewer()
	switch {
	case req.Swipe != "":
		sw := viewer.ParseSwipe(req.Swipe)
		if sw == viewer.SwipeNone {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown swipe %q", req.Swipe))
			return
		}
		ctrl.HandleSwipe(sw)
	case req.Key != "":
		if !ctrl.HandleKey(req.Key) {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unhandled key %q", req.Key))
			return
		}
	case req.Drag != nil:
		ctrl.HandleDrag(req.Drag[0], req.Drag[1])
	default:
		s.writeError(w, http.StatusBadRequest, "empty input")
		return
	}
	s.writeSuccess(w, s.status())
}

// MediaRequest carries renderer callbacks for POST /api/media/{event}
type MediaRequest struct {
	DurationSec float64 `json:"duration_sec"`
	TotalPages  int     `json:"total_pages"`
	TimeSec     float64 `json:"time_sec"`
	Page        int     `json:"page"`
	Playing     bool    `json:"playing"`
	Generation  uint64  `json:"generation"`
	Message     string  `json:"message"`
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	event := strings.TrimPrefix(r.URL.Path, "/api/media/")
	var req MediaRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctrl := s.portal.Viewer()
	switch event {
	case "metadata":
		ctrl.OnLoadedMetadata(req.DurationSec, req.TotalPages)
	case "timeupdate":
		ctrl.OnTimeUpdate(req.TimeSec)
	case "ended":
		ctrl.OnEnded()
	case "playstate":
		gen := req.Generation
		if gen == 0 {
			gen = ctrl.Generation()
		}
		ctrl.OnPlayStateChanged(req.Playing, gen)
	case "page":
		ctrl.GoToPage(req.Page)
	case "error":
		msg := req.Message
		if msg == "" {
			msg = "renderer error"
		}
		ctrl.OnError(errors.New(msg))
	default:
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	s.writeSuccess(w, s.status())
}

// decode reads a JSON body. An empty body leaves v untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode JSON response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, APIResponse{Success: false, Error: message})
}

func (s *Server) writeSuccess(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger tags each request with an id and logs its outcome
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(logger.NewContext(r.Context(), s.logger.With(map[string]interface{}{
			"request_id": requestID,
		}))))

		s.logger.Debug("HTTP request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  requestID,
		})
	})
}
