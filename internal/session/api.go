package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/buildlearn/learning-session/internal/content"
)

// Subject identifies what a session is about. At least one of ContentID or
// ModuleID is set.
type Subject struct {
	CourseID  string `json:"course_id"`
	ContentID string `json:"content_id,omitempty"`
	ModuleID  string `json:"module_id,omitempty"`
}

// SubjectFor derives the subject of the item at pos. Converted-document
// sections have no server id and are addressed as "section-<ordinal>".
func SubjectFor(pos content.Position) Subject {
	s := Subject{CourseID: pos.CourseID}
	item := pos.Item
	switch item.Kind() {
	case content.KindSection:
		s.ContentID = "section-" + item.ID
	case content.KindContentItem:
		s.ContentID = item.ContentID()
		s.ModuleID = item.ModuleID()
	case content.KindModule:
		s.ModuleID = item.ModuleID()
	}
	return s
}

// Valid reports whether the subject can be sent to the server
func (s Subject) Valid() bool {
	return s.CourseID != "" && (s.ContentID != "" || s.ModuleID != "")
}

// ItemID is the id used for the explicit mark-complete call
func (s Subject) ItemID() string {
	if s.ContentID != "" {
		return s.ContentID
	}
	return s.ModuleID
}

// Key is a stable string form used for queue lanes and logs
func (s Subject) Key() string {
	return s.CourseID + "/" + s.ContentID + "/" + s.ModuleID
}

// StartResult is the server's answer to a start call
type StartResult struct {
	SessionID       string    `json:"session_id"`
	ServerStartedAt time.Time `json:"server_started_at"`
}

// EndReason says why a session was ended
type EndReason string

const (
	ReasonNavigate EndReason = "navigate"
	ReasonComplete EndReason = "complete"
	ReasonHidden   EndReason = "hidden"
	ReasonUnload   EndReason = "unload"
)

// EndRequest is the payload of an end call. SessionID is empty when the start
// never confirmed; the server then closes by subject.
type EndRequest struct {
	SessionID         string    `json:"session_id,omitempty"`
	Subject           Subject   `json:"subject"`
	ElapsedSeconds    int       `json:"elapsed_seconds"`
	ElapsedMinutes    int       `json:"elapsed_minutes"`
	CompletionPercent float64   `json:"completion_percent"`
	Reason            EndReason `json:"reason"`
}

// EndResult is the server's authoritative completion for the subject
type EndResult struct {
	ConfirmedComplete bool    `json:"confirmed_complete"`
	ConfirmedPercent  float64 `json:"confirmed_percent"`
}

// Heartbeat is the periodic update sent while a session is open
type Heartbeat struct {
	ElapsedSeconds    int     `json:"elapsed_seconds"`
	CompletionPercent float64 `json:"completion_percent"`
}

// ProgressAPI is the external progress-persistence backend
type ProgressAPI interface {
	StartSession(ctx context.Context, subject Subject) (*StartResult, error)
	EndSession(ctx context.Context, req EndRequest) (*EndResult, error)
	UpdateSession(ctx context.Context, sessionID string, hb Heartbeat) error
	MarkItemComplete(ctx context.Context, courseID, itemID string) error
}

// wholeMinutes rounds elapsed seconds to the persisted minute count
func wholeMinutes(seconds int) int {
	return int(math.Round(float64(seconds) / 60))
}

// Op names a commit operation
type Op string

const (
	OpStart     Op = "start"
	OpRetry     Op = "start_retry"
	OpHeartbeat Op = "heartbeat"
	OpEnd       Op = "end"
	OpComplete  Op = "mark_complete"
)

// ErrSessionCommit matches every SessionCommitError
var ErrSessionCommit = errors.New("session commit failure")

// SessionCommitError is a failed start, heartbeat, end or mark-complete call.
// It is logged, never shown to the learner.
type SessionCommitError struct {
	Op      Op
	Subject Subject
	Err     error
}

func (e *SessionCommitError) Error() string {
	return fmt.Sprintf("session %s for %s: %v", e.Op, e.Subject.Key(), e.Err)
}

func (e *SessionCommitError) Unwrap() error {
	return e.Err
}

func (e *SessionCommitError) Is(target error) bool {
	return target == ErrSessionCommit
}
