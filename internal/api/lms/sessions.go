package lms

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/buildlearn/learning-session/internal/session"
)

type subjectBody struct {
	CourseID  string `json:"course_id"`
	ContentID string `json:"content_id,omitempty"`
	ModuleID  string `json:"module_id,omitempty"`
}

func subjectOf(s session.Subject) subjectBody {
	return subjectBody{CourseID: s.CourseID, ContentID: s.ContentID, ModuleID: s.ModuleID}
}

type startResponse struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

type endBody struct {
	subjectBody
	ElapsedSeconds    int     `json:"elapsed_seconds"`
	ElapsedMinutes    int     `json:"elapsed_minutes"`
	CompletionPercent float64 `json:"completion_percent"`
	Reason            string  `json:"reason,omitempty"`
}

type endResponse struct {
	ConfirmedComplete bool    `json:"confirmed_complete"`
	ConfirmedPercent  float64 `json:"confirmed_percent"`
}

type heartbeatBody struct {
	ElapsedSeconds    int     `json:"elapsed_seconds"`
	CompletionPercent float64 `json:"completion_percent"`
}

// StartSession opens a learning session on the server
func (c *Client) StartSession(ctx context.Context, subject session.Subject) (*session.StartResult, error) {
	var out startResponse
	if err := c.do(ctx, http.MethodPost, "/learning-sessions/start", subjectOf(subject), &out); err != nil {
		return nil, err
	}
	if out.SessionID == "" {
		return nil, fmt.Errorf("start response carried no session id")
	}
	return &session.StartResult{SessionID: out.SessionID, ServerStartedAt: out.StartedAt}, nil
}

// EndSession closes a session. Without a session id the server closes the
// latest open session for the subject.
func (c *Client) EndSession(ctx context.Context, req session.EndRequest) (*session.EndResult, error) {
	endpoint := "/learning-sessions/end"
	if req.SessionID != "" {
		endpoint = "/learning-sessions/" + escape(req.SessionID) + "/end"
	}
	body := endBody{
		subjectBody:       subjectOf(req.Subject),
		ElapsedSeconds:    req.ElapsedSeconds,
		ElapsedMinutes:    req.ElapsedMinutes,
		CompletionPercent: req.CompletionPercent,
		Reason:            string(req.Reason),
	}
	var out endResponse
	if err := c.do(ctx, http.MethodPost, endpoint, body, &out); err != nil {
		return nil, err
	}
	return &session.EndResult{
		ConfirmedComplete: out.ConfirmedComplete,
		ConfirmedPercent:  out.ConfirmedPercent,
	}, nil
}

// UpdateSession sends a heartbeat for an open session
func (c *Client) UpdateSession(ctx context.Context, sessionID string, hb session.Heartbeat) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	body := heartbeatBody{ElapsedSeconds: hb.ElapsedSeconds, CompletionPercent: hb.CompletionPercent}
	return c.do(ctx, http.MethodPut, "/learning-sessions/"+escape(sessionID)+"/heartbeat", body, nil)
}

// MarkItemComplete records an explicit completion of one item
func (c *Client) MarkItemComplete(ctx context.Context, courseID, itemID string) error {
	if courseID == "" || itemID == "" {
		return fmt.Errorf("course ID and item ID are required")
	}
	endpoint := "/courses/" + escape(courseID) + "/items/" + escape(itemID) + "/complete"
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}
