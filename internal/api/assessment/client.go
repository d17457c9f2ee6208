// Package assessment drives the external assessment runner over GraphQL.
// A test item starts an attempt and the client polls until it is graded.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	graphql "github.com/hasura/go-graphql-client"

	"github.com/buildlearn/learning-session/internal/content"
	"github.com/buildlearn/learning-session/internal/logger"
	"github.com/buildlearn/learning-session/internal/util"
	"github.com/buildlearn/learning-session/internal/viewer"
)

const DefaultPollInterval = 5 * time.Second

var (
	// ErrAttemptAbandoned means the learner left the assessment without a grade
	ErrAttemptAbandoned = errors.New("assessment attempt abandoned")
	// ErrNoContentID is returned for items that are not backed by a content record
	ErrNoContentID = errors.New("item has no content id")
)

// Attempt states reported by the runner
const (
	StatusInProgress = "in_progress"
	StatusGraded     = "graded"
	StatusAbandoned  = "abandoned"
)

// Config holds the runner endpoint settings
type Config struct {
	URL          string
	Token        string
	PollInterval time.Duration
	Timeout      time.Duration
	RateLimit    time.Duration
	Burst        int
}

// Client implements viewer.AssessmentRunner against the GraphQL API
type Client struct {
	gql          *graphql.Client
	limiter      *util.RateLimiter
	pollInterval time.Duration
	logger       *logger.Logger
}

var _ viewer.AssessmentRunner = (*Client)(nil)

// headerTransport adds authentication to every GraphQL request
type headerTransport struct {
	token string
	rt    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.token != "" {
		token := t.token
		if !strings.HasPrefix(token, "Bearer ") {
			token = "Bearer " + token
		}
		req.Header.Set("Authorization", token)
	}
	req.Header.Set("Accept", "application/json")
	return t.rt.RoundTrip(req)
}

// NewClient creates an assessment client
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Get()
	}
	log = log.Component("assessment_client")

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &headerTransport{
			token: strings.TrimSpace(cfg.Token),
			rt:    http.DefaultTransport,
		},
	}
	return &Client{
		gql:          graphql.NewClient(cfg.URL, httpClient),
		limiter:      util.NewRateLimiter(cfg.RateLimit, cfg.Burst, log),
		pollInterval: cfg.PollInterval,
		logger:       log,
	}
}

type attempt struct {
	ID     string  `graphql:"id"`
	Status string  `graphql:"status"`
	Passed bool    `graphql:"passed"`
	Score  float64 `graphql:"score"`
}

// Start opens an attempt for the item's content record
func (c *Client) Start(ctx context.Context, contentID string) (string, error) {
	var m struct {
		StartAssessment attempt `graphql:"startAssessment(contentId: $contentId)"`
	}
	vars := map[string]interface{}{
		"contentId": graphql.ID(contentID),
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	if err := c.gql.Mutate(ctx, &m, vars); err != nil {
		return "", fmt.Errorf("failed to start assessment: %w", err)
	}
	if m.StartAssessment.ID == "" {
		return "", fmt.Errorf("runner returned no attempt id for content %s", contentID)
	}
	return m.StartAssessment.ID, nil
}

// Attempt fetches the current state of an attempt
func (c *Client) Attempt(ctx context.Context, attemptID string) (viewer.AssessmentResult, string, error) {
	var q struct {
		AssessmentAttempt attempt `graphql:"assessmentAttempt(id: $id)"`
	}
	vars := map[string]interface{}{
		"id": graphql.ID(attemptID),
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return viewer.AssessmentResult{}, "", err
	}
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return viewer.AssessmentResult{}, "", fmt.Errorf("failed to query attempt %s: %w", attemptID, err)
	}
	a := q.AssessmentAttempt
	return viewer.AssessmentResult{Passed: a.Passed, Score: a.Score}, a.Status, nil
}

// Run starts an attempt for item and blocks until it is graded, abandoned or
// ctx is cancelled.
func (c *Client) Run(ctx context.Context, item content.Item) (viewer.AssessmentResult, error) {
	contentID := item.ContentID()
	if contentID == "" {
		return viewer.AssessmentResult{}, ErrNoContentID
	}
	log := c.logger.With(map[string]interface{}{"content_id": contentID})

	id, err := c.Start(ctx, contentID)
	if err != nil {
		return viewer.AssessmentResult{}, err
	}
	log.Info("Assessment attempt started", map[string]interface{}{"attempt_id": id})

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		res, status, err := c.Attempt(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return viewer.AssessmentResult{}, ctx.Err()
			}
			log.Warn("Polling assessment attempt failed", map[string]interface{}{
				"attempt_id": id,
				"error":      err.Error(),
			})
		} else {
			switch status {
			case StatusGraded:
				log.Info("Assessment graded", map[string]interface{}{
					"attempt_id": id,
					"passed":     res.Passed,
					"score":      res.Score,
				})
				return res, nil
			case StatusAbandoned:
				return viewer.AssessmentResult{}, ErrAttemptAbandoned
			}
		}

		select {
		case <-ctx.Done():
			return viewer.AssessmentResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
