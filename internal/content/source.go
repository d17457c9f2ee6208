package content

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by a Fetcher when a course has no payload of that shape
	ErrNotFound = errors.New("content not found")
	// ErrContentUnavailable means no content source returned usable data
	ErrContentUnavailable = errors.New("content unavailable")
)

// ConvertedContent is the document-derived, paginated representation of a course
type ConvertedContent struct {
	CourseID string    `json:"course_id,omitempty"`
	Sections []Section `json:"sections"`
}

// Section is one page of converted web content
type Section struct {
	Order   int    `json:"order"`
	Page    int    `json:"page"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ContentItem is a structured content record tied to a course
type ContentItem struct {
	ID              string   `json:"id"`
	CourseID        string   `json:"course_id,omitempty"`
	ModuleID        string   `json:"module_id,omitempty"`
	Title           string   `json:"title"`
	ContentType     string   `json:"content_type"`
	FilePath        string   `json:"file_path,omitempty"`
	Order           int      `json:"order"`
	DurationSec     float64  `json:"duration,omitempty"`
	IsCompleted     bool     `json:"is_completed,omitempty"`
	ProgressPercent *float64 `json:"progress_percent,omitempty"`
}

// Module is the grouping layer over content items, or legacy content itself
// when ContentType is set
type Module struct {
	ID          string `json:"id"`
	CourseID    string `json:"course_id,omitempty"`
	Title       string `json:"title"`
	Order       int    `json:"order"`
	ContentType string `json:"content_type,omitempty"`
	FilePath    string `json:"file_path,omitempty"`
	IsCompleted bool   `json:"is_completed,omitempty"`
}

// Fetcher loads the raw course payloads from the backend.
// FetchConvertedContent returns ErrNotFound when the course was never converted.
type Fetcher interface {
	FetchConvertedContent(ctx context.Context, courseID string) (*ConvertedContent, error)
	FetchContentItems(ctx context.Context, courseID string) ([]ContentItem, error)
	FetchModules(ctx context.Context, courseID string) ([]Module, error)
}

// ModuleRefresher is implemented by fetchers that cache modules. A legacy
// module sequence is always built from a refreshed list, since its items and
// their completion come from the module records themselves.
type ModuleRefresher interface {
	RefreshModules(ctx context.Context, courseID string) ([]Module, error)
}
