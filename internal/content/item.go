// Package content turns the three course payload shapes served by the LMS
// (converted web-content sections, structured content items and legacy
// modules) into one ordered sequence with a single position cursor.
package content

import (
	"strconv"
	"strings"
)

// Kind tags which payload shape a sequence item was built from
type Kind string

const (
	KindSection     Kind = "section"
	KindContentItem Kind = "content-item"
	KindModule      Kind = "module"
)

// RenderableType selects the viewer used for an item
type RenderableType string

const (
	RenderPDF         RenderableType = "pdf"
	RenderVideo       RenderableType = "video"
	RenderImage       RenderableType = "image"
	RenderInteractive RenderableType = "interactive"
	RenderTest        RenderableType = "test"
	RenderText        RenderableType = "text"
)

// ParseRenderableType maps the backend's free-form content_type onto a renderer.
// Unknown types render as text.
func ParseRenderableType(contentType string) RenderableType {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "pdf", "document", "doc", "slides", "presentation":
		return RenderPDF
	case "video", "mp4", "webm", "youtube", "vimeo":
		return RenderVideo
	case "image", "img", "png", "jpg", "jpeg", "gif", "diagram":
		return RenderImage
	case "interactive", "html", "scorm", "h5p", "simulation":
		return RenderInteractive
	case "test", "quiz", "assessment", "exam", "knowledge-test", "knowledge_test":
		return RenderTest
	default:
		return RenderText
	}
}

// Source is the tagged variant pointing back into the record an item came from.
// Exactly three implementations exist: SectionSource, ItemSource and ModuleSource.
type Source interface {
	Kind() Kind
	// PayloadRef is opaque to the sequence; only the viewer interprets it.
	PayloadRef() string
	isSource()
}

// SectionSource is a page of a converted document
type SectionSource struct {
	Page    int
	Content string
}

func (SectionSource) Kind() Kind { return KindSection }
func (s SectionSource) PayloadRef() string { return strconv.Itoa(s.Page) }
func (SectionSource) isSource() {}

// ItemSource is a structured content item (file or hosted media)
type ItemSource struct {
	ContentID   string
	ModuleID    string
	FilePath    string
	DurationSec float64
}

func (ItemSource) Kind() Kind { return KindContentItem }

func (s ItemSource) PayloadRef() string {
	if s.FilePath != "" {
		return s.FilePath
	}
	return s.ContentID
}

func (ItemSource) isSource() {}

// ModuleSource is a legacy module that carries its own content
type ModuleSource struct {
	ModuleID string
	FilePath string
}

func (ModuleSource) Kind() Kind { return KindModule }

func (s ModuleSource) PayloadRef() string {
	if s.FilePath != "" {
		return s.FilePath
	}
	return s.ModuleID
}

func (ModuleSource) isSource() {}

// Completion is the client's cached view of an item's progress.
// The server holds the authoritative copy; Confirmed marks values it sent.
type Completion struct {
	IsComplete bool    `json:"is_complete"`
	Percent    float64 `json:"percent"`
	Confirmed  bool    `json:"confirmed"`
}

// ahead reports whether c records more progress than other
func (c Completion) ahead(other Completion) bool {
	return c.Percent > other.Percent || (c.IsComplete && !other.IsComplete)
}

// Item is one navigable unit of course content
type Item struct {
	ID     string
	Order  int
	Title  string
	Type   RenderableType
	Source Source

	Completion Completion
}

// Kind returns the payload shape the item was built from
func (i Item) Kind() Kind {
	if i.Source == nil {
		return ""
	}
	return i.Source.Kind()
}

// PayloadRef returns the opaque reference into the source record
func (i Item) PayloadRef() string {
	if i.Source == nil {
		return ""
	}
	return i.Source.PayloadRef()
}

// Key identifies an item across reloads
func (i Item) Key() string {
	return string(i.Kind()) + ":" + i.ID
}

// ContentID returns the content id for content items, empty otherwise
func (i Item) ContentID() string {
	if src, ok := i.Source.(ItemSource); ok {
		return src.ContentID
	}
	return ""
}

// ModuleID returns the module the item belongs to, if any
func (i Item) ModuleID() string {
	switch src := i.Source.(type) {
	case ItemSource:
		return src.ModuleID
	case ModuleSource:
		return src.ModuleID
	}
	return ""
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
