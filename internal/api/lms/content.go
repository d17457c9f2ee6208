package lms

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/buildlearn/learning-session/internal/content"
)

// FetchConvertedContent returns the converted web content of a course.
// A course that was never converted answers 404, mapped to content.ErrNotFound.
func (c *Client) FetchConvertedContent(ctx context.Context, courseID string) (*content.ConvertedContent, error) {
	if courseID == "" {
		return nil, fmt.Errorf("course ID is required")
	}
	var out content.ConvertedContent
	err := c.do(ctx, http.MethodGet, "/courses/"+escape(courseID)+"/web-content", nil, &out)
	if err != nil {
		var herr *HTTPError
		if errors.As(err, &herr) && herr.StatusCode == http.StatusNotFound {
			return nil, content.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch converted content: %w", err)
	}
	out.CourseID = courseID
	return &out, nil
}

// FetchContentItems returns the structured content items of a course
func (c *Client) FetchContentItems(ctx context.Context, courseID string) ([]content.ContentItem, error) {
	if courseID == "" {
		return nil, fmt.Errorf("course ID is required")
	}
	var out struct {
		Items []content.ContentItem `json:"content_items"`
	}
	if err := c.do(ctx, http.MethodGet, "/courses/"+escape(courseID)+"/content-items", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch content items: %w", err)
	}
	c.logger.Debug("Fetched content items", map[string]interface{}{
		"course_id": courseID,
		"count":     len(out.Items),
	})
	return out.Items, nil
}

// FetchModules returns the modules of a course. Results are cached per course
// for the module TTL; they serve as the sidebar of content-item courses.
func (c *Client) FetchModules(ctx context.Context, courseID string) ([]content.Module, error) {
	if courseID == "" {
		return nil, fmt.Errorf("course ID is required")
	}
	if cached, ok := c.modules.Get(courseID); ok {
		return cloneModules(cached), nil
	}
	return c.fetchModules(ctx, courseID)
}

// RefreshModules drops the cached modules of a course and fetches them again.
// The navigator uses it whenever modules become the sequence itself.
func (c *Client) RefreshModules(ctx context.Context, courseID string) ([]content.Module, error) {
	if courseID == "" {
		return nil, fmt.Errorf("course ID is required")
	}
	c.InvalidateCourse(courseID)
	return c.fetchModules(ctx, courseID)
}

func (c *Client) fetchModules(ctx context.Context, courseID string) ([]content.Module, error) {
	var out struct {
		Modules []content.Module `json:"modules"`
	}
	if err := c.do(ctx, http.MethodGet, "/courses/"+escape(courseID)+"/modules", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch modules: %w", err)
	}
	c.modules.Set(courseID, cloneModules(out.Modules), 0)
	return out.Modules, nil
}

// InvalidateCourse drops cached data for a course
func (c *Client) InvalidateCourse(courseID string) {
	c.modules.Delete(courseID)
}

func cloneModules(in []content.Module) []content.Module {
	if in == nil {
		return nil
	}
	out := make([]content.Module, len(in))
	copy(out, in)
	return out
}
