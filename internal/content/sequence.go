package content

import (
	"sort"
	"strconv"
)

// Sequence is the ordered list of items for one course, built from exactly one
// payload shape. Orders are contiguous starting at 1.
type Sequence struct {
	CourseID string
	Kind     Kind
	Items    []Item
	// Sidebar holds module grouping when the sequence came from content items.
	// It never affects navigation order.
	Sidebar []Module
}

// Len returns the number of items
func (s *Sequence) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Items)
}

// Empty reports whether the sequence has no items
func (s *Sequence) Empty() bool {
	return s.Len() == 0
}

// sameShape reports whether both sequences hold the same items in the same order
func (s *Sequence) sameShape(other *Sequence) bool {
	if s.Len() != other.Len() || s.CourseID != other.CourseID {
		return false
	}
	for i := range s.Items {
		if s.Items[i].Key() != other.Items[i].Key() {
			return false
		}
	}
	return true
}

func (s *Sequence) clone() *Sequence {
	if s == nil {
		return nil
	}
	out := &Sequence{
		CourseID: s.CourseID,
		Kind:     s.Kind,
		Items:    make([]Item, len(s.Items)),
		Sidebar:  make([]Module, len(s.Sidebar)),
	}
	copy(out.Items, s.Items)
	copy(out.Sidebar, s.Sidebar)
	return out
}

// FromSections builds a sequence from converted web content. Sections are
// ordered by their order field and renumbered 1..n.
func FromSections(courseID string, sections []Section) *Sequence {
	sorted := make([]Section, len(sections))
	copy(sorted, sections)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	seq := &Sequence{CourseID: courseID, Kind: KindSection, Items: make([]Item, 0, len(sorted))}
	for i, sec := range sorted {
		order := i + 1
		page := sec.Page
		if page <= 0 {
			page = order
		}
		title := sec.Title
		if title == "" {
			title = "Section " + strconv.Itoa(order)
		}
		seq.Items = append(seq.Items, Item{
			ID:     strconv.Itoa(order),
			Order:  order,
			Title:  title,
			Type:   RenderText,
			Source: SectionSource{Page: page, Content: sec.Content},
		})
	}
	return seq
}

// FromContentItems builds a sequence from structured content items. Items are
// walked in their own flat order; modules are only kept as the sidebar.
func FromContentItems(courseID string, items []ContentItem, modules []Module) *Sequence {
	sorted := make([]ContentItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	sidebar := make([]Module, len(modules))
	copy(sidebar, modules)
	sort.SliceStable(sidebar, func(i, j int) bool { return sidebar[i].Order < sidebar[j].Order })

	seq := &Sequence{
		CourseID: courseID,
		Kind:     KindContentItem,
		Items:    make([]Item, 0, len(sorted)),
		Sidebar:  sidebar,
	}
	for i, ci := range sorted {
		completion := Completion{IsComplete: ci.IsCompleted, Confirmed: true}
		if ci.ProgressPercent != nil {
			completion.Percent = clampPercent(*ci.ProgressPercent)
		}
		if ci.IsCompleted {
			completion.Percent = 100
		}
		seq.Items = append(seq.Items, Item{
			ID:    ci.ID,
			Order: i + 1,
			Title: ci.Title,
			Type:  ParseRenderableType(ci.ContentType),
			Source: ItemSource{
				ContentID:   ci.ID,
				ModuleID:    ci.ModuleID,
				FilePath:    ci.FilePath,
				DurationSec: ci.DurationSec,
			},
			Completion: completion,
		})
	}
	return seq
}

// FromLegacyModules builds a sequence from modules that carry their own content.
// Pure grouping modules (no content type) are skipped.
func FromLegacyModules(courseID string, modules []Module) *Sequence {
	sorted := make([]Module, 0, len(modules))
	for _, m := range modules {
		if m.ContentType != "" {
			sorted = append(sorted, m)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	seq := &Sequence{CourseID: courseID, Kind: KindModule, Items: make([]Item, 0, len(sorted))}
	for i, m := range sorted {
		completion := Completion{IsComplete: m.IsCompleted, Confirmed: true}
		if m.IsCompleted {
			completion.Percent = 100
		}
		seq.Items = append(seq.Items, Item{
			ID:         m.ID,
			Order:      i + 1,
			Title:      m.Title,
			Type:       ParseRenderableType(m.ContentType),
			Source:     ModuleSource{ModuleID: m.ID, FilePath: m.FilePath},
			Completion: completion,
		})
	}
	return seq
}
