package content

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/buildlearn/learning-session/internal/logger"
)

// Position describes where the learner is. Total is zero for an empty course.
type Position struct {
	CourseID string
	Index    int
	Total    int
	Item     Item
}

// Empty reports whether the position refers to an empty course
func (p Position) Empty() bool {
	return p.Total == 0
}

// PositionFunc is notified whenever the current item changes
type PositionFunc func(Position)

// Navigator owns the loaded sequence and the current-position cursor.
// Listeners are invoked after the cursor moved, outside the lock.
type Navigator struct {
	fetcher Fetcher
	log     *logger.Logger

	mu        sync.RWMutex
	seq       *Sequence
	index     int
	listeners []PositionFunc
}

// NewNavigator creates a navigator backed by the given fetcher
func NewNavigator(fetcher Fetcher, log *logger.Logger) *Navigator {
	if log == nil {
		log = logger.Get()
	}
	return &Navigator{
		fetcher: fetcher,
		log:     log.Component("content_navigator"),
	}
}

// Subscribe registers fn for position changes
func (n *Navigator) Subscribe(fn PositionFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}

// Load fetches the course and replaces the sequence wholesale. Converted web
// content wins when present; otherwise content items (with modules as sidebar)
// are used; otherwise legacy modules. An empty sequence is not an error.
// Reloading the same course keeps the cursor unless the sequence shape changed;
// on an unchanged shape, cached completion that is ahead of the fetched record
// (an end commit still in flight) is kept.
func (n *Navigator) Load(ctx context.Context, courseID string) (*Sequence, error) {
	seq, err := n.fetch(ctx, courseID)
	if err != nil {
		n.log.Error("Failed to load course content", map[string]interface{}{
			"course_id": courseID,
			"error":     err.Error(),
		})
		return nil, err
	}

	n.mu.Lock()
	prev, prevIndex := n.seq, n.index
	n.seq = seq
	changed := true
	if prev != nil && prev.sameShape(seq) {
		n.index = prevIndex
		changed = false
		for i := range seq.Items {
			if cached := prev.Items[i].Completion; cached.ahead(seq.Items[i].Completion) {
				seq.Items[i].Completion = cached
			}
		}
	} else {
		n.index = 0
	}
	pos := n.positionLocked()
	listeners := n.snapshotListenersLocked()
	n.mu.Unlock()

	n.log.Info("Course content loaded", map[string]interface{}{
		"course_id": courseID,
		"kind":      string(seq.Kind),
		"items":     seq.Len(),
		"index":     pos.Index,
		"preserved": !changed,
	})

	if changed {
		notify(listeners, pos)
	}
	return seq.clone(), nil
}

func (n *Navigator) fetch(ctx context.Context, courseID string) (*Sequence, error) {
	converted, convErr := n.fetcher.FetchConvertedContent(ctx, courseID)
	if convErr == nil && converted != nil && len(converted.Sections) > 0 {
		return FromSections(courseID, converted.Sections), nil
	}
	if convErr != nil && !errors.Is(convErr, ErrNotFound) {
		n.log.Warn("Converted content fetch failed, falling back to content items", map[string]interface{}{
			"course_id": courseID,
			"error":     convErr.Error(),
		})
	}

	var (
		items             []ContentItem
		modules           []Module
		itemsErr, modsErr error
		g                 errgroup.Group
	)
	g.Go(func() error {
		items, itemsErr = n.fetcher.FetchContentItems(ctx, courseID)
		return nil
	})
	g.Go(func() error {
		modules, modsErr = n.fetcher.FetchModules(ctx, courseID)
		return nil
	})
	_ = g.Wait()

	if itemsErr != nil && modsErr != nil {
		errs := []error{itemsErr, modsErr}
		if convErr != nil && !errors.Is(convErr, ErrNotFound) {
			errs = append([]error{convErr}, errs...)
		}
		return nil, fmt.Errorf("%w: course %s: %w", ErrContentUnavailable, courseID, errors.Join(errs...))
	}

	if itemsErr == nil && len(items) > 0 {
		if modsErr != nil {
			n.log.Warn("Module fetch failed, sidebar will be empty", map[string]interface{}{
				"course_id": courseID,
				"error":     modsErr.Error(),
			})
			modules = nil
		}
		return FromContentItems(courseID, items, modules), nil
	}

	if modsErr == nil {
		if r, ok := n.fetcher.(ModuleRefresher); ok {
			fresh, err := r.RefreshModules(ctx, courseID)
			if err != nil {
				n.log.Warn("Module refresh failed, using the cached list", map[string]interface{}{
					"course_id": courseID,
					"error":     err.Error(),
				})
			} else {
				modules = fresh
			}
		}
		if legacy := FromLegacyModules(courseID, modules); !legacy.Empty() {
			return legacy, nil
		}
	}

	return &Sequence{CourseID: courseID}, nil
}

// GoTo moves the cursor, clamping silently to [0, len-1]. It returns the
// resulting index; on an empty sequence it is a no-op.
func (n *Navigator) GoTo(index int) int {
	n.mu.Lock()
	if n.seq.Empty() {
		idx := n.index
		n.mu.Unlock()
		return idx
	}
	target := clampIndex(index, n.seq.Len())
	if target == n.index {
		n.mu.Unlock()
		return target
	}
	n.index = target
	pos := n.positionLocked()
	listeners := n.snapshotListenersLocked()
	n.mu.Unlock()

	notify(listeners, pos)
	return target
}

// Advance moves the cursor by direction (+1 next, -1 previous)
func (n *Navigator) Advance(direction int) int {
	n.mu.RLock()
	current := n.index
	n.mu.RUnlock()
	return n.GoTo(current + direction)
}

// MarkComplete records an optimistic completion for one item. It never calls
// the network and never regresses: a percent at or below the cached one,
// confirmed or not, leaves the item unchanged. It reports false for an
// out-of-range index.
func (n *Navigator) MarkComplete(index int, percent float64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if index < 0 || index >= n.seq.Len() {
		return false
	}
	p := clampPercent(percent)
	c := &n.seq.Items[index].Completion
	if p <= c.Percent {
		return true
	}
	c.Percent = p
	c.IsComplete = c.IsComplete || p >= 100
	c.Confirmed = false
	return true
}

// ConfirmCompletion stores the server's authoritative completion for the item
// with the given key. Items no longer in the sequence are ignored.
func (n *Navigator) ConfirmCompletion(key string, complete bool, percent float64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.seq == nil {
		return false
	}
	for i := range n.seq.Items {
		if n.seq.Items[i].Key() == key {
			n.seq.Items[i].Completion = Completion{
				IsComplete: complete,
				Percent:    clampPercent(percent),
				Confirmed:  true,
			}
			return true
		}
	}
	return false
}

// Current returns the item under the cursor
func (n *Navigator) Current() (Item, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.seq.Empty() {
		return Item{}, false
	}
	return n.seq.Items[n.index], true
}

// ItemAt returns the item at index
func (n *Navigator) ItemAt(index int) (Item, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if index < 0 || index >= n.seq.Len() {
		return Item{}, false
	}
	return n.seq.Items[index], true
}

// Position returns the current position
func (n *Navigator) Position() Position {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.positionLocked()
}

// Index returns the current cursor
func (n *Navigator) Index() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.index
}

// Len returns the number of items in the loaded sequence
func (n *Navigator) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.seq.Len()
}

// Items returns a copy of the loaded items
func (n *Navigator) Items() []Item {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.seq == nil {
		return nil
	}
	return n.seq.clone().Items
}

// Sidebar returns the module grouping for content-item courses
func (n *Navigator) Sidebar() []Module {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.seq == nil {
		return nil
	}
	return n.seq.clone().Sidebar
}

func (n *Navigator) positionLocked() Position {
	if n.seq.Empty() {
		pos := Position{}
		if n.seq != nil {
			pos.CourseID = n.seq.CourseID
		}
		return pos
	}
	return Position{
		CourseID: n.seq.CourseID,
		Index:    n.index,
		Total:    n.seq.Len(),
		Item:     n.seq.Items[n.index],
	}
}

func (n *Navigator) snapshotListenersLocked() []PositionFunc {
	out := make([]PositionFunc, len(n.listeners))
	copy(out, n.listeners)
	return out
}

func notify(listeners []PositionFunc, pos Position) {
	for _, fn := range listeners {
		fn(pos)
	}
}

func clampIndex(index, length int) int {
	if index < 0 {
		return 0
	}
	if index >= length {
		return length - 1
	}
	return index
}
