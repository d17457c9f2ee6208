package viewer

import "math"

// SwipeThreshold is the minimum travel in pixels before a drag counts as a swipe
const SwipeThreshold = 50.0

// Swipe is a classified touch gesture
type Swipe int

const (
	SwipeNone Swipe = iota
	SwipeLeft
	SwipeRight
	SwipeUp
	SwipeDown
)

func (s Swipe) String() string {
	switch s {
	case SwipeLeft:
		return "left"
	case SwipeRight:
		return "right"
	case SwipeUp:
		return "up"
	case SwipeDown:
		return "down"
	default:
		return "none"
	}
}

// ParseSwipe maps a direction name to a Swipe
func ParseSwipe(name string) Swipe {
	switch name {
	case "left":
		return SwipeLeft
	case "right":
		return SwipeRight
	case "up":
		return SwipeUp
	case "down":
		return SwipeDown
	default:
		return SwipeNone
	}
}

// ClassifySwipe turns a drag delta into a swipe along its dominant axis.
// Screen coordinates: negative dx is leftward, negative dy is upward.
func ClassifySwipe(dx, dy float64) Swipe {
	ax, ay := math.Abs(dx), math.Abs(dy)
	if math.Max(ax, ay) < SwipeThreshold {
		return SwipeNone
	}
	if ax > ay {
		if dx < 0 {
			return SwipeLeft
		}
		return SwipeRight
	}
	if dy < 0 {
		return SwipeUp
	}
	return SwipeDown
}

// HandleSwipe applies a gesture. Horizontal swipes move through the course,
// vertical swipes only show or hide the controls.
func (c *Controller) HandleSwipe(s Swipe) {
	switch s {
	case SwipeLeft:
		c.advance(+1)
	case SwipeRight:
		c.advance(-1)
	case SwipeUp, SwipeDown:
		c.ToggleChrome()
	}
}

// HandleDrag classifies a drag and applies it
func (c *Controller) HandleDrag(dx, dy float64) Swipe {
	s := ClassifySwipe(dx, dy)
	c.HandleSwipe(s)
	return s
}

// HandleKey applies a keyboard shortcut and reports whether it was consumed
func (c *Controller) HandleKey(key string) bool {
	switch key {
	case "ArrowRight":
		c.advance(+1)
	case "ArrowLeft":
		c.advance(-1)
	case " ", "Space":
		c.TogglePlay()
	case "+", "=":
		c.ZoomIn()
	case "-":
		c.ZoomOut()
	case "r", "R":
		c.Rotate()
	case "f", "F":
		c.ToggleFullscreen()
	default:
		return false
	}
	return true
}

// advance must be called without c.mu held: moving the cursor re-enters
// Activate through the navigator's listeners.
func (c *Controller) advance(direction int) {
	if c.nav == nil {
		return
	}
	c.nav.Advance(direction)
}
