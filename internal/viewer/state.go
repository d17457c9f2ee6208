// Package viewer holds the per-renderer state machines behind the content
// viewer: video transport, PDF pager, image pan/zoom and the routing for
// interactive and test items. It never decodes media; it only commands an
// external rendering surface and mirrors what that surface reports back.
package viewer

import (
	"math"
	"strconv"
	"strings"
)

const (
	PDFMinZoom = 50
	PDFMaxZoom = 300

	ImageMinZoom = 25
	ImageMaxZoom = 300

	DefaultZoom = 100
	ZoomStep    = 25
)

// AllowedRates are the only playback rates the video transport accepts
var AllowedRates = []float64{0.5, 0.75, 1, 1.25, 1.5, 2}

// VideoState mirrors the media element for a video item
type VideoState struct {
	IsPlaying      bool    `json:"is_playing"`
	CurrentTimeSec float64 `json:"current_time_sec"`
	DurationSec    float64 `json:"duration_sec"`
	Volume         float64 `json:"volume"`
	IsMuted        bool    `json:"is_muted"`
	PlaybackRate   float64 `json:"playback_rate"`
	IsFullscreen   bool    `json:"is_fullscreen"`
}

// NewVideoState returns the video defaults
func NewVideoState() VideoState {
	return VideoState{Volume: 1, PlaybackRate: 1}
}

// Percent is the playhead position as 0..100, ok is false until the duration is known
func (v VideoState) Percent() (float64, bool) {
	if v.DurationSec <= 0 {
		return 0, false
	}
	return clampFloat(v.CurrentTimeSec/v.DurationSec*100, 0, 100), true
}

// ClampTime limits t to [0, duration]. Before metadata arrives only the lower bound applies.
func (v VideoState) ClampTime(t float64) float64 {
	if math.IsNaN(t) || t < 0 {
		return 0
	}
	if v.DurationSec > 0 && t > v.DurationSec {
		return v.DurationSec
	}
	return t
}

// PDFState is the pager state for a document item
type PDFState struct {
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
	ZoomPercent int `json:"zoom_percent"`
	RotationDeg int `json:"rotation_deg"`
}

// NewPDFState returns the PDF defaults
func NewPDFState() PDFState {
	return PDFState{CurrentPage: 1, ZoomPercent: DefaultZoom}
}

// ClampPage limits page to [1, TotalPages]. An unknown page count pins to 1.
func (p PDFState) ClampPage(page int) int {
	upper := p.TotalPages
	if upper < 1 {
		upper = 1
	}
	return clampInt(page, 1, upper)
}

// ParsePage interprets text typed into the page box. Non-numeric input is
// rejected so the caller keeps the previous page.
func (p PDFState) ParsePage(input string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return p.CurrentPage, false
	}
	return p.ClampPage(n), true
}

// Percent is the page position as 0..100
func (p PDFState) Percent() (float64, bool) {
	if p.TotalPages <= 0 {
		return 0, false
	}
	return clampFloat(float64(p.CurrentPage)/float64(p.TotalPages)*100, 0, 100), true
}

// ImageState is the pan/zoom state for an image item
type ImageState struct {
	ZoomPercent int `json:"zoom_percent"`
	RotationDeg int `json:"rotation_deg"`
}

// NewImageState returns the image defaults
func NewImageState() ImageState {
	return ImageState{ZoomPercent: DefaultZoom}
}

// ValidRate reports whether rate is one of AllowedRates
func ValidRate(rate float64) bool {
	for _, r := range AllowedRates {
		if r == rate {
			return true
		}
	}
	return false
}

// SnapZoom rounds zoom to the nearest step and clamps it to [lo, hi]
func SnapZoom(zoom, lo, hi int) int {
	snapped := int(math.Round(float64(zoom)/ZoomStep)) * ZoomStep
	return clampInt(snapped, lo, hi)
}

// NextRotation cycles 0 -> 90 -> 180 -> 270 -> 0
func NextRotation(deg int) int {
	step := ((deg%360 + 360) % 360) / 90
	return ((step + 1) % 4) * 90
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
