package viewer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPDFState_ParsePage(t *testing.T) {
	p := PDFState{CurrentPage: 4, TotalPages: 12}

	tests := []struct {
		input  string
		want   int
		wantOK bool
	}{
		{"7", 7, true},
		{"0", 1, true},
		{"999", 12, true},
		{"-3", 1, true},
		{"seven", 4, false},
		{"", 4, false},
	}
	for _, tt := range tests {
		got, ok := p.ParsePage(tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Equal(t, tt.wantOK, ok, "input %q", tt.input)
	}
}

func TestPDFState_UnknownPageCount(t *testing.T) {
	p := NewPDFState()
	assert.Equal(t, 1, p.ClampPage(5))
	_, ok := p.Percent()
	assert.False(t, ok)
}

func TestVideoState_ClampTime(t *testing.T) {
	v := NewVideoState()
	assert.Equal(t, 0.0, v.ClampTime(math.NaN()))
	assert.Equal(t, 42.0, v.ClampTime(42), "no upper bound before metadata")

	v.DurationSec = 30
	assert.Equal(t, 30.0, v.ClampTime(42))
}

func TestSnapZoom(t *testing.T) {
	assert.Equal(t, 100, SnapZoom(110, PDFMinZoom, PDFMaxZoom))
	assert.Equal(t, 125, SnapZoom(113, PDFMinZoom, PDFMaxZoom))
	assert.Equal(t, 50, SnapZoom(25, PDFMinZoom, PDFMaxZoom))
	assert.Equal(t, 25, SnapZoom(25, ImageMinZoom, ImageMaxZoom))
	assert.Equal(t, 300, SnapZoom(1000, ImageMinZoom, ImageMaxZoom))
}

func TestNextRotation(t *testing.T) {
	assert.Equal(t, 90, NextRotation(0))
	assert.Equal(t, 0, NextRotation(270))
	assert.Equal(t, 0, NextRotation(-90))
	assert.Equal(t, 180, NextRotation(450))
}
