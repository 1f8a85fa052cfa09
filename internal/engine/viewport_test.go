package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/planpin/planpin/backend-go/internal/document"
)

func TestZoomClampsToLimits(t *testing.T) {
	tests := []struct {
		typ      document.Type
		min, max float64
	}{
		{document.TypeImage, 0.1, 5},
		{document.TypePDF, 0.5, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			v := NewViewport(LimitsFor(tt.typ))
			for range 50 {
				v.ZoomIn()
			}
			assert.Equal(t, tt.max, v.Zoom)
			for range 100 {
				v.ZoomOut()
			}
			assert.Equal(t, tt.min, v.Zoom)
		})
	}
}

func TestZoomStep(t *testing.T) {
	v := NewViewport(LimitsFor(document.TypeImage))
	v.ZoomIn()
	assert.InDelta(t, 1.2, v.Zoom, 1e-12)
	v.ZoomOut()
	assert.InDelta(t, 1.0, v.Zoom, 1e-12)
}

func TestSetLimitsReclamps(t *testing.T) {
	v := NewViewport(LimitsFor(document.TypeImage))
	v.SetZoom(4.5)
	v.SetLimits(LimitsFor(document.TypePDF))
	assert.Equal(t, 3.0, v.Zoom)
}

func TestRotateWrapsAtFullTurn(t *testing.T) {
	v := NewViewport(LimitsFor(document.TypeImage))
	want := []float64{90, 180, 270, 0, 90}
	for _, w := range want {
		v.Rotate()
		assert.Equal(t, w, v.Rotation)
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	v := NewViewport(LimitsFor(document.TypeImage))
	v.ZoomIn()
	v.Pan(30, -12)
	v.Rotate()

	v.Reset()
	assert.Equal(t, 1.0, v.Zoom)
	assert.Zero(t, v.PanX)
	assert.Zero(t, v.PanY)
	assert.Zero(t, v.Rotation)
	assert.True(t, v.Matrix(800, 600).IsIdentity())
}

func TestSetZoomRejectsNonsense(t *testing.T) {
	v := NewViewport(LimitsFor(document.TypeImage))
	v.SetZoom(-3)
	assert.Equal(t, 1.0, v.Zoom)
}
