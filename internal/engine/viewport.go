package engine

import (
	"math"

	"github.com/planpin/planpin/backend-go/internal/document"
)

// ZoomStep is the multiplicative factor of one zoom in/out step.
const ZoomStep = 1.2

// ZoomLimits bounds the zoom factor for a document type.
type ZoomLimits struct {
	Min float64
	Max float64
}

// LimitsFor returns the zoom range for a document type. PDFs get a tighter
// range than raster images.
func LimitsFor(t document.Type) ZoomLimits {
	if t == document.TypePDF {
		return ZoomLimits{Min: 0.5, Max: 3}
	}
	return ZoomLimits{Min: 0.1, Max: 5}
}

// Viewport holds zoom, pan and rotation. It only ever produces a view
// transform; stored annotation positions are never touched.
type Viewport struct {
	Zoom     float64 `json:"zoom"`
	PanX     float64 `json:"panX"`
	PanY     float64 `json:"panY"`
	Rotation float64 `json:"rotation"`

	limits ZoomLimits
}

func NewViewport(limits ZoomLimits) *Viewport {
	return &Viewport{Zoom: 1, limits: limits}
}

// SetLimits changes the zoom range and re-clamps the current zoom.
func (v *Viewport) SetLimits(limits ZoomLimits) {
	v.limits = limits
	v.Zoom = v.clamp(v.Zoom)
}

func (v *Viewport) Limits() ZoomLimits { return v.limits }

func (v *Viewport) ZoomIn() {
	v.Zoom = v.clamp(v.Zoom * ZoomStep)
}

func (v *Viewport) ZoomOut() {
	v.Zoom = v.clamp(v.Zoom / ZoomStep)
}

// SetZoom sets an absolute zoom factor, clamped to the limits.
func (v *Viewport) SetZoom(z float64) {
	v.Zoom = v.clamp(z)
}

func (v *Viewport) Pan(dx, dy float64) {
	v.PanX += dx
	v.PanY += dy
}

// Rotate advances rotation by a quarter turn.
func (v *Viewport) Rotate() {
	v.Rotation = math.Mod(v.Rotation+90, 360)
}

func (v *Viewport) Reset() {
	v.Zoom = v.clamp(1)
	v.PanX, v.PanY = 0, 0
	v.Rotation = 0
}

// Matrix returns the view transform for a surface of the given size.
func (v *Viewport) Matrix(width, height float64) Matrix2D {
	return ViewMatrix(v.Zoom, v.PanX, v.PanY, v.Rotation, width/2, height/2)
}

func (v *Viewport) clamp(z float64) float64 {
	if math.IsNaN(z) || z <= 0 {
		z = 1
	}
	if v.limits.Max > 0 {
		z = min(z, v.limits.Max)
	}
	if v.limits.Min > 0 {
		z = max(z, v.limits.Min)
	}
	return z
}
