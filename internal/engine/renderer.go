package engine

import (
	"strconv"

	"github.com/planpin/planpin/backend-go/internal/document"
	"github.com/planpin/planpin/backend-go/internal/typeid"
)

// Marker appearance. Selected wins over resolved, resolved over default.
const (
	MarkerRadius         = 12.0
	MarkerRadiusSelected = 16.0

	ColorDefault  = "#dc2626"
	ColorResolved = "#16a34a"
	ColorSelected = "#2563eb"
	ColorStroke   = "#ffffff"
	ColorOutline  = "#1e3a8a"
)

// MarkerState is the mutually exclusive visual state of a marker.
type MarkerState int

const (
	MarkerDefault MarkerState = iota
	MarkerResolved
	MarkerSelected
)

func markerState(a document.Annotation, selectedID string) MarkerState {
	switch {
	case a.ID == selectedID:
		return MarkerSelected
	case a.Resolved:
		return MarkerResolved
	default:
		return MarkerDefault
	}
}

// Renderer mirrors the annotation list onto a surface as numbered markers.
// Markers are derived state: every Sync removes them all and rebuilds from
// the list, so ordinals always match the current list order.
type Renderer struct {
	// HideResolved leaves resolved annotations out of the rendered list.
	HideResolved bool

	// onSelect is invoked when a marker is clicked while canSelect allows it.
	onSelect  func(annotationID string)
	canSelect func() bool
}

func NewRenderer(onSelect func(string), canSelect func() bool) *Renderer {
	return &Renderer{onSelect: onSelect, canSelect: canSelect}
}

// Sync redraws markers for annotations positioned inside layout (the rendered
// document rect in canvas space). It never mutates its inputs.
func (r *Renderer) Sync(s Surface, layout Rect, annotations []document.Annotation, selectedID string) {
	if s == nil {
		return
	}
	for _, o := range s.Objects() {
		if o.Kind == KindMarker {
			s.Remove(o.ID)
		}
	}

	ordinal := 0
	for _, a := range annotations {
		if r.HideResolved && a.Resolved && a.ID != selectedID {
			continue
		}
		ordinal++
		s.Add(r.marker(a, ordinal, layout, markerState(a, selectedID)))
	}
}

func (r *Renderer) marker(a document.Annotation, ordinal int, layout Rect, state MarkerState) *Object {
	dx, dy := a.Position().Denormalize(layout.Width, layout.Height)

	obj := &Object{
		ID:          typeid.MarkerID(a.ID),
		Kind:        KindMarker,
		Transform:   Translate(layout.X+dx, layout.Y+dy),
		Radius:      MarkerRadius,
		Fill:        ColorDefault,
		Stroke:      ColorStroke,
		StrokeWidth: 2,
		Label:       strconv.Itoa(ordinal),
		Selectable:  true,
	}
	switch state {
	case MarkerSelected:
		obj.Radius = MarkerRadiusSelected
		obj.Fill = ColorSelected
		obj.Stroke = ColorOutline
		obj.StrokeWidth = 3
	case MarkerResolved:
		obj.Fill = ColorResolved
	}

	id := a.ID
	obj.OnClick = func() {
		if r.canSelect != nil && !r.canSelect() {
			return
		}
		if r.onSelect != nil {
			r.onSelect(id)
		}
	}
	return obj
}
