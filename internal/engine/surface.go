package engine

import (
	"errors"
	"sync"

	"github.com/planpin/planpin/backend-go/internal/document"
	"github.com/planpin/planpin/backend-go/internal/typeid"
)

var ErrSurfaceDisposed = errors.New("surface disposed")

type ObjectKind string

const (
	KindDocument ObjectKind = "document"
	KindMarker   ObjectKind = "marker"
)

// Object is a retained scene object. Transform maps the object's local space
// into unscaled canvas space; the surface's view transform is applied on top.
type Object struct {
	ID        string
	Kind      ObjectKind
	Transform Matrix2D

	// Documents: natural size, source and page to draw.
	Width      float64
	Height     float64
	Source     string
	SourceType document.Type
	Page       int

	// Markers: circle centred on the local origin.
	Radius      float64
	Fill        string
	Stroke      string
	StrokeWidth float64
	Label       string

	// Selectable objects take part in hit testing.
	Selectable bool
	OnClick    func()
}

// Bounds returns the object's axis-aligned box in canvas space.
func (o *Object) Bounds() Rect {
	switch o.Kind {
	case KindMarker:
		return o.Transform.TransformRect(Rect{X: -o.Radius, Y: -o.Radius, Width: 2 * o.Radius, Height: 2 * o.Radius})
	default:
		return o.Transform.TransformRect(Rect{Width: o.Width, Height: o.Height})
	}
}

// contains tests a canvas-space point against the object's shape.
func (o *Object) contains(x, y float64) bool {
	if o.Kind == KindMarker {
		lx, ly := o.Transform.Invert().TransformPoint(x, y)
		return lx*lx+ly*ly <= o.Radius*o.Radius
	}
	return o.Bounds().Contains(x, y)
}

// Surface is the 2D scene capability the viewer draws on. Renderer and
// router logic only depend on this interface.
type Surface interface {
	ID() string
	Size() (width, height float64)
	SetSize(width, height float64)

	Add(obj *Object)
	Remove(id string) bool
	Clear()
	Objects() []*Object

	SetViewTransform(m Matrix2D)
	ViewTransform() Matrix2D

	// HitTest returns the topmost selectable object under a screen point.
	HitTest(x, y float64) *Object
	// ToCanvas maps a screen point into unscaled canvas space.
	ToCanvas(x, y float64) (float64, float64)

	Render() []DrawCommand
	Dispose() error
}

// SceneSurface is the retained scene graph adapter behind Surface. Objects
// are kept in painter's order (back to front).
type SceneSurface struct {
	mu       sync.RWMutex
	id       string
	width    float64
	height   float64
	view     Matrix2D
	objects  []*Object
	byID     map[string]*Object
	disposed bool
}

// NewSceneSurface creates an empty surface of the given size.
func NewSceneSurface(width, height float64) (Surface, error) {
	return &SceneSurface{
		id:     typeid.NewSurfaceID(),
		width:  width,
		height: height,
		view:   Identity(),
		byID:   make(map[string]*Object),
	}, nil
}

func (s *SceneSurface) ID() string { return s.id }

func (s *SceneSurface) Size() (float64, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

func (s *SceneSurface) SetSize(width, height float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height = width, height
}

// Add inserts obj on top. An object with the same id is replaced in place.
func (s *SceneSurface) Add(obj *Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || obj == nil {
		return
	}
	if _, ok := s.byID[obj.ID]; ok {
		for i, o := range s.objects {
			if o.ID == obj.ID {
				s.objects[i] = obj
				break
			}
		}
	} else {
		s.objects = append(s.objects, obj)
	}
	s.byID[obj.ID] = obj
}

func (s *SceneSurface) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, o := range s.objects {
		if o.ID == id {
			s.objects = append(s.objects[:i], s.objects[i+1:]...)
			break
		}
	}
	return true
}

func (s *SceneSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = nil
	s.byID = make(map[string]*Object)
}

func (s *SceneSurface) Objects() []*Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Object(nil), s.objects...)
}

func (s *SceneSurface) SetViewTransform(m Matrix2D) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = m
}

func (s *SceneSurface) ViewTransform() Matrix2D {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

func (s *SceneSurface) ToCanvas(x, y float64) (float64, float64) {
	return s.ViewTransform().Invert().TransformPoint(x, y)
}

func (s *SceneSurface) HitTest(x, y float64) *Object {
	cx, cy := s.ToCanvas(x, y)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.objects) - 1; i >= 0; i-- {
		o := s.objects[i]
		if o.Selectable && o.contains(cx, cy) {
			return o
		}
	}
	return nil
}

func (s *SceneSurface) Render() []DrawCommand {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CompileDrawCommands(s.view, s.objects)
}

func (s *SceneSurface) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrSurfaceDisposed
	}
	s.disposed = true
	s.objects = nil
	s.byID = nil
	return nil
}

// Rect is an axis-aligned box.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height
}

// IsEmpty checks if the rect has zero or negative area.
func (r Rect) IsEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}
