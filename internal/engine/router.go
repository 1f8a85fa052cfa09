package engine

import (
	"github.com/planpin/planpin/backend-go/internal/document"
)

// Mode is the interaction mode deciding what a pointer-down means.
type Mode string

const (
	ModeIdle    Mode = "idle"
	ModePanning Mode = "panning"
	ModePlacing Mode = "placing"
)

type point struct{ x, y float64 }

// RouterHooks connects the router to the rest of the viewer.
type RouterHooks struct {
	// Surface returns the surface events are resolved against.
	Surface func() Surface
	// Layout returns the document rect in canvas space, or false while no
	// document is ready to take annotations. Without a Layout hook the whole
	// surface is the document.
	Layout func() (Rect, bool)
	// Create commits a new annotation at a normalized position.
	Create func(pos document.Position)
	// Pan moves the viewport by a screen-space delta.
	Pan func(dx, dy float64)
	// ModeChanged is told about every transition.
	ModeChanged func(Mode)
}

// Router is the idle/panning/placing state machine. It lives as long as the
// viewer is mounted; Detach drops every hook.
type Router struct {
	mode     Mode
	last     *point
	hooks    RouterHooks
	detached bool
}

func NewRouter(hooks RouterHooks) *Router {
	return &Router{mode: ModeIdle, hooks: hooks}
}

func (r *Router) Mode() Mode { return r.mode }

// TogglePlacing arms or disarms annotation placement. Arming cancels panning.
func (r *Router) TogglePlacing() {
	if r.mode == ModePlacing {
		r.setMode(ModeIdle)
		return
	}
	r.setMode(ModePlacing)
}

// TogglePanning switches pan mode. Entering it cancels placement.
func (r *Router) TogglePanning() {
	if r.mode == ModePanning {
		r.setMode(ModeIdle)
		return
	}
	r.setMode(ModePanning)
}

// Cancel returns to idle from any mode.
func (r *Router) Cancel() {
	r.setMode(ModeIdle)
}

func (r *Router) setMode(m Mode) {
	if r.detached || r.mode == m {
		return
	}
	r.mode = m
	r.last = nil
	if r.hooks.ModeChanged != nil {
		r.hooks.ModeChanged(m)
	}
}

// PointerDown handles a press at screen coordinates. While panning every
// press starts a drag. Otherwise a marker under the pointer gets the event
// and stops it, and the mode decides the rest.
// It reports whether an annotation was created.
func (r *Router) PointerDown(x, y float64) bool {
	if r.detached || r.hooks.Surface == nil {
		return false
	}
	s := r.hooks.Surface()
	if s == nil {
		return false
	}

	// A drag may start on a marker while panning.
	if r.mode == ModePanning {
		r.last = &point{x, y}
		return false
	}

	if hit := s.HitTest(x, y); hit != nil {
		if hit.OnClick != nil {
			hit.OnClick()
		}
		return false
	}

	if r.mode == ModePlacing {
		pos, ok := r.resolve(s, x, y)
		if !ok {
			return false
		}
		// Disarm before emitting so a re-entrant press cannot place twice.
		r.setMode(ModeIdle)
		if r.hooks.Create != nil {
			r.hooks.Create(pos)
		}
		return true
	}
	return false
}

// resolve converts a screen point to a document percentage position.
// Points outside the document are rejected and leave placement armed.
func (r *Router) resolve(s Surface, x, y float64) (document.Position, bool) {
	cx, cy := s.ToCanvas(x, y)

	var layout Rect
	if r.hooks.Layout != nil {
		l, ok := r.hooks.Layout()
		if !ok {
			return document.Position{}, false
		}
		layout = l
	} else {
		w, h := s.Size()
		layout = Rect{Width: w, Height: h}
	}
	if layout.IsEmpty() || !layout.Contains(cx, cy) {
		return document.Position{}, false
	}
	return document.Normalize(cx-layout.X, cy-layout.Y, layout.Width, layout.Height), true
}

func (r *Router) PointerMove(x, y float64) {
	if r.detached || r.mode != ModePanning || r.last == nil {
		return
	}
	dx, dy := x-r.last.x, y-r.last.y
	r.last = &point{x, y}
	if r.hooks.Pan != nil {
		r.hooks.Pan(dx, dy)
	}
}

func (r *Router) PointerUp() {
	r.last = nil
}

// Detach drops all hooks; later events are ignored.
func (r *Router) Detach() {
	r.detached = true
	r.mode = ModeIdle
	r.last = nil
	r.hooks = RouterHooks{}
}
