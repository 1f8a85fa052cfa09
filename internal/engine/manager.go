package engine

import (
	"fmt"
	"log/slog"
	"sync"
)

// Container is the host element a surface is mounted under. In the browser
// it wraps a DOM node; on the server it is an in-memory slot.
type Container interface {
	// Mounted returns the surface currently attached, or nil.
	Mounted() Surface
	Mount(s Surface) error
	Unmount(s Surface) error
}

// Factory builds the concrete surface adapter.
type Factory func(width, height float64) (Surface, error)

// Manager owns the lifecycle of the single surface a viewer draws on.
type Manager struct {
	factory   Factory
	container Container
	surface   Surface
}

func NewManager(factory Factory) *Manager {
	if factory == nil {
		factory = NewSceneSurface
	}
	return &Manager{factory: factory}
}

// Create mounts a fresh surface under c. A wrapper left behind by an earlier
// mount (remount race) is detached first so surfaces never stack.
func (m *Manager) Create(c Container, width, height float64) (Surface, error) {
	if stale := c.Mounted(); stale != nil {
		slog.Debug("remove stale surface", "surface", stale.ID())
		if err := safeUnmount(c, stale); err != nil {
			slog.Warn("remove stale surface", "surface", stale.ID(), "error", err)
		}
	}
	if m.surface != nil && m.container == c {
		m.surface = nil
	}

	s, err := m.factory(width, height)
	if err != nil {
		return nil, fmt.Errorf("create surface: %w", err)
	}
	if err := c.Mount(s); err != nil {
		return nil, fmt.Errorf("mount surface: %w", err)
	}

	m.container = c
	m.surface = s
	return s, nil
}

func (m *Manager) Resize(s Surface, width, height float64) {
	if s == nil || width <= 0 || height <= 0 {
		return
	}
	s.SetSize(width, height)
}

// Surface returns the managed surface, or nil after Dispose.
func (m *Manager) Surface() Surface {
	return m.surface
}

// Dispose tears the surface down. It never fails: if the adapter's own
// teardown panics or errors, the surface is detached from its container by
// hand and the manager drops its references.
func (m *Manager) Dispose(s Surface) {
	if s == nil {
		return
	}
	c := m.container

	if err := safeDispose(s); err != nil {
		slog.Warn("dispose surface", "surface", s.ID(), "error", err)
	}
	if c != nil && c.Mounted() == s {
		if err := safeUnmount(c, s); err != nil {
			slog.Warn("detach surface", "surface", s.ID(), "error", err)
		}
	}

	if m.surface == s {
		m.surface = nil
		m.container = nil
	}
}

func safeDispose(s Surface) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during dispose: %v", r)
		}
	}()
	return s.Dispose()
}

func safeUnmount(c Container, s Surface) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during unmount: %v", r)
		}
	}()
	return c.Unmount(s)
}

// MemoryContainer is a Container with a single slot, used by server-side
// sessions and tests.
type MemoryContainer struct {
	mounted Surface
}

func (c *MemoryContainer) Mounted() Surface { return c.mounted }

func (c *MemoryContainer) Mount(s Surface) error {
	c.mounted = s
	return nil
}

func (c *MemoryContainer) Unmount(s Surface) error {
	if c.mounted == s {
		c.mounted = nil
	}
	return nil
}

// Element is a host node that records the id of the surface drawn into it.
// The tag lives on the node, so it outlives any Container wrapping it.
type Element interface {
	SurfaceTag() string
	// SetSurfaceTag records id; an empty id removes the tag.
	SetSurfaceTag(id string)
}

// Surfaces tracks the live surfaces of every ElementContainer.
type Surfaces struct {
	mu   sync.Mutex
	byID map[string]Surface
}

func NewSurfaces() *Surfaces {
	return &Surfaces{byID: make(map[string]Surface)}
}

func (r *Surfaces) get(id string) Surface {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

func (r *Surfaces) put(s Surface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID()] = s
}

func (r *Surfaces) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// Len reports how many surfaces are mounted.
func (r *Surfaces) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// ElementContainer reads its mounted surface from the element's tag. A new
// wrapper around the same element therefore sees a surface left by an
// earlier mount.
type ElementContainer struct {
	el       Element
	surfaces *Surfaces
}

func NewElementContainer(el Element, surfaces *Surfaces) *ElementContainer {
	return &ElementContainer{el: el, surfaces: surfaces}
}

func (c *ElementContainer) Mounted() Surface {
	id := c.el.SurfaceTag()
	if id == "" {
		return nil
	}
	s := c.surfaces.get(id)
	if s == nil {
		// Tagged by a surface this process never mounted.
		slog.Debug("drop unknown surface tag", "surface", id)
		c.el.SetSurfaceTag("")
	}
	return s
}

func (c *ElementContainer) Mount(s Surface) error {
	c.surfaces.put(s)
	c.el.SetSurfaceTag(s.ID())
	return nil
}

// Unmount forgets s. The tag is only removed while it still names s, so a
// late unmount of an old surface leaves a newer one alone.
func (c *ElementContainer) Unmount(s Surface) error {
	c.surfaces.remove(s.ID())
	if c.el.SurfaceTag() == s.ID() {
		c.el.SetSurfaceTag("")
	}
	return nil
}
