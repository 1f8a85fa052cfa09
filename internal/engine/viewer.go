package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/planpin/planpin/backend-go/internal/document"
)

// Source is the slice of the annotation store the viewer reads from and
// writes new annotations to.
type Source interface {
	ActiveDocument() (document.Document, bool)
	SelectedAnnotation() string
	AddAnnotation(pos document.Position) (document.Annotation, error)
	SelectAnnotation(id string) error
	Subscribe(fn func()) (unsubscribe func())
}

// ViewerState is a snapshot of everything the viewer owns.
type ViewerState struct {
	Zoom        float64 `json:"zoom"`
	PanX        float64 `json:"panX"`
	PanY        float64 `json:"panY"`
	Rotation    float64 `json:"rotation"`
	Mode        Mode    `json:"mode"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	DocumentID  string  `json:"documentId,omitempty"`
	DocumentURL string  `json:"-"`
	Loading     bool    `json:"loading"`
	LoadError   string  `json:"loadError,omitempty"`
	Selected    string  `json:"selected,omitempty"`
	Layout      Rect    `json:"layout"`
}

// ViewerOptions configures a Viewer.
type ViewerOptions struct {
	Fetcher Fetcher
	Factory Factory
	// RequestRender is called after every change that needs a new frame.
	RequestRender func()
	// ResetScroll scrolls the host container back to its origin.
	ResetScroll func()
	// AutoLoad loads the active document in the background whenever the
	// store switches documents. Without it the caller drives Open.
	AutoLoad bool
}

// Viewer is the mounted annotation viewer: one surface, one viewport, one
// renderer and one router working against one store.
type Viewer struct {
	mu sync.Mutex

	source    Source
	container Container
	manager   *Manager
	loader    *Loader
	viewport  *Viewport
	renderer  *Renderer
	router    *Router
	surface   Surface

	docID     string
	docURL    string
	docType   document.Type
	placement Placement
	hasDoc    bool
	loading   bool
	loadErr   error

	syncing bool
	pending bool

	requestRender func()
	resetScroll   func()
	unsubscribe   func()
	autoLoad      bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// Mount creates the surface under c and starts following the store.
func Mount(source Source, c Container, width, height float64, opts ViewerOptions) (*Viewer, error) {
	v := &Viewer{
		source:        source,
		container:     c,
		manager:       NewManager(opts.Factory),
		loader:        NewLoader(opts.Fetcher),
		viewport:      NewViewport(LimitsFor(document.TypeImage)),
		requestRender: opts.RequestRender,
		resetScroll:   opts.ResetScroll,
		autoLoad:      opts.AutoLoad,
	}
	v.ctx, v.cancel = context.WithCancel(context.Background())

	s, err := v.manager.Create(c, width, height)
	if err != nil {
		v.cancel()
		return nil, err
	}
	v.surface = s

	v.renderer = NewRenderer(v.selectFromMarker, func() bool { return v.router.Mode() == ModeIdle })
	v.router = NewRouter(RouterHooks{
		Surface: func() Surface { return v.surface },
		Layout:  v.layout,
		Create:  v.createAnnotation,
		Pan: func(dx, dy float64) {
			v.viewportOp(func(vp *Viewport) { vp.Pan(dx, dy) })
		},
		ModeChanged: func(Mode) { v.render() },
	})
	v.unsubscribe = source.Subscribe(v.storeChanged)
	v.applyView()
	return v, nil
}

// Unmount detaches every handler and disposes the surface.
func (v *Viewer) Unmount() {
	v.cancel()
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.unsubscribe != nil {
		v.unsubscribe()
		v.unsubscribe = nil
	}
	v.router.Detach()
	v.manager.Dispose(v.surface)
	v.surface = nil
}

// --- Document ---

// Open loads the store's active document if it differs from the one shown.
// It blocks for the fetch/decode; a load overtaken by a newer one returns
// nil without touching the surface. Decode failures are kept in the state
// as a recoverable error and also returned.
func (v *Viewer) Open(ctx context.Context) error {
	doc, ok := v.source.ActiveDocument()

	v.mu.Lock()
	s := v.surface
	if s == nil {
		v.mu.Unlock()
		return nil
	}
	if !ok {
		v.clearDocumentLocked()
		v.mu.Unlock()
		v.render()
		return nil
	}
	if doc.ID == v.docID && doc.URL == v.docURL && (v.hasDoc || v.loading) {
		v.mu.Unlock()
		return nil
	}
	if doc.ID != v.docID {
		v.viewport.SetLimits(LimitsFor(doc.Type))
		v.viewport.Reset()
		v.scrollReset()
	}
	v.docID, v.docURL, v.docType = doc.ID, doc.URL, doc.Type
	v.hasDoc = false
	v.loading = true
	v.loadErr = nil
	v.mu.Unlock()
	v.applyView()

	p, err := v.loader.Load(ctx, s, doc.URL)
	if errors.Is(err, ErrStaleLoad) {
		return nil
	}

	v.mu.Lock()
	if v.docURL != doc.URL {
		v.mu.Unlock()
		return nil
	}
	v.loading = false
	if err != nil {
		slog.Warn("load document", "document", doc.ID, "error", err)
		v.loadErr = err
		v.placement = Placement{}
		v.mu.Unlock()
		v.render()
		return err
	}
	v.placement = p
	v.hasDoc = true
	v.mu.Unlock()

	v.sync()
	return nil
}

// Retry clears a failed load so Open tries again.
func (v *Viewer) Retry(ctx context.Context) error {
	v.mu.Lock()
	v.docURL = ""
	v.docID = ""
	v.loadErr = nil
	v.mu.Unlock()
	return v.Open(ctx)
}

func (v *Viewer) clearDocumentLocked() {
	v.loader.Unload(v.surface)
	v.docID, v.docURL, v.docType = "", "", ""
	v.hasDoc, v.loading, v.loadErr = false, false, nil
	v.placement = Placement{}
}

// Resize changes the surface size and refits the document.
func (v *Viewer) Resize(width, height float64) {
	v.mu.Lock()
	if v.surface == nil {
		v.mu.Unlock()
		return
	}
	v.manager.Resize(v.surface, width, height)
	if p, ok := v.loader.Refit(v.surface); ok {
		v.placement = p
	}
	v.mu.Unlock()
	v.applyView()
	v.sync()
}

// --- Viewport ---

func (v *Viewer) ZoomIn()  { v.viewportOp((*Viewport).ZoomIn) }
func (v *Viewer) ZoomOut() { v.viewportOp((*Viewport).ZoomOut) }
func (v *Viewer) Rotate()  { v.viewportOp((*Viewport).Rotate) }

func (v *Viewer) ResetView() {
	v.viewportOp((*Viewport).Reset)
	v.scrollReset()
}

func (v *Viewer) viewportOp(op func(*Viewport)) {
	v.mu.Lock()
	op(v.viewport)
	v.mu.Unlock()
	v.applyView()
}

func (v *Viewer) scrollReset() {
	if v.resetScroll != nil {
		v.resetScroll()
	}
}

// applyView pushes the viewport matrix to the surface and asks for a frame.
func (v *Viewer) applyView() {
	v.mu.Lock()
	if v.surface != nil {
		w, h := v.surface.Size()
		v.surface.SetViewTransform(v.viewport.Matrix(w, h))
	}
	v.mu.Unlock()
	v.render()
}

// --- Interaction ---

func (v *Viewer) TogglePlacing() { v.router.TogglePlacing() }
func (v *Viewer) TogglePanning() { v.router.TogglePanning() }
func (v *Viewer) CancelMode()    { v.router.Cancel() }
func (v *Viewer) Mode() Mode     { return v.router.Mode() }

// PointerDown reports whether the press created an annotation.
func (v *Viewer) PointerDown(x, y float64) bool { return v.router.PointerDown(x, y) }
func (v *Viewer) PointerMove(x, y float64)      { v.router.PointerMove(x, y) }
func (v *Viewer) PointerUp()                    { v.router.PointerUp() }

// SetHideResolved filters resolved markers out of the canvas.
func (v *Viewer) SetHideResolved(hide bool) {
	v.mu.Lock()
	v.renderer.HideResolved = hide
	v.mu.Unlock()
	v.sync()
}

func (v *Viewer) layout() (Rect, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.hasDoc {
		return Rect{}, false
	}
	return v.placement.Rect(), true
}

func (v *Viewer) createAnnotation(pos document.Position) {
	if _, err := v.source.AddAnnotation(pos); err != nil {
		slog.Warn("add annotation", "error", err)
	}
}

func (v *Viewer) selectFromMarker(id string) {
	if err := v.source.SelectAnnotation(id); err != nil {
		slog.Warn("select annotation", "annotation", id, "error", err)
	}
}

// --- Sync ---

func (v *Viewer) storeChanged() {
	doc, ok := v.source.ActiveDocument()
	v.mu.Lock()
	switched := (ok && (doc.ID != v.docID || doc.URL != v.docURL)) || (!ok && v.docID != "")
	v.mu.Unlock()

	if switched {
		// Markers of the previous document must not linger while the next
		// one loads.
		v.mu.Lock()
		v.hasDoc = false
		v.mu.Unlock()
		if v.autoLoad {
			go func() {
				if err := v.Open(v.ctx); err != nil {
					slog.Debug("background load", "error", err)
				}
			}()
		}
	}
	v.sync()
}

// sync re-derives markers from the store. A store change that arrives while
// a sync is running only marks the frame dirty; the running sync picks it up
// once, so a render can never recurse into itself.
func (v *Viewer) sync() {
	v.mu.Lock()
	if v.syncing {
		v.pending = true
		v.mu.Unlock()
		return
	}
	v.syncing = true
	v.mu.Unlock()

	for {
		v.syncOnce()

		v.mu.Lock()
		if !v.pending {
			v.syncing = false
			v.mu.Unlock()
			break
		}
		v.pending = false
		v.mu.Unlock()
	}
	v.render()
}

func (v *Viewer) syncOnce() {
	doc, ok := v.source.ActiveDocument()
	selected := v.source.SelectedAnnotation()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.surface == nil {
		return
	}
	if !ok || !v.hasDoc || doc.ID != v.docID {
		v.renderer.Sync(v.surface, Rect{}, nil, "")
		return
	}
	v.renderer.Sync(v.surface, v.placement.Rect(), doc.Annotations, selected)
}

func (v *Viewer) render() {
	if v.requestRender != nil {
		v.requestRender()
	}
}

// --- Queries ---

// State returns a snapshot of the viewer state.
func (v *Viewer) State() ViewerState {
	selected := v.source.SelectedAnnotation()
	mode := v.router.Mode()

	v.mu.Lock()
	defer v.mu.Unlock()
	st := ViewerState{
		Zoom:        v.viewport.Zoom,
		PanX:        v.viewport.PanX,
		PanY:        v.viewport.PanY,
		Rotation:    v.viewport.Rotation,
		Mode:        mode,
		DocumentID:  v.docID,
		DocumentURL: v.docURL,
		Loading:     v.loading,
		Selected:    selected,
	}
	if v.hasDoc {
		st.Layout = v.placement.Rect()
	}
	if v.loadErr != nil {
		st.LoadError = v.loadErr.Error()
	}
	if v.surface != nil {
		st.Width, st.Height = v.surface.Size()
	}
	return st
}

// Surface exposes the mounted surface, nil after Unmount.
func (v *Viewer) Surface() Surface {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.surface
}

// Frame is what the frontend needs to paint: the state and the draw commands.
type Frame struct {
	State    ViewerState   `json:"state"`
	Commands []DrawCommand `json:"commands"`
}

func (v *Viewer) Frame() Frame {
	f := Frame{State: v.State(), Commands: []DrawCommand{}}
	if s := v.Surface(); s != nil {
		f.Commands = s.Render()
	}
	return f
}

// FrameJSON serializes Frame for the js bridge.
func (v *Viewer) FrameJSON() string {
	data, err := json.Marshal(v.Frame())
	if err != nil {
		slog.Error("marshal frame", "error", err)
		return `{"state":{},"commands":[]}`
	}
	return string(data)
}
