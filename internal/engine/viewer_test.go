package engine

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planpin/planpin/backend-go/internal/annotation"
	"github.com/planpin/planpin/backend-go/internal/document"
	"github.com/planpin/planpin/backend-go/internal/storage"
	"github.com/planpin/planpin/backend-go/internal/typeid"
)

type viewerFixture struct {
	store     *annotation.Store
	kv        *storage.Memory
	fetcher   *fakeFetcher
	container *MemoryContainer
	viewer    *Viewer
	renders   atomic.Int64
	scrolls   atomic.Int64
}

func newViewerFixture(t *testing.T, autoLoad bool) *viewerFixture {
	t.Helper()
	fx := &viewerFixture{
		kv:        storage.NewMemory(),
		fetcher:   newFakeFetcher(),
		container: &MemoryContainer{},
	}
	fx.store = annotation.NewStore(annotation.Options{
		ProjectID: "p1",
		Storage:   fx.kv,
		Author:    func() string { return "Inspector" },
		Clock:     func() time.Time { return time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC) },
	})

	v, err := Mount(fx.store, fx.container, 800, 600, ViewerOptions{
		Fetcher:       fx.fetcher,
		RequestRender: func() { fx.renders.Add(1) },
		ResetScroll:   func() { fx.scrolls.Add(1) },
		AutoLoad:      autoLoad,
	})
	require.NoError(t, err)
	fx.viewer = v
	t.Cleanup(v.Unmount)
	return fx
}

func (fx *viewerFixture) addDocument(t *testing.T, url string, w, h int) document.Document {
	t.Helper()
	fx.fetcher.put(url, pngBytes(t, w, h))
	doc, err := fx.store.AddDocument(url, document.DisplayName(url), document.TypeImage)
	require.NoError(t, err)
	return doc
}

func (fx *viewerFixture) open(t *testing.T) {
	t.Helper()
	require.NoError(t, fx.viewer.Open(context.Background()))
}

func TestViewerPlacesAnnotationAtDocumentPercentage(t *testing.T) {
	fx := newViewerFixture(t, false)
	fx.addDocument(t, "plan.png", 800, 600)
	fx.open(t)

	st := fx.viewer.State()
	assert.Equal(t, Rect{X: 40, Y: 30, Width: 720, Height: 540}, st.Layout)

	fx.viewer.TogglePlacing()
	require.True(t, fx.viewer.PointerDown(400, 300))
	assert.Equal(t, ModeIdle, fx.viewer.Mode())

	doc, ok := fx.store.ActiveDocument()
	require.True(t, ok)
	require.Len(t, doc.Annotations, 1)
	ann := doc.Annotations[0]
	assert.Equal(t, 50.0, ann.X)
	assert.Equal(t, 50.0, ann.Y)
	assert.Equal(t, "Inspector", ann.Author)
	assert.Equal(t, ann.ID, fx.store.SelectedAnnotation())

	m := markers(fx.viewer.Surface())
	require.Len(t, m, 1)
	assert.Equal(t, "1", m[0].Label)
	assert.Equal(t, ColorSelected, m[0].Fill)
	x, y := m[0].Transform.TransformPoint(0, 0)
	assert.InDelta(t, 400, x, 1e-9)
	assert.InDelta(t, 300, y, 1e-9)
}

func TestViewerZoomNeverMovesAnnotations(t *testing.T) {
	fx := newViewerFixture(t, false)
	fx.addDocument(t, "plan.png", 800, 600)
	fx.open(t)

	fx.viewer.ZoomIn()
	fx.viewer.ZoomIn()
	fx.viewer.Rotate()

	// The surface centre stays fixed under zoom and rotation.
	fx.viewer.TogglePlacing()
	require.True(t, fx.viewer.PointerDown(400, 300))

	doc, _ := fx.store.ActiveDocument()
	require.Len(t, doc.Annotations, 1)
	assert.InDelta(t, 50, doc.Annotations[0].X, 1e-9)
	assert.InDelta(t, 50, doc.Annotations[0].Y, 1e-9)

	fx.viewer.ZoomOut()
	doc, _ = fx.store.ActiveDocument()
	assert.InDelta(t, 50, doc.Annotations[0].X, 1e-9)

	st := fx.viewer.State()
	assert.InDelta(t, 1.2, st.Zoom, 1e-12)
	assert.Equal(t, 90.0, st.Rotation)
}

func TestViewerMarkerClickSelectsOnlyWhenIdle(t *testing.T) {
	fx := newViewerFixture(t, false)
	fx.addDocument(t, "plan.png", 800, 600)
	fx.open(t)

	fx.viewer.TogglePlacing()
	require.True(t, fx.viewer.PointerDown(400, 300))
	require.NoError(t, fx.store.SelectAnnotation(""))

	// While placing, a marker click is swallowed without selecting.
	fx.viewer.TogglePlacing()
	assert.False(t, fx.viewer.PointerDown(401, 300))
	assert.Empty(t, fx.store.SelectedAnnotation())
	assert.Equal(t, ModePlacing, fx.viewer.Mode())

	fx.viewer.CancelMode()
	fx.viewer.PointerDown(401, 300)
	assert.NotEmpty(t, fx.store.SelectedAnnotation())
}

func TestViewerMarkerNumberingAfterResolve(t *testing.T) {
	fx := newViewerFixture(t, false)
	fx.addDocument(t, "plan.png", 800, 600)
	fx.open(t)

	for _, x := range []float64{200, 400, 600} {
		fx.viewer.TogglePlacing()
		require.True(t, fx.viewer.PointerDown(x, 300))
	}
	doc, _ := fx.store.ActiveDocument()
	require.Len(t, doc.Annotations, 3)

	_, err := fx.store.ToggleResolved(doc.Annotations[1].ID)
	require.NoError(t, err)
	require.NoError(t, fx.store.SelectAnnotation(""))

	m := markers(fx.viewer.Surface())
	require.Len(t, m, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{m[0].Label, m[1].Label, m[2].Label})
	assert.Equal(t, ColorDefault, m[0].Fill)
	assert.Equal(t, ColorResolved, m[1].Fill)
	assert.Equal(t, ColorDefault, m[2].Fill)
	assert.Equal(t, typeid.MarkerID(doc.Annotations[1].ID), m[1].ID)
}

func TestViewerDocumentSwitchResetsViewport(t *testing.T) {
	fx := newViewerFixture(t, false)
	first := fx.addDocument(t, "ground.png", 800, 600)
	fx.open(t)

	fx.viewer.TogglePlacing()
	require.True(t, fx.viewer.PointerDown(400, 300))
	fx.viewer.ZoomIn()
	fx.viewer.TogglePanning()
	fx.viewer.PointerDown(10, 10)
	fx.viewer.PointerMove(30, 10)
	fx.viewer.PointerUp()
	assert.Equal(t, 20.0, fx.viewer.State().PanX)
	scrolls := fx.scrolls.Load()

	second := fx.addDocument(t, "level1.png", 400, 400)
	assert.Empty(t, markers(fx.viewer.Surface()), "old markers cleared while the next document loads")
	fx.open(t)

	st := fx.viewer.State()
	assert.Equal(t, second.ID, st.DocumentID)
	assert.Equal(t, 1.0, st.Zoom)
	assert.Zero(t, st.PanX)
	assert.Greater(t, fx.scrolls.Load(), scrolls)
	assert.Empty(t, markers(fx.viewer.Surface()))

	require.NoError(t, fx.store.SelectDocument(first.ID))
	fx.open(t)
	assert.Len(t, markers(fx.viewer.Surface()), 1)
}

func TestViewerLoadErrorIsRecoverable(t *testing.T) {
	fx := newViewerFixture(t, false)
	fx.fetcher.put("broken.png", []byte("not an image"))
	_, err := fx.store.AddDocument("broken.png", "broken", document.TypeImage)
	require.NoError(t, err)

	err = fx.viewer.Open(context.Background())
	require.ErrorIs(t, err, ErrDecode)

	st := fx.viewer.State()
	assert.False(t, st.Loading)
	assert.NotEmpty(t, st.LoadError)
	assert.Equal(t, Rect{}, st.Layout)

	// No layout, no placement.
	fx.viewer.TogglePlacing()
	assert.False(t, fx.viewer.PointerDown(400, 300))

	fx.fetcher.put("broken.png", pngBytes(t, 800, 600))
	require.NoError(t, fx.viewer.Retry(context.Background()))
	st = fx.viewer.State()
	assert.Empty(t, st.LoadError)
	assert.False(t, st.Layout.IsEmpty())
}

func TestViewerFailedSwitchDoesNotShowPreviousDocument(t *testing.T) {
	fx := newViewerFixture(t, false)
	fx.addDocument(t, "a.png", 800, 600)
	fx.open(t)
	_, err := fx.store.AddAnnotation(document.Position{X: 10, Y: 10})
	require.NoError(t, err)

	fx.fetcher.put("b.png", []byte("not an image"))
	broken, err := fx.store.AddDocument("b.png", "b", document.TypeImage)
	require.NoError(t, err)
	require.ErrorIs(t, fx.viewer.Open(context.Background()), ErrDecode)

	frame := fx.viewer.Frame()
	assert.Equal(t, broken.ID, frame.State.DocumentID)
	assert.NotEmpty(t, frame.State.LoadError)
	assert.Equal(t, Rect{}, frame.State.Layout)
	for _, cmd := range frame.Commands {
		assert.NotEqual(t, "a.png", cmd.Source, "plan a is still drawn")
	}
	assert.Empty(t, markers(fx.viewer.Surface()))
}

func TestViewerResizeRefits(t *testing.T) {
	fx := newViewerFixture(t, false)
	fx.addDocument(t, "plan.png", 800, 600)
	fx.open(t)

	fx.viewer.Resize(400, 300)
	st := fx.viewer.State()
	assert.Equal(t, 400.0, st.Width)
	assert.Equal(t, Rect{X: 20, Y: 15, Width: 360, Height: 270}, st.Layout)
}

func TestViewerAutoLoad(t *testing.T) {
	fx := newViewerFixture(t, true)
	doc := fx.addDocument(t, "plan.png", 800, 600)

	require.Eventually(t, func() bool {
		st := fx.viewer.State()
		return st.DocumentID == doc.ID && !st.Layout.IsEmpty()
	}, time.Second, 5*time.Millisecond)
}

func TestViewerFrameJSON(t *testing.T) {
	fx := newViewerFixture(t, false)
	fx.addDocument(t, "plan.png", 800, 600)
	fx.open(t)
	fx.viewer.TogglePlacing()
	fx.viewer.PointerDown(400, 300)

	var frame Frame
	require.NoError(t, json.Unmarshal([]byte(fx.viewer.FrameJSON()), &frame))
	require.Len(t, frame.Commands, 2)
	assert.Equal(t, "document", frame.Commands[0].Op)
	assert.Equal(t, "marker", frame.Commands[1].Op)
	assert.Equal(t, ModeIdle, frame.State.Mode)
	assert.Empty(t, frame.State.DocumentURL, "document url is not serialized")
	assert.Positive(t, fx.renders.Load())
}

func TestViewerUnmountDetaches(t *testing.T) {
	fx := newViewerFixture(t, false)
	fx.addDocument(t, "plan.png", 800, 600)
	fx.open(t)

	fx.viewer.Unmount()
	assert.Nil(t, fx.container.Mounted())
	assert.Nil(t, fx.viewer.Surface())

	assert.NotPanics(t, func() {
		_, _ = fx.store.AddDocument("other.png", "other", document.TypeImage)
		fx.viewer.TogglePlacing()
		fx.viewer.PointerDown(400, 300)
	})
	assert.Equal(t, []DrawCommand{}, fx.viewer.Frame().Commands)
}

// reentrantSource fires a change notification from inside a read the viewer
// makes while syncing.
type reentrantSource struct {
	doc      document.Document
	listener func()
	reads    int
	fire     bool
}

func (r *reentrantSource) ActiveDocument() (document.Document, bool) { return r.doc, true }
func (r *reentrantSource) AddAnnotation(document.Position) (document.Annotation, error) {
	return document.Annotation{}, nil
}
func (r *reentrantSource) SelectAnnotation(string) error { return nil }
func (r *reentrantSource) Subscribe(fn func()) func() {
	r.listener = fn
	return func() { r.listener = nil }
}

func (r *reentrantSource) SelectedAnnotation() string {
	r.reads++
	if r.fire {
		r.fire = false
		r.listener()
	}
	return ""
}

func TestViewerSyncCoalescesReentrantChanges(t *testing.T) {
	f := newFakeFetcher()
	f.put("plan.png", pngBytes(t, 100, 100))
	src := &reentrantSource{doc: document.Document{ID: "doc_1", URL: "plan.png", Type: document.TypeImage}}

	v, err := Mount(src, &MemoryContainer{}, 200, 200, ViewerOptions{Fetcher: f})
	require.NoError(t, err)
	defer v.Unmount()
	require.NoError(t, v.Open(context.Background()))

	src.reads = 0
	src.fire = true
	src.listener()

	// The nested notification only marks the frame dirty; the running sync
	// makes exactly one catch-up pass.
	assert.Equal(t, 2, src.reads)
	assert.False(t, src.fire)
}

func TestEndToEndSaveAndReload(t *testing.T) {
	fx := newViewerFixture(t, false)
	fx.addDocument(t, "plan.png", 800, 600)
	fx.open(t)

	fx.viewer.TogglePlacing()
	require.True(t, fx.viewer.PointerDown(400, 300))
	id := fx.store.SelectedAnnotation()
	resolved, err := fx.store.ToggleResolved(id)
	require.NoError(t, err)
	require.True(t, resolved)
	require.NoError(t, fx.store.SaveState(context.Background()))

	reloaded := annotation.NewStore(annotation.Options{ProjectID: "p1", Storage: fx.kv})
	docs := reloaded.LoadState(context.Background())
	require.Len(t, docs, 1)
	assert.Equal(t, "plan", docs[0].Name)
	require.Len(t, docs[0].Annotations, 1)
	ann := docs[0].Annotations[0]
	assert.Equal(t, id, ann.ID)
	assert.Equal(t, 50.0, ann.X)
	assert.Equal(t, 50.0, ann.Y)
	assert.True(t, ann.Resolved)

	v2, err := Mount(reloaded, &MemoryContainer{}, 800, 600, ViewerOptions{Fetcher: fx.fetcher})
	require.NoError(t, err)
	defer v2.Unmount()
	require.NoError(t, v2.Open(context.Background()))

	m := markers(v2.Surface())
	require.Len(t, m, 1)
	assert.Equal(t, ColorResolved, m[0].Fill)
	x, y := m[0].Transform.TransformPoint(0, 0)
	assert.InDelta(t, 400, x, 1e-9)
	assert.InDelta(t, 300, y, 1e-9)
}
