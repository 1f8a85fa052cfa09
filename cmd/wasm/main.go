//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"syscall/js"
	"time"

	"github.com/planpin/planpin/backend-go/internal/annotation"
	"github.com/planpin/planpin/backend-go/internal/document"
	"github.com/planpin/planpin/backend-go/internal/engine"
	"github.com/planpin/planpin/backend-go/internal/ingest"
	"github.com/planpin/planpin/backend-go/internal/storage"
	"github.com/planpin/planpin/backend-go/internal/task"
)

var (
	kv      storage.KV
	store   *annotation.Store
	viewer  *engine.Viewer
	tasks   *task.Store
	fetcher = ingest.NewFetcher(nil)

	onFrame  js.Value
	onNotify js.Value
	stopSave context.CancelFunc
)

func main() {
	ls, err := storage.NewLocalStorage()
	if err != nil {
		slog.Warn("open local storage, falling back to memory", "error", err)
		kv = storage.NewMemory()
	} else {
		kv = ls
	}
	tasks = task.NewStore(kv)

	planpinEngine := js.Global().Get("Object").New()

	// --- Lifecycle ---
	planpinEngine.Set("mount", js.FuncOf(mount))
	planpinEngine.Set("unmount", js.FuncOf(unmount))
	planpinEngine.Set("onFrame", js.FuncOf(setFrameCallback))
	planpinEngine.Set("onNotify", js.FuncOf(setNotifyCallback))

	// --- Viewer commands (frontend → engine) ---
	planpinEngine.Set("open", js.FuncOf(open))
	planpinEngine.Set("retry", js.FuncOf(retry))
	planpinEngine.Set("resize", js.FuncOf(resize))
	planpinEngine.Set("zoomIn", js.FuncOf(func(js.Value, []js.Value) interface{} { return withViewer((*engine.Viewer).ZoomIn) }))
	planpinEngine.Set("zoomOut", js.FuncOf(func(js.Value, []js.Value) interface{} { return withViewer((*engine.Viewer).ZoomOut) }))
	planpinEngine.Set("rotate", js.FuncOf(func(js.Value, []js.Value) interface{} { return withViewer((*engine.Viewer).Rotate) }))
	planpinEngine.Set("resetView", js.FuncOf(func(js.Value, []js.Value) interface{} { return withViewer((*engine.Viewer).ResetView) }))
	planpinEngine.Set("togglePlacing", js.FuncOf(func(js.Value, []js.Value) interface{} { return withViewer((*engine.Viewer).TogglePlacing) }))
	planpinEngine.Set("togglePanning", js.FuncOf(func(js.Value, []js.Value) interface{} { return withViewer((*engine.Viewer).TogglePanning) }))
	planpinEngine.Set("cancelMode", js.FuncOf(func(js.Value, []js.Value) interface{} { return withViewer((*engine.Viewer).CancelMode) }))
	planpinEngine.Set("pointerUp", js.FuncOf(func(js.Value, []js.Value) interface{} { return withViewer((*engine.Viewer).PointerUp) }))
	planpinEngine.Set("pointerDown", js.FuncOf(pointerDown))
	planpinEngine.Set("pointerMove", js.FuncOf(pointerMove))
	planpinEngine.Set("setHideResolved", js.FuncOf(setHideResolved))

	// --- Store commands ---
	planpinEngine.Set("addFile", js.FuncOf(addFile))
	planpinEngine.Set("selectDocument", js.FuncOf(selectDocument))
	planpinEngine.Set("renameDocument", js.FuncOf(renameDocument))
	planpinEngine.Set("removeDocument", js.FuncOf(removeDocument))
	planpinEngine.Set("selectAnnotation", js.FuncOf(selectAnnotation))
	planpinEngine.Set("closeDetail", js.FuncOf(closeDetail))
	planpinEngine.Set("removeAnnotation", js.FuncOf(removeAnnotation))
	planpinEngine.Set("toggleResolved", js.FuncOf(toggleResolved))
	planpinEngine.Set("updateComment", js.FuncOf(updateComment))
	planpinEngine.Set("addPhoto", js.FuncOf(addPhoto))
	planpinEngine.Set("removePhoto", js.FuncOf(removePhoto))
	planpinEngine.Set("setClassification", js.FuncOf(setClassification))
	planpinEngine.Set("exportTask", js.FuncOf(exportTask))
	planpinEngine.Set("save", js.FuncOf(save))

	// --- Queries (frontend ← engine) ---
	planpinEngine.Set("getFrame", js.FuncOf(getFrame))
	planpinEngine.Set("getDocuments", js.FuncOf(getDocuments))
	planpinEngine.Set("getSelection", js.FuncOf(getSelection))

	js.Global().Set("planpinEngine", planpinEngine)
	js.Global().Set("planpinWasmReady", js.ValueOf(true))

	// Keep Go runtime alive
	select {}
}

func ok() interface{} {
	return js.ValueOf(map[string]interface{}{"ok": true})
}

func fail(msg string) interface{} {
	return js.ValueOf(map[string]interface{}{"error": msg})
}

func result(err error) interface{} {
	if err != nil {
		return fail(err.Error())
	}
	return ok()
}

// --- Lifecycle ---

// mount(projectId, element, width, height) loads the project from
// localStorage and mounts the viewer under element.
func mount(this js.Value, args []js.Value) interface{} {
	if len(args) < 4 {
		return fail("usage: mount(projectId, element, width, height)")
	}
	if viewer != nil {
		unmountViewer()
	}

	projectID := args[0].String()
	store = annotation.NewStore(annotation.Options{
		ProjectID: projectID,
		Storage:   kv,
		Notifier:  annotation.NotifierFunc(notify),
	})
	store.LoadState(context.Background())

	el := args[1]
	container, err := newDOMContainer(el)
	if err != nil {
		return fail(err.Error())
	}
	v, err := engine.Mount(store, container, args[2].Float(), args[3].Float(), engine.ViewerOptions{
		Fetcher:       fetcher,
		RequestRender: requestRender,
		ResetScroll: func() {
			if !el.Get("scrollTo").IsUndefined() {
				el.Call("scrollTo", 0, 0)
			}
		},
		AutoLoad: true,
	})
	if err != nil {
		return fail(err.Error())
	}
	viewer = v

	ctx, cancel := context.WithCancel(context.Background())
	stopSave = cancel
	go store.Autosave(ctx, annotation.DefaultAutosaveInterval)
	go openActive(false)
	return ok()
}

func unmount(this js.Value, args []js.Value) interface{} {
	unmountViewer()
	return ok()
}

func unmountViewer() {
	if viewer == nil {
		return
	}
	viewer.Unmount()
	viewer = nil
	if stopSave != nil {
		stopSave()
		stopSave = nil
	}
	store.Close()
}

func setFrameCallback(this js.Value, args []js.Value) interface{} {
	if len(args) > 0 && args[0].Type() == js.TypeFunction {
		onFrame = args[0]
	}
	return nil
}

func setNotifyCallback(this js.Value, args []js.Value) interface{} {
	if len(args) > 0 && args[0].Type() == js.TypeFunction {
		onNotify = args[0]
	}
	return nil
}

func requestRender() {
	if onFrame.Type() == js.TypeFunction {
		onFrame.Invoke()
	}
}

func notify(level slog.Level, message string) {
	slog.Log(context.Background(), level, message)
	if onNotify.Type() == js.TypeFunction {
		onNotify.Invoke(level.String(), message)
	}
}

// --- Viewer ---

// openActive runs off the event loop so the fetch can resolve.
func openActive(retry bool) {
	v := viewer
	if v == nil {
		return
	}
	var err error
	if retry {
		err = v.Retry(context.Background())
	} else {
		err = v.Open(context.Background())
	}
	if err != nil {
		notify(slog.LevelError, "Could not load document: "+err.Error())
	}
}

func open(this js.Value, args []js.Value) interface{} {
	go openActive(false)
	return nil
}

func retry(this js.Value, args []js.Value) interface{} {
	go openActive(true)
	return nil
}

func withViewer(fn func(*engine.Viewer)) interface{} {
	if viewer != nil {
		fn(viewer)
	}
	return nil
}

func resize(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 || viewer == nil {
		return nil
	}
	viewer.Resize(args[0].Float(), args[1].Float())
	return nil
}

func pointerDown(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 || viewer == nil {
		return js.ValueOf(false)
	}
	return js.ValueOf(viewer.PointerDown(args[0].Float(), args[1].Float()))
}

func pointerMove(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 || viewer == nil {
		return nil
	}
	viewer.PointerMove(args[0].Float(), args[1].Float())
	return nil
}

func setHideResolved(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 || viewer == nil {
		return nil
	}
	viewer.SetHideResolved(args[0].Truthy())
	return nil
}

// --- Store ---

// addFile(name, mimeType, bytes) ingests an uploaded file and makes it the
// active document.
func addFile(this js.Value, args []js.Value) interface{} {
	if store == nil {
		return fail("viewer not mounted")
	}
	if len(args) < 3 {
		return fail("usage: addFile(name, mimeType, bytes)")
	}
	data := make([]byte, args[2].Get("length").Int())
	js.CopyBytesToGo(data, args[2])

	file, err := ingest.Read(args[0].String(), args[1].String(), data)
	if err != nil {
		notify(slog.LevelError, "Unsupported file type")
		return fail(err.Error())
	}
	url := file.DataURL
	if file.Type == document.TypeImage {
		url = ingest.Optimize(url, ingest.DefaultMaxWidth)
	}
	name := file.Name
	if name == "" {
		name = "Untitled plan"
	}
	doc, err := store.AddDocument(url, name, file.Type)
	if err != nil {
		return fail(err.Error())
	}
	return js.ValueOf(map[string]interface{}{"ok": true, "id": doc.ID})
}

func stringArgs(args []js.Value, n int) ([]string, bool) {
	if store == nil || len(args) < n {
		return nil, false
	}
	out := make([]string, n)
	for i := range n {
		out[i] = args[i].String()
	}
	return out, true
}

func selectDocument(this js.Value, args []js.Value) interface{} {
	a, valid := stringArgs(args, 1)
	if !valid {
		return fail("missing document id")
	}
	return result(store.SelectDocument(a[0]))
}

func renameDocument(this js.Value, args []js.Value) interface{} {
	a, valid := stringArgs(args, 2)
	if !valid {
		return fail("usage: renameDocument(id, name)")
	}
	return result(store.RenameDocument(a[0], a[1]))
}

func removeDocument(this js.Value, args []js.Value) interface{} {
	a, valid := stringArgs(args, 1)
	if !valid {
		return fail("missing document id")
	}
	return result(store.RemoveDocument(a[0]))
}

func selectAnnotation(this js.Value, args []js.Value) interface{} {
	if store == nil {
		return fail("viewer not mounted")
	}
	id := ""
	if len(args) > 0 && args[0].Type() == js.TypeString {
		id = args[0].String()
	}
	return result(store.SelectAnnotation(id))
}

func closeDetail(this js.Value, args []js.Value) interface{} {
	if store != nil {
		store.CloseDetail()
	}
	return nil
}

func removeAnnotation(this js.Value, args []js.Value) interface{} {
	a, valid := stringArgs(args, 1)
	if !valid {
		return fail("missing annotation id")
	}
	return result(store.RemoveAnnotation(a[0]))
}

func toggleResolved(this js.Value, args []js.Value) interface{} {
	a, valid := stringArgs(args, 1)
	if !valid {
		return fail("missing annotation id")
	}
	resolved, err := store.ToggleResolved(a[0])
	if err != nil {
		return fail(err.Error())
	}
	return js.ValueOf(map[string]interface{}{"ok": true, "resolved": resolved})
}

func updateComment(this js.Value, args []js.Value) interface{} {
	a, valid := stringArgs(args, 2)
	if !valid {
		return fail("usage: updateComment(id, text)")
	}
	return result(store.UpdateComment(a[0], a[1]))
}

func addPhoto(this js.Value, args []js.Value) interface{} {
	a, valid := stringArgs(args, 2)
	if !valid {
		return fail("usage: addPhoto(id, dataUrl)")
	}
	return result(store.AddPhoto(a[0], ingest.Optimize(a[1], ingest.DefaultMaxWidth)))
}

func removePhoto(this js.Value, args []js.Value) interface{} {
	if store == nil || len(args) < 2 {
		return fail("usage: removePhoto(id, index)")
	}
	return result(store.RemovePhoto(args[0].String(), args[1].Int()))
}

func setClassification(this js.Value, args []js.Value) interface{} {
	a, valid := stringArgs(args, 3)
	if !valid {
		return fail("usage: setClassification(id, lot, location)")
	}
	return result(store.SetClassification(a[0], a[1], a[2]))
}

func exportTask(this js.Value, args []js.Value) interface{} {
	a, valid := stringArgs(args, 1)
	if !valid {
		return fail("missing annotation id")
	}
	ann, docID, found := store.Annotation(a[0])
	if !found {
		return fail("annotation not found")
	}
	doc, _ := store.Document(docID)
	t := task.FromAnnotation(doc, ann, time.Now())
	if err := tasks.Append(context.Background(), store.ProjectID(), t); err != nil {
		notify(slog.LevelError, "Could not create task")
		return fail(err.Error())
	}
	notify(slog.LevelInfo, "Task created")
	return js.ValueOf(map[string]interface{}{"ok": true, "id": t.ID})
}

func save(this js.Value, args []js.Value) interface{} {
	if store == nil {
		return fail("viewer not mounted")
	}
	return result(store.SaveState(context.Background()))
}

// --- Queries ---

func getFrame(this js.Value, args []js.Value) interface{} {
	if viewer == nil {
		return js.ValueOf(`{"state":{},"commands":[]}`)
	}
	return js.ValueOf(viewer.FrameJSON())
}

func getDocuments(this js.Value, args []js.Value) interface{} {
	if store == nil {
		return js.ValueOf("[]")
	}
	data, err := json.Marshal(store.Documents())
	if err != nil {
		return js.ValueOf("[]")
	}
	return js.ValueOf(string(data))
}

func getSelection(this js.Value, args []js.Value) interface{} {
	if store == nil {
		return js.ValueOf(map[string]interface{}{})
	}
	return js.ValueOf(map[string]interface{}{
		"annotationId": store.SelectedAnnotation(),
		"detailOpen":   store.DetailOpen(),
	})
}
