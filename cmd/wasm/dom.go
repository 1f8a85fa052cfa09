//go:build js && wasm

package main

import (
	"errors"
	"syscall/js"

	"github.com/planpin/planpin/backend-go/internal/engine"
)

// surfaces outlives individual mounts so a remount sees what an earlier one
// left on the element.
var surfaces = engine.NewSurfaces()

// domElement stores the surface id in the element's data-surface attribute.
// The frontend owns the <canvas> and uses the attribute to drop canvases
// left behind by an earlier mount.
type domElement struct {
	el js.Value
}

func (e domElement) SurfaceTag() string {
	v := e.el.Get("dataset").Get("surface")
	if v.Type() != js.TypeString {
		return ""
	}
	return v.String()
}

func (e domElement) SetSurfaceTag(id string) {
	dataset := e.el.Get("dataset")
	if id == "" {
		dataset.Delete("surface")
		return
	}
	dataset.Set("surface", id)
}

func newDOMContainer(el js.Value) (*engine.ElementContainer, error) {
	if el.IsUndefined() || el.IsNull() {
		return nil, errors.New("mount: no container element")
	}
	return engine.NewElementContainer(domElement{el: el}, surfaces), nil
}
