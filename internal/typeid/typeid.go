package typeid

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

const (
	PrefixDocument   = "doc"
	PrefixAnnotation = "ann"
	PrefixTask       = "task"
	PrefixSession    = "sess"
	PrefixSurface    = "surf"
	PrefixMarker     = "mark"
	PrefixUser       = "user"
	PrefixAsset      = "asset"
)

func New(prefix string) string {
	id := typeid.MustGenerate(prefix)
	return id.String()
}

func NewDocumentID() string   { return New(PrefixDocument) }
func NewAnnotationID() string { return New(PrefixAnnotation) }
func NewTaskID() string       { return New(PrefixTask) }
func NewSessionID() string    { return New(PrefixSession) }
func NewSurfaceID() string    { return New(PrefixSurface) }
func NewUserID() string       { return New(PrefixUser) }
func NewAssetID() string      { return New(PrefixAsset) }

// MarkerID derives the scene object id for an annotation marker. Markers are
// recreated on every sync, so the id is a pure function of the annotation.
func MarkerID(annotationID string) string { return PrefixMarker + "_" + annotationID }

func Validate(id, expectedPrefix string) error {
	parsed, err := typeid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid typeid %q: %w", id, err)
	}
	if parsed.Prefix() != expectedPrefix {
		return fmt.Errorf("expected prefix %q but got %q in id %q", expectedPrefix, parsed.Prefix(), id)
	}
	return nil
}
