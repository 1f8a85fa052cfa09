package document

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	ErrUnsupportedType = errors.New("unsupported document type")
	ErrInvalidPosition = errors.New("position outside document")
)

type Type string

const (
	TypePDF   Type = "pdf"
	TypeImage Type = "image"
)

// ParseType accepts the persisted type names. Anything else is rejected so a
// document never enters the store without a rendering strategy.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypePDF:
		return TypePDF, nil
	case TypeImage:
		return TypeImage, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
	}
}

// Document is one uploaded plan with its ordered annotations.
type Document struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        Type         `json:"type"`
	URL         string       `json:"url"`
	Annotations []Annotation `json:"annotations"`
}

// Annotation is a numbered pin. X and Y are percentages of the rendered
// document's width and height.
type Annotation struct {
	ID        string    `json:"id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Comment   string    `json:"comment"`
	Resolved  bool      `json:"resolved"`
	Photos    []string  `json:"photos"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Lot       string    `json:"lot,omitempty"`
	Location  string    `json:"location,omitempty"`
}

// Position is a normalized point in document space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Position) Valid() bool {
	return p.X >= 0 && p.X <= 100 && p.Y >= 0 && p.Y <= 100
}

// Clamp pulls a position back into [0,100] on both axes.
func (p Position) Clamp() Position {
	return Position{X: clampPercent(p.X), Y: clampPercent(p.Y)}
}

func clampPercent(v float64) float64 {
	if v != v { // NaN
		return 0
	}
	return min(max(v, 0), 100)
}

// Normalize converts a point inside a rect of the given size into percentages.
func Normalize(px, py, width, height float64) Position {
	if width <= 0 || height <= 0 {
		return Position{}
	}
	return Position{X: px / width * 100, Y: py / height * 100}
}

// Denormalize is the exact inverse of Normalize.
func (p Position) Denormalize(width, height float64) (float64, float64) {
	return p.X / 100 * width, p.Y / 100 * height
}

func (a Annotation) Position() Position {
	return Position{X: a.X, Y: a.Y}
}

// Clone returns a deep copy so callers can never alias store-owned slices.
func (d Document) Clone() Document {
	out := d
	out.Annotations = make([]Annotation, len(d.Annotations))
	for i, a := range d.Annotations {
		out.Annotations[i] = a.Clone()
	}
	return out
}

func (a Annotation) Clone() Annotation {
	out := a
	out.Photos = append([]string{}, a.Photos...)
	return out
}

// FindAnnotation returns the index of the annotation with id, or -1.
func (d *Document) FindAnnotation(id string) int {
	for i := range d.Annotations {
		if d.Annotations[i].ID == id {
			return i
		}
	}
	return -1
}

// DisplayName derives the default document name from an uploaded file name:
// the base name without its extension.
func DisplayName(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// TypeForMIME maps a MIME type to a document type.
func TypeForMIME(mimeType string) (Type, error) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case mt == "application/pdf":
		return TypePDF, nil
	case strings.HasPrefix(mt, "image/"):
		return TypeImage, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
	}
}
