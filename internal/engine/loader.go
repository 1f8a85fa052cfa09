package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"seehuhn.de/go/pdf"
	"seehuhn.de/go/pdf/pagetree"

	"github.com/planpin/planpin/backend-go/internal/document"
)

// MarginFactor shrinks the fitted document so pan handles stay reachable.
const MarginFactor = 0.9

const documentObjectID = "document"

var (
	ErrStaleLoad = errors.New("stale document load")
	ErrDecode    = errors.New("decode document")
)

// Dimensions is the natural size of a document's first page.
type Dimensions struct {
	Width  float64
	Height float64
	Type   document.Type
}

// Placement is where a loaded document sits in unscaled canvas space.
type Placement struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Scale  float64 `json:"scale"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is the rendered document rectangle in canvas space.
func (p Placement) Rect() Rect {
	return Rect{X: p.Left, Y: p.Top, Width: p.Width * p.Scale, Height: p.Height * p.Scale}
}

// Fit scales a document into a container without upscaling past 1:1 and
// centres it.
func Fit(containerW, containerH, docW, docH float64) Placement {
	if docW <= 0 || docH <= 0 || containerW <= 0 || containerH <= 0 {
		return Placement{Scale: 1, Width: docW, Height: docH}
	}
	scale := min(containerW/docW, containerH/docH, 1) * MarginFactor
	return Placement{
		Left:   (containerW - docW*scale) / 2,
		Top:    (containerH - docH*scale) / 2,
		Scale:  scale,
		Width:  docW,
		Height: docH,
	}
}

// Fetcher resolves a document URL to its bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

// Loader puts a document onto a surface. Only the most recently requested
// load may touch the surface; earlier ones finish with ErrStaleLoad.
type Loader struct {
	fetcher Fetcher
	dims    *cache.Cache

	mu            sync.Mutex
	gen           uint64
	activeURL     string
	activeSurface string
	active        Dimensions
	placement     Placement
}

func NewLoader(fetcher Fetcher) *Loader {
	return &Loader{
		fetcher: fetcher,
		dims:    cache.New(10*time.Minute, 20*time.Minute),
	}
}

// Load fetches and decodes url, clears s and inserts the document fitted to
// the surface. Loading the URL that is already shown on s is a no-op. A
// failed load leaves s empty.
func (l *Loader) Load(ctx context.Context, s Surface, url string) (Placement, error) {
	l.mu.Lock()
	if url == l.activeURL && s.ID() == l.activeSurface {
		p := l.placement
		l.mu.Unlock()
		return p, nil
	}
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	dims, err := l.dimensions(ctx, url)

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		slog.Debug("ignore stale load", "surface", s.ID())
		return Placement{}, ErrStaleLoad
	}
	if err != nil {
		// The previous document must not stay on screen under a failed one.
		s.Clear()
		l.activeURL = ""
		l.activeSurface = ""
		l.placement = Placement{}
		return Placement{}, err
	}

	width, height := s.Size()
	p := Fit(width, height, dims.Width, dims.Height)

	s.Clear()
	s.Add(documentObject(url, dims, p))

	l.activeURL = url
	l.activeSurface = s.ID()
	l.active = dims
	l.placement = p
	return p, nil
}

// Refit recomputes the placement after the surface was resized.
func (l *Loader) Refit(s Surface) (Placement, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.activeURL == "" || s.ID() != l.activeSurface {
		return Placement{}, false
	}
	width, height := s.Size()
	l.placement = Fit(width, height, l.active.Width, l.active.Height)
	s.Add(documentObject(l.activeURL, l.active, l.placement))
	return l.placement, true
}

// Unload removes the document from s and invalidates in-flight loads.
func (l *Loader) Unload(s Surface) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	l.activeURL = ""
	l.activeSurface = ""
	l.placement = Placement{}
	if s != nil {
		s.Clear()
	}
}

// ActiveURL reports the URL currently shown.
func (l *Loader) ActiveURL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeURL
}

func (l *Loader) dimensions(ctx context.Context, url string) (Dimensions, error) {
	key := cacheKey(url)
	if v, ok := l.dims.Get(key); ok {
		return v.(Dimensions), nil
	}

	data, err := l.fetcher.Fetch(ctx, url)
	if err != nil {
		return Dimensions{}, fmt.Errorf("fetch document: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Dimensions{}, err
	}

	dims, err := DecodeDimensions(data)
	if err != nil {
		return Dimensions{}, err
	}
	l.dims.SetDefault(key, dims)
	return dims, nil
}

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func documentObject(url string, dims Dimensions, p Placement) *Object {
	return &Object{
		ID:         documentObjectID,
		Kind:       KindDocument,
		Transform:  Translate(p.Left, p.Top).Multiply(Scale(p.Scale, p.Scale)),
		Width:      dims.Width,
		Height:     dims.Height,
		Source:     url,
		SourceType: dims.Type,
		Page:       pageFor(dims.Type),
	}
}

func pageFor(t document.Type) int {
	if t == document.TypePDF {
		return 1
	}
	return 0
}

// DecodeDimensions reads the natural size of a raster image or of the first
// page of a PDF.
func DecodeDimensions(data []byte) (Dimensions, error) {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return pdfDimensions(data)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Dimensions{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Dimensions{}, fmt.Errorf("%w: empty image", ErrDecode)
	}
	return Dimensions{Width: float64(cfg.Width), Height: float64(cfg.Height), Type: document.TypeImage}, nil
}

func pdfDimensions(data []byte) (dims Dimensions, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: pdf: %v", ErrDecode, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), nil)
	if err != nil {
		return Dimensions{}, fmt.Errorf("%w: pdf: %v", ErrDecode, err)
	}
	defer r.Close()

	page, err := pagetree.GetPage(r, 0)
	if err != nil {
		return Dimensions{}, fmt.Errorf("%w: first page: %v", ErrDecode, err)
	}

	box, err := pdf.GetRectangle(r, page["CropBox"])
	if err != nil || box == nil {
		box, err = pdf.GetRectangle(r, page["MediaBox"])
	}
	if err != nil || box == nil {
		return Dimensions{}, fmt.Errorf("%w: page has no media box", ErrDecode)
	}

	width, height := box.URx-box.LLx, box.URy-box.LLy
	if rot, err := pdf.GetInteger(r, page["Rotate"]); err == nil && (rot%180+180)%180 == 90 {
		width, height = height, width
	}
	if width <= 0 || height <= 0 {
		return Dimensions{}, fmt.Errorf("%w: empty page", ErrDecode)
	}
	return Dimensions{Width: width, Height: height, Type: document.TypePDF}, nil
}
