package engine

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seehuhn.de/go/pdf"
	pdfdoc "seehuhn.de/go/pdf/document"

	"github.com/planpin/planpin/backend-go/internal/document"
)

func TestFit(t *testing.T) {
	tests := []struct {
		name      string
		cw, ch    float64
		dw, dh    float64
		wantScale float64
		wantLeft  float64
		wantTop   float64
	}{
		{"same size", 800, 600, 800, 600, 0.9, 40, 30},
		{"never upscales", 800, 600, 400, 300, 0.9, 220, 165},
		{"wide document", 800, 600, 1600, 600, 0.45, 40, 165},
		{"tall document", 800, 600, 800, 1200, 0.45, 220, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Fit(tt.cw, tt.ch, tt.dw, tt.dh)
			assert.InDelta(t, tt.wantScale, p.Scale, 1e-9)
			assert.InDelta(t, tt.wantLeft, p.Left, 1e-9)
			assert.InDelta(t, tt.wantTop, p.Top, 1e-9)
		})
	}
}

func TestFitDegenerate(t *testing.T) {
	p := Fit(0, 600, 800, 600)
	assert.Equal(t, 1.0, p.Scale)
}

func TestLoaderLoadsAndCentres(t *testing.T) {
	f := newFakeFetcher()
	f.put("plan.png", pngBytes(t, 800, 600))
	s := newSurface(t, 800, 600)
	l := NewLoader(f)

	p, err := l.Load(context.Background(), s, "plan.png")
	require.NoError(t, err)
	assert.Equal(t, Rect{X: 40, Y: 30, Width: 720, Height: 540}, p.Rect())

	objs := s.Objects()
	require.Len(t, objs, 1)
	assert.Equal(t, KindDocument, objs[0].Kind)
	assert.Equal(t, document.TypeImage, objs[0].SourceType)
	assert.Equal(t, "plan.png", l.ActiveURL())
}

func TestLoaderSameURLIsNoop(t *testing.T) {
	f := newFakeFetcher()
	f.put("plan.png", pngBytes(t, 100, 100))
	s := newSurface(t, 200, 200)
	l := NewLoader(f)

	_, err := l.Load(context.Background(), s, "plan.png")
	require.NoError(t, err)
	s.Add(&Object{ID: "marker", Kind: KindMarker})

	_, err = l.Load(context.Background(), s, "plan.png")
	require.NoError(t, err)
	assert.Len(t, s.Objects(), 2, "no-op reload keeps the scene")
	assert.Equal(t, 1, f.count("plan.png"))
}

func TestLoaderCachesDimensions(t *testing.T) {
	f := newFakeFetcher()
	f.put("a.png", pngBytes(t, 10, 10))
	f.put("b.png", pngBytes(t, 20, 20))
	s := newSurface(t, 100, 100)
	l := NewLoader(f)
	ctx := context.Background()

	for _, url := range []string{"a.png", "b.png", "a.png"} {
		_, err := l.Load(ctx, s, url)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.count("a.png"))
}

func TestLoaderStaleCompletionLeavesSurfaceAlone(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := pngBytes(t, 100, 100)
	fast := pngBytes(t, 200, 100)

	l := NewLoader(FetcherFunc(func(_ context.Context, url string) ([]byte, error) {
		if url == "slow.png" {
			close(started)
			<-release
			return slow, nil
		}
		return fast, nil
	}))
	s := newSurface(t, 400, 400)

	errc := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), s, "slow.png")
		errc <- err
	}()
	<-started

	_, err := l.Load(context.Background(), s, "fast.png")
	require.NoError(t, err)
	close(release)

	assert.ErrorIs(t, <-errc, ErrStaleLoad)
	objs := s.Objects()
	require.Len(t, objs, 1)
	assert.Equal(t, "fast.png", objs[0].Source)
	assert.Equal(t, "fast.png", l.ActiveURL())
}

func TestLoaderDecodeErrorClearsPreviousDocument(t *testing.T) {
	f := newFakeFetcher()
	f.put("a.png", pngBytes(t, 100, 100))
	f.put("broken.png", []byte("definitely not an image"))
	s := newSurface(t, 100, 100)
	l := NewLoader(f)

	_, err := l.Load(context.Background(), s, "a.png")
	require.NoError(t, err)
	require.Len(t, s.Objects(), 1)

	_, err = l.Load(context.Background(), s, "broken.png")
	assert.ErrorIs(t, err, ErrDecode)
	assert.Empty(t, s.Objects(), "the previous document is not left on screen")
	assert.Empty(t, l.ActiveURL())

	// a.png is loaded again rather than treated as already shown.
	_, err = l.Load(context.Background(), s, "a.png")
	require.NoError(t, err)
	require.Len(t, s.Objects(), 1)
	assert.Equal(t, "a.png", s.Objects()[0].Source)
	assert.Equal(t, 1, f.count("a.png"), "dimensions come from the cache")
}

func TestLoaderFetchError(t *testing.T) {
	_, err := NewLoader(newFakeFetcher()).Load(context.Background(), newSurface(t, 10, 10), "missing.png")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStaleLoad)
}

func TestLoaderRefitAfterResize(t *testing.T) {
	f := newFakeFetcher()
	f.put("plan.png", pngBytes(t, 800, 600))
	s := newSurface(t, 800, 600)
	l := NewLoader(f)
	_, err := l.Load(context.Background(), s, "plan.png")
	require.NoError(t, err)

	s.SetSize(400, 300)
	p, ok := l.Refit(s)
	require.True(t, ok)
	assert.InDelta(t, 0.45, p.Scale, 1e-9)
	assert.Len(t, s.Objects(), 1)

	l.Unload(s)
	_, ok = l.Refit(s)
	assert.False(t, ok)
	assert.Empty(t, s.Objects())
}

func TestDecodeDimensionsPDF(t *testing.T) {
	var buf bytes.Buffer
	page, err := pdfdoc.WriteSinglePage(&buf, &pdf.Rectangle{URx: 400, URy: 300}, pdf.V1_7, nil)
	require.NoError(t, err)
	require.NoError(t, page.Close())

	dims, err := DecodeDimensions(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, document.TypePDF, dims.Type)
	assert.InDelta(t, 400, dims.Width, 1e-6)
	assert.InDelta(t, 300, dims.Height, 1e-6)
}

func TestDecodeDimensionsCorruptPDF(t *testing.T) {
	_, err := DecodeDimensions([]byte("%PDF-1.7\ngarbage"))
	assert.ErrorIs(t, err, ErrDecode)
}
