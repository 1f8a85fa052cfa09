package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// pngBytes encodes a blank image of the given size.
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

// fakeFetcher serves fixed bytes per URL and counts fetches.
type fakeFetcher struct {
	mu    sync.Mutex
	files map[string][]byte
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{files: map[string][]byte{}, calls: map[string]int{}}
}

func (f *fakeFetcher) put(url string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[url] = data
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	data, ok := f.files[url]
	if !ok {
		return nil, fmt.Errorf("no such file %q", url)
	}
	return data, nil
}

func newSurface(t *testing.T, w, h float64) Surface {
	t.Helper()
	s, err := NewSceneSurface(w, h)
	require.NoError(t, err)
	return s
}

func markers(s Surface) []*Object {
	var out []*Object
	for _, o := range s.Objects() {
		if o.Kind == KindMarker {
			out = append(out, o)
		}
	}
	return out
}
