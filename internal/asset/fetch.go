package asset

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Source fetches a document URL. *ingest.Fetcher satisfies it.
type Source interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Fetcher reads /assets/ URLs straight from the asset directory and hands
// every other URL to next.
type Fetcher struct {
	dir  string
	next Source
}

func NewFetcher(dir string, next Source) *Fetcher {
	return &Fetcher{dir: dir, next: next}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, URLPrefix) {
		if f.next == nil {
			return nil, fmt.Errorf("fetch %.32q: no remote fetcher", url)
		}
		return f.next.Fetch(ctx, url)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := path.Clean("/" + strings.TrimPrefix(url, URLPrefix))
	data, err := os.ReadFile(filepath.Join(f.dir, filepath.FromSlash(name)))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if err != nil {
		return nil, fmt.Errorf("read asset: %w", err)
	}
	return data, nil
}
