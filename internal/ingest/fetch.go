package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MaxFetchSize caps how much of a remote document is read.
const MaxFetchSize = 50 << 20

var ErrUnsupportedScheme = errors.New("unsupported url scheme")

// Fetcher resolves document URLs to bytes. Data URLs are decoded in
// process; http and https URLs are downloaded.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{client: client}
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	switch {
	case IsDataURL(rawURL):
		_, data, err := ParseDataURL(rawURL)
		return data, err
	case hasScheme(rawURL, "http://"), hasScheme(rawURL, "https://"):
		return f.download(ctx, rawURL)
	default:
		return nil, fmt.Errorf("%w: %.32q", ErrUnsupportedScheme, rawURL)
	}
}

func (f *Fetcher) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > MaxFetchSize {
		return nil, fmt.Errorf("download: document larger than %d bytes", MaxFetchSize)
	}
	return data, nil
}

func hasScheme(s, scheme string) bool {
	return len(s) >= len(scheme) && strings.EqualFold(s[:len(scheme)], scheme)
}
