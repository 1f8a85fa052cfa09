// Package ingest turns uploaded files into document sources: it sniffs and
// validates the file type, builds data URLs and shrinks oversized images.
package ingest

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/planpin/planpin/backend-go/internal/document"
)

const (
	// DefaultMaxWidth is the largest image dimension kept after Optimize.
	DefaultMaxWidth = 2000
	// JPEGQuality is used when Optimize re-encodes an image.
	JPEGQuality = 80
)

// File is an ingested upload ready to become a document.
type File struct {
	DataURL  string        `json:"dataUrl"`
	MimeType string        `json:"mimeType"`
	Type     document.Type `json:"type"`
	Name     string        `json:"name"`
}

// Read validates an uploaded file and encodes it as a data URL. A missing or
// generic MIME type is replaced by one sniffed from the content. Anything
// that is neither a PDF nor an image is rejected before decoding, and images
// must decode as PNG, JPEG, GIF, WebP or BMP.
func Read(name, mimeType string, data []byte) (File, error) {
	mt := baseMIME(mimeType)
	if mt == "" || mt == "application/octet-stream" {
		mt = baseMIME(http.DetectContentType(data))
	}
	typ, err := document.TypeForMIME(mt)
	if err != nil {
		return File{}, fmt.Errorf("read %q: %w", name, err)
	}
	if len(data) == 0 {
		return File{}, fmt.Errorf("read %q: empty file", name)
	}
	if typ == document.TypeImage {
		// Only raster formats the viewer can lay out are accepted.
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return File{}, fmt.Errorf("read %q: %w: %s is not a readable image: %v", name, document.ErrUnsupportedType, mt, err)
		}
	}
	return File{
		DataURL:  EncodeDataURL(mt, data),
		MimeType: mt,
		Type:     typ,
		Name:     document.DisplayName(name),
	}, nil
}

func baseMIME(mimeType string) string {
	mt, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// Optimize shrinks an image data URL whose largest dimension exceeds
// maxWidth and re-encodes it as JPEG. PDFs, small images and anything that
// fails to decode or encode come back unchanged.
func Optimize(dataURL string, maxWidth int) string {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	mt, data, err := ParseDataURL(dataURL)
	if err != nil || !strings.HasPrefix(mt, "image/") {
		return dataURL
	}

	out, err := resizeJPEG(data, maxWidth)
	if err != nil {
		slog.Debug("keep original image", "error", err)
		return dataURL
	}
	if out == nil {
		return dataURL
	}
	return EncodeDataURL("image/jpeg", out)
}

// resizeJPEG returns nil, nil when the image is already small enough.
func resizeJPEG(data []byte, maxWidth int) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if max(cfg.Width, cfg.Height) <= maxWidth {
		return nil, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	w, h := scaledSize(cfg.Width, cfg.Height, maxWidth)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha; flatten onto white first.
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// scaledSize fits (w, h) so the larger side equals limit.
func scaledSize(w, h, limit int) (int, int) {
	if w >= h {
		return limit, max(1, h*limit/w)
	}
	return max(1, w*limit/h), limit
}
