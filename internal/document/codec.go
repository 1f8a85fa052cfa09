package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/planpin/planpin/backend-go/internal/typeid"
)

// SchemaVersion is the version written inside an envelope. Plain arrays are
// treated as version 1; both decode to the same canonical shape.
const SchemaVersion = 2

var ErrMalformed = errors.New("malformed document data")

type envelope struct {
	Version   int               `json:"version"`
	Documents []json.RawMessage `json:"documents"`
}

// Encode writes the canonical persisted layout: a JSON array of documents.
func Encode(docs []Document) ([]byte, error) {
	if docs == nil {
		docs = []Document{}
	}
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode documents: %w", err)
	}
	return data, nil
}

// Decode is the single place where persisted data is translated into the
// canonical Document/Annotation shape. It accepts the current array layout,
// a versioned envelope, and the older annotation field names
// (isResolved, position.x/position.y, numeric ids). Entries that cannot be
// repaired are dropped with a warning; only unreadable top-level data is an
// error.
func Decode(data []byte) ([]Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []Document{}, nil
	}

	var raws []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	case '{':
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if env.Version > SchemaVersion {
			return nil, fmt.Errorf("%w: unknown schema version %d", ErrMalformed, env.Version)
		}
		raws = env.Documents
	default:
		return nil, fmt.Errorf("%w: unexpected leading byte %q", ErrMalformed, trimmed[0])
	}

	docs := make([]Document, 0, len(raws))
	for i, raw := range raws {
		doc, err := decodeDocument(raw)
		if err != nil {
			slog.Warn("drop persisted document", "index", i, "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

type rawDocument struct {
	ID          json.RawMessage   `json:"id"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	URL         string            `json:"url"`
	Annotations []json.RawMessage `json:"annotations"`
}

type rawAnnotation struct {
	ID         json.RawMessage `json:"id"`
	X          *float64        `json:"x"`
	Y          *float64        `json:"y"`
	Position   *Position       `json:"position"`
	Comment    string          `json:"comment"`
	Resolved   *bool           `json:"resolved"`
	IsResolved *bool           `json:"isResolved"`
	Photos     []string        `json:"photos"`
	Author     string          `json:"author"`
	CreatedAt  json.RawMessage `json:"createdAt"`
	Lot        string          `json:"lot"`
	Location   string          `json:"location"`
}

func decodeDocument(raw json.RawMessage) (Document, error) {
	var rd rawDocument
	if err := json.Unmarshal(raw, &rd); err != nil {
		return Document{}, err
	}

	typ, err := ParseType(rd.Type)
	if err != nil {
		return Document{}, err
	}
	if rd.URL == "" {
		return Document{}, errors.New("document has no url")
	}

	id := decodeID(rd.ID)
	if id == "" {
		id = typeid.NewDocumentID()
	}

	doc := Document{
		ID:          id,
		Name:        rd.Name,
		Type:        typ,
		URL:         rd.URL,
		Annotations: make([]Annotation, 0, len(rd.Annotations)),
	}

	for i, ra := range rd.Annotations {
		ann, err := decodeAnnotation(ra)
		if err != nil {
			slog.Warn("drop persisted annotation", "document", id, "index", i, "error", err)
			continue
		}
		doc.Annotations = append(doc.Annotations, ann)
	}
	return doc, nil
}

func decodeAnnotation(raw json.RawMessage) (Annotation, error) {
	var ra rawAnnotation
	if err := json.Unmarshal(raw, &ra); err != nil {
		return Annotation{}, err
	}

	var pos Position
	switch {
	case ra.X != nil && ra.Y != nil:
		pos = Position{X: *ra.X, Y: *ra.Y}
	case ra.Position != nil:
		pos = *ra.Position
	default:
		return Annotation{}, errors.New("annotation has no position")
	}

	resolved := false
	if ra.Resolved != nil {
		resolved = *ra.Resolved
	} else if ra.IsResolved != nil {
		resolved = *ra.IsResolved
	}

	id := decodeID(ra.ID)
	if id == "" {
		id = typeid.NewAnnotationID()
	}

	photos := ra.Photos
	if photos == nil {
		photos = []string{}
	}

	pos = pos.Clamp()
	return Annotation{
		ID:        id,
		X:         pos.X,
		Y:         pos.Y,
		Comment:   ra.Comment,
		Resolved:  resolved,
		Photos:    photos,
		Author:    ra.Author,
		CreatedAt: decodeTime(ra.CreatedAt),
		Lot:       ra.Lot,
		Location:  ra.Location,
	}, nil
}

// decodeID accepts string ids and the numeric timestamp ids older clients wrote.
func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// decodeTime accepts RFC 3339 strings and millisecond epoch numbers.
func decodeTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		return time.Time{}
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(int64(ms)).UTC()
	}
	return time.Time{}
}
