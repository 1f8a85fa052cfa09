package annotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/planpin/planpin/backend-go/internal/document"
	"github.com/planpin/planpin/backend-go/internal/storage"
	"github.com/planpin/planpin/backend-go/internal/typeid"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrNoActiveDocument = errors.New("no active document")
	ErrInvalidInput     = errors.New("invalid input")
)

// DefaultAuthor is used when no identity is available.
const DefaultAuthor = "Anonymous"

// Notifier shows transient, non-blocking messages to the user.
type Notifier interface {
	Notify(level slog.Level, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level slog.Level, message string)

func (f NotifierFunc) Notify(level slog.Level, message string) { f(level, message) }

// Observer receives store events for metrics.
type Observer interface {
	AnnotationCreated()
	PersistFailed(op string)
}

type Options struct {
	ProjectID string
	Storage   storage.KV
	Author    func() string
	Clock     func() time.Time
	Notifier  Notifier
	Observer  Observer
}

// Store is the single source of truth for a project's documents and
// annotations. Sidebar, table and canvas all read from the same Store.
type Store struct {
	mu         sync.RWMutex
	projectID  string
	docs       []*document.Document
	activeID   string
	selectedID string
	detailOpen bool
	dirty      bool
	// gen counts persisted changes; a save only clears dirty if gen is unchanged.
	gen uint64

	kv       storage.KV
	author   func() string
	clock    func() time.Time
	notifier Notifier
	observer Observer

	listenersMu  sync.Mutex
	listeners    map[int]func()
	nextListener int
}

func NewStore(opts Options) *Store {
	s := &Store{
		projectID: opts.ProjectID,
		kv:        opts.Storage,
		author:    opts.Author,
		clock:     opts.Clock,
		notifier:  opts.Notifier,
		observer:  opts.Observer,
		listeners: make(map[int]func()),
	}
	if s.kv == nil {
		s.kv = storage.NewMemory()
	}
	if s.author == nil {
		s.author = func() string { return DefaultAuthor }
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.notifier == nil {
		s.notifier = NotifierFunc(func(level slog.Level, message string) {
			slog.Log(context.Background(), level, message, "project", opts.ProjectID)
		})
	}
	return s
}

func (s *Store) ProjectID() string { return s.projectID }

// Subscribe registers fn to run after every change. Listeners run outside
// the store lock and may read the store.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) emit() {
	s.listenersMu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// change runs fn under the write lock and notifies listeners on success.
// persist marks the project dirty for the next save.
func (s *Store) change(persist bool, fn func() error) error {
	s.mu.Lock()
	err := fn()
	if err == nil && persist {
		s.dirty = true
		s.gen++
	}
	s.mu.Unlock()

	if err == nil {
		s.emit()
	}
	return err
}

// --- Queries ---

// Documents returns a deep copy of every document in order.
func (s *Store) Documents() []document.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]document.Document, len(s.docs))
	for i, d := range s.docs {
		out[i] = d.Clone()
	}
	return out
}

func (s *Store) Document(id string) (document.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d := s.findDocument(id); d != nil {
		return d.Clone(), true
	}
	return document.Document{}, false
}

func (s *Store) ActiveDocument() (document.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d := s.findDocument(s.activeID); d != nil {
		return d.Clone(), true
	}
	return document.Document{}, false
}

// Annotation looks an annotation up across all documents.
func (s *Store) Annotation(id string) (document.Annotation, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, i := s.findAnnotation(id); d != nil {
		return d.Annotations[i].Clone(), d.ID, true
	}
	return document.Annotation{}, "", false
}

func (s *Store) SelectedAnnotation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedID
}

// DetailOpen reports whether the selected annotation's detail view is open.
func (s *Store) DetailOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detailOpen
}

func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// --- Documents ---

// SelectDocument makes id the active document and clears the selection.
func (s *Store) SelectDocument(id string) error {
	return s.change(false, func() error {
		if s.findDocument(id) == nil {
			return fmt.Errorf("document %q: %w", id, ErrNotFound)
		}
		s.activeID = id
		s.selectedID = ""
		s.detailOpen = false
		return nil
	})
}

// AddDocument appends a document with no annotations and makes it active.
func (s *Store) AddDocument(url, name string, typ document.Type) (document.Document, error) {
	name = strings.TrimSpace(name)
	if url == "" {
		return document.Document{}, fmt.Errorf("%w: document url is required", ErrInvalidInput)
	}
	if name == "" {
		return document.Document{}, fmt.Errorf("%w: document name is required", ErrInvalidInput)
	}
	if _, err := document.ParseType(string(typ)); err != nil {
		return document.Document{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	doc := &document.Document{
		ID:          typeid.NewDocumentID(),
		Name:        name,
		Type:        typ,
		URL:         url,
		Annotations: []document.Annotation{},
	}
	err := s.change(true, func() error {
		s.docs = append(s.docs, doc)
		s.activeID = doc.ID
		s.selectedID = ""
		s.detailOpen = false
		return nil
	})
	return doc.Clone(), err
}

func (s *Store) RenameDocument(id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: document name is required", ErrInvalidInput)
	}
	return s.change(true, func() error {
		d := s.findDocument(id)
		if d == nil {
			return fmt.Errorf("document %q: %w", id, ErrNotFound)
		}
		d.Name = name
		return nil
	})
}

// RemoveDocument deletes a document and its annotations. If it was active,
// the first remaining document becomes active.
func (s *Store) RemoveDocument(id string) error {
	return s.change(true, func() error {
		idx := -1
		for i, d := range s.docs {
			if d.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("document %q: %w", id, ErrNotFound)
		}
		removed := s.docs[idx]
		s.docs = append(s.docs[:idx], s.docs[idx+1:]...)

		if removed.FindAnnotation(s.selectedID) >= 0 {
			s.selectedID = ""
			s.detailOpen = false
		}
		if s.activeID == id {
			s.activeID = ""
			if len(s.docs) > 0 {
				s.activeID = s.docs[0].ID
			}
			s.selectedID = ""
			s.detailOpen = false
		}
		return nil
	})
}

// --- Annotations ---

// AddAnnotation appends an annotation to the active document at pos, selects
// it and opens its detail view.
func (s *Store) AddAnnotation(pos document.Position) (document.Annotation, error) {
	return s.AddAnnotationAs(pos, "")
}

// AddAnnotationAs is AddAnnotation with an explicit author. An empty author
// falls back to the store's author.
func (s *Store) AddAnnotationAs(pos document.Position, author string) (document.Annotation, error) {
	return s.addAnnotation("", pos, author)
}

// AddAnnotationTo adds an annotation to document docID without changing the
// active document. The new annotation is selected only when docID is active.
func (s *Store) AddAnnotationTo(docID string, pos document.Position, author string) (document.Annotation, error) {
	if docID == "" {
		return document.Annotation{}, fmt.Errorf("%w: empty document id", ErrInvalidInput)
	}
	return s.addAnnotation(docID, pos, author)
}

// addAnnotation appends to docID, or to the active document when docID is
// empty, in a single change.
func (s *Store) addAnnotation(docID string, pos document.Position, author string) (document.Annotation, error) {
	if !pos.Valid() {
		return document.Annotation{}, fmt.Errorf("%w: (%g, %g)", document.ErrInvalidPosition, pos.X, pos.Y)
	}

	if author = strings.TrimSpace(author); author == "" {
		author = s.author()
	}
	ann := document.Annotation{
		ID:        typeid.NewAnnotationID(),
		X:         pos.X,
		Y:         pos.Y,
		Resolved:  false,
		Photos:    []string{},
		Author:    author,
		CreatedAt: s.clock().UTC().Round(0),
	}
	err := s.change(true, func() error {
		if docID == "" {
			docID = s.activeID
			if s.findDocument(docID) == nil {
				return ErrNoActiveDocument
			}
		}
		d := s.findDocument(docID)
		if d == nil {
			return fmt.Errorf("document %q: %w", docID, ErrNotFound)
		}
		d.Annotations = append(d.Annotations, ann)
		if d.ID == s.activeID {
			s.selectedID = ann.ID
			s.detailOpen = true
		}
		return nil
	})
	if err != nil {
		return document.Annotation{}, err
	}
	if s.observer != nil {
		s.observer.AnnotationCreated()
	}
	return ann.Clone(), nil
}

func (s *Store) RemoveAnnotation(id string) error {
	return s.change(true, func() error {
		d, i := s.findAnnotation(id)
		if d == nil {
			return fmt.Errorf("annotation %q: %w", id, ErrNotFound)
		}
		d.Annotations = append(d.Annotations[:i], d.Annotations[i+1:]...)
		if s.selectedID == id {
			s.selectedID = ""
			s.detailOpen = false
		}
		return nil
	})
}

// SelectAnnotation selects id and opens its detail view. An empty id clears
// the selection.
func (s *Store) SelectAnnotation(id string) error {
	return s.change(false, func() error {
		if id == "" {
			s.selectedID = ""
			s.detailOpen = false
			return nil
		}
		d, _ := s.findAnnotation(id)
		if d == nil {
			return fmt.Errorf("annotation %q: %w", id, ErrNotFound)
		}
		s.activeID = d.ID
		s.selectedID = id
		s.detailOpen = true
		return nil
	})
}

// CloseDetail closes the detail view but keeps the selection.
func (s *Store) CloseDetail() {
	_ = s.change(false, func() error {
		s.detailOpen = false
		return nil
	})
}

// ToggleResolved flips the resolved flag. The lookup spans every document.
func (s *Store) ToggleResolved(id string) (bool, error) {
	var resolved bool
	err := s.updateAnnotation(id, func(a *document.Annotation) error {
		a.Resolved = !a.Resolved
		resolved = a.Resolved
		return nil
	})
	return resolved, err
}

func (s *Store) UpdateComment(id, text string) error {
	return s.updateAnnotation(id, func(a *document.Annotation) error {
		a.Comment = text
		return nil
	})
}

func (s *Store) AddPhoto(id, photoURL string) error {
	if photoURL == "" {
		return fmt.Errorf("%w: photo is required", ErrInvalidInput)
	}
	return s.updateAnnotation(id, func(a *document.Annotation) error {
		a.Photos = append(a.Photos, photoURL)
		return nil
	})
}

func (s *Store) RemovePhoto(id string, index int) error {
	return s.updateAnnotation(id, func(a *document.Annotation) error {
		if index < 0 || index >= len(a.Photos) {
			return fmt.Errorf("%w: photo index %d out of range", ErrInvalidInput, index)
		}
		a.Photos = append(a.Photos[:index], a.Photos[index+1:]...)
		return nil
	})
}

// SetClassification sets the optional lot and location fields. Empty
// strings clear them.
func (s *Store) SetClassification(id, lot, location string) error {
	return s.updateAnnotation(id, func(a *document.Annotation) error {
		a.Lot = strings.TrimSpace(lot)
		a.Location = strings.TrimSpace(location)
		return nil
	})
}

func (s *Store) updateAnnotation(id string, fn func(a *document.Annotation) error) error {
	return s.change(true, func() error {
		d, i := s.findAnnotation(id)
		if d == nil {
			return fmt.Errorf("annotation %q: %w", id, ErrNotFound)
		}
		return fn(&d.Annotations[i])
	})
}

// Reset drops every document. The next save persists the empty list.
func (s *Store) Reset() {
	_ = s.change(true, func() error {
		s.docs = nil
		s.activeID = ""
		s.selectedID = ""
		s.detailOpen = false
		return nil
	})
}

func (s *Store) findDocument(id string) *document.Document {
	if id == "" {
		return nil
	}
	for _, d := range s.docs {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (s *Store) findAnnotation(id string) (*document.Document, int) {
	if id == "" {
		return nil, -1
	}
	for _, d := range s.docs {
		if i := d.FindAnnotation(id); i >= 0 {
			return d, i
		}
	}
	return nil, -1
}
