package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/planpin/planpin/backend-go/internal/annotation"
	"github.com/planpin/planpin/backend-go/internal/storage"
	"github.com/planpin/planpin/backend-go/internal/task"
)

var ErrInvalidProject = errors.New("invalid project id")

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Options configures a Service.
type Options struct {
	Storage  storage.KV
	Observer annotation.Observer
	// AutosaveInterval enables periodic saves of dirty stores. Zero
	// disables autosave; stores are still flushed on Close.
	AutosaveInterval time.Duration
	Clock            func() time.Time
}

type entry struct {
	store  *annotation.Store
	cancel context.CancelFunc
	done   chan struct{}
}

// Service keeps one annotation store per project. Stores are loaded from
// storage on first use and stay resident until Close.
type Service struct {
	kv       storage.KV
	observer annotation.Observer
	autosave time.Duration
	clock    func() time.Time
	tasks    *task.Store

	mu     sync.Mutex
	stores map[string]*entry
	closed bool
}

func NewService(opts Options) *Service {
	kv := opts.Storage
	if kv == nil {
		kv = storage.NewMemory()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		kv:       kv,
		observer: opts.Observer,
		autosave: opts.AutosaveInterval,
		clock:    clock,
		tasks:    task.NewStore(kv),
		stores:   make(map[string]*entry),
	}
}

// Store returns the project's annotation store, loading it on first use.
func (s *Service) Store(ctx context.Context, projectID string) (*annotation.Store, error) {
	if !projectIDPattern.MatchString(projectID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProject, projectID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("project service closed")
	}
	if e, ok := s.stores[projectID]; ok {
		return e.store, nil
	}

	st := annotation.NewStore(annotation.Options{
		ProjectID: projectID,
		Storage:   s.kv,
		Clock:     s.clock,
		Observer:  s.observer,
	})
	docs := st.LoadState(ctx)
	slog.Info("open project", "project", projectID, "documents", len(docs))

	e := &entry{store: st, done: make(chan struct{})}
	if s.autosave > 0 {
		actx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		go func() {
			defer close(e.done)
			st.Autosave(actx, s.autosave)
		}()
	} else {
		close(e.done)
	}
	s.stores[projectID] = e
	return st, nil
}

// ExportTask turns an annotation into a task in the project's task list.
func (s *Service) ExportTask(ctx context.Context, projectID, annotationID string) (task.Task, error) {
	st, err := s.Store(ctx, projectID)
	if err != nil {
		return task.Task{}, err
	}
	ann, docID, ok := st.Annotation(annotationID)
	if !ok {
		return task.Task{}, fmt.Errorf("annotation %q: %w", annotationID, annotation.ErrNotFound)
	}
	doc, _ := st.Document(docID)

	t := task.FromAnnotation(doc, ann, s.clock())
	if err := s.tasks.Append(ctx, projectID, t); err != nil {
		return task.Task{}, err
	}
	slog.Info("export task", "project", projectID, "annotation", annotationID, "task", t.ID)
	return t, nil
}

// Tasks lists the project's exported tasks.
func (s *Service) Tasks(ctx context.Context, projectID string) ([]task.Task, error) {
	if !projectIDPattern.MatchString(projectID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProject, projectID)
	}
	return s.tasks.List(ctx, projectID)
}

// Close stops autosave and flushes every store.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	entries := make([]*entry, 0, len(s.stores))
	for _, e := range s.stores {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		if e.cancel != nil {
			e.cancel()
		}
		<-e.done
		e.store.Close()
	}
}
