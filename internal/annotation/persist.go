package annotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/planpin/planpin/backend-go/internal/document"
	"github.com/planpin/planpin/backend-go/internal/storage"
)

// DefaultAutosaveInterval is how often a dirty store is saved.
const DefaultAutosaveInterval = 30 * time.Second

// SaveState writes the full document list under the project's key. A
// failure is logged and shown to the user; in-memory state is untouched
// and stays dirty so the next save retries. Changes made while the write
// is in flight keep the store dirty.
func (s *Store) SaveState(ctx context.Context) error {
	s.mu.RLock()
	snapshot := make([]document.Document, len(s.docs))
	for i, d := range s.docs {
		snapshot[i] = d.Clone()
	}
	gen := s.gen
	s.mu.RUnlock()

	data, err := document.Encode(snapshot)
	if err == nil {
		err = s.kv.Set(ctx, storage.DocumentsKey(s.projectID), data)
	}
	if err != nil {
		slog.Error("save documents", "project", s.projectID, "error", err)
		if s.observer != nil {
			s.observer.PersistFailed("save")
		}
		s.notifier.Notify(slog.LevelWarn, "Saving failed. Your changes are kept in this session.")
		return fmt.Errorf("save state: %w", err)
	}

	s.mu.Lock()
	if s.gen == gen {
		s.dirty = false
	}
	s.mu.Unlock()
	return nil
}

// LoadState replaces the in-memory documents with the persisted ones and
// returns them. Missing or corrupt data yields an empty list. If the
// backend itself cannot be read the current state is kept.
func (s *Store) LoadState(ctx context.Context) []document.Document {
	data, err := s.kv.Get(ctx, storage.DocumentsKey(s.projectID))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		data = nil
	case err != nil:
		slog.Error("load documents", "project", s.projectID, "error", err)
		if s.observer != nil {
			s.observer.PersistFailed("load")
		}
		s.notifier.Notify(slog.LevelWarn, "Saved documents could not be loaded.")
		return s.Documents()
	}

	docs, err := document.Decode(data)
	if err != nil {
		slog.Warn("discard corrupt documents", "project", s.projectID, "error", err)
		s.notifier.Notify(slog.LevelWarn, "Saved documents were unreadable and have been reset.")
		docs = []document.Document{}
	}

	_ = s.change(false, func() error {
		s.docs = make([]*document.Document, len(docs))
		for i := range docs {
			d := docs[i]
			s.docs[i] = &d
		}
		s.activeID = ""
		if len(s.docs) > 0 {
			s.activeID = s.docs[0].ID
		}
		s.selectedID = ""
		s.detailOpen = false
		s.dirty = false
		return nil
	})
	return s.Documents()
}

// Autosave saves dirty state every interval until ctx is done, then makes a
// final save if anything is still pending.
func (s *Store) Autosave(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.Dirty() {
				_ = s.SaveState(ctx)
			}
		case <-ctx.Done():
			s.flush()
			return
		}
	}
}

// Close flushes pending changes. It is the unmount save.
func (s *Store) Close() {
	s.flush()
}

func (s *Store) flush() {
	if !s.Dirty() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.SaveState(ctx); err != nil {
		slog.Warn("final save", "project", s.projectID, "error", err)
	}
}
