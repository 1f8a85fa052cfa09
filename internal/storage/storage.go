// Package storage is the key/value persistence the annotation store writes
// its project snapshots to. Backends: memory, SQLite file, Postgres table,
// and browser localStorage under js/wasm.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrNotFound = errors.New("key not found")

// KV is a string-keyed blob store.
type KV interface {
	// Get returns ErrNotFound when the key has never been set.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// DocumentsKey is the key a project's document list is stored under.
func DocumentsKey(projectID string) string {
	return fmt.Sprintf("project_%s_documents", projectID)
}

// TasksKey is the key a project's exported task list is stored under.
func TasksKey(projectID string) string {
	return fmt.Sprintf("project_%s_tasks", projectID)
}

// Memory is an in-process KV.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
