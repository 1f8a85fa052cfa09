// Package task exports annotations into the project's task list. The export
// is one-way: later edits to the annotation do not touch the task.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/planpin/planpin/backend-go/internal/document"
	"github.com/planpin/planpin/backend-go/internal/storage"
	"github.com/planpin/planpin/backend-go/internal/typeid"
)

const (
	// TitleLength is how many characters of the comment become the title.
	TitleLength = 50
	// DefaultDue is the offset of the default due date from creation.
	DefaultDue = 7 * 24 * time.Hour
	// UntitledTitle is used for annotations without a comment.
	UntitledTitle = "Plan annotation"
)

type Status string

const (
	StatusOpen Status = "open"
)

// Task is a record in the project task list.
type Task struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Status       Status    `json:"status"`
	DueDate      time.Time `json:"dueDate"`
	CreatedAt    time.Time `json:"createdAt"`
	Author       string    `json:"author,omitempty"`
	DocumentID   string    `json:"documentId"`
	AnnotationID string    `json:"annotationId"`
	Location     string    `json:"location,omitempty"`
	Photos       []string  `json:"photos"`
}

// FromAnnotation builds the task record for an annotation on doc. The title
// defaults to the start of the comment and the due date to a week after now.
func FromAnnotation(doc document.Document, a document.Annotation, now time.Time) Task {
	comment := strings.TrimSpace(a.Comment)
	title := truncate(firstLine(comment), TitleLength)
	if title == "" {
		title = UntitledTitle
	}

	desc := fmt.Sprintf("%s on %s at (%.1f%%, %.1f%%)", comment, doc.Name, a.X, a.Y)
	if comment == "" {
		desc = fmt.Sprintf("Annotation on %s at (%.1f%%, %.1f%%)", doc.Name, a.X, a.Y)
	}

	location := a.Location
	if a.Lot != "" {
		location = strings.TrimSpace(a.Lot + " " + location)
	}

	photos := append([]string{}, a.Photos...)
	return Task{
		ID:           typeid.NewTaskID(),
		Title:        title,
		Description:  desc,
		Status:       StatusOpen,
		DueDate:      now.Add(DefaultDue).UTC(),
		CreatedAt:    now.UTC(),
		Author:       a.Author,
		DocumentID:   doc.ID,
		AnnotationID: a.ID,
		Location:     location,
		Photos:       photos,
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

// truncate cuts s to n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}

// Store appends exported tasks to a project's task list in key/value
// storage.
type Store struct {
	kv storage.KV
	mu sync.Mutex
}

func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv}
}

// List returns the project's tasks, oldest first.
func (s *Store) List(ctx context.Context, projectID string) ([]Task, error) {
	data, err := s.kv.Get(ctx, storage.TasksKey(projectID))
	if errors.Is(err, storage.ErrNotFound) {
		return []Task{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var tasks []Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if tasks == nil {
		tasks = []Task{}
	}
	return tasks, nil
}

// Append adds t to the project's task list.
func (s *Store) Append(ctx context.Context, projectID string, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.List(ctx, projectID)
	if err != nil {
		return err
	}
	tasks = append(tasks, t)
	data, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("append task: %w", err)
	}
	if err := s.kv.Set(ctx, storage.TasksKey(projectID), data); err != nil {
		return fmt.Errorf("append task: %w", err)
	}
	return nil
}
