package session

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Observer is told when sessions open and close.
type Observer interface {
	SessionOpened()
	SessionClosed()
}

// Hub tracks the open sessions so they can be counted and closed on
// shutdown. Sessions never talk to each other through it.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]*Session // projectID -> clientID -> session
	observer Observer
}

func NewHub(observer Observer) *Hub {
	return &Hub{
		rooms:    make(map[string]map[string]*Session),
		observer: observer,
	}
}

func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	room, ok := h.rooms[s.ProjectID]
	if !ok {
		room = make(map[string]*Session)
		h.rooms[s.ProjectID] = room
	}
	room[s.ClientID] = s
	h.mu.Unlock()

	if h.observer != nil {
		h.observer.SessionOpened()
	}
	slog.Info("session opened", "client", s.ClientID, "project", s.ProjectID, "author", s.Author, "viewers", h.Count(s.ProjectID))
}

func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	room, ok := h.rooms[s.ProjectID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := room[s.ClientID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(room, s.ClientID)
	if len(room) == 0 {
		delete(h.rooms, s.ProjectID)
	}
	h.mu.Unlock()

	if h.observer != nil {
		h.observer.SessionClosed()
	}
	slog.Info("session closed", "client", s.ClientID, "project", s.ProjectID, "viewers", h.Count(s.ProjectID))
}

// Count returns the number of open sessions on projectID.
func (h *Hub) Count(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[projectID])
}

// Shutdown closes every open session with StatusGoingAway.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	sessions := make([]*Session, 0)
	for _, room := range h.rooms {
		for _, s := range room {
			sessions = append(sessions, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
