package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"github.com/planpin/planpin/backend-go/internal/auth"
	"github.com/planpin/planpin/backend-go/internal/engine"
	"github.com/planpin/planpin/backend-go/internal/project"
)

// Handler upgrades /ws/projects/{projectId}/viewer requests into sessions.
// The bearer token, if any, comes in the "token" query parameter.
type Handler struct {
	projects       *project.Service
	auth           *auth.Service
	fetcher        engine.Fetcher
	hub            *Hub
	originPatterns []string
}

func NewHandler(projects *project.Service, authService *auth.Service, fetcher engine.Fetcher, hub *Hub, originPatterns []string) *Handler {
	return &Handler{
		projects:       projects,
		auth:           authService,
		fetcher:        fetcher,
		hub:            hub,
		originPatterns: originPatterns,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	author := auth.DefaultAuthor
	if h.auth != nil {
		user, ok, err := h.auth.UserFromToken(r.URL.Query().Get("token"))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		if ok {
			author = user.DisplayName
		}
	}

	store, err := h.projects.Store(r.Context(), mux.Vars(r)["projectId"])
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, project.ErrInvalidProject) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("websocket accept", "error", err)
		return
	}

	s, err := New(conn, store, Options{Fetcher: h.fetcher, Author: author})
	if err != nil {
		slog.Error("start session", "error", err)
		conn.Close(websocket.StatusInternalError, "viewer unavailable")
		return
	}

	h.hub.Register(s)
	defer h.hub.Unregister(s)
	s.Run(r.Context())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
