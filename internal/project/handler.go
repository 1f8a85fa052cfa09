package project

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/planpin/planpin/backend-go/internal/annotation"
	"github.com/planpin/planpin/backend-go/internal/auth"
	"github.com/planpin/planpin/backend-go/internal/document"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the project API on r, which is expected to be mounted
// under /api.
func (h *Handler) Routes(r *mux.Router) {
	p := r.PathPrefix("/projects/{projectId}").Subrouter()
	p.HandleFunc("/documents", h.ListDocuments).Methods("GET")
	p.HandleFunc("/documents", h.AddDocument).Methods("POST")
	p.HandleFunc("/documents/{documentId}", h.RenameDocument).Methods("PATCH")
	p.HandleFunc("/documents/{documentId}", h.RemoveDocument).Methods("DELETE")
	p.HandleFunc("/documents/{documentId}/select", h.SelectDocument).Methods("POST")
	p.HandleFunc("/annotations", h.AddAnnotation).Methods("POST")
	p.HandleFunc("/annotations/{annotationId}", h.RemoveAnnotation).Methods("DELETE")
	p.HandleFunc("/annotations/{annotationId}/resolve", h.ToggleResolved).Methods("POST")
	p.HandleFunc("/annotations/{annotationId}/comment", h.UpdateComment).Methods("PUT")
	p.HandleFunc("/annotations/{annotationId}/classification", h.SetClassification).Methods("PUT")
	p.HandleFunc("/annotations/{annotationId}/photos", h.AddPhoto).Methods("POST")
	p.HandleFunc("/annotations/{annotationId}/photos/{index}", h.RemovePhoto).Methods("DELETE")
	p.HandleFunc("/annotations/{annotationId}/task", h.ExportTask).Methods("POST")
	p.HandleFunc("/tasks", h.ListTasks).Methods("GET")
	p.HandleFunc("/save", h.Save).Methods("POST")
}

type documentsResponse struct {
	Documents []document.Document `json:"documents"`
	ActiveID  string              `json:"activeId,omitempty"`
	Selected  string              `json:"selectedAnnotationId,omitempty"`
}

type addDocumentRequest struct {
	URL  string        `json:"url"`
	Name string        `json:"name"`
	Type document.Type `json:"type"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type addAnnotationRequest struct {
	DocumentID string  `json:"documentId"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

type commentRequest struct {
	Comment string `json:"comment"`
}

type classificationRequest struct {
	Lot      string `json:"lot"`
	Location string `json:"location"`
}

type photoRequest struct {
	URL string `json:"url"`
}

func (h *Handler) store(w http.ResponseWriter, r *http.Request) (*annotation.Store, bool) {
	st, err := h.service.Store(r.Context(), mux.Vars(r)["projectId"])
	if err != nil {
		handleServiceError(w, err)
		return nil, false
	}
	return st, true
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshot(st))
}

func snapshot(st *annotation.Store) documentsResponse {
	resp := documentsResponse{Documents: st.Documents(), Selected: st.SelectedAnnotation()}
	if doc, ok := st.ActiveDocument(); ok {
		resp.ActiveID = doc.ID
	}
	return resp
}

func (h *Handler) AddDocument(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	var req addDocumentRequest
	if !decode(w, r, &req) {
		return
	}
	doc, err := st.AddDocument(req.URL, req.Name, req.Type)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) RenameDocument(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	var req renameRequest
	if !decode(w, r, &req) {
		return
	}
	if err := st.RenameDocument(mux.Vars(r)["documentId"], req.Name); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RemoveDocument(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	if err := st.RemoveDocument(mux.Vars(r)["documentId"]); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SelectDocument(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	if err := st.SelectDocument(mux.Vars(r)["documentId"]); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot(st))
}

func (h *Handler) AddAnnotation(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	var req addAnnotationRequest
	if !decode(w, r, &req) {
		return
	}
	pos := document.Position{X: req.X, Y: req.Y}
	author := auth.AuthorFromContext(r.Context())
	var (
		ann document.Annotation
		err error
	)
	if req.DocumentID != "" {
		ann, err = st.AddAnnotationTo(req.DocumentID, pos, author)
	} else {
		ann, err = st.AddAnnotationAs(pos, author)
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ann)
}

func (h *Handler) RemoveAnnotation(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	if err := st.RemoveAnnotation(mux.Vars(r)["annotationId"]); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ToggleResolved(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	resolved, err := st.ToggleResolved(mux.Vars(r)["annotationId"])
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": resolved})
}

func (h *Handler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	var req commentRequest
	if !decode(w, r, &req) {
		return
	}
	h.writeAnnotation(w, st, mux.Vars(r)["annotationId"], st.UpdateComment(mux.Vars(r)["annotationId"], req.Comment))
}

func (h *Handler) SetClassification(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	var req classificationRequest
	if !decode(w, r, &req) {
		return
	}
	id := mux.Vars(r)["annotationId"]
	h.writeAnnotation(w, st, id, st.SetClassification(id, req.Lot, req.Location))
}

func (h *Handler) AddPhoto(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	var req photoRequest
	if !decode(w, r, &req) {
		return
	}
	id := mux.Vars(r)["annotationId"]
	h.writeAnnotation(w, st, id, st.AddPhoto(id, req.URL))
}

func (h *Handler) RemovePhoto(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid photo index"})
		return
	}
	id := mux.Vars(r)["annotationId"]
	h.writeAnnotation(w, st, id, st.RemovePhoto(id, index))
}

func (h *Handler) writeAnnotation(w http.ResponseWriter, st *annotation.Store, id string, err error) {
	if err != nil {
		handleServiceError(w, err)
		return
	}
	ann, _, _ := st.Annotation(id)
	writeJSON(w, http.StatusOK, ann)
}

func (h *Handler) ExportTask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	t, err := h.service.ExportTask(r.Context(), vars["projectId"], vars["annotationId"])
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.service.Tasks(r.Context(), mux.Vars(r)["projectId"])
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	if err := st.SaveState(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "save failed, changes are kept in memory"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, annotation.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, annotation.ErrNoActiveDocument):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no active document"})
	case errors.Is(err, annotation.ErrInvalidInput),
		errors.Is(err, document.ErrInvalidPosition),
		errors.Is(err, document.ErrUnsupportedType),
		errors.Is(err, ErrInvalidProject):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		slog.Error("service error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
