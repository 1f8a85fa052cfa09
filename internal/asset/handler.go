// Package asset stores uploaded plans and photos on disk and serves them
// back under /assets/.
package asset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gorilla/mux"

	"github.com/planpin/planpin/backend-go/internal/annotation"
	"github.com/planpin/planpin/backend-go/internal/document"
	"github.com/planpin/planpin/backend-go/internal/ingest"
	"github.com/planpin/planpin/backend-go/internal/project"
	"github.com/planpin/planpin/backend-go/internal/typeid"
)

const maxUploadSize = 50 << 20 // 50MB

// URLPrefix is the path stored assets are served under.
const URLPrefix = "/assets/"

var ErrNotFound = errors.New("asset not found")

var extensions = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"image/bmp":       ".bmp",
}

// Handler serves asset upload and retrieval endpoints.
type Handler struct {
	dir      string
	projects *project.Service
	maxWidth int
}

// NewHandler creates an asset handler that stores files in dir. Uploaded
// images wider or taller than maxWidth are shrunk before they are stored.
func NewHandler(dir string, projects *project.Service, maxWidth int) *Handler {
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("create asset dir", "error", err, "dir", dir)
	}
	return &Handler{dir: dir, projects: projects, maxWidth: maxWidth}
}

// Routes registers the upload endpoints on the /api router.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/projects/{projectId}/documents/upload", h.UploadDocument).Methods("POST")
	r.HandleFunc("/projects/{projectId}/annotations/{annotationId}/photos/upload", h.UploadPhoto).Methods("POST")
}

// UploadDocument handles a multipart "file" field holding a PDF or image and
// adds it to the project as the active document. An optional "name" field
// overrides the name derived from the file name.
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	file, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = file.Name
	}
	if name == "" {
		name = "Untitled plan"
	}

	st, err := h.projects.Store(r.Context(), mux.Vars(r)["projectId"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	url, err := h.save(file)
	if err != nil {
		slog.Error("save asset", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save file"})
		return
	}

	doc, err := st.AddDocument(url, name, file.Type)
	if err != nil {
		h.remove(url)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	slog.Info("upload document", "project", st.ProjectID(), "document", doc.ID, "type", doc.Type)
	writeJSON(w, http.StatusCreated, doc)
}

// UploadPhoto attaches an uploaded image to an annotation.
func (h *Handler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	file, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	if file.Type != document.TypeImage {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "photos must be images"})
		return
	}

	vars := mux.Vars(r)
	st, err := h.projects.Store(r.Context(), vars["projectId"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if _, _, ok := st.Annotation(vars["annotationId"]); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "annotation not found"})
		return
	}

	url, err := h.save(file)
	if err != nil {
		slog.Error("save asset", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save file"})
		return
	}
	if err := st.AddPhoto(vars["annotationId"], url); err != nil {
		h.remove(url)
		status := http.StatusBadRequest
		if errors.Is(err, annotation.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	ann, _, _ := st.Annotation(vars["annotationId"])
	writeJSON(w, http.StatusCreated, ann)
}

func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (ingest.File, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file too large (max 50MB)"})
		return ingest.File{}, false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file field"})
		return ingest.File{}, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read file"})
		return ingest.File{}, false
	}

	file, err := ingest.Read(header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return ingest.File{}, false
	}
	if file.Type == document.TypeImage {
		file.DataURL = ingest.Optimize(file.DataURL, h.maxWidth)
	}
	return file, true
}

// save writes the file under a fresh asset id and returns its URL.
func (h *Handler) save(file ingest.File) (string, error) {
	mt, data, err := ingest.ParseDataURL(file.DataURL)
	if err != nil {
		return "", err
	}
	ext, ok := extensions[mt]
	if !ok {
		ext = ".bin"
	}

	filename := typeid.NewAssetID() + ext
	if err := os.WriteFile(filepath.Join(h.dir, filename), data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	return URLPrefix + filename, nil
}

func (h *Handler) remove(url string) {
	name := strings.TrimPrefix(url, URLPrefix)
	if err := h.Delete(strings.TrimSuffix(name, filepath.Ext(name))); err != nil {
		slog.Warn("remove asset", "error", err, "url", url)
	}
}

// Serve returns an http.Handler that serves stored asset files with caching headers.
func (h *Handler) Serve() http.Handler {
	fs := http.FileServer(http.Dir(h.dir))
	return http.StripPrefix(URLPrefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Asset IDs are unique, so files are immutable
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		fs.ServeHTTP(w, r)
	}))
}

// Delete removes an asset file from disk.
func (h *Handler) Delete(assetID string) error {
	if err := typeid.Validate(assetID, typeid.PrefixAsset); err != nil {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	for _, ext := range append(slices.Collect(maps.Values(extensions)), ".bin") {
		if err := os.Remove(filepath.Join(h.dir, assetID+ext)); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, assetID)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
