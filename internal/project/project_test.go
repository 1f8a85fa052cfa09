package project

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planpin/planpin/backend-go/internal/auth"
	"github.com/planpin/planpin/backend-go/internal/document"
	"github.com/planpin/planpin/backend-go/internal/storage"
	"github.com/planpin/planpin/backend-go/internal/task"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testServer struct {
	t       *testing.T
	service *Service
	auth    *auth.Service
	router  *mux.Router
	token   string
}

func newTestServer(t *testing.T, kv storage.KV) *testServer {
	t.Helper()
	svc := NewService(Options{Storage: kv, Clock: func() time.Time { return fixedNow }})
	t.Cleanup(svc.Close)

	authSvc := auth.NewService("test-secret")
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authSvc.AuthMiddleware)
	NewHandler(svc).Routes(api)
	return &testServer{t: t, service: svc, auth: authSvc, router: r}
}

func (s *testServer) login(name string) {
	res, err := s.auth.IssueGuest(name)
	require.NoError(s.t, err)
	s.token = res.Token
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) addDocument(name string) document.Document {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/projects/site-7/documents", addDocumentRequest{
		URL: "/assets/" + name + ".png", Name: name, Type: document.TypeImage,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[document.Document](s.t, rec)
}

func (s *testServer) addAnnotation(docID string, x, y float64) document.Annotation {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/projects/site-7/annotations", addAnnotationRequest{DocumentID: docID, X: x, Y: y})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[document.Annotation](s.t, rec)
}

func TestDocumentLifecycle(t *testing.T) {
	s := newTestServer(t, storage.NewMemory())

	ground := s.addDocument("Ground floor")
	first := s.addDocument("First floor")

	snap := decodeBody[documentsResponse](t, s.do(http.MethodGet, "/api/projects/site-7/documents", nil))
	require.Len(t, snap.Documents, 2)
	assert.Equal(t, first.ID, snap.ActiveID)

	rec := s.do(http.MethodPost, "/api/projects/site-7/documents/"+ground.ID+"/select", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ground.ID, decodeBody[documentsResponse](t, rec).ActiveID)

	rec = s.do(http.MethodPatch, "/api/projects/site-7/documents/"+ground.ID, renameRequest{Name: "Level 0"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodDelete, "/api/projects/site-7/documents/"+ground.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	snap = decodeBody[documentsResponse](t, s.do(http.MethodGet, "/api/projects/site-7/documents", nil))
	require.Len(t, snap.Documents, 1)
	assert.Equal(t, first.ID, snap.ActiveID)
}

func TestAnnotationAuthorFromToken(t *testing.T) {
	s := newTestServer(t, storage.NewMemory())
	doc := s.addDocument("Roof")

	anon := s.addAnnotation(doc.ID, 10, 20)
	assert.Equal(t, auth.DefaultAuthor, anon.Author)

	s.login("Site Manager")
	named := s.addAnnotation(doc.ID, 30, 40)
	assert.Equal(t, "Site Manager", named.Author)
	assert.Equal(t, fixedNow, named.CreatedAt)

	s.token = "not-a-token"
	rec := s.do(http.MethodPost, "/api/projects/site-7/annotations", addAnnotationRequest{DocumentID: doc.ID, X: 1, Y: 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAddAnnotationToInactiveDocument(t *testing.T) {
	s := newTestServer(t, storage.NewMemory())
	ground := s.addDocument("Ground floor")
	first := s.addDocument("First floor")

	ann := s.addAnnotation(ground.ID, 12, 34)

	snap := decodeBody[documentsResponse](t, s.do(http.MethodGet, "/api/projects/site-7/documents", nil))
	assert.Equal(t, first.ID, snap.ActiveID, "adding to another document does not switch the active one")
	assert.Empty(t, snap.Selected)
	require.Len(t, snap.Documents, 2)
	require.Len(t, snap.Documents[0].Annotations, 1)
	assert.Equal(t, ann.ID, snap.Documents[0].Annotations[0].ID)
	assert.Empty(t, snap.Documents[1].Annotations)

	rec := s.do(http.MethodPost, "/api/projects/site-7/annotations", addAnnotationRequest{DocumentID: "doc_missing", X: 1, Y: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnnotationEdits(t *testing.T) {
	s := newTestServer(t, storage.NewMemory())
	doc := s.addDocument("Basement")
	ann := s.addAnnotation(doc.ID, 50, 50)
	base := "/api/projects/site-7/annotations/" + ann.ID

	rec := s.do(http.MethodPut, base+"/comment", commentRequest{Comment: "Water ingress"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Water ingress", decodeBody[document.Annotation](t, rec).Comment)

	rec = s.do(http.MethodPut, base+"/classification", classificationRequest{Lot: " 12 ", Location: "North wall"})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[document.Annotation](t, rec)
	assert.Equal(t, "12", got.Lot)
	assert.Equal(t, "North wall", got.Location)

	rec = s.do(http.MethodPost, base+"/photos", photoRequest{URL: "/assets/a.jpg"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, base+"/photos", photoRequest{URL: "/assets/b.jpg"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodDelete, base+"/photos/0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"/assets/b.jpg"}, decodeBody[document.Annotation](t, rec).Photos)

	rec = s.do(http.MethodDelete, base+"/photos/5", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodDelete, base+"/photos/x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, base+"/resolve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"resolved": true}, decodeBody[map[string]bool](t, rec))

	rec = s.do(http.MethodDelete, base, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, storage.NewMemory())

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"no active document", http.MethodPost, "/api/projects/site-7/annotations", addAnnotationRequest{X: 1, Y: 1}, http.StatusConflict},
		{"unknown document", http.MethodPost, "/api/projects/site-7/documents/nope/select", nil, http.StatusNotFound},
		{"unsupported type", http.MethodPost, "/api/projects/site-7/documents", addDocumentRequest{URL: "/a", Name: "a", Type: "docx"}, http.StatusBadRequest},
		{"missing name", http.MethodPost, "/api/projects/site-7/documents", addDocumentRequest{URL: "/a", Type: document.TypePDF}, http.StatusBadRequest},
		{"bad project", http.MethodGet, "/api/projects/bad.id/documents", nil, http.StatusBadRequest},
		{"unknown annotation", http.MethodPut, "/api/projects/site-7/annotations/nope/comment", commentRequest{Comment: "x"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, decodeBody[map[string]string](t, rec), "error")
		})
	}

	t.Run("position out of range", func(t *testing.T) {
		doc := s.addDocument("Plan")
		rec := s.do(http.MethodPost, "/api/projects/site-7/annotations", addAnnotationRequest{DocumentID: doc.ID, X: 101, Y: 5})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/projects/site-7/documents", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestExportTask(t *testing.T) {
	s := newTestServer(t, storage.NewMemory())
	doc := s.addDocument("Level 2")
	ann := s.addAnnotation(doc.ID, 25, 75)
	s.do(http.MethodPut, "/api/projects/site-7/annotations/"+ann.ID+"/comment", commentRequest{Comment: "Missing fire collar"})

	rec := s.do(http.MethodPost, "/api/projects/site-7/annotations/"+ann.ID+"/task", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[task.Task](t, rec)
	assert.Equal(t, "Missing fire collar", created.Title)
	assert.Equal(t, doc.ID, created.DocumentID)
	assert.Equal(t, fixedNow.Add(task.DefaultDue), created.DueDate)

	rec = s.do(http.MethodGet, "/api/projects/site-7/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := decodeBody[[]task.Task](t, rec)
	require.Len(t, tasks, 1)
	assert.Equal(t, created.ID, tasks[0].ID)

	rec = s.do(http.MethodPost, "/api/projects/site-7/annotations/nope/task", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSaveAndReload(t *testing.T) {
	kv := storage.NewMemory()
	s := newTestServer(t, kv)
	doc := s.addDocument("Site plan")
	s.addAnnotation(doc.ID, 5, 5)

	rec := s.do(http.MethodPost, "/api/projects/site-7/save", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	reopened := NewService(Options{Storage: kv})
	defer reopened.Close()
	st, err := reopened.Store(context.Background(), "site-7")
	require.NoError(t, err)
	docs := st.Documents()
	require.Len(t, docs, 1)
	assert.Len(t, docs[0].Annotations, 1)
}

func TestServiceStoreIsShared(t *testing.T) {
	svc := NewService(Options{})
	defer svc.Close()

	a, err := svc.Store(context.Background(), "p1")
	require.NoError(t, err)
	b, err := svc.Store(context.Background(), "p1")
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := svc.Store(context.Background(), "p2")
	require.NoError(t, err)
	assert.NotSame(t, a, other)
}

func TestServiceCloseFlushes(t *testing.T) {
	kv := storage.NewMemory()
	svc := NewService(Options{Storage: kv, AutosaveInterval: time.Hour})

	st, err := svc.Store(context.Background(), "p1")
	require.NoError(t, err)
	_, err = st.AddDocument("/assets/x.pdf", "X", document.TypePDF)
	require.NoError(t, err)
	require.True(t, st.Dirty())

	svc.Close()

	data, err := kv.Get(context.Background(), storage.DocumentsKey("p1"))
	require.NoError(t, err)
	docs, err := document.Decode(data)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "X", docs[0].Name)

	_, err = svc.Store(context.Background(), "p1")
	assert.Error(t, err)
}
