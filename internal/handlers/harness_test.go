package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/ternarybob/arbor"

	"studio-board/internal/board"
	"studio-board/internal/common"
	"studio-board/internal/interfaces"
	"studio-board/internal/middleware"
	"studio-board/internal/models"
	"studio-board/internal/services"
)

const testUser = "ed@studio.example"

type testServer struct {
	t       *testing.T
	api     *APIHandlers
	deps    Dependencies
	repo    *services.Repository
	blob    *fakeBlobStore
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithBlob(t, newFakeBlobStore())
}

// newTestServerWithBlob runs the API against a bolt store in a temp dir.
// A nil blob leaves file storage unconfigured.
func newTestServerWithBlob(t *testing.T, blob *fakeBlobStore) *testServer {
	t.Helper()
	logger := arbor.NewLogger()

	store, err := services.NewDocumentStore(&common.StorageConfig{
		DatabasePath: filepath.Join(t.TempDir(), "board.db"),
		OpenTimeout:  1,
	}, logger)
	if err != nil {
		t.Fatalf("NewDocumentStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	config := common.DefaultConfig()
	config.Board.WriteTimeoutSeconds = 2
	metrics := services.NewMetrics()
	repo := services.NewRepository(store, logger)

	deps := Dependencies{
		Config:   config,
		Repo:     repo,
		Uploads:  services.NewUploadTracker(metrics),
		Metrics:  metrics,
		Resolver: board.NewConfigResolver(repo, logger),
		Logger:   logger,
	}
	if blob != nil {
		deps.Blob = blob
	}

	api := NewAPIHandlers(deps)
	t.Cleanup(api.Wait)

	r := mux.NewRouter()
	sub := r.PathPrefix("/api").Subrouter()
	sub.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithUser(r.Context(), middleware.User{Email: testUser})))
		})
	})
	api.RegisterRoutes(sub)

	return &testServer{t: t, api: api, deps: deps, repo: repo, blob: blob, handler: r}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) request(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.do(req)
}

// upload posts files as a multipart form. fields are added as plain values.
func (s *testServer) upload(path, field string, files map[string]string, fields map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, value := range fields {
		mw.WriteField(name, value)
	}
	for name, content := range files {
		part, err := mw.CreateFormFile(field, name)
		if err != nil {
			s.t.Fatalf("CreateFormFile: %v", err)
		}
		part.Write([]byte(content))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(req)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func expectErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rec, status)
	body := decodeBody[common.ErrorResponse](t, rec)
	if body.Success || body.Error.Code != code {
		t.Fatalf("error = %+v, want code %s", body, code)
	}
}

// seedProject creates a client and a project with the default layout.
func (s *testServer) seedProject() (models.Client, models.Project) {
	s.t.Helper()
	rec := s.request(http.MethodPost, "/api/clients", map[string]any{"name": "Acme Films"})
	expectStatus(s.t, rec, http.StatusCreated)
	client := decodeBody[models.Client](s.t, rec)

	rec = s.request(http.MethodPost, "/api/projects", map[string]any{"name": "Spot #1", "clientId": client.ID})
	expectStatus(s.t, rec, http.StatusCreated)
	return client, decodeBody[models.Project](s.t, rec)
}

func (s *testServer) seedTicket(projectID, title string) models.Ticket {
	s.t.Helper()
	rec := s.request(http.MethodPost, "/api/projects/"+projectID+"/tickets", map[string]any{"title": title})
	expectStatus(s.t, rec, http.StatusCreated)
	return decodeBody[models.Ticket](s.t, rec)
}

type fakeFile struct {
	name        string
	contentType string
	data        []byte
}

// fakeBlobStore keeps files in memory. Thumbnails exist only when added.
type fakeBlobStore struct {
	mu      sync.Mutex
	files   map[string]fakeFile
	thumbs  map[string][]byte
	deleted []string
	nextID  int
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{files: make(map[string]fakeFile), thumbs: make(map[string][]byte)}
}

func (b *fakeBlobStore) ResolveFolder(_ context.Context, hints interfaces.FolderHints) (string, error) {
	var parts []string
	for _, p := range []string{hints.Client, hints.Project, hints.Ticket} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return "folder:" + strings.Join(parts, "/"), nil
}

func (b *fakeBlobStore) Upload(_ context.Context, folderID, name, contentType string, r io.Reader, _ int64) (*interfaces.UploadedFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := fmt.Sprintf("file-%d", b.nextID)
	b.files[id] = fakeFile{name: name, contentType: contentType, data: data}
	return &interfaces.UploadedFile{FileID: id, FolderID: folderID, Name: name, ContentType: contentType, Size: int64(len(data))}, nil
}

func (b *fakeBlobStore) lookup(id string) (fakeFile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[id]
	if !ok {
		return fakeFile{}, common.NewNotFoundError("FILE_NOT_FOUND", "file not found")
	}
	return f, nil
}

func (b *fakeBlobStore) Finalize(_ context.Context, fileID string) (string, error) {
	if _, err := b.lookup(fileID); err != nil {
		return "", err
	}
	return "https://blob.test/" + fileID, nil
}

func (b *fakeBlobStore) Open(_ context.Context, fileID string, rng *interfaces.ByteRange) (*interfaces.BlobContent, error) {
	f, err := b.lookup(fileID)
	if err != nil {
		return nil, err
	}
	size := int64(len(f.data))
	content := &interfaces.BlobContent{Name: f.name, ContentType: f.contentType, Size: size}
	start, end := int64(0), size-1
	if rng != nil {
		start, end = rng.Start, rng.End
		if end < 0 || end >= size {
			end = size - 1
		}
		if start < 0 || start > end {
			return nil, common.NewValidationError("RANGE_NOT_SATISFIABLE", "requested range not satisfiable").WithContext("size", size)
		}
		content.Range = &interfaces.ContentRange{Start: start, End: end, Total: size}
		content.Size = end - start + 1
	}
	content.Body = io.NopCloser(bytes.NewReader(f.data[start : end+1]))
	return content, nil
}

func (b *fakeBlobStore) Thumbnail(_ context.Context, fileID string) (*interfaces.Thumbnail, error) {
	if _, err := b.lookup(fileID); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if thumb, ok := b.thumbs[fileID]; ok {
		return &interfaces.Thumbnail{Body: io.NopCloser(bytes.NewReader(thumb))}, nil
	}
	return &interfaces.Thumbnail{RedirectURL: "https://blob.test/" + fileID}, nil
}

func (b *fakeBlobStore) Delete(_ context.Context, fileID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[fileID]; !ok {
		return common.NewNotFoundError("FILE_NOT_FOUND", "file not found")
	}
	delete(b.files, fileID)
	b.deleted = append(b.deleted, fileID)
	return nil
}

func (b *fakeBlobStore) Ping(context.Context) error {
	return nil
}

func (b *fakeBlobStore) deletedFiles() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}
