package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/opshift/ragrelay/internal/models"
	"github.com/opshift/ragrelay/internal/registry"
	"github.com/opshift/ragrelay/internal/tenant"
)

type mockDocService struct {
	createFn   func(ctx context.Context, tenantID uuid.UUID, req registry.CreateRequest) (*models.Document, error)
	dispatchFn func(ctx context.Context, doc *models.Document) error
	getByIDFn  func(ctx context.Context, documentID, tenantID uuid.UUID) (*models.Document, error)
	listFn     func(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]models.Document, error)
}

func (m *mockDocService) Create(ctx context.Context, tenantID uuid.UUID, req registry.CreateRequest) (*models.Document, error) {
	return m.createFn(ctx, tenantID, req)
}

func (m *mockDocService) Dispatch(ctx context.Context, doc *models.Document) error {
	return m.dispatchFn(ctx, doc)
}

func (m *mockDocService) GetByID(ctx context.Context, documentID, tenantID uuid.UUID) (*models.Document, error) {
	return m.getByIDFn(ctx, documentID, tenantID)
}

func (m *mockDocService) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]models.Document, error) {
	return m.listFn(ctx, tenantID, limit, offset)
}

func documentRouter(h *DocumentHandler, tenantID uuid.UUID) *chi.Mux {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(tenant.WithID(r.Context(), tenantID)))
		})
	})
	r.Post("/api/v1/documents", h.Upload)
	r.Get("/api/v1/documents", h.List)
	r.Get("/api/v1/documents/{id}", h.Get)
	r.Get("/api/v1/documents/{id}/status", h.Status)
	return r
}

func multipartUpload(t *testing.T, fileName, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := w.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUploadTextFile(t *testing.T) {
	tenantID := uuid.New()
	dispatched := false

	svc := &mockDocService{
		createFn: func(_ context.Context, gotTenant uuid.UUID, req registry.CreateRequest) (*models.Document, error) {
			require.Equal(t, tenantID, gotTenant)
			require.Equal(t, "notes.txt", req.FileName)
			require.Equal(t, "txt", req.FileType)
			require.Equal(t, "plain text body", req.Content)
			require.Equal(t, "notes.txt", req.Title)
			return &models.Document{ID: uuid.New(), TenantID: gotTenant, Status: models.DocStatusUploaded}, nil
		},
		dispatchFn: func(_ context.Context, doc *models.Document) error {
			dispatched = true
			return nil
		},
	}
	router := documentRouter(NewDocumentHandler(svc), tenantID)

	body, contentType := multipartUpload(t, "notes.txt", "plain text body", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, dispatched)
}

func TestUploadUnsupportedType(t *testing.T) {
	router := documentRouter(NewDocumentHandler(&mockDocService{}), uuid.New())

	body, contentType := multipartUpload(t, "binary.exe", "MZ", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRequiresFileOrSourceURL(t *testing.T) {
	router := documentRouter(NewDocumentHandler(&mockDocService{}), uuid.New())

	body, contentType := multipartUpload(t, "", "", map[string]string{"title": "no file"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadSourceURLOnly(t *testing.T) {
	svc := &mockDocService{
		createFn: func(_ context.Context, gotTenant uuid.UUID, req registry.CreateRequest) (*models.Document, error) {
			require.Equal(t, "https://example.com/spec.pdf", req.SourceURL)
			require.Empty(t, req.FileName)
			return &models.Document{ID: uuid.New(), TenantID: gotTenant, Status: models.DocStatusUploaded}, nil
		},
		dispatchFn: func(context.Context, *models.Document) error { return nil },
	}
	router := documentRouter(NewDocumentHandler(svc), uuid.New())

	body, contentType := multipartUpload(t, "", "", map[string]string{
		"title":      "remote doc",
		"source_url": "https://example.com/spec.pdf",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestDocumentStatus(t *testing.T) {
	docID := uuid.New()
	svc := &mockDocService{
		getByIDFn: func(_ context.Context, gotDoc, _ uuid.UUID) (*models.Document, error) {
			require.Equal(t, docID, gotDoc)
			return &models.Document{ID: gotDoc, Status: models.DocStatusCompleted}, nil
		},
	}
	router := documentRouter(NewDocumentHandler(svc), uuid.New())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+docID.String()+"/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, models.DocStatusCompleted, body["status"])
}

func TestListDocumentsClampsLimit(t *testing.T) {
	var gotLimit int
	svc := &mockDocService{
		listFn: func(_ context.Context, _ uuid.UUID, limit, offset int) ([]models.Document, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	router := documentRouter(NewDocumentHandler(svc), uuid.New())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents?limit=500", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 100, gotLimit)
}
