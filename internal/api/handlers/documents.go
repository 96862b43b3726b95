package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opshift/ragrelay/internal/models"
	"github.com/opshift/ragrelay/internal/pipeline"
	"github.com/opshift/ragrelay/internal/registry"
	"github.com/opshift/ragrelay/internal/tenant"
	"github.com/opshift/ragrelay/pkg/textextract"
)

const maxUploadBytes = 32 << 20 // 32 MB

type DocumentService interface {
	Create(ctx context.Context, tenantID uuid.UUID, req registry.CreateRequest) (*models.Document, error)
	Dispatch(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, documentID, tenantID uuid.UUID) (*models.Document, error)
	List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]models.Document, error)
}

type DocumentHandler struct {
	docs DocumentService
}

func NewDocumentHandler(docs DocumentService) *DocumentHandler {
	return &DocumentHandler{docs: docs}
}

// Upload accepts a multipart file (or a source_url pointing at one), stores
// the document in state uploaded, and kicks off processing. The client gets
// 201 immediately; the rest of the pipeline is asynchronous.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.IDFromContext(r.Context())
	if !ok {
		writeErr(w, pipeline.ErrUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeErr(w, fmt.Errorf("%w: invalid multipart form", pipeline.ErrBadRequest))
		return
	}

	req := registry.CreateRequest{
		Title:     r.FormValue("title"),
		SourceURL: r.FormValue("source_url"),
	}

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			writeErr(w, fmt.Errorf("read upload: %w", err))
			return
		}

		content, fileType, err := textextract.FromUpload(header.Filename, data)
		if errors.Is(err, textextract.ErrUnsupportedType) {
			writeErr(w, fmt.Errorf("%w: %v", pipeline.ErrBadRequest, err))
			return
		}
		if err != nil {
			writeErr(w, err)
			return
		}

		req.FileName = header.Filename
		req.FileType = fileType
		req.FileSizeBytes = header.Size
		req.Content = content
		if req.Title == "" {
			req.Title = header.Filename
		}
	case req.SourceURL != "":
		// Remote document; the processor fetches it from source_url.
	default:
		writeErr(w, fmt.Errorf("%w: file or source_url required", pipeline.ErrBadRequest))
		return
	}

	doc, err := h.docs.Create(r.Context(), tenantID, req)
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := h.docs.Dispatch(r.Context(), doc); err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.IDFromContext(r.Context())
	if !ok {
		writeErr(w, pipeline.ErrUnauthorized)
		return
	}

	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	offset := queryInt(r, "offset", 0)

	docs, err := h.docs.List(r.Context(), tenantID, limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"limit":     limit,
		"offset":    offset,
	})
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.IDFromContext(r.Context())
	if !ok {
		writeErr(w, pipeline.ErrUnauthorized)
		return
	}

	documentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, pipeline.ErrNotFound)
		return
	}

	doc, err := h.docs.GetByID(r.Context(), documentID, tenantID)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Status(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.IDFromContext(r.Context())
	if !ok {
		writeErr(w, pipeline.ErrUnauthorized)
		return
	}

	documentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, pipeline.ErrNotFound)
		return
	}

	doc, err := h.docs.GetByID(r.Context(), documentID, tenantID)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document_id": doc.ID,
		"status":      doc.Status,
		"updated_at":  doc.UpdatedAt,
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
