// Package registry tracks documents through the ingestion state machine.
// Rows are mutated only here and by the retry queue's exhaustion path; all
// transitions go through guarded UPDATEs so concurrent callbacks cannot
// regress the lattice or complete a document twice.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opshift/ragrelay/internal/dispatch"
	"github.com/opshift/ragrelay/internal/models"
	"github.com/opshift/ragrelay/internal/pipeline"
	"github.com/opshift/ragrelay/internal/vectorstore"
)

type TokenStore interface {
	GetOrCreate(ctx context.Context, tenantID uuid.UUID) (string, error)
	Validate(ctx context.Context, tenantID uuid.UUID, token string) error
}

type Service struct {
	db           *pgxpool.Pool
	tokens       TokenStore
	vectors      vectorstore.Store
	sender       dispatch.Sender
	dimension    int
	processorURL string
	baseURL      string
}

func NewService(db *pgxpool.Pool, tokens TokenStore, vectors vectorstore.Store, sender dispatch.Sender, dimension int, processorURL, baseURL string) *Service {
	return &Service{
		db:           db,
		tokens:       tokens,
		vectors:      vectors,
		sender:       sender,
		dimension:    dimension,
		processorURL: processorURL,
		baseURL:      baseURL,
	}
}

type CreateRequest struct {
	Title         string
	FileName      string
	FileType      string
	FileSizeBytes int64
	SourceURL     string
	Content       string
	Metadata      map[string]interface{}
}

// Create inserts the document in state uploaded, minting its vector
// callback id and binding the tenant's callback token.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, req CreateRequest) (*models.Document, error) {
	if _, err := s.tokens.GetOrCreate(ctx, tenantID); err != nil {
		return nil, fmt.Errorf("bind callback token: %w", err)
	}

	metadata, _ := json.Marshal(req.Metadata)
	if req.Metadata == nil {
		metadata = []byte("{}")
	}

	var doc models.Document
	err := s.db.QueryRow(ctx,
		`INSERT INTO documents (id, tenant_id, callback_id, title, file_name, file_type, file_size_bytes, source_url, status, content, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, tenant_id, callback_id, title, file_name, file_type, file_size_bytes, source_url, status, content, processed_markdown, metadata, created_at, updated_at`,
		uuid.New(), tenantID, uuid.New(), req.Title, req.FileName, req.FileType,
		req.FileSizeBytes, req.SourceURL, models.DocStatusUploaded, req.Content, metadata,
	).Scan(&doc.ID, &doc.TenantID, &doc.CallbackID, &doc.Title, &doc.FileName, &doc.FileType,
		&doc.FileSizeBytes, &doc.SourceURL, &doc.Status, &doc.Content, &doc.ProcessedMarkdown,
		&doc.Metadata, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}

	return &doc, nil
}

// Dispatch moves the document to processing and hands the processing
// request to the webhook dispatcher. Delivery failures are the retry
// queue's problem; this always returns once the send is accepted.
func (s *Service) Dispatch(ctx context.Context, doc *models.Document) error {
	token, err := s.tokens.GetOrCreate(ctx, doc.TenantID)
	if err != nil {
		return fmt.Errorf("resolve callback token: %w", err)
	}

	_, err = s.db.Exec(ctx,
		"UPDATE documents SET status = $1, updated_at = now() WHERE id = $2 AND status = $3",
		models.DocStatusProcessing, doc.ID, models.DocStatusUploaded,
	)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	doc.Status = models.DocStatusProcessing

	s.sender.Send(ctx, buildDocumentDelivery(s.processorURL, s.baseURL, doc, token))
	return nil
}

// ApplyMarkdown records the markdown callback result. Safe to call more
// than once with the same payload; the status CASE keeps re-application a
// no-op and fires the completed transition exactly once.
func (s *Service) ApplyMarkdown(ctx context.Context, documentID, tenantID uuid.UUID, token, markdown string) (*models.Document, error) {
	if err := s.tokens.Validate(ctx, tenantID, token); err != nil {
		slog.Warn("markdown callback rejected", "document_id", documentID, "tenant_id", tenantID)
		return nil, err
	}

	current, err := s.currentStatus(ctx, documentID, tenantID)
	if err != nil {
		return nil, err
	}
	if current == models.DocStatusFailed {
		return nil, fmt.Errorf("%w: document %s is failed", pipeline.ErrConflict, documentID)
	}

	var doc models.Document
	err = s.db.QueryRow(ctx,
		`UPDATE documents SET
		     processed_markdown = $3,
		     status = CASE
		         WHEN status IN ($4, $5) THEN $6
		         WHEN status = $7 THEN $8
		         ELSE status
		     END,
		     updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status <> $9
		 RETURNING id, tenant_id, callback_id, status, processed_markdown`,
		documentID, tenantID, markdown,
		models.DocStatusUploaded, models.DocStatusProcessing, models.DocStatusMarkdownReceived,
		models.DocStatusVectorsReceived, models.DocStatusCompleted,
		models.DocStatusFailed,
	).Scan(&doc.ID, &doc.TenantID, &doc.CallbackID, &doc.Status, &doc.ProcessedMarkdown)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost a race with a terminal failure.
		return nil, fmt.Errorf("%w: document %s is failed", pipeline.ErrConflict, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("apply markdown: %w", err)
	}

	return &doc, nil
}

// ApplyVectors authenticates the vector callback, stores the valid chunks,
// and advances the state machine. Entries failing the dimension check are
// rejected individually; the rest of the batch still lands.
func (s *Service) ApplyVectors(ctx context.Context, callbackID, documentID, tenantID uuid.UUID, token string, chunks []vectorstore.Chunk) (stored int, rejected []vectorstore.RejectedChunk, doc *models.Document, err error) {
	if err := s.tokens.Validate(ctx, tenantID, token); err != nil {
		slog.Warn("vector callback rejected", "callback_id", callbackID, "tenant_id", tenantID)
		return 0, nil, nil, err
	}

	doc, err = s.GetByCallbackID(ctx, callbackID, tenantID)
	if err != nil {
		return 0, nil, nil, err
	}
	if doc.ID != documentID {
		// The callback id, document id, and token owner disagree. Do not
		// reveal which leg of the triple was wrong.
		slog.Warn("vector callback identity mismatch", "callback_id", callbackID, "tenant_id", tenantID)
		return 0, nil, nil, pipeline.ErrUnauthorized
	}
	if doc.Status == models.DocStatusFailed {
		return 0, nil, nil, fmt.Errorf("%w: document %s is failed", pipeline.ErrConflict, doc.ID)
	}

	for i := range chunks {
		chunks[i].DocumentID = doc.ID
		chunks[i].TenantID = tenantID
	}

	valid, rejected := vectorstore.Partition(chunks, s.dimension)
	if len(valid) == 0 {
		return 0, rejected, doc, nil
	}

	stored, err = s.vectors.Insert(ctx, valid)
	if err != nil {
		return 0, rejected, nil, fmt.Errorf("store chunks: %w", err)
	}

	var status string
	err = s.db.QueryRow(ctx,
		`UPDATE documents SET
		     status = CASE
		         WHEN status IN ($3, $4) THEN $5
		         WHEN status = $6 THEN $7
		         ELSE status
		     END,
		     updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status <> $8
		 RETURNING status`,
		doc.ID, tenantID,
		models.DocStatusUploaded, models.DocStatusProcessing, models.DocStatusVectorsReceived,
		models.DocStatusMarkdownReceived, models.DocStatusCompleted,
		models.DocStatusFailed,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return stored, rejected, nil, fmt.Errorf("%w: document %s is failed", pipeline.ErrConflict, doc.ID)
	}
	if err != nil {
		return stored, rejected, nil, fmt.Errorf("advance status: %w", err)
	}

	doc.Status = status
	return stored, rejected, doc, nil
}

// MarkFailed records an explicit error signal from the external service.
// Completed and already-failed documents are left alone.
func (s *Service) MarkFailed(ctx context.Context, documentID, tenantID uuid.UUID, token, reason string) error {
	if err := s.tokens.Validate(ctx, tenantID, token); err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = now()
		 WHERE id = $2 AND tenant_id = $3 AND status NOT IN ($1, $4)`,
		models.DocStatusFailed, documentID, tenantID, models.DocStatusCompleted,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %s", pipeline.ErrNotFound, documentID)
	}

	slog.Warn("document marked failed by processor", "document_id", documentID, "reason", reason)
	return nil
}

func (s *Service) GetByID(ctx context.Context, documentID, tenantID uuid.UUID) (*models.Document, error) {
	return s.getBy(ctx, "id", documentID, tenantID)
}

func (s *Service) GetByCallbackID(ctx context.Context, callbackID, tenantID uuid.UUID) (*models.Document, error) {
	return s.getBy(ctx, "callback_id", callbackID, tenantID)
}

func (s *Service) getBy(ctx context.Context, column string, id, tenantID uuid.UUID) (*models.Document, error) {
	var doc models.Document
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, callback_id, title, file_name, file_type, file_size_bytes, source_url, status, content, processed_markdown, metadata, created_at, updated_at
		 FROM documents WHERE `+column+` = $1 AND tenant_id = $2`,
		id, tenantID,
	).Scan(&doc.ID, &doc.TenantID, &doc.CallbackID, &doc.Title, &doc.FileName, &doc.FileType,
		&doc.FileSizeBytes, &doc.SourceURL, &doc.Status, &doc.Content, &doc.ProcessedMarkdown,
		&doc.Metadata, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: document", pipeline.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]models.Document, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, callback_id, title, file_name, file_type, file_size_bytes, source_url, status, metadata, created_at, updated_at
		 FROM documents WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		tenantID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.TenantID, &d.CallbackID, &d.Title, &d.FileName, &d.FileType,
			&d.FileSizeBytes, &d.SourceURL, &d.Status, &d.Metadata, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Service) currentStatus(ctx context.Context, documentID, tenantID uuid.UUID) (string, error) {
	var status string
	err := s.db.QueryRow(ctx,
		"SELECT status FROM documents WHERE id = $1 AND tenant_id = $2", documentID, tenantID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: document", pipeline.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get document status: %w", err)
	}
	return status, nil
}

func buildDocumentDelivery(processorURL, baseURL string, doc *models.Document, token string) dispatch.Delivery {
	sourceURL := doc.SourceURL
	if sourceURL == "" {
		sourceURL = fmt.Sprintf("%s/api/v1/documents/%s", baseURL, doc.ID)
	}

	return dispatch.Delivery{
		TargetURL:  processorURL,
		AuthScheme: dispatch.SchemeFor("document"),
		Token:      token,
		TenantID:   doc.TenantID,
		RefKind:    models.WebhookRefDocument,
		RefID:      doc.ID,
		Payload: dispatch.ProcessingRequest{
			Source:              "ragrelay",
			Action:              dispatch.ActionDocumentProcessing,
			TenantID:            doc.TenantID.String(),
			CallbackToken:       token,
			DocumentURL:         sourceURL,
			MarkdownCallbackURL: fmt.Sprintf("%s/api/rag/document-callback/%s", baseURL, doc.ID),
			VectorCallbackURL:   fmt.Sprintf("%s/api/rag/callback/%s", baseURL, doc.CallbackID),
			FileName:            doc.FileName,
			FileType:            doc.FileType,
			FileSizeBytes:       doc.FileSizeBytes,
		},
	}
}
