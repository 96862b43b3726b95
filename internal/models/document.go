package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Document struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	TenantID          uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	CallbackID        uuid.UUID       `json:"callback_id" db:"callback_id"`
	Title             string          `json:"title" db:"title"`
	FileName          string          `json:"file_name,omitempty" db:"file_name"`
	FileType          string          `json:"file_type,omitempty" db:"file_type"`
	FileSizeBytes     int64           `json:"file_size_bytes,omitempty" db:"file_size_bytes"`
	SourceURL         string          `json:"source_url,omitempty" db:"source_url"`
	Status            string          `json:"status" db:"status"`
	Content           string          `json:"content,omitempty" db:"content"`
	ProcessedMarkdown *string         `json:"processed_markdown,omitempty" db:"processed_markdown"`
	Metadata          json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

type DocumentChunk struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	DocumentID uuid.UUID       `json:"document_id" db:"document_id"`
	TenantID   uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	ChunkIndex int             `json:"chunk_index" db:"chunk_index"`
	ChunkText  string          `json:"chunk_text" db:"chunk_text"`
	Embedding  []float32       `json:"-" db:"embedding"`
	Metadata   json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Status lattice: uploaded -> processing -> {markdown_received, vectors_received} -> completed.
// failed is reachable from any non-terminal state and is never auto-cleared.
const (
	DocStatusUploaded         = "uploaded"
	DocStatusProcessing       = "processing"
	DocStatusMarkdownReceived = "markdown_received"
	DocStatusVectorsReceived  = "vectors_received"
	DocStatusCompleted        = "completed"
	DocStatusFailed           = "failed"
)
