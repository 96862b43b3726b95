package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/opshift/ragrelay/internal/pipeline"
)

type Chunk struct {
	DocumentID uuid.UUID
	TenantID   uuid.UUID
	ChunkIndex int
	ChunkText  string
	Embedding  []float32
	Metadata   json.RawMessage
}

type SearchOptions struct {
	TenantID  uuid.UUID
	Limit     int
	Threshold float64
}

type SearchResult struct {
	DocumentID uuid.UUID       `json:"document_id"`
	ChunkText  string          `json:"chunk_text"`
	ChunkIndex int             `json:"chunk_index"`
	Similarity float64         `json:"similarity"`
	Metadata   json.RawMessage `json:"metadata"`
}

// RejectedChunk reports one entry of a batch that failed validation. Valid
// siblings are stored regardless; the batch never fails as a whole.
type RejectedChunk struct {
	ChunkIndex int    `json:"chunk_index"`
	Reason     string `json:"reason"`
}

type Store interface {
	// Insert appends the chunks. Chunks are never mutated; a duplicate
	// (tenant, document, chunk_index) insert is a no-op.
	Insert(ctx context.Context, chunks []Chunk) (stored int, err error)

	// Search ranks the tenant's chunks by cosine similarity to the query,
	// keeping those at or above the threshold. Ties break by ascending
	// chunk index for determinism.
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error)

	// Delete removes a document's chunks. Re-processing never deletes
	// implicitly; this exists for explicit cleanup only.
	Delete(ctx context.Context, tenantID, documentID uuid.UUID) error
}

// ValidateDimension rejects embeddings that do not match the configured
// dimension exactly. Truncating or padding would silently corrupt search
// results, so a mismatch is always a hard error.
func ValidateDimension(embedding []float32, want int) error {
	if len(embedding) != want {
		return fmt.Errorf("%w: embedding dimension %d, want %d", pipeline.ErrBadRequest, len(embedding), want)
	}
	return nil
}

// Partition splits a callback batch into storable chunks and per-entry
// rejections.
func Partition(chunks []Chunk, dimension int) (valid []Chunk, rejected []RejectedChunk) {
	for _, c := range chunks {
		if err := ValidateDimension(c.Embedding, dimension); err != nil {
			rejected = append(rejected, RejectedChunk{
				ChunkIndex: c.ChunkIndex,
				Reason:     fmt.Sprintf("embedding dimension %d, want %d", len(c.Embedding), dimension),
			})
			continue
		}
		if c.ChunkText == "" {
			rejected = append(rejected, RejectedChunk{ChunkIndex: c.ChunkIndex, Reason: "empty chunk_text"})
			continue
		}
		valid = append(valid, c)
	}
	return valid, rejected
}
