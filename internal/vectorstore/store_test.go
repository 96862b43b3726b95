package vectorstore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/opshift/ragrelay/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func embeddingOfDim(n int) []float32 {
	e := make([]float32, n)
	for i := range e {
		e[i] = 0.1
	}
	return e
}

func TestValidateDimension(t *testing.T) {
	require.NoError(t, ValidateDimension(embeddingOfDim(1536), 1536))

	err := ValidateDimension(embeddingOfDim(768), 1536)
	require.ErrorIs(t, err, pipeline.ErrBadRequest)

	err = ValidateDimension(nil, 1536)
	require.ErrorIs(t, err, pipeline.ErrBadRequest)
}

func TestPartition_SplitsValidAndRejected(t *testing.T) {
	docID := uuid.New()
	tenantID := uuid.New()

	batch := []Chunk{
		{DocumentID: docID, TenantID: tenantID, ChunkIndex: 0, ChunkText: "a", Embedding: embeddingOfDim(1536)},
		{DocumentID: docID, TenantID: tenantID, ChunkIndex: 1, ChunkText: "b", Embedding: embeddingOfDim(512)},
		{DocumentID: docID, TenantID: tenantID, ChunkIndex: 2, ChunkText: "", Embedding: embeddingOfDim(1536)},
		{DocumentID: docID, TenantID: tenantID, ChunkIndex: 3, ChunkText: "d", Embedding: embeddingOfDim(1536)},
	}

	valid, rejected := Partition(batch, 1536)

	require.Len(t, valid, 2)
	require.Equal(t, 0, valid[0].ChunkIndex)
	require.Equal(t, 3, valid[1].ChunkIndex)

	want := []RejectedChunk{
		{ChunkIndex: 1, Reason: "embedding dimension 512, want 1536"},
		{ChunkIndex: 2, Reason: "empty chunk_text"},
	}
	if diff := cmp.Diff(want, rejected); diff != "" {
		t.Errorf("rejected mismatch (-want +got):\n%s", diff)
	}
}

func TestPartition_AllValid(t *testing.T) {
	batch := []Chunk{
		{ChunkIndex: 0, ChunkText: "a", Embedding: embeddingOfDim(8)},
		{ChunkIndex: 1, ChunkText: "b", Embedding: embeddingOfDim(8)},
	}

	valid, rejected := Partition(batch, 8)
	require.Len(t, valid, 2)
	require.Empty(t, rejected)
}

func TestPartition_EmptyBatch(t *testing.T) {
	valid, rejected := Partition(nil, 1536)
	require.Empty(t, valid)
	require.Empty(t, rejected)
}
