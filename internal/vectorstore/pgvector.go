package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type PgVectorStore struct {
	db        *pgxpool.Pool
	dimension int
}

func NewPgVectorStore(db *pgxpool.Pool, dimension int) *PgVectorStore {
	return &PgVectorStore{db: db, dimension: dimension}
}

func (s *PgVectorStore) Insert(ctx context.Context, chunks []Chunk) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	stored := 0
	for _, c := range chunks {
		if err := ValidateDimension(c.Embedding, s.dimension); err != nil {
			return 0, err
		}

		metadata := c.Metadata
		if metadata == nil {
			metadata = []byte("{}")
		}

		// ON CONFLICT DO NOTHING makes re-delivered batches idempotent:
		// an existing chunk is never overwritten.
		tag, err := tx.Exec(ctx,
			`INSERT INTO document_chunks (document_id, tenant_id, chunk_index, chunk_text, embedding, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (tenant_id, document_id, chunk_index) DO NOTHING`,
			c.DocumentID, c.TenantID, c.ChunkIndex, c.ChunkText, pgvector.NewVector(c.Embedding), metadata,
		)
		if err != nil {
			return 0, fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
		stored += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit chunks: %w", err)
	}
	return stored, nil
}

func (s *PgVectorStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error) {
	if err := ValidateDimension(query, s.dimension); err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = 5
	}

	embedding := pgvector.NewVector(query)

	// The tenant filter lives inside the query itself; there is no code
	// path that compares embeddings across tenants.
	rows, err := s.db.Query(ctx,
		`SELECT document_id, chunk_text, chunk_index, metadata,
		        1 - (embedding <=> $1) AS similarity
		 FROM document_chunks
		 WHERE tenant_id = $2
		   AND 1 - (embedding <=> $1) >= $3
		 ORDER BY embedding <=> $1 ASC, chunk_index ASC
		 LIMIT $4`,
		embedding, opts.TenantID, opts.Threshold, opts.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.DocumentID, &r.ChunkText, &r.ChunkIndex, &r.Metadata, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PgVectorStore) Delete(ctx context.Context, tenantID, documentID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM document_chunks WHERE document_id = $1 AND tenant_id = $2",
		documentID, tenantID,
	)
	return err
}
