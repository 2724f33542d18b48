// Package postgres provides a PostgreSQL-backed implementation of
// [recall.Index] using pgvector for similarity search.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	_ = store.Index().IndexRequest(ctx, rec)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddl returns the recall-request DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddl(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS recall_requests (
    id           TEXT         PRIMARY KEY,
    user_id      TEXT         NOT NULL,
    request_text TEXT         NOT NULL,
    summary      TEXT         NOT NULL DEFAULT '',
    embedding    vector(%d),
    timestamp    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_recall_requests_user_id
    ON recall_requests (user_id);

CREATE INDEX IF NOT EXISTS idx_recall_requests_embedding
    ON recall_requests USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the recall_requests table and the pgvector
// extension exist. It is idempotent and safe to call on every application
// start.
//
// embeddingDimensions must match the vector model configured for your
// deployment (e.g., 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing this value after the first migration requires
// a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddl(embeddingDimensions)); err != nil {
		return fmt.Errorf("recall postgres migrate: %w", err)
	}
	return nil
}
