package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/singer-orchestrator/pkg/recall"
)

// Compile-time interface check.
var _ recall.Index = (*Index)(nil)

// Store holds the connection pool backing a PostgreSQL [recall.Index].
//
// All operations are safe for concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	index *Index
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure the recall_requests table and extension
// exist.
//
// embeddingDimensions must match the output dimension of the embedding
// model used to produce [recall.Record.Embedding] values (e.g., 1536 for
// OpenAI text-embedding-3-small). Changing this value after the first
// migration requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("recall postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("recall postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("recall postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("recall postgres store: migrate: %w", err)
	}

	return &Store{pool: pool, index: &Index{pool: pool}}, nil
}

// Index returns the [Index] implementing [recall.Index].
func (s *Store) Index() *Index { return s.index }

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via
// defer.
func (s *Store) Close() {
	s.pool.Close()
}
