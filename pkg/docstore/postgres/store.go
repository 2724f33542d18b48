// Package postgres is a PostgreSQL-backed implementation of [docstore.Store],
// used for CreditLedger's durable system of record (spec.md §4.6). It uses a
// single versioned-row table and optimistic version columns for
// compare-and-set, rather than SELECT ... FOR UPDATE, since CreditLedger
// already serializes writers per user with an in-process mutex and only
// needs CAS to detect a concurrent external writer.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/singer-orchestrator/pkg/docstore"
)

const ddlDocuments = `
CREATE TABLE IF NOT EXISTS docstore_documents (
    key        TEXT        PRIMARY KEY,
    value      BYTEA       NOT NULL,
    version    BIGINT      NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store is a [docstore.Store] backed by a single PostgreSQL table.
type Store struct {
	pool *pgxpool.Pool
}

var _ docstore.Store = (*Store)(nil)

// NewStore connects to dsn, runs the table migration, and returns a Store.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore/postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("docstore/postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlDocuments); err != nil {
		pool.Close()
		return nil, fmt.Errorf("docstore/postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, int64, error) {
	var value []byte
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT value, version FROM docstore_documents WHERE key = $1`, key,
	).Scan(&value, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, docstore.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("docstore/postgres: get: %w", err)
	}
	return value, version, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO docstore_documents (key, value, version)
		VALUES ($1, $2, 1)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, version = docstore_documents.version + 1, updated_at = now()
		RETURNING version`,
		key, value,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("docstore/postgres: put: %w", err)
	}
	return version, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, wantVersion int64, value []byte) (int64, error) {
	if wantVersion == 0 {
		var version int64
		err := s.pool.QueryRow(ctx, `
			INSERT INTO docstore_documents (key, value, version)
			VALUES ($1, $2, 1)
			ON CONFLICT (key) DO NOTHING
			RETURNING version`,
			key, value,
		).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, docstore.ErrConflict
		}
		if err != nil {
			return 0, fmt.Errorf("docstore/postgres: cas insert: %w", err)
		}
		return version, nil
	}

	var version int64
	err := s.pool.QueryRow(ctx, `
		UPDATE docstore_documents
		SET value = $3, version = version + 1, updated_at = now()
		WHERE key = $1 AND version = $2
		RETURNING version`,
		key, wantVersion, value,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, docstore.ErrConflict
	}
	if err != nil {
		return 0, fmt.Errorf("docstore/postgres: cas update: %w", err)
	}
	return version, nil
}
