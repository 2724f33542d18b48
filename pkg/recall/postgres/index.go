package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/singer-orchestrator/pkg/recall"
)

// Index is a PostgreSQL-backed [recall.Index] using a recall_requests table
// with a pgvector HNSW index for fast approximate nearest-neighbour search.
//
// Obtain one via [Store.Index] rather than constructing directly.
// All methods are safe for concurrent use.
type Index struct {
	pool *pgxpool.Pool
}

// IndexRequest implements [recall.Index]. It upserts a pre-embedded
// [recall.Record] into the recall_requests table. If a record with the same
// ID already exists it is completely replaced.
func (i *Index) IndexRequest(ctx context.Context, rec recall.Record) error {
	const q = `
		INSERT INTO recall_requests
		    (id, user_id, request_text, summary, embedding, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    user_id      = EXCLUDED.user_id,
		    request_text = EXCLUDED.request_text,
		    summary      = EXCLUDED.summary,
		    embedding    = EXCLUDED.embedding,
		    timestamp    = EXCLUDED.timestamp`

	vec := pgvector.NewVector(rec.Embedding)
	_, err := i.pool.Exec(ctx, q,
		rec.ID,
		rec.UserID,
		rec.RequestText,
		rec.Summary,
		vec,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("recall index: index request: %w", err)
	}
	return nil
}

// Search implements [recall.Index]. It finds the topK records whose
// embeddings are closest (cosine distance) to the supplied query embedding,
// optionally filtered by filter.
//
// Results are ordered by ascending cosine distance (most similar first).
func (i *Index) Search(ctx context.Context, embedding []float32, topK int, filter recall.Filter) ([]recall.Match, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = "+next(filter.UserID))
	}
	if !filter.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(filter.After))
	}
	if !filter.Before.IsZero() {
		conditions = append(conditions, "timestamp < "+next(filter.Before))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, user_id, request_text, summary, embedding, timestamp,
		       embedding <=> $1 AS distance
		FROM   recall_requests
		%s
		ORDER  BY distance
		LIMIT  %s`, whereClause, limitArg)

	rows, err := i.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("recall index: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (recall.Match, error) {
		var (
			m   recall.Match
			vec pgvector.Vector
		)
		if err := row.Scan(
			&m.Record.ID,
			&m.Record.UserID,
			&m.Record.RequestText,
			&m.Record.Summary,
			&vec,
			&m.Record.Timestamp,
			&m.Distance,
		); err != nil {
			return recall.Match{}, err
		}
		m.Record.Embedding = vec.Slice()
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("recall index: scan rows: %w", err)
	}
	if results == nil {
		results = []recall.Match{}
	}
	return results, nil
}
