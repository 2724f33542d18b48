// Package recall defines the prior-request recall layer used by the
// orchestrator's hot-context assembler (SPEC_FULL.md §4.7.1): a vector store
// over previously handled chat requests, so a new turn can be enriched with
// "last time you asked for something like this, here's what happened."
//
// This is a single-purpose descendant of a three-layer memory architecture
// (session log, semantic index, knowledge graph) built for a different
// domain; only the semantic-index layer survived the trip, since request
// recall needs nothing more than embedding similarity over past requests —
// there is no multi-hop entity graph in this domain to traverse.
//
// The interface is public so that external packages can supply alternative
// storage backends (Postgres/pgvector, Redis, in-memory, …) without
// depending on orchestrator internals.
//
// Every implementation must be safe for concurrent use.
package recall

import (
	"context"
	"time"
)

// Record is one previously handled chat request, embedded and stored so a
// later turn can be matched against it by semantic similarity.
type Record struct {
	// ID is the unique identifier for this record (e.g., a UUID).
	ID string

	// UserID is the user who made the request.
	UserID string

	// RequestText is the raw text of the user's chat message.
	RequestText string

	// Summary is a short human-readable note of what the request resolved
	// to (e.g., "tenor, verse 2, rendered at 46s"), surfaced back to the
	// assembler instead of the raw request text.
	Summary string

	// Embedding is the vector representation of RequestText.
	// Dimension must match the index configuration.
	Embedding []float32

	// Timestamp is when this request was recorded.
	Timestamp time.Time
}

// Filter narrows a recall search to a subset of indexed records.
// All non-zero fields are applied as AND conditions.
type Filter struct {
	// UserID restricts results to a single user. Recall is never cross-user.
	UserID string

	// After filters records recorded after this instant (exclusive).
	After time.Time

	// Before filters records recorded before this instant (exclusive).
	Before time.Time
}

// Match pairs a retrieved record with its vector-space distance from the
// query embedding.
type Match struct {
	// Record is the retrieved prior request.
	Record Record

	// Distance is the vector-space distance to the query embedding (cosine
	// distance; lower is more similar).
	Distance float64
}

// Index is a vector store for embedding-based similarity search over prior
// chat requests.
//
// Callers are responsible for producing embeddings before calling
// IndexRequest or Search. Implementations must be safe for concurrent use.
type Index interface {
	// IndexRequest stores a pre-embedded Record. If a record with the same
	// ID already exists it must be replaced (upsert).
	IndexRequest(ctx context.Context, rec Record) error

	// Search finds the topK records whose embeddings are closest to the
	// query embedding, filtered by filter.
	// Results are ordered by ascending Distance (most similar first).
	// Returns an empty (non-nil) slice when no records match.
	Search(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Match, error)
}
