package recall

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/singer-orchestrator/pkg/provider/embeddings"
)

// Finder implements the orchestrator's PriorRequestFinder by embedding the
// incoming request text and searching an [Index] for the k nearest prior
// requests by the same user.
//
// A zero-value Finder is not usable; construct one via [NewFinder].
type Finder struct {
	embedder embeddings.Provider
	index    Index
}

// NewFinder builds a Finder backed by embedder and index.
func NewFinder(embedder embeddings.Provider, index Index) *Finder {
	return &Finder{embedder: embedder, index: index}
}

// FindSimilar embeds requestText and returns the Summary field of the k
// prior requests by userID closest to it, most similar first. A record with
// an empty Summary contributes its RequestText instead.
func (f *Finder) FindSimilar(ctx context.Context, userID, requestText string, k int) ([]string, error) {
	vec, err := f.embedder.Embed(ctx, requestText)
	if err != nil {
		return nil, fmt.Errorf("recall: embed request: %w", err)
	}

	matches, err := f.index.Search(ctx, vec, k, Filter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("recall: search: %w", err)
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Record.Summary != "" {
			out = append(out, m.Record.Summary)
		} else {
			out = append(out, m.Record.RequestText)
		}
	}
	return out, nil
}

// IndexTurn embeds requestText and stores it in the index under userID, so
// future turns can recall it. Callers typically invoke this after a turn
// resolves to a concrete outcome (e.g., a completed synthesis), passing a
// short human-readable summary of what happened.
func (f *Finder) IndexTurn(ctx context.Context, id, userID, requestText, summary string, timestamp time.Time) error {
	vec, err := f.embedder.Embed(ctx, requestText)
	if err != nil {
		return fmt.Errorf("recall: embed request: %w", err)
	}
	return f.index.IndexRequest(ctx, Record{
		ID:          id,
		UserID:      userID,
		RequestText: requestText,
		Summary:     summary,
		Embedding:   vec,
		Timestamp:   timestamp,
	})
}
