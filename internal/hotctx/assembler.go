// Package hotctx assembles the "session facts" block the Orchestrator seeds
// its working context with on every turn (spec.md §4.7 step 3): the score
// summary, selected verse, preprocessing markers, and a credit snapshot.
// Components are fetched concurrently, same shape as the hot-context
// assembler this package is adapted from, but the sources are CreditLedger
// and an optional prior-request recall lookup rather than a knowledge
// graph.
package hotctx

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/singer-orchestrator/internal/creditledger"
	"github.com/MrWong99/singer-orchestrator/internal/sessionstore"
)

// PriorRequestFinder looks up prior similar requests for a user, backing
// SPEC_FULL.md §4.7.1's prior-request recall enrichment. Implementations
// are expected to no-op (return nil, nil) when no embeddings provider is
// configured, making the feature fully optional.
type PriorRequestFinder interface {
	FindSimilar(ctx context.Context, userID, requestText string, k int) ([]string, error)
}

// Facts is the assembled session-facts block for one orchestrator turn.
type Facts struct {
	Score            sessionstore.ScoreSummary
	Credits          creditledger.CreditsSnapshot
	PriorRequests    []string
	AssemblyDuration time.Duration
}

// Assembler concurrently fetches a credits snapshot and (optionally) prior
// similar requests.
type Assembler struct {
	ledger *creditledger.Ledger
	finder PriorRequestFinder
	topK   int
}

// Option configures an [Assembler].
type Option func(*Assembler)

// WithPriorRequestFinder enables the prior-request recall enrichment.
func WithPriorRequestFinder(f PriorRequestFinder) Option {
	return func(a *Assembler) { a.finder = f }
}

// WithTopK overrides how many prior requests are recalled. Default 3.
func WithTopK(k int) Option {
	return func(a *Assembler) { a.topK = k }
}

// NewAssembler creates an Assembler backed by ledger.
func NewAssembler(ledger *creditledger.Ledger, opts ...Option) *Assembler {
	a := &Assembler{ledger: ledger, topK: 3}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble fetches the credits snapshot and (if a finder is configured)
// prior similar requests concurrently, combining them with the
// caller-supplied score summary (already in hand from the session Handle,
// so no I/O is needed for it).
func (a *Assembler) Assemble(ctx context.Context, userID, requestText string, score sessionstore.ScoreSummary) (*Facts, error) {
	start := time.Now()

	var (
		credits creditledger.CreditsSnapshot
		prior   []string
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		snap, err := a.ledger.Snapshot(egCtx, userID)
		if err != nil {
			return fmt.Errorf("hot context: credits snapshot for %q: %w", userID, err)
		}
		credits = snap
		return nil
	})

	if a.finder != nil {
		eg.Go(func() error {
			found, err := a.finder.FindSimilar(egCtx, userID, requestText, a.topK)
			if err != nil {
				// Prior-request recall is pure enrichment; a lookup failure
				// never fails the turn.
				return nil
			}
			prior = found
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &Facts{
		Score:            score,
		Credits:          credits,
		PriorRequests:    prior,
		AssemblyDuration: time.Since(start),
	}, nil
}
