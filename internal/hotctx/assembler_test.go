package hotctx

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/singer-orchestrator/internal/creditledger"
	"github.com/MrWong99/singer-orchestrator/internal/sessionstore"
	"github.com/MrWong99/singer-orchestrator/pkg/docstore"
)

type fakeFinder struct {
	results []string
	err     error
}

func (f *fakeFinder) FindSimilar(ctx context.Context, userID, requestText string, k int) ([]string, error) {
	return f.results, f.err
}

func newTestLedger(t *testing.T) *creditledger.Ledger {
	t.Helper()
	l := creditledger.New(docstore.NewMemory(), nil, nil)
	t.Cleanup(l.Close)
	return l
}

func TestAssemble_WithoutFinder(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	_, _ = ledger.Grant(ctx, "user-1", 10)

	a := NewAssembler(ledger)
	score := sessionstore.ScoreSummary{Available: true, SelectedVerseNumber: 2}

	facts, err := a.Assemble(ctx, "user-1", "sing verse 2", score)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if facts.Credits.Balance != 10 {
		t.Fatalf("expected balance 10, got %d", facts.Credits.Balance)
	}
	if facts.Score.SelectedVerseNumber != 2 {
		t.Fatalf("expected score summary carried through, got %+v", facts.Score)
	}
	if facts.PriorRequests != nil {
		t.Fatalf("expected no prior requests without a finder, got %v", facts.PriorRequests)
	}
}

func TestAssemble_WithFinder(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	a := NewAssembler(ledger, WithPriorRequestFinder(&fakeFinder{results: []string{"last time: tier gold, 4 credits"}}))
	facts, err := a.Assemble(ctx, "user-1", "sing it again", sessionstore.ScoreSummary{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(facts.PriorRequests) != 1 {
		t.Fatalf("expected 1 prior request, got %v", facts.PriorRequests)
	}
}

func TestAssemble_FinderErrorIsSwallowed(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	a := NewAssembler(ledger, WithPriorRequestFinder(&fakeFinder{err: errors.New("embeddings provider down")}))
	facts, err := a.Assemble(ctx, "user-1", "sing it again", sessionstore.ScoreSummary{})
	if err != nil {
		t.Fatalf("expected finder errors not to fail the turn, got %v", err)
	}
	if facts.PriorRequests != nil {
		t.Fatalf("expected no prior requests on finder error, got %v", facts.PriorRequests)
	}
}
