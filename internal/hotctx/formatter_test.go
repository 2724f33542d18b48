package hotctx

import (
	"strings"
	"testing"

	"github.com/MrWong99/singer-orchestrator/internal/creditledger"
	"github.com/MrWong99/singer-orchestrator/internal/sessionstore"
)

func TestFormatSessionFacts_Nil(t *testing.T) {
	got := FormatSessionFacts(nil)
	if got != "No score uploaded yet." {
		t.Fatalf("unexpected nil-facts output: %q", got)
	}
}

func TestFormatSessionFacts_NoScoreUploaded(t *testing.T) {
	f := &Facts{Score: sessionstore.ScoreSummary{Available: false}}
	got := FormatSessionFacts(f)
	if !strings.Contains(got, "No score uploaded yet.") {
		t.Fatalf("expected no-score message, got %q", got)
	}
}

func TestFormatSessionFacts_ReadyForSynthesis(t *testing.T) {
	f := &Facts{
		Score: sessionstore.ScoreSummary{
			Available: true, SelectedVerseNumber: 2, HasPreprocessed: true,
			PreprocessedForVerse: 2, DerivedAvailableForTarget: true,
		},
		Credits: creditledger.CreditsSnapshot{Balance: 10, Reserved: 2, Available: 8},
	}
	got := FormatSessionFacts(f)
	if !strings.Contains(got, "Ready for synthesis") {
		t.Fatalf("expected ready-for-synthesis line, got %q", got)
	}
	if !strings.Contains(got, "Balance: 10, reserved: 2, available: 8") {
		t.Fatalf("expected credits line, got %q", got)
	}
}

func TestFormatSessionFacts_PreprocessingRequired(t *testing.T) {
	f := &Facts{
		Score: sessionstore.ScoreSummary{
			Available: true, SelectedVerseNumber: 3, HasPreprocessed: true,
			PreprocessedForVerse: 2, DerivedAvailableForTarget: false,
		},
	}
	got := FormatSessionFacts(f)
	if !strings.Contains(got, "Preprocessing is required") {
		t.Fatalf("expected preprocessing-required line, got %q", got)
	}
}

func TestFormatSessionFacts_Overdrafted(t *testing.T) {
	f := &Facts{Credits: creditledger.CreditsSnapshot{Balance: -2, Overdrafted: true}}
	got := FormatSessionFacts(f)
	if !strings.Contains(got, "overdrafted") {
		t.Fatalf("expected overdraft warning, got %q", got)
	}
}

func TestFormatSessionFacts_PriorRequests(t *testing.T) {
	f := &Facts{PriorRequests: []string{"last time: tier gold, 4 credits"}}
	got := FormatSessionFacts(f)
	if !strings.Contains(got, "Similar past requests") || !strings.Contains(got, "tier gold") {
		t.Fatalf("expected prior requests section, got %q", got)
	}
}
