package hotctx

import (
	"fmt"
	"strings"
)

// FormatSessionFacts converts a [Facts] into the "session facts" text block
// injected into the Orchestrator's working context (spec.md §4.7 step 3).
// Empty sections are omitted rather than rendered as empty headers. The
// formatter is pure: no I/O, safe for concurrent use.
func FormatSessionFacts(f *Facts) string {
	if f == nil {
		return "No score uploaded yet."
	}

	var sb strings.Builder

	sb.WriteString("## Score\n")
	if !f.Score.Available {
		sb.WriteString("No score uploaded yet.")
	} else {
		fmt.Fprintf(&sb, "Selected verse: %d\n", f.Score.SelectedVerseNumber)
		if f.Score.HasPreprocessed {
			fmt.Fprintf(&sb, "Preprocessed for verse: %d\n", f.Score.PreprocessedForVerse)
		} else {
			sb.WriteString("Not yet preprocessed.\n")
		}
		if f.Score.DerivedAvailableForTarget {
			sb.WriteString("Ready for synthesis at the selected verse.")
		} else {
			sb.WriteString("Preprocessing is required before synthesis at this verse.")
		}
	}

	sb.WriteString("\n\n## Credits\n")
	fmt.Fprintf(&sb, "Balance: %d, reserved: %d, available: %d",
		f.Credits.Balance, f.Credits.Reserved, f.Credits.Available)
	if f.Credits.Overdrafted {
		sb.WriteString("\nAccount is overdrafted — new synthesis reservations will be rejected until this is resolved.")
	}

	if len(f.PriorRequests) > 0 {
		sb.WriteString("\n\n## Similar past requests\n")
		sb.WriteString(strings.Join(f.PriorRequests, "\n"))
	}

	return sb.String()
}
