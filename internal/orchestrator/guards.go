package orchestrator

import (
	"fmt"

	"github.com/MrWong99/singer-orchestrator/internal/errkind"
	"github.com/MrWong99/singer-orchestrator/internal/sessionstore"
)

// checkSynthesisGuards enforces the workflow preconditions from spec.md
// §4.7 that gate the `synthesize` tool — preconditions the LLM cannot be
// trusted to self-enforce, so they run here rather than being left as
// instructions in the system prompt.
func checkSynthesisGuards(score sessionstore.ScoreSummary, requestedVerse int) error {
	if !score.Available {
		return errkind.New(errkind.ActionRequired, "no score has been uploaded yet")
	}

	if score.HasPreprocessed && requestedVerse != score.SelectedVerseNumber {
		return errkind.New(errkind.ActionRequired,
			"verse_change_requires_repreprocess: the score was preprocessed for a "+
				"different verse; restart parse_score and preprocess_voice_parts for "+
				fmt.Sprintf("verse %d before synthesizing", requestedVerse))
	}

	if !score.DerivedAvailableForTarget {
		return errkind.New(errkind.ActionRequired,
			"preprocessing_required_for_complex_score: this score needs "+
				"preprocess_voice_parts before it can be synthesized")
	}

	return nil
}
