// Package sessionstore holds per-session conversational and artifact state
// in memory, keyed by session id, and enforces that all mutation goes
// through a borrowed [*Handle] so that chat, upload, and progress polling
// never interleave conflicting writes.
package sessionstore

import (
	"encoding/json"
	"time"

	"github.com/MrWong99/singer-orchestrator/pkg/provider/llm"
)

// FileSlot is a session's at-most-one uploaded score. Replaced atomically
// on upload; the prior slot (and its scratch files) is discarded.
type FileSlot struct {
	// OriginalPath is the scratch-disk path to the immutable uploaded bytes.
	OriginalPath string

	// OriginalExt is ".xml" or ".mxl".
	OriginalExt string

	// ParsedScore is the latest parsed snapshot produced by parse_score.
	// Opaque to the orchestrator beyond the fields it reads directly (see
	// ScoreSummary).
	ParsedScore json.RawMessage

	// TransformedScore is the optional snapshot left by preprocessing
	// (preprocess_voice_parts). Nil until preprocessing has run.
	TransformedScore json.RawMessage

	// Version increments on every successful mutation (parse or preprocess).
	Version int

	// SelectedVerseNumber is the verse currently targeted for synthesis.
	SelectedVerseNumber int

	// PreprocessedForVerseNumber is set once preprocessing succeeds for a
	// given verse; compared against SelectedVerseNumber to detect the
	// verse-change-requires-repreprocess condition.
	PreprocessedForVerseNumber int
	HasPreprocessed            bool

	// DerivedAvailableForTarget mirrors the score snapshot's own
	// `derived_available_for_target` boolean, produced by parse_score or
	// preprocess_voice_parts and copied here verbatim. It is surfaced as an
	// explicit field rather than re-derived from HasPreprocessed/
	// PreprocessedForVerseNumber, since whether a score is "complex" enough
	// to need preprocessing is a property of its content that only the
	// parser and preprocessor can determine.
	DerivedAvailableForTarget bool
}

// ScoreSummary is a human-readable digest of the current file slot, used by
// hotctx to seed the orchestrator's working context and returned to the
// Edge after upload/chat.
type ScoreSummary struct {
	Available                bool
	SelectedVerseNumber      int
	PreprocessedForVerse     int
	HasPreprocessed          bool
	DerivedAvailableForTarget bool
}

// AudioArtifact references the most recently rendered synthesis output.
type AudioArtifact struct {
	JobID       string
	Path        string
	ContentType string
}

// EstimateRecord is the most recent credits/seconds estimate attached to a
// session by CreditLedger.estimate; reserve requires a fresh one to exist.
type EstimateRecord struct {
	EstimatedSeconds int
	EstimatedCredits int
	Balance          int
	Available        int
	Projected        int
	CreatedAt        time.Time
}

// Session is one conversation. The zero value is not meaningful; sessions
// are created via [Store.Create].
type Session struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	LastActiveAt time.Time

	History []llm.Message

	File            *FileSlot
	LatestAudio     *AudioArtifact
	PendingEstimate *EstimateRecord

	// ActiveJobID is non-empty while a synthesis job is in flight for this
	// session, enforcing "at most one in-flight synthesis job per session".
	ActiveJobID string
}

// clone returns a deep-enough copy for safe use after a [*Handle] is
// invalidated (slices and pointers are copied by reference to their
// contents only where sharing is harmless — the history slice header is
// copied so later appends via a fresh Handle don't alias a caller's read).
func (s *Session) clone() *Session {
	cp := *s
	cp.History = append([]llm.Message(nil), s.History...)
	return &cp
}
