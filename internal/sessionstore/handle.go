package sessionstore

import (
	"encoding/json"
	"sync/atomic"

	"github.com/MrWong99/singer-orchestrator/internal/errkind"
	"github.com/MrWong99/singer-orchestrator/pkg/provider/llm"
)

// Handle is the mutable view of a [Session] passed to a [Store.WithSession]
// callback. It is valid only for the duration of that callback: once the
// callback returns, the Handle is invalidated and every method panics. This
// is deliberate — it structurally enforces the concurrency rule that no
// session mutex is ever held across a tool-router call, since the
// Orchestrator's background synthesis task must be launched *after* the
// callback returns, by which point it can no longer reach into the Handle.
type Handle struct {
	session *Session
	valid   atomic.Bool
}

func newHandle(s *Session) *Handle {
	h := &Handle{session: s}
	h.valid.Store(true)
	return h
}

func (h *Handle) invalidate() {
	h.valid.Store(false)
}

func (h *Handle) checkValid() {
	if !h.valid.Load() {
		panic("sessionstore: Handle used after WithSession callback returned")
	}
}

// ID returns the session id.
func (h *Handle) ID() string {
	h.checkValid()
	return h.session.ID
}

// UserID returns the owning user id.
func (h *Handle) UserID() string {
	h.checkValid()
	return h.session.UserID
}

// History returns the current chat history. The returned slice aliases the
// session's backing array and must not be retained past the callback;
// callers that need it afterward should copy.
func (h *Handle) History() []llm.Message {
	h.checkValid()
	return h.session.History
}

// AppendHistory appends messages to the session's history. History is
// append-only — there is no method to truncate or rewrite it.
func (h *Handle) AppendHistory(msgs ...llm.Message) {
	h.checkValid()
	h.session.History = append(h.session.History, msgs...)
}

// File returns the current file slot, or nil if no score has been uploaded.
func (h *Handle) File() *FileSlot {
	h.checkValid()
	return h.session.File
}

// SetFile atomically replaces the file slot (upload invariant: the slot
// replaces wholesale, never merges).
func (h *Handle) SetFile(f *FileSlot) {
	h.checkValid()
	h.session.File = f
}

// LatestAudio returns the most recently rendered audio artifact, or nil.
func (h *Handle) LatestAudio() *AudioArtifact {
	h.checkValid()
	return h.session.LatestAudio
}

// SetLatestAudio records a new rendered audio artifact.
func (h *Handle) SetLatestAudio(a *AudioArtifact) {
	h.checkValid()
	h.session.LatestAudio = a
}

// PendingEstimate returns the session's most recent credit estimate, or nil
// if none has been computed (or it was consumed by a successful reserve).
func (h *Handle) PendingEstimate() *EstimateRecord {
	h.checkValid()
	return h.session.PendingEstimate
}

// SetPendingEstimate records a fresh estimate, or clears it when passed nil.
func (h *Handle) SetPendingEstimate(e *EstimateRecord) {
	h.checkValid()
	h.session.PendingEstimate = e
}

// ActiveJobID returns the in-flight synthesis job id for this session, or
// "" if none is running.
func (h *Handle) ActiveJobID() string {
	h.checkValid()
	return h.session.ActiveJobID
}

// SetActiveJobID records (or clears, with "") the in-flight job id,
// enforcing "at most one in-flight synthesis job per session" at the call
// site (the Orchestrator refuses to start a second job while this is set).
func (h *Handle) SetActiveJobID(jobID string) {
	h.checkValid()
	h.session.ActiveJobID = jobID
}

// ApplyPreprocessResult records a successful preprocess_voice_parts call
// against the current file slot: it stores the transformed score snapshot,
// marks the slot preprocessed for verseNumber, and copies the worker's
// derived_available_for_target verdict so checkSynthesisGuards sees it on
// the very next turn. Returns an error if no score has been uploaded yet.
func (h *Handle) ApplyPreprocessResult(verseNumber int, transformed json.RawMessage, derivedAvailableForTarget bool) error {
	h.checkValid()
	f := h.session.File
	if f == nil {
		return errkind.New(errkind.ActionRequired, "no score has been uploaded yet")
	}
	f.TransformedScore = transformed
	f.SelectedVerseNumber = verseNumber
	f.PreprocessedForVerseNumber = verseNumber
	f.HasPreprocessed = true
	f.DerivedAvailableForTarget = derivedAvailableForTarget
	f.Version++
	return nil
}

// ScoreSummary derives a [ScoreSummary] from the current file slot for use
// in the orchestrator's working context and HTTP responses.
func (h *Handle) ScoreSummary() ScoreSummary {
	h.checkValid()
	f := h.session.File
	if f == nil {
		return ScoreSummary{}
	}
	return ScoreSummary{
		Available:                 true,
		SelectedVerseNumber:       f.SelectedVerseNumber,
		PreprocessedForVerse:      f.PreprocessedForVerseNumber,
		HasPreprocessed:           f.HasPreprocessed,
		DerivedAvailableForTarget: f.DerivedAvailableForTarget,
	}
}
