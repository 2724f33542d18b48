// Package orchestrator implements the bounded LLM tool-calling loop that
// turns a chat message into either a final reply, a synthetic tool-result
// asking the LLM to repair its own request, or a spawned background
// synthesis job.
package orchestrator

import (
	"log/slog"
	"time"

	"github.com/MrWong99/singer-orchestrator/internal/creditledger"
	"github.com/MrWong99/singer-orchestrator/internal/hotctx"
	"github.com/MrWong99/singer-orchestrator/internal/jobregistry"
	"github.com/MrWong99/singer-orchestrator/internal/observe"
	"github.com/MrWong99/singer-orchestrator/internal/sessionstore"
	"github.com/MrWong99/singer-orchestrator/internal/toolrouter"
	"github.com/MrWong99/singer-orchestrator/pkg/provider/llm"
)

const (
	defaultMaxIterations = 8
	defaultTurnDeadline   = 60 * time.Second

	synthesizeTool           = "synthesize"
	estimateCreditsTool      = "estimate_credits"
	preprocessVoicePartsTool = "preprocess_voice_parts"

	// cappedReplyText is returned when the iteration cap is reached without
	// a final assistant message (spec.md §4.7 step 5).
	cappedReplyText = "I wasn't able to finish that in the time I budgeted for it. " +
		"Let's continue — tell me how you'd like to proceed."
)

// ReplyKind distinguishes the two shapes a turn can end in.
type ReplyKind string

const (
	// ReplyText is a plain assistant reply (`chat_text` at the Edge).
	ReplyText ReplyKind = "chat_text"

	// ReplyProgress means a synthesis job was spawned; the turn ended
	// immediately with a poll reference (`chat_progress` at the Edge).
	ReplyProgress ReplyKind = "chat_progress"
)

// TurnResult is what HandleChat returns to the Edge for one chat turn.
type TurnResult struct {
	Kind ReplyKind

	// Text is the assistant's final reply text. Always set for ReplyText;
	// for ReplyProgress it carries a short acknowledgement.
	Text string

	// JobID and ProgressURL are set only for ReplyProgress.
	JobID       string
	ProgressURL string

	// ScoreSummary reflects the session's file slot after this turn.
	Score sessionstore.ScoreSummary
}

// Dependencies bundles everything an [Orchestrator] needs. All fields are
// required except Log, Metrics, MaxIterations, and TurnDeadline, which fall
// back to sane defaults.
type Dependencies struct {
	Sessions  *sessionstore.Store
	Ledger    *creditledger.Ledger
	Jobs      *jobregistry.Registry
	Router    *toolrouter.Router
	Provider  llm.Provider
	Assembler *hotctx.Assembler

	Log     *slog.Logger
	Metrics *observe.Metrics

	// MaxIterations bounds the tool-calling loop per turn. Defaults to 8.
	MaxIterations int

	// TurnDeadline bounds non-synthesis turns. Synthesis turns extend this
	// to the spawned job's own deadline once the job is created. Defaults
	// to 60s.
	TurnDeadline time.Duration
}

// Orchestrator is the Orchestrator component (C7).
type Orchestrator struct {
	sessions  *sessionstore.Store
	ledger    *creditledger.Ledger
	jobs      *jobregistry.Registry
	router    *toolrouter.Router
	provider  llm.Provider
	assembler *hotctx.Assembler

	log     *slog.Logger
	metrics *observe.Metrics

	maxIterations int
	turnDeadline  time.Duration
}

// New creates an Orchestrator from deps, applying defaults for any
// zero-valued optional field.
func New(deps Dependencies) *Orchestrator {
	maxIter := deps.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	deadline := deps.TurnDeadline
	if deadline <= 0 {
		deadline = defaultTurnDeadline
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Orchestrator{
		sessions:      deps.Sessions,
		ledger:        deps.Ledger,
		jobs:          deps.Jobs,
		router:        deps.Router,
		provider:      deps.Provider,
		assembler:     deps.Assembler,
		log:           deps.Log,
		metrics:       metrics,
		maxIterations: maxIter,
		turnDeadline:  deadline,
	}
}
