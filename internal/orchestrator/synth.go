package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrWong99/singer-orchestrator/internal/sessionstore"
)

// estimateFreshness bounds how long a PendingEstimate remains usable by
// reserve before the Orchestrator insists on a fresh estimate_credits call —
// the credit snapshot it was computed against may have moved on.
const estimateFreshness = 5 * time.Minute

// progressURLFor builds the poll reference handed back in a chat_progress
// envelope (spec.md §4.8's `GET /sessions/{id}/progress?job={id}`).
func progressURLFor(sessionID, jobID string) string {
	return fmt.Sprintf("/sessions/%s/progress?job=%s", sessionID, jobID)
}

// startSynthesis reserves credits against h's pending estimate, creates a
// Job, and launches the background render as a detached goroutine. It must
// be called from inside a WithSession callback (to read/write h), but the
// goroutine it launches runs after that callback returns, once the session
// mutex has been released — per spec.md §4.7 step f, the job is never
// awaited inline.
//
// Returns the TurnResult that ends the turn on success. On failure to
// reserve, it returns a synthetic tool-result message instead so the loop
// can continue and let the LLM react (scenario: insufficient credits).
func (o *Orchestrator) startSynthesis(ctx context.Context, h *sessionstore.Handle, tc toolCallIntent) (*TurnResult, string, error) {
	est := h.PendingEstimate()
	if est == nil || time.Since(est.CreatedAt) > estimateFreshness {
		return nil, "no fresh credit estimate on file; call estimate_credits first and confirm the cost with the user before synthesizing", nil
	}

	if h.ActiveJobID() != "" {
		return nil, "a synthesis job is already in flight for this session; wait for it to finish before starting another", nil
	}

	sessionID, userID := h.ID(), h.UserID()
	job := o.jobs.Create(sessionID, userID, 0)

	reservationID, err := o.ledger.Reserve(ctx, userID, job.ID, est.EstimatedCredits)
	if err != nil {
		_ = o.jobs.Fail(job.ID, err.Error())
		return nil, fmt.Sprintf("could not reserve credits: %s", err.Error()), nil
	}

	if err := o.jobs.Start(job.ID, reservationID); err != nil {
		_ = o.ledger.Release(ctx, userID, job.ID)
		return nil, "", err
	}

	h.SetActiveJobID(job.ID)
	h.SetPendingEstimate(nil)

	// The GPU worker needs session/job identity to report progress against
	// the right job and to place the rendered artifact at the path the Edge
	// later serves it from — neither is something the LLM's tool call
	// arguments carry on their own.
	args := make(map[string]any, len(tc.args)+3)
	for k, v := range tc.args {
		args[k] = v
	}
	args["session_id"] = sessionID
	args["user_id"] = userID
	args["job_id"] = job.ID

	go o.runSynthesis(sessionID, userID, job.ID, job.Deadline, args)

	return &TurnResult{
		Kind:        ReplyProgress,
		Text:        "Started rendering your audio. I'll let you know when it's ready.",
		JobID:       job.ID,
		ProgressURL: progressURLFor(sessionID, job.ID),
		Score:       h.ScoreSummary(),
	}, "", nil
}

// runSynthesis drives one job to a terminal state, entirely outside any
// session mutex: it calls the `synthesize` tool through the Router, watches
// for cooperative cancellation between polling ticks, and settles or
// releases the ledger reservation depending on the outcome.
func (o *Orchestrator) runSynthesis(sessionID, userID, jobID string, deadline time.Time, args map[string]any) {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	go o.watchCancellation(watchCtx, watchCancel, jobID)

	result, err := o.router.Call(ctx, synthesizeTool, args, deadline)

	switch {
	case err != nil && o.jobs.IsCancelled(jobID):
		o.finishCancelled(sessionID, userID, jobID)
	case err != nil:
		o.finishFailed(sessionID, userID, jobID, err.Error())
	case result.IsError:
		o.finishFailed(sessionID, userID, jobID, result.Content)
	default:
		o.finishDone(sessionID, userID, jobID, result.Content)
	}
}

// watchCancellation polls the registry's cooperative-cancellation flag and
// cancels watchCtx the moment it is set, which in turn cancels the context
// the in-flight router.Call was given.
func (o *Orchestrator) watchCancellation(ctx context.Context, cancel context.CancelFunc, jobID string) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.jobs.IsCancelled(jobID) {
				cancel()
				return
			}
		}
	}
}

// synthesizeResult is the shape worker's `synthesize` tool result carries in
// its Content, mirroring the `save_audio` handoff described in spec.md §6.
type synthesizeResult struct {
	ActualSeconds int    `json:"actual_seconds"`
	AudioPath     string `json:"audio_path"`
	ContentType   string `json:"content_type"`
}

func (o *Orchestrator) finishDone(sessionID, userID, jobID, content string) {
	var sr synthesizeResult
	if err := json.Unmarshal([]byte(content), &sr); err != nil {
		o.finishFailed(sessionID, userID, jobID, "malformed synthesize result: "+err.Error())
		return
	}

	ctx := context.Background()
	settle, err := o.ledger.Settle(ctx, userID, jobID, sr.ActualSeconds)
	if err != nil {
		o.finishFailed(sessionID, userID, jobID, "settle failed: "+err.Error())
		return
	}
	if err := o.jobs.Complete(jobID); err != nil && o.log != nil {
		o.log.Error("orchestrator: job completion after settle failed", "job_id", jobID, "error", err)
	}

	_ = o.sessions.WithSession(ctx, sessionID, func(_ context.Context, h *sessionstore.Handle) error {
		h.SetActiveJobID("")
		h.SetLatestAudio(&sessionstore.AudioArtifact{
			JobID:       jobID,
			Path:        sr.AudioPath,
			ContentType: sr.ContentType,
		})
		return nil
	})

	if o.log != nil {
		o.log.Info("orchestrator: synthesis settled",
			"job_id", jobID, "actual_seconds", sr.ActualSeconds,
			"actual_credits", settle.ActualCredits, "overdrafted", settle.Overdrafted)
	}
}

func (o *Orchestrator) finishFailed(sessionID, userID, jobID, reason string) {
	ctx := context.Background()
	if err := o.ledger.Release(ctx, userID, jobID); err != nil && o.log != nil {
		o.log.Warn("orchestrator: release on failed job errored", "job_id", jobID, "error", err)
	}
	if err := o.jobs.Fail(jobID, reason); err != nil && o.log != nil {
		o.log.Error("orchestrator: job fail transition errored", "job_id", jobID, "error", err)
	}
	o.clearActiveJob(ctx, sessionID, jobID)
	if o.log != nil {
		o.log.Warn("orchestrator: synthesis failed", "job_id", jobID, "reason", reason)
	}
}

func (o *Orchestrator) finishCancelled(sessionID, userID, jobID string) {
	ctx := context.Background()
	if err := o.ledger.Release(ctx, userID, jobID); err != nil && o.log != nil {
		o.log.Warn("orchestrator: release on cancelled job errored", "job_id", jobID, "error", err)
	}
	// The registry's own deadline/cancel path already transitioned the job
	// to cancelled; nothing further to do there.
	o.clearActiveJob(ctx, sessionID, jobID)
	if o.log != nil {
		o.log.Info("orchestrator: synthesis cancelled", "job_id", jobID)
	}
}

func (o *Orchestrator) clearActiveJob(ctx context.Context, sessionID, jobID string) {
	_ = o.sessions.WithSession(ctx, sessionID, func(_ context.Context, h *sessionstore.Handle) error {
		if h.ActiveJobID() == jobID {
			h.SetActiveJobID("")
		}
		return nil
	})
}
