package jobregistry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/singer-orchestrator/internal/errkind"
	"github.com/MrWong99/singer-orchestrator/internal/observe"
	"github.com/MrWong99/singer-orchestrator/internal/workerpool"
)

const defaultDeadline = 900 * time.Second

// progressEvent is the internal channel payload fed by HandleProgress and
// drained by the single consumer goroutine, so progress application never
// races with deadline firing or explicit cancellation.
type progressEvent struct {
	workerpool.ProgressEvent
}

// Registry is the single authority over Job state transitions. It
// implements the workerpool notifier interface directly, so a *Registry can
// be passed straight to workerpool.New as the progress sink.
type Registry struct {
	log     *slog.Logger
	metrics *observe.Metrics

	mu   sync.Mutex
	jobs map[string]*Job

	progressCh chan progressEvent
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// New creates a Registry and starts its progress-consumer goroutine.
func New(log *slog.Logger, metrics *observe.Metrics) *Registry {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	r := &Registry{
		log:        log,
		metrics:    metrics,
		jobs:       make(map[string]*Job),
		progressCh: make(chan progressEvent, 256),
		stopCh:     make(chan struct{}),
	}
	go r.consumeProgress()
	return r
}

// Create allocates a queued Job owned by sessionID/userID, with a deadline
// timer of d from now (d <= 0 uses the 900s default). The timer is armed
// immediately; Start does not rearm it, since spec.md measures the deadline
// from job creation, not from dispatch.
func (r *Registry) Create(sessionID, userID string, d time.Duration) *Job {
	if d <= 0 {
		d = defaultDeadline
	}
	now := time.Now()
	j := &Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: now,
		Deadline:  now.Add(d),
		state:     StateQueued,
	}

	r.mu.Lock()
	r.jobs[j.ID] = j
	r.mu.Unlock()

	j.timer = time.AfterFunc(d, func() { r.onDeadline(j.ID) })
	r.metrics.ActiveJobs.Add(context.Background(), 1)
	return j
}

// Start transitions a queued job to running. Returns an error if the job is
// unknown or not in the queued state.
func (r *Registry) Start(jobID, reservationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return errkind.New(errkind.InvalidInput, "unknown job")
	}
	if j.state != StateQueued {
		return errkind.Newf(errkind.Internal, "job %s: start from state %s", jobID, j.state)
	}
	j.ReservationID = reservationID
	j.state = StateRunning
	return nil
}

// Complete transitions a running job to done.
func (r *Registry) Complete(jobID string) error {
	return r.finish(jobID, StateDone, "", "")
}

// Fail transitions a running (or queued) job to error with msg recorded.
func (r *Registry) Fail(jobID string, msg string) error {
	return r.finish(jobID, StateError, msg, "")
}

// Cancel requests cooperative cancellation: it sets the job's cancel flag
// (observed by the Orchestrator's background goroutine between tool calls)
// and transitions the job to cancelled with reason. Cancelling a job that
// is already terminal is a no-op.
func (r *Registry) Cancel(jobID string, reason CancelReason) error {
	r.mu.Lock()
	j, ok := r.jobs[jobID]
	r.mu.Unlock()
	if !ok {
		return errkind.New(errkind.InvalidInput, "unknown job")
	}
	j.cancelled.Store(true)
	return r.finish(jobID, StateCancelled, "", reason)
}

// CancelForSession cancels every non-terminal job owned by sessionID, used
// when a session is evicted or explicitly closed (spec.md §9 Open Question
// 1: closing/evicting a session cancels its in-flight job).
func (r *Registry) CancelForSession(sessionID string) {
	r.mu.Lock()
	var ids []string
	for id, j := range r.jobs {
		if j.SessionID == sessionID && !j.state.terminal() {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	for _, id := range ids {
		_ = r.Cancel(id, CancelReasonSession)
	}
}

// IsCancelled reports whether jobID's cancel flag is set, for the
// Orchestrator's background synthesis goroutine to poll between tool calls.
// Unknown job ids report cancelled, so a stale reference never spins.
func (r *Registry) IsCancelled(jobID string) bool {
	r.mu.Lock()
	j, ok := r.jobs[jobID]
	r.mu.Unlock()
	if !ok {
		return true
	}
	return j.cancelled.Load()
}

// Get returns a point-in-time [Snapshot] of jobID.
func (r *Registry) Get(jobID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return Snapshot{}, false
	}
	return j.snapshot(), true
}

// HandleProgress satisfies workerpool's notifier interface. It never blocks
// the worker's read loop: the event is handed to the buffered channel, and
// if the consumer is somehow behind, the event is dropped rather than
// stalling the worker (progress is best-effort, per spec.md §4.5).
func (r *Registry) HandleProgress(ctx context.Context, ev workerpool.ProgressEvent) {
	select {
	case r.progressCh <- progressEvent{ev}:
	default:
		if r.log != nil {
			r.log.WarnContext(ctx, "jobregistry: progress channel full, dropping update", "job_id", ev.JobID)
		}
	}
}

// Close stops the progress consumer. Outstanding deadline timers are left
// to fire (they no-op against an already-closed registry's stopped jobs
// map lookup failing silently) — acceptable since Close is only called at
// process shutdown.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Registry) consumeProgress() {
	for {
		select {
		case <-r.stopCh:
			return
		case ev := <-r.progressCh:
			r.applyProgress(ev.ProgressEvent)
		}
	}
}

// applyProgress atomically applies one job/progress notification: clamps
// regressions (a late-arriving lower progress value never overwrites a
// higher one already recorded) and drops updates for unknown or terminal
// jobs, per spec.md §4.5.
func (r *Registry) applyProgress(ev workerpool.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[ev.JobID]
	if !ok || j.state.terminal() {
		return
	}
	if ev.Progress > j.progress {
		j.progress = ev.Progress
	}
	if ev.Step != "" {
		j.step = ev.Step
	}
	j.message = ev.Message
}

func (r *Registry) onDeadline(jobID string) {
	r.mu.Lock()
	j, ok := r.jobs[jobID]
	if !ok || j.state.terminal() {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	j.cancelled.Store(true)
	_ = r.finish(jobID, StateCancelled, "", CancelReasonDeadline)
}

func (r *Registry) finish(jobID string, to State, errMsg string, reason CancelReason) error {
	r.mu.Lock()
	j, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return errkind.New(errkind.InvalidInput, "unknown job")
	}
	if j.state.terminal() {
		r.mu.Unlock()
		return nil
	}
	j.state = to
	j.errMessage = errMsg
	if reason != "" {
		j.cancelReason = reason
	}
	if j.timer != nil {
		j.timer.Stop()
	}
	r.mu.Unlock()

	r.metrics.ActiveJobs.Add(context.Background(), -1)
	r.metrics.RecordJobOutcome(context.Background(), string(to))
	return nil
}
