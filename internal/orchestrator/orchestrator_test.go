package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/singer-orchestrator/internal/creditledger"
	"github.com/MrWong99/singer-orchestrator/internal/errkind"
	"github.com/MrWong99/singer-orchestrator/internal/hotctx"
	"github.com/MrWong99/singer-orchestrator/internal/jobregistry"
	"github.com/MrWong99/singer-orchestrator/internal/sessionstore"
	"github.com/MrWong99/singer-orchestrator/internal/toolrouter"
	"github.com/MrWong99/singer-orchestrator/internal/workerpool"
	"github.com/MrWong99/singer-orchestrator/pkg/docstore"
	"github.com/MrWong99/singer-orchestrator/pkg/provider/llm"
)

// scriptedProvider returns one CompletionResponse per call, in order, then
// repeats the last one forever — enough to drive the bounded loop through a
// fixed script of turns without needing a live model.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*llm.CompletionResponse
	calls     int
}

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	return p.responses[idx], nil
}

func (p *scriptedProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	panic("not used in these tests")
}

func (p *scriptedProvider) CountTokens(messages []llm.Message) (int, error) { return 0, nil }

func (p *scriptedProvider) Capabilities() llm.ModelCapabilities {
	return llm.ModelCapabilities{SupportsToolCalling: true}
}

var _ llm.Provider = (*scriptedProvider)(nil)

// fakeCaller is a scriptable stand-in for the WorkerPool the real Router
// dispatches through.
type fakeCaller struct {
	mu sync.Mutex
	// results maps tool name to a queue of (result, error) pairs consumed in
	// order; once exhausted, the last entry repeats.
	queues map[string][]callOutcome
	calls  map[string]int
	// hooks, if set for a tool name, take priority over queues and are
	// invoked with the call's context — used to simulate a render that
	// blocks until cooperatively cancelled.
	hooks map[string]func(ctx context.Context) (*workerpool.CallResult, error)
}

type callOutcome struct {
	result *workerpool.CallResult
	err    error
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		queues: make(map[string][]callOutcome),
		calls:  make(map[string]int),
		hooks:  make(map[string]func(ctx context.Context) (*workerpool.CallResult, error)),
	}
}

func (f *fakeCaller) script(tool string, outcomes ...callOutcome) {
	f.queues[tool] = outcomes
}

func (f *fakeCaller) Call(ctx context.Context, class workerpool.Class, name string, args map[string]any) (*workerpool.CallResult, error) {
	f.mu.Lock()
	hook := f.hooks[name]
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queues[name]
	n := f.calls[name]
	f.calls[name]++
	if len(q) == 0 {
		return &workerpool.CallResult{Content: "{}"}, nil
	}
	idx := n
	if idx >= len(q) {
		idx = len(q) - 1
	}
	return q[idx].result, q[idx].err
}

func okResult(content string) callOutcome {
	return callOutcome{result: &workerpool.CallResult{Content: content}}
}

func errResult(err error) callOutcome {
	return callOutcome{err: err}
}

// testRig bundles everything HandleChat needs, wired against in-memory
// backends so each scenario runs without any external dependency.
type testRig struct {
	orch     *Orchestrator
	provider *scriptedProvider
	caller   *fakeCaller
	ledger   *creditledger.Ledger
	jobs     *jobregistry.Registry
	sessions *sessionstore.Store
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	ledger := creditledger.New(docstore.NewMemory(), nil, nil)
	t.Cleanup(ledger.Close)

	jobs := jobregistry.New(nil, nil)
	t.Cleanup(jobs.Close)

	sessions := sessionstore.New()
	t.Cleanup(sessions.Close)

	caller := newFakeCaller()
	router := toolrouter.New(toolrouter.DefaultRegistry(), caller, nil)

	provider := &scriptedProvider{}

	assembler := hotctx.NewAssembler(ledger)

	orch := New(Dependencies{
		Sessions:  sessions,
		Ledger:    ledger,
		Jobs:      jobs,
		Router:    router,
		Provider:  provider,
		Assembler: assembler,
	})

	return &testRig{orch: orch, provider: provider, caller: caller, ledger: ledger, jobs: jobs, sessions: sessions}
}

func toolCallResp(content string, toolName, argsJSON string) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Content: content,
		ToolCalls: []llm.ToolCall{
			{ID: "call-1", Name: toolName, Arguments: argsJSON},
		},
	}
}

func textResp(content string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: content}
}

func seedScore(t *testing.T, rig *testRig, sessionID string, hasPreprocessed bool, derivedAvailable bool, verse int) {
	t.Helper()
	err := rig.sessions.WithSession(context.Background(), sessionID, func(_ context.Context, h *sessionstore.Handle) error {
		h.SetFile(&sessionstore.FileSlot{
			SelectedVerseNumber:        verse,
			PreprocessedForVerseNumber: verse,
			HasPreprocessed:            hasPreprocessed,
			DerivedAvailableForTarget:  derivedAvailable,
		})
		return nil
	})
	if err != nil {
		t.Fatalf("seedScore: %v", err)
	}
}

func waitForJobState(t *testing.T, jobs *jobregistry.Registry, jobID string, want jobregistry.State) jobregistry.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := jobs.Get(jobID)
		if ok && snap.State == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached state %s", jobID, want)
	return jobregistry.Snapshot{}
}

// --- Scenario 1: happy path --------------------------------------------

func TestHandleChat_HappyPath(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sessionID := rig.sessions.Create("user-1")
	seedScore(t, rig, sessionID, true, true, 1)

	if _, err := rig.ledger.Grant(ctx, "user-1", 10); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	rig.caller.script("estimate_credits", okResult(`{"estimated_seconds":45}`))
	rig.caller.script("synthesize", okResult(`{"actual_seconds":46,"audio_path":"jobs/j1/output.wav","content_type":"audio/wav"}`))

	rig.provider.responses = []*llm.CompletionResponse{
		toolCallResp("", "estimate_credits", `{"verse_number":1}`),
		toolCallResp("", "synthesize", `{"verse_number":1}`),
	}

	result, err := rig.orch.HandleChat(ctx, sessionID, "user-1", "Please sing verse 1")
	if err != nil {
		t.Fatalf("HandleChat: %v", err)
	}
	if result.Kind != ReplyProgress {
		t.Fatalf("expected ReplyProgress, got %s (text=%q)", result.Kind, result.Text)
	}
	if result.JobID == "" {
		t.Fatal("expected a job id")
	}

	waitForJobState(t, rig.jobs, result.JobID, jobregistry.StateDone)

	snap, err := rig.ledger.Snapshot(ctx, "user-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Balance != 8 {
		t.Fatalf("expected balance 8 after settling 2 credits, got %d", snap.Balance)
	}
	if snap.Reserved != 0 {
		t.Fatalf("expected reserved 0, got %d", snap.Reserved)
	}
	if snap.Overdrafted {
		t.Fatal("expected not overdrafted")
	}
}

// --- Scenario 2: insufficient credits ------------------------------------

func TestHandleChat_InsufficientCredits(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sessionID := rig.sessions.Create("user-2")
	seedScore(t, rig, sessionID, true, true, 1)

	if _, err := rig.ledger.Grant(ctx, "user-2", 1); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	rig.caller.script("estimate_credits", okResult(`{"estimated_seconds":45}`))

	rig.provider.responses = []*llm.CompletionResponse{
		toolCallResp("", "estimate_credits", `{"verse_number":1}`),
		toolCallResp("", "synthesize", `{"verse_number":1}`),
		textResp("You don't have enough credits; want to shorten the piece?"),
	}

	result, err := rig.orch.HandleChat(ctx, sessionID, "user-2", "Sing it please")
	if err != nil {
		t.Fatalf("HandleChat: %v", err)
	}
	if result.Kind != ReplyText {
		t.Fatalf("expected ReplyText after reserve failure, got %s", result.Kind)
	}

	snap, err := rig.ledger.Snapshot(ctx, "user-2")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Reserved != 0 {
		t.Fatalf("expected no reservation left behind, got reserved=%d", snap.Reserved)
	}
	if snap.Balance != 1 {
		t.Fatalf("expected balance untouched at 1, got %d", snap.Balance)
	}
}

// --- Scenario 3: worker crash mid-call, retried once ---------------------

func TestHandleChat_WorkerCrashRetriesOnce(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sessionID := rig.sessions.Create("user-3")
	seedScore(t, rig, sessionID, true, true, 1)

	if _, err := rig.ledger.Grant(ctx, "user-3", 10); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	rig.caller.script("estimate_credits", okResult(`{"estimated_seconds":30}`))
	rig.caller.script("synthesize",
		errResult(errkind.New(errkind.WorkerLost, "gpu worker exited")),
		okResult(`{"actual_seconds":31,"audio_path":"jobs/j2/output.wav","content_type":"audio/wav"}`),
	)

	rig.provider.responses = []*llm.CompletionResponse{
		toolCallResp("", "estimate_credits", `{"verse_number":1}`),
		toolCallResp("", "synthesize", `{"verse_number":1}`),
	}

	result, err := rig.orch.HandleChat(ctx, sessionID, "user-3", "Go")
	if err != nil {
		t.Fatalf("HandleChat: %v", err)
	}
	if result.Kind != ReplyProgress {
		t.Fatalf("expected ReplyProgress, got %s", result.Kind)
	}

	waitForJobState(t, rig.jobs, result.JobID, jobregistry.StateDone)

	snap, err := rig.ledger.Snapshot(ctx, "user-3")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Balance != 8 {
		t.Fatalf("expected a single 2-credit charge (balance 8), got %d", snap.Balance)
	}
}

// --- Scenario 4: deadline/cancellation releases credits -------------------

// TestHandleChat_CancellationReleasesCredits exercises the cooperative
// cancellation path a deadline firing would also take: the registry's
// cancel flag is observed between polling ticks, the in-flight call's
// context is cancelled, and the reservation is released rather than
// settled. We trigger it via an explicit Cancel rather than waiting out the
// real 900s deadline timer (covered separately in jobregistry's own tests);
// the mechanism downstream of "the cancel flag got set" is identical.
func TestHandleChat_CancellationReleasesCredits(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sessionID := rig.sessions.Create("user-4")
	seedScore(t, rig, sessionID, true, true, 1)

	if _, err := rig.ledger.Grant(ctx, "user-4", 10); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	rig.caller.script("estimate_credits", okResult(`{"estimated_seconds":30}`))
	blocked := make(chan struct{})
	rig.caller.hooks["synthesize"] = func(ctx context.Context) (*workerpool.CallResult, error) {
		close(blocked)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	rig.provider.responses = []*llm.CompletionResponse{
		toolCallResp("", "estimate_credits", `{"verse_number":1}`),
		toolCallResp("", "synthesize", `{"verse_number":1}`),
	}

	result, err := rig.orch.HandleChat(ctx, sessionID, "user-4", "Go")
	if err != nil {
		t.Fatalf("HandleChat: %v", err)
	}
	if result.Kind != ReplyProgress {
		t.Fatalf("expected ReplyProgress, got %s", result.Kind)
	}

	<-blocked
	if err := rig.jobs.Cancel(result.JobID, jobregistry.CancelReasonDeadline); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := rig.ledger.Snapshot(ctx, "user-4")
		if err == nil && snap.Reserved == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap, err := rig.ledger.Snapshot(ctx, "user-4")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Reserved != 0 {
		t.Fatalf("expected reservation released on cancellation, got reserved=%d", snap.Reserved)
	}
	if snap.Balance != 10 {
		t.Fatalf("expected balance unchanged at 10 (no settle on cancel), got %d", snap.Balance)
	}

	jobSnap, ok := rig.jobs.Get(result.JobID)
	if !ok || jobSnap.State != jobregistry.StateCancelled {
		t.Fatalf("expected job cancelled, got %+v", jobSnap)
	}
}

// --- Scenario 5: verse change after preprocess ---------------------------

func TestHandleChat_VerseChangeAfterPreprocessBlocksSynthesis(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sessionID := rig.sessions.Create("user-5")
	// Preprocessed for verse 1; score is derived-available for that verse.
	seedScore(t, rig, sessionID, true, true, 1)

	if _, err := rig.ledger.Grant(ctx, "user-5", 10); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	err := rig.sessions.WithSession(ctx, sessionID, func(_ context.Context, h *sessionstore.Handle) error {
		h.SetPendingEstimate(&sessionstore.EstimateRecord{
			EstimatedSeconds: 45, EstimatedCredits: 2, CreatedAt: time.Now(),
		})
		return nil
	})
	if err != nil {
		t.Fatalf("seed estimate: %v", err)
	}

	rig.provider.responses = []*llm.CompletionResponse{
		// Requests verse 2, which the score was never preprocessed for.
		toolCallResp("", "synthesize", `{"verse_number":2}`),
		textResp("I'll need to reparse and preprocess for verse 2 before I can sing it."),
	}

	result, err := rig.orch.HandleChat(ctx, sessionID, "user-5", "Sing verse 2 instead")
	if err != nil {
		t.Fatalf("HandleChat: %v", err)
	}
	if result.Kind != ReplyText {
		t.Fatalf("expected ReplyText (guard should have blocked synthesize), got %s", result.Kind)
	}

	snap, err := rig.ledger.Snapshot(ctx, "user-5")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Reserved != 0 {
		t.Fatalf("expected no reservation created, got reserved=%d", snap.Reserved)
	}
}

// --- Scenario 5b: preprocess result unblocks synthesis --------------------

func TestHandleChat_PreprocessResultUnblocksSynthesis(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sessionID := rig.sessions.Create("user-5b")
	// A score parse_score found complex (voice_parts != 1): not yet
	// derived-available, never preprocessed.
	seedScore(t, rig, sessionID, false, false, 1)

	if _, err := rig.ledger.Grant(ctx, "user-5b", 10); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	rig.caller.script("preprocess_voice_parts", okResult(`{"derived_available_for_target":true,"verse_number":1}`))
	rig.caller.script("estimate_credits", okResult(`{"estimated_seconds":45}`))
	rig.caller.script("synthesize", okResult(`{"actual_seconds":46,"audio_path":"jobs/j1/output.wav","content_type":"audio/wav"}`))

	rig.provider.responses = []*llm.CompletionResponse{
		toolCallResp("", "preprocess_voice_parts", `{"verse_number":1}`),
		toolCallResp("", "estimate_credits", `{"verse_number":1}`),
		toolCallResp("", "synthesize", `{"verse_number":1}`),
	}

	result, err := rig.orch.HandleChat(ctx, sessionID, "user-5b", "Preprocess this and sing verse 1")
	if err != nil {
		t.Fatalf("HandleChat: %v", err)
	}
	if result.Kind != ReplyProgress {
		t.Fatalf("expected ReplyProgress (preprocess should have cleared the guard), got %s (text=%q)", result.Kind, result.Text)
	}
	if !result.Score.HasPreprocessed {
		t.Fatal("expected HasPreprocessed to be true after preprocess_voice_parts")
	}
	if !result.Score.DerivedAvailableForTarget {
		t.Fatal("expected DerivedAvailableForTarget to be true after preprocess_voice_parts")
	}
	if result.Score.PreprocessedForVerse != 1 {
		t.Fatalf("expected PreprocessedForVerse 1, got %d", result.Score.PreprocessedForVerse)
	}

	waitForJobState(t, rig.jobs, result.JobID, jobregistry.StateDone)
}

// --- Scenario 6: disallowed tool ------------------------------------------

func TestHandleChat_DisallowedToolRejected(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sessionID := rig.sessions.Create("user-6")
	seedScore(t, rig, sessionID, true, true, 1)

	rig.provider.responses = []*llm.CompletionResponse{
		toolCallResp("", "modify_score", `{}`),
		textResp("I can't directly modify the score that way; let me know what you'd like changed instead."),
	}

	result, err := rig.orch.HandleChat(ctx, sessionID, "user-6", "Just edit the score directly")
	if err != nil {
		t.Fatalf("HandleChat: %v", err)
	}
	if result.Kind != ReplyText {
		t.Fatalf("expected ReplyText, got %s", result.Kind)
	}
	if rig.provider.calls != 2 {
		t.Fatalf("expected exactly 2 completions (tool_not_allowed repair round-trip), got %d", rig.provider.calls)
	}
}

// --- Iteration cap ---------------------------------------------------------

func TestHandleChat_IterationCapReturnsCannedReply(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sessionID := rig.sessions.Create("user-7")
	seedScore(t, rig, sessionID, false, false, 1)

	rig.caller.script("list_voicebanks", okResult(`{"voicebanks":[]}`))

	// Always returns a tool call, never a final text reply, to exhaust the
	// iteration cap.
	rig.provider.responses = []*llm.CompletionResponse{
		toolCallResp("", "list_voicebanks", `{}`),
	}

	result, err := rig.orch.HandleChat(ctx, sessionID, "user-7", "keep listing")
	if err != nil {
		t.Fatalf("HandleChat: %v", err)
	}
	if result.Text != cappedReplyText {
		t.Fatalf("expected canned capped reply, got %q", result.Text)
	}
	if rig.provider.calls != rig.orch.maxIterations {
		t.Fatalf("expected %d completions, got %d", rig.orch.maxIterations, rig.provider.calls)
	}
}
