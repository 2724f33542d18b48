package toolrouter

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/singer-orchestrator/internal/errkind"
	"github.com/MrWong99/singer-orchestrator/internal/workerpool"
)

// fakePool implements caller for tests; calls is a queue of (result, err)
// pairs consumed in order per invocation.
type fakePool struct {
	calls   []func() (*workerpool.CallResult, error)
	invoked []string
}

func (f *fakePool) Call(ctx context.Context, class workerpool.Class, name string, args map[string]any) (*workerpool.CallResult, error) {
	f.invoked = append(f.invoked, name)
	if len(f.calls) == 0 {
		return &workerpool.CallResult{Content: "{}"}, nil
	}
	next := f.calls[0]
	f.calls = f.calls[1:]
	return next()
}

func TestCall_UnknownToolIsNotAllowed(t *testing.T) {
	r := New(DefaultRegistry(), &fakePool{}, nil)
	_, err := r.Call(context.Background(), "modify_score", nil, time.Time{})
	if errkind.Of(err) != errkind.ToolNotAllowed {
		t.Fatalf("expected tool_not_allowed, got %v", err)
	}
}

func TestCall_NotAllowedSuggestsNearestName(t *testing.T) {
	r := New(DefaultRegistry(), &fakePool{}, nil)
	_, err := r.Call(context.Background(), "parse_scroe", nil, time.Time{})
	var ke *errkind.Error
	if !isKindError(err, &ke) {
		t.Fatalf("expected *errkind.Error, got %T", err)
	}
	if ke.Data["suggested_tool"] != "parse_score" {
		t.Errorf("suggested_tool = %v, want parse_score", ke.Data["suggested_tool"])
	}
}

func isKindError(err error, target **errkind.Error) bool {
	ke, ok := err.(*errkind.Error)
	if ok {
		*target = ke
	}
	return ok
}

func TestCall_RetriesOnceForIdempotentWorkerLost(t *testing.T) {
	fp := &fakePool{
		calls: []func() (*workerpool.CallResult, error){
			func() (*workerpool.CallResult, error) { return nil, errkind.New(errkind.WorkerLost, "crashed") },
			func() (*workerpool.CallResult, error) { return &workerpool.CallResult{Content: "ok"}, nil },
		},
	}
	r := New(DefaultRegistry(), fp, nil)
	res, err := r.Call(context.Background(), "predict_pitch", nil, time.Time{})
	if err != nil {
		t.Fatalf("expected success on retry, got %v", err)
	}
	if res.Content != "ok" {
		t.Errorf("content = %q, want ok", res.Content)
	}
	if len(fp.invoked) != 2 {
		t.Errorf("expected 2 invocations, got %d", len(fp.invoked))
	}
}

func TestCall_NeverRetriesNonIdempotentTools(t *testing.T) {
	fp := &fakePool{
		calls: []func() (*workerpool.CallResult, error){
			func() (*workerpool.CallResult, error) { return nil, errkind.New(errkind.WorkerLost, "crashed") },
		},
	}
	r := New(DefaultRegistry(), fp, nil)
	_, err := r.Call(context.Background(), "save_audio", nil, time.Time{})
	if errkind.Of(err) != errkind.WorkerLost {
		t.Fatalf("expected worker_lost surfaced as-is, got %v", err)
	}
	if len(fp.invoked) != 1 {
		t.Errorf("expected exactly 1 invocation (no retry), got %d", len(fp.invoked))
	}
}

func TestDefaultRegistry_NeverExposesDisallowedTools(t *testing.T) {
	r := DefaultRegistry()
	for _, hidden := range []string{"modify_score", "synthesize_mel", "vocode"} {
		if _, ok := r[hidden]; ok {
			t.Errorf("registry must never expose %q", hidden)
		}
	}
}

func TestMarshalArgs(t *testing.T) {
	m, err := MarshalArgs(`{"verse": 2}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["verse"].(float64) != 2 {
		t.Errorf("verse = %v, want 2", m["verse"])
	}

	if _, err := MarshalArgs("not json"); errkind.Of(err) != errkind.InvalidInput {
		t.Errorf("expected invalid_input for malformed JSON, got %v", err)
	}
}
