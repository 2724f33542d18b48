// Package toolrouter maintains the static tool-name → worker-class mapping
// that is the sole source of truth for which tools are exposed to the LLM,
// and dispatches calls through the WorkerPool with deadline handling and
// at-most-once retry for idempotent tools.
package toolrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/singer-orchestrator/internal/errkind"
	"github.com/MrWong99/singer-orchestrator/internal/observe"
	"github.com/MrWong99/singer-orchestrator/internal/workerpool"
	"github.com/MrWong99/singer-orchestrator/pkg/types"
)

// minRetryBudget is the minimum time a retry attempt is allotted even when
// the user-visible deadline has nearly elapsed, per spec.
const minRetryBudget = 10 * time.Second

// toolSpec describes one entry in the static allow-list.
type toolSpec struct {
	Class          workerpool.Class
	NonIdempotent  bool
	DeclaredTimeout time.Duration
}

// Registry is the static tool-name → class mapping. It is built once at
// startup (see [DefaultRegistry]) and never mutated; the public catalog
// exposed to the LLM is derived from it.
type Registry map[string]toolSpec

// nonIdempotentTools mirrors spec.md §4.3's authoritative list.
var nonIdempotentTools = map[string]bool{
	"save_audio":                 true,
	"persist_transformed_score":  true,
}

// DefaultRegistry builds the static allow-list from spec.md §6's tool-class
// tables. modify_score, synthesize_mel, and vocode are intentionally absent
// — they are never exposed regardless of what the LLM names.
func DefaultRegistry() Registry {
	r := Registry{}
	cpuTools := []string{
		"parse_score", "preprocess_voice_parts", "phonemize",
		"align_phonemes_to_notes", "list_voicebanks", "get_voicebank_info",
		"estimate_credits",
	}
	gpuTools := []string{
		"predict_durations", "predict_pitch", "predict_variance",
		"synthesize_audio", "synthesize", "save_audio",
	}
	for _, name := range cpuTools {
		r[name] = toolSpec{Class: workerpool.ClassCPU, NonIdempotent: nonIdempotentTools[name], DeclaredTimeout: 30 * time.Second}
	}
	for _, name := range gpuTools {
		timeout := 60 * time.Second
		if name == "synthesize" {
			timeout = 15 * time.Minute
		}
		r[name] = toolSpec{Class: workerpool.ClassGPU, NonIdempotent: nonIdempotentTools[name], DeclaredTimeout: timeout}
	}
	return r
}

// Names returns every tool name in the registry, the public allow-list
// surfaced to the LLM (modify_score/synthesize_mel/vocode never appear
// because they were never added).
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	return names
}

// toolDescriptions is the one-line, LLM-facing summary of each allow-listed
// tool. Parameter schemas are intentionally not modelled in detail here —
// they are owned by the worker that implements each tool (discovered at
// startup via tools/list) and passed through by the Orchestrator when it
// has one; this map only supplies what the Router itself knows statically.
var toolDescriptions = map[string]string{
	"parse_score":                "Parse an uploaded MusicXML score into a score snapshot.",
	"preprocess_voice_parts":     "Transform a parsed score's voice parts ahead of synthesis.",
	"phonemize":                  "Convert lyric text in the score into phoneme sequences.",
	"align_phonemes_to_notes":    "Align phonemes to the score's note timing.",
	"list_voicebanks":            "List available voicebanks, optionally filtered by language or tag.",
	"get_voicebank_info":         "Fetch metadata for a single voicebank by id.",
	"estimate_credits":           "Estimate the rendered audio duration and credit cost for a target verse.",
	"predict_durations":          "Predict per-phoneme durations for the target verse.",
	"predict_pitch":              "Predict the pitch contour for the target verse.",
	"predict_variance":           "Predict expressive variance parameters for the target verse.",
	"synthesize_audio":           "Render mel features into raw audio for the target verse.",
	"synthesize":                 "Render the selected verse to audio. Long-running; runs as a background job.",
	"save_audio":                 "Persist a rendered audio artifact to the session's scratch storage.",
}

// Catalog returns the public tool catalog in the shape the LLM provider
// abstraction expects, filtered to exactly the tools in r (§4.7 step 3's
// "tool catalog filtered to the public allow-list").
func (r Registry) Catalog() []types.ToolDefinition {
	defs := make([]types.ToolDefinition, 0, len(r))
	for name, spec := range r {
		defs = append(defs, types.ToolDefinition{
			Name:                name,
			Description:         toolDescriptions[name],
			Parameters:          map[string]any{"type": "object"},
			EstimatedDurationMs: spec.DeclaredTimeout.Milliseconds(),
			MaxDurationMs:       spec.DeclaredTimeout.Milliseconds(),
			Idempotent:          !spec.NonIdempotent,
		})
	}
	return defs
}

// caller dispatches a call to a specific worker class; satisfied by
// *workerpool.Pool.
type caller interface {
	Call(ctx context.Context, class workerpool.Class, name string, args map[string]any) (*workerpool.CallResult, error)
}

// Router resolves tool names against a [Registry] and dispatches calls
// through a WorkerPool, applying the retry-at-most-once and deadline rules
// from spec.md §4.3.
type Router struct {
	registry Registry
	pool     caller
	metrics  *observe.Metrics
}

// New creates a Router over the given registry and pool. metrics may be
// nil, in which case [observe.DefaultMetrics] is used.
func New(registry Registry, pool caller, metrics *observe.Metrics) *Router {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Router{registry: registry, pool: pool, metrics: metrics}
}

// Catalog returns the router's tool catalog (see [Registry.Catalog]).
func (rt *Router) Catalog() []types.ToolDefinition {
	return rt.registry.Catalog()
}

// Call resolves name, validates it against the allow-list, and dispatches
// to the owning worker class with deadline and retry handling. args is
// marshalled to a JSON object for the worker.
func (rt *Router) Call(ctx context.Context, name string, args map[string]any, deadline time.Time) (*workerpool.CallResult, error) {
	spec, ok := rt.registry[name]
	if !ok {
		return nil, rt.notAllowed(name)
	}

	ctx, span := observe.StartSpan(ctx, "toolrouter.Call", trace.WithAttributes(
		observe.Attr("tool", name),
		observe.Attr("class", string(spec.Class)),
	))
	defer span.End()

	callCtx := ctx
	var cancel context.CancelFunc
	if !deadline.IsZero() {
		callCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	start := time.Now()
	result, err := rt.pool.Call(callCtx, spec.Class, name, args)
	outcome := "ok"
	if err != nil {
		outcome = string(errkind.Of(err))
	} else if result.IsError {
		outcome = "tool_error"
	}
	rt.metrics.RecordToolCall(ctx, name, string(spec.Class), outcome)
	rt.log(ctx, name, string(spec.Class), 1, time.Since(start), outcome)

	if err == nil {
		return result, nil
	}

	kind := errkind.Of(err)
	retryable := (kind == errkind.WorkerLost) && !spec.NonIdempotent
	if !retryable {
		return nil, err
	}

	// Retry exactly once, with a minimum 10s budget regardless of how much
	// of the original deadline remains.
	rt.metrics.RecordToolRetry(ctx, name)
	retryDeadline := deadline
	if !deadline.IsZero() {
		minDeadline := time.Now().Add(minRetryBudget)
		if retryDeadline.Before(minDeadline) {
			retryDeadline = minDeadline
		}
	}
	retryCtx := ctx
	if !retryDeadline.IsZero() {
		var rc context.CancelFunc
		retryCtx, rc = context.WithDeadline(ctx, retryDeadline)
		defer rc()
	}

	start = time.Now()
	result, err = rt.pool.Call(retryCtx, spec.Class, name, args)
	outcome = "ok"
	if err != nil {
		outcome = string(errkind.Of(err))
	} else if result.IsError {
		outcome = "tool_error"
	}
	rt.metrics.RecordToolCall(ctx, name, string(spec.Class), outcome)
	rt.log(ctx, name, string(spec.Class), 2, time.Since(start), outcome)

	return result, err
}

// log emits the structured dispatch record spec.md §4.3 requires.
func (rt *Router) log(ctx context.Context, tool, class string, attempt int, dur time.Duration, outcome string) {
	observe.Logger(ctx).Info("tool dispatch",
		"tool", tool, "class", class, "attempt", attempt,
		"duration_ms", dur.Milliseconds(), "outcome", outcome)
}

// notAllowed builds a tool_not_allowed error carrying a fuzzy-matched
// repair hint — the nearest registered tool name by Jaro-Winkler distance —
// so the LLM can recover without a human in the loop.
func (rt *Router) notAllowed(name string) error {
	best, bestScore := "", -1.0
	for candidate := range rt.registry {
		score := matchr.JaroWinkler(name, candidate, true)
		if score > bestScore {
			best, bestScore = candidate, score
		}
	}

	data := map[string]any{}
	if best != "" && bestScore >= 0.80 {
		data["suggested_tool"] = best
	}

	return errkind.New(errkind.ToolNotAllowed, fmt.Sprintf("tool %q is not in the public allow-list", name)).WithData(data)
}

// MarshalArgs is a convenience helper for callers building args maps from a
// raw JSON arguments string (as carried on an [types.ToolCall]).
func MarshalArgs(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, errkind.Wrap(errkind.InvalidInput, "invalid tool arguments JSON", err)
	}
	return m, nil
}
