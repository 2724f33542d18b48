// Command gpu-worker is the GPU-class tool worker subprocess the
// WorkerPool launches and speaks MCP to over stdio. It owns acoustic and
// vocoder inference plus the long-running `synthesize` render.
//
// Real DiffSinger inference is out of scope for this module (spec.md §1);
// every tool here is a deterministic, documented stand-in that produces
// structurally valid output — including an actual playable WAV file for
// `synthesize` — so the orchestration core can be exercised end-to-end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/singer-orchestrator/internal/workerstub"
	"github.com/MrWong99/singer-orchestrator/pkg/objectstore"
)

func main() {
	objectStoreRoot := flag.String("object-store-root", envOr("OBJECT_STORE_ROOT", "./data/objects"), "scratch object store root, shared with the backend")
	flag.Parse()

	objects, err := objectstore.NewLocal(*objectStoreRoot)
	if err != nil {
		log.Fatalf("gpu-worker: object store: %v", err)
	}

	w := &worker{objects: objects}

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "gpu-worker", Version: "1.0.0"}, nil)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "predict_durations", Description: "Predict per-phoneme durations for the target verse."}, w.predictDurations)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "predict_pitch", Description: "Predict the pitch contour for the target verse."}, w.predictPitch)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "predict_variance", Description: "Predict expressive variance parameters for the target verse."}, w.predictVariance)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "synthesize_audio", Description: "Render mel features into raw audio for the target verse."}, w.synthesizeAudio)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "synthesize", Description: "Render the selected verse to audio. Long-running; runs as a background job."}, w.synthesize)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "save_audio", Description: "Persist a rendered audio artifact to the session's scratch storage."}, w.saveAudio)

	if err := server.Run(context.Background(), &mcpsdk.StdioTransport{}); err != nil {
		log.Fatalf("gpu-worker: serve: %v", err)
	}
}

type worker struct {
	objects objectstore.Store
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// ── predict_durations / predict_pitch / predict_variance ────────────────

type phonemeSeqArgs struct {
	Phonemes []string `json:"phonemes"`
}

func (w *worker) predictDurations(_ context.Context, _ *mcpsdk.CallToolRequest, args phonemeSeqArgs) (*mcpsdk.CallToolResult, any, error) {
	seed := workerstub.Seed(args.Phonemes...)
	return jsonResult(map[string]any{"durations_ms": workerstub.Durations(seed, len(args.Phonemes))}), nil, nil
}

func (w *worker) predictPitch(_ context.Context, _ *mcpsdk.CallToolRequest, args phonemeSeqArgs) (*mcpsdk.CallToolResult, any, error) {
	seed := workerstub.Seed(args.Phonemes...)
	return jsonResult(map[string]any{"pitch_hz": workerstub.PitchContour(seed, len(args.Phonemes))}), nil, nil
}

func (w *worker) predictVariance(_ context.Context, _ *mcpsdk.CallToolRequest, args phonemeSeqArgs) (*mcpsdk.CallToolResult, any, error) {
	seed := workerstub.Seed(args.Phonemes...)
	return jsonResult(map[string]any{"variance": workerstub.Variance(seed, len(args.Phonemes))}), nil, nil
}

// ── synthesize_audio ──────────────────────────────────────────────────────

type synthesizeAudioArgs struct {
	Phonemes []string `json:"phonemes"`
}

func (w *worker) synthesizeAudio(_ context.Context, _ *mcpsdk.CallToolRequest, args synthesizeAudioArgs) (*mcpsdk.CallToolResult, any, error) {
	seed := workerstub.Seed(args.Phonemes...)
	return jsonResult(map[string]any{
		"audio_ref": fmt.Sprintf("mel-%d", seed),
	}), nil, nil
}

// ── synthesize ────────────────────────────────────────────────────────────

type synthesizeArgs struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	JobID       string `json:"job_id"`
	VerseNumber int    `json:"verse_number"`
}

// synthesizeResult mirrors internal/orchestrator's synthesizeResult shape.
type synthesizeResult struct {
	ActualSeconds int    `json:"actual_seconds"`
	AudioPath     string `json:"audio_path"`
	ContentType   string `json:"content_type"`
}

func (w *worker) synthesize(ctx context.Context, req *mcpsdk.CallToolRequest, args synthesizeArgs) (*mcpsdk.CallToolResult, any, error) {
	if args.JobID == "" || args.SessionID == "" || args.UserID == "" {
		return errorResult("synthesize: missing session_id/user_id/job_id"), nil, nil
	}

	notify(ctx, req, args.JobID, 0.2, "acoustic_inference: predicting durations and pitch")
	seed := workerstub.Seed(args.SessionID, args.JobID, fmt.Sprint(args.VerseNumber))
	actualSeconds := workerstub.IntRange(seed, 15, 90)

	notify(ctx, req, args.JobID, 0.5, "vocoder: rendering waveform")
	freq := 180 + float64(workerstub.IntRange(workerstub.Seed(seed, "freq"), 0, 220))
	f, err := workerstub.WriteToneWAV(actualSeconds, freq)
	if err != nil {
		return errorResult(fmt.Sprintf("synthesize: render audio: %v", err)), nil, nil
	}
	defer os.Remove(f.Name())
	defer f.Close()

	key := fmt.Sprintf("sessions/%s/%s/jobs/%s/output.wav", args.UserID, args.SessionID, args.JobID)
	if err := w.objects.PutObject(ctx, key, f); err != nil {
		return errorResult(fmt.Sprintf("synthesize: persist audio: %v", err)), nil, nil
	}

	notify(ctx, req, args.JobID, 0.9, "finalize: persisting rendered audio")
	return jsonResult(synthesizeResult{
		ActualSeconds: actualSeconds,
		AudioPath:     key,
		ContentType:   "audio/wav",
	}), nil, nil
}

// notify forwards a job/progress notification through the MCP standard
// progress mechanism, with the job id as the progress token (the convention
// internal/workerpool's transport already parses on the client side).
// Best-effort: a notification failure does not fail the tool call.
func notify(ctx context.Context, req *mcpsdk.CallToolRequest, jobID string, fraction float64, message string) {
	if req == nil || req.Session == nil {
		return
	}
	err := req.Session.NotifyProgress(ctx, &mcpsdk.ProgressNotificationParams{
		ProgressToken: jobID,
		Progress:      fraction,
		Total:         1,
		Message:       message,
	})
	if err != nil {
		log.Printf("gpu-worker: progress notification for job %s failed: %v", jobID, err)
	}
}

// ── save_audio ────────────────────────────────────────────────────────────

type saveAudioArgs struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	JobID     string `json:"job_id"`
	AudioRef  string `json:"audio_ref"`
}

func (w *worker) saveAudio(ctx context.Context, _ *mcpsdk.CallToolRequest, args saveAudioArgs) (*mcpsdk.CallToolResult, any, error) {
	key := fmt.Sprintf("sessions/%s/%s/jobs/%s/output.wav", args.UserID, args.SessionID, args.JobID)
	seed := workerstub.Seed(args.AudioRef)
	f, err := workerstub.WriteToneWAV(workerstub.IntRange(seed, 15, 90), 220)
	if err != nil {
		return errorResult(fmt.Sprintf("save_audio: render audio: %v", err)), nil, nil
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := w.objects.PutObject(ctx, key, f); err != nil {
		return errorResult(fmt.Sprintf("save_audio: persist: %v", err)), nil, nil
	}
	return jsonResult(map[string]any{"audio_path": key, "content_type": "audio/wav"}), nil, nil
}

// ── shared result helpers ─────────────────────────────────────────────────

func jsonResult(v any) *mcpsdk.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}}}
}

func errorResult(msg string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
	}
}
