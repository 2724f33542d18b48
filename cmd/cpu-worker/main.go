// Command cpu-worker is the CPU-class tool worker subprocess the
// WorkerPool launches and speaks MCP to over stdio. It owns score parsing,
// phonemization, and the voicebank catalogue — the allow-listed tools that
// don't need a GPU.
//
// Acoustic/vocoder inference are out of scope for this module (spec.md
// §1); every tool here is a deterministic, documented stand-in rather than
// a real DiffSinger preprocessing stage.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/singer-orchestrator/internal/voicebank"
	"github.com/MrWong99/singer-orchestrator/internal/workerstub"
	"github.com/MrWong99/singer-orchestrator/pkg/objectstore"
)

func main() {
	objectStoreRoot := flag.String("object-store-root", envOr("OBJECT_STORE_ROOT", "./data/objects"), "scratch object store root, shared with the backend")
	manifestPath := flag.String("voicebank-manifest", envOr("VOICEBANK_MANIFEST_PATH", ""), "voicebank manifest YAML, same catalogue the backend seeds from")
	flag.Parse()

	objects, err := objectstore.NewLocal(*objectStoreRoot)
	if err != nil {
		log.Fatalf("cpu-worker: object store: %v", err)
	}

	voicebanks := voicebank.NewRegistry()
	if *manifestPath != "" {
		manifest, err := voicebank.LoadManifestFile(*manifestPath)
		if err != nil {
			log.Printf("cpu-worker: load voicebank manifest %q: %v", *manifestPath, err)
		} else {
			added, skipped := voicebank.Seed(voicebanks, manifest)
			log.Printf("cpu-worker: seeded %d voicebanks (%d skipped)", added, len(skipped))
		}
	}

	w := &worker{objects: objects, voicebanks: voicebanks}

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "cpu-worker", Version: "1.0.0"}, nil)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "parse_score", Description: "Parse an uploaded MusicXML score into a score snapshot."}, w.parseScore)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "preprocess_voice_parts", Description: "Transform a parsed score's voice parts ahead of synthesis."}, w.preprocessVoiceParts)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "phonemize", Description: "Convert lyric text in the score into phoneme sequences."}, w.phonemize)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "align_phonemes_to_notes", Description: "Align phonemes to the score's note timing."}, w.alignPhonemesToNotes)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "list_voicebanks", Description: "List available voicebanks, optionally filtered by language or tag."}, w.listVoicebanks)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "get_voicebank_info", Description: "Fetch metadata for a single voicebank by id."}, w.getVoicebankInfo)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "estimate_credits", Description: "Estimate the rendered audio duration and credit cost for a target verse."}, w.estimateCredits)

	if err := server.Run(context.Background(), &mcpsdk.StdioTransport{}); err != nil {
		log.Fatalf("cpu-worker: serve: %v", err)
	}
}

type worker struct {
	objects    objectstore.Store
	voicebanks *voicebank.Registry
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// ── parse_score ──────────────────────────────────────────────────────────

type parseScoreArgs struct {
	SessionID string `json:"session_id"`
	ObjectKey string `json:"object_key"`
}

// parsedScore is the deterministic stand-in for a real MusicXML parse: verse
// and voice-part counts are derived from a hash of the uploaded bytes, so
// the same file always parses to the same shape.
type parsedScore struct {
	Verses       []verseInfo `json:"verses"`
	VoiceParts   int         `json:"voice_parts"`
	DurationSec  float64     `json:"duration_seconds"`
	LyricsFound  bool        `json:"lyrics_present"`
	SourceObject string      `json:"source_object"`
}

type verseInfo struct {
	Number int    `json:"number"`
	Label  string `json:"label"`
}

type parseScoreResult struct {
	Score                     parsedScore `json:"score"`
	DerivedAvailableForTarget bool        `json:"derived_available_for_target"`
}

func (w *worker) parseScore(ctx context.Context, _ *mcpsdk.CallToolRequest, args parseScoreArgs) (*mcpsdk.CallToolResult, any, error) {
	rc, err := w.objects.GetObject(ctx, args.ObjectKey)
	if err != nil {
		return errorResult(fmt.Sprintf("parse_score: read %q: %v", args.ObjectKey, err)), nil, nil
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return errorResult(fmt.Sprintf("parse_score: read %q: %v", args.ObjectKey, err)), nil, nil
	}
	lower := strings.ToLower(string(content))
	if !strings.Contains(lower, "<score-partwise") && !strings.Contains(lower, "<score-timewise") {
		return errorResult("parse_score: not a recognizable MusicXML document"), nil, nil
	}

	seed := workerstub.Seed(args.SessionID, args.ObjectKey, string(content))
	verseCount := workerstub.IntRange(seed, 1, 3)
	voiceParts := workerstub.IntRange(workerstub.Seed(seed, "parts"), 1, 3)
	duration := float64(workerstub.IntRange(workerstub.Seed(seed, "duration"), 20, 240))

	verses := make([]verseInfo, verseCount)
	for i := range verses {
		verses[i] = verseInfo{Number: i + 1, Label: fmt.Sprintf("Verse %d", i+1)}
	}

	result := parseScoreResult{
		Score: parsedScore{
			Verses:       verses,
			VoiceParts:   voiceParts,
			DurationSec:  duration,
			LyricsFound:  strings.Contains(lower, "<lyric"),
			SourceObject: args.ObjectKey,
		},
		// A single-voice-part score needs no voice-part preprocessing;
		// anything richer must go through preprocess_voice_parts first.
		DerivedAvailableForTarget: voiceParts == 1,
	}
	return jsonResult(result), nil, nil
}

// ── preprocess_voice_parts ───────────────────────────────────────────────

type preprocessArgs struct {
	SessionID   string `json:"session_id"`
	VerseNumber int    `json:"verse_number"`
}

func (w *worker) preprocessVoiceParts(_ context.Context, _ *mcpsdk.CallToolRequest, args preprocessArgs) (*mcpsdk.CallToolResult, any, error) {
	return jsonResult(map[string]any{
		"derived_available_for_target": true,
		"verse_number":                 args.VerseNumber,
	}), nil, nil
}

// ── phonemize ─────────────────────────────────────────────────────────────

type phonemizeArgs struct {
	Lyrics string `json:"lyrics"`
}

func (w *worker) phonemize(_ context.Context, _ *mcpsdk.CallToolRequest, args phonemizeArgs) (*mcpsdk.CallToolResult, any, error) {
	return jsonResult(map[string]any{
		"phonemes": workerstub.Phonemize(args.Lyrics),
	}), nil, nil
}

// ── align_phonemes_to_notes ───────────────────────────────────────────────

type alignArgs struct {
	Phonemes []string `json:"phonemes"`
}

func (w *worker) alignPhonemesToNotes(_ context.Context, _ *mcpsdk.CallToolRequest, args alignArgs) (*mcpsdk.CallToolResult, any, error) {
	return jsonResult(map[string]any{
		"aligned":    true,
		"note_count": len(args.Phonemes),
	}), nil, nil
}

// ── list_voicebanks / get_voicebank_info ─────────────────────────────────

type listVoicebanksArgs struct {
	Language string   `json:"language,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

func (w *worker) listVoicebanks(ctx context.Context, _ *mcpsdk.CallToolRequest, args listVoicebanksArgs) (*mcpsdk.CallToolResult, any, error) {
	infos := w.voicebanks.List(ctx, args.Language, args.Tags)
	return jsonResult(map[string]any{"voicebanks": infos}), nil, nil
}

type getVoicebankInfoArgs struct {
	ID string `json:"id"`
}

func (w *worker) getVoicebankInfo(ctx context.Context, _ *mcpsdk.CallToolRequest, args getVoicebankInfoArgs) (*mcpsdk.CallToolResult, any, error) {
	info, err := w.voicebanks.Get(ctx, args.ID)
	if err != nil {
		return errorResult(fmt.Sprintf("get_voicebank_info: %v", err)), nil, nil
	}
	return jsonResult(info), nil, nil
}

// ── estimate_credits ──────────────────────────────────────────────────────

type estimateCreditsArgs struct {
	Target int `json:"target"`
}

func (w *worker) estimateCredits(_ context.Context, _ *mcpsdk.CallToolRequest, args estimateCreditsArgs) (*mcpsdk.CallToolResult, any, error) {
	seed := workerstub.Seed("estimate", fmt.Sprint(args.Target))
	estimatedSeconds := 20 + workerstub.IntRange(seed, 0, 160)
	return jsonResult(map[string]any{"estimated_seconds": estimatedSeconds}), nil, nil
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
