package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/singer-orchestrator/internal/errkind"
	"github.com/MrWong99/singer-orchestrator/internal/hotctx"
	"github.com/MrWong99/singer-orchestrator/internal/observe"
	"github.com/MrWong99/singer-orchestrator/internal/sessionstore"
	"github.com/MrWong99/singer-orchestrator/internal/toolrouter"
	"github.com/MrWong99/singer-orchestrator/pkg/provider/llm"
)

const systemPrompt = `You are a singing-voice synthesis assistant. You can inspect and ` +
	`transform an uploaded score, estimate and confirm credit costs, and start ` +
	`long-running renders. Always call estimate_credits and get the user's ` +
	`confirmation before calling synthesize. Never guess at tool arguments you ` +
	`don't have; ask the user instead.`

// toolCallIntent is one tool call pulled off a completion response, already
// unmarshalled into an args map.
type toolCallIntent struct {
	call llm.ToolCall
	args map[string]any
}

// HandleChat runs one bounded tool-calling turn for sessionID, per spec.md
// §4.7: it appends the user's message to history, loops the LLM against the
// public tool catalog up to maxIterations times, and returns either a final
// reply or a spawned-job acknowledgement.
func (o *Orchestrator) HandleChat(ctx context.Context, sessionID, userID, text string) (*TurnResult, error) {
	ctx, span := observe.StartSpan(ctx, "orchestrator.HandleChat", trace.WithAttributes(
		observe.Attr("session_id", sessionID),
	))
	defer span.End()

	deadline := time.Now().Add(o.turnDeadline)
	turnCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var result *TurnResult
	err := o.sessions.WithSession(turnCtx, sessionID, func(ctx context.Context, h *sessionstore.Handle) error {
		r, err := o.runTurn(ctx, h, userID, text, deadline)
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// runTurn executes steps 2-5 of spec.md §4.7 inside the caller's WithSession
// callback. h is valid only for the duration of this call.
func (o *Orchestrator) runTurn(ctx context.Context, h *sessionstore.Handle, userID, text string, deadline time.Time) (*TurnResult, error) {
	h.AppendHistory(llm.Message{Role: "user", Content: text})

	facts, err := o.assembler.Assemble(ctx, userID, text, h.ScoreSummary())
	if err != nil {
		return nil, err
	}

	tools := o.router.Catalog()

	for iter := 0; iter < o.maxIterations; iter++ {
		req := llm.CompletionRequest{
			Messages:     withSessionFacts(h.History(), facts),
			Tools:        tools,
			SystemPrompt: systemPrompt,
		}

		resp, err := o.provider.Complete(ctx, req)
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			h.AppendHistory(llm.Message{Role: "assistant", Content: resp.Content})
			return &TurnResult{Kind: ReplyText, Text: resp.Content, Score: h.ScoreSummary()}, nil
		}

		h.AppendHistory(llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		// A synthesize call that starts a job ends the turn immediately;
		// tool calls after it in the batch are not dispatched.
		for _, tc := range resp.ToolCalls {
			intent, argErr := parseToolCall(tc)
			if argErr != nil {
				h.AppendHistory(syntheticResult(tc.ID, argErr.Error()))
				continue
			}

			if intent.call.Name == synthesizeTool {
				turnResult, synthetic, err := o.dispatchSynthesize(ctx, h, intent)
				if err != nil {
					return nil, err
				}
				if turnResult != nil {
					return turnResult, nil
				}
				h.AppendHistory(syntheticResult(tc.ID, synthetic))
				continue
			}

			content, toolErr := o.dispatchTool(ctx, h, intent, deadline)
			if toolErr != nil {
				h.AppendHistory(syntheticResult(tc.ID, toolErr.Error()))
				continue
			}

			switch intent.call.Name {
			case estimateCreditsTool:
				if recErr := o.recordEstimate(ctx, h, userID, content); recErr != nil {
					h.AppendHistory(syntheticResult(tc.ID, recErr.Error()))
					continue
				}
			case preprocessVoicePartsTool:
				if recErr := o.recordPreprocess(h, intent, content); recErr != nil {
					h.AppendHistory(syntheticResult(tc.ID, recErr.Error()))
					continue
				}
			}

			h.AppendHistory(syntheticResult(tc.ID, content))
		}
	}

	h.AppendHistory(llm.Message{Role: "assistant", Content: cappedReplyText})
	return &TurnResult{Kind: ReplyText, Text: cappedReplyText, Score: h.ScoreSummary()}, nil
}

// dispatchSynthesize applies the workflow guards and, if they pass, starts
// the background job. A non-nil synthetic string (with a nil TurnResult)
// means the guard/estimate/reserve check failed and the loop should continue
// with that explanation appended as the tool result instead.
func (o *Orchestrator) dispatchSynthesize(ctx context.Context, h *sessionstore.Handle, intent toolCallIntent) (*TurnResult, string, error) {
	requestedVerse := h.ScoreSummary().SelectedVerseNumber
	if v, ok := intent.args["verse_number"]; ok {
		requestedVerse = asInt(v, requestedVerse)
	}

	if err := checkSynthesisGuards(h.ScoreSummary(), requestedVerse); err != nil {
		return nil, err.Error(), nil
	}

	return o.startSynthesis(ctx, h, intent)
}

// dispatchTool validates intent against the tool router's allow-list and
// dispatches it with the turn's remaining deadline.
func (o *Orchestrator) dispatchTool(ctx context.Context, h *sessionstore.Handle, intent toolCallIntent, deadline time.Time) (string, error) {
	result, err := o.router.Call(ctx, intent.call.Name, intent.args, deadline)
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", errkind.New(errkind.Internal, result.Content)
	}
	return result.Content, nil
}

// recordEstimate parses the estimate_credits tool's worker-reported
// estimated_seconds and runs it through CreditLedger.Estimate, attaching the
// result to the session so a subsequent synthesize call can reserve against
// it (spec.md §4.7 step f).
func (o *Orchestrator) recordEstimate(ctx context.Context, h *sessionstore.Handle, userID, content string) error {
	var payload struct {
		EstimatedSeconds int `json:"estimated_seconds"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return errkind.Wrap(errkind.Internal, "estimate_credits: malformed worker response", err)
	}

	res, err := o.ledger.Estimate(ctx, userID, payload.EstimatedSeconds)
	if err != nil {
		return err
	}

	h.SetPendingEstimate(&sessionstore.EstimateRecord{
		EstimatedSeconds: res.EstimatedSeconds,
		EstimatedCredits: res.EstimatedCredits,
		Balance:          res.Balance,
		Available:        res.Available,
		Projected:        res.Projected,
		CreatedAt:        time.Now(),
	})
	return nil
}

// recordPreprocess parses the preprocess_voice_parts tool's result and
// writes it back into the session's file slot, so a subsequent synthesize
// call sees DerivedAvailableForTarget and HasPreprocessed/
// PreprocessedForVerseNumber updated for checkSynthesisGuards. Without
// this, preprocessing never leaves the chat history and the guard rejects
// every complex score forever.
func (o *Orchestrator) recordPreprocess(h *sessionstore.Handle, intent toolCallIntent, content string) error {
	var payload struct {
		VerseNumber               int  `json:"verse_number"`
		DerivedAvailableForTarget bool `json:"derived_available_for_target"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return errkind.Wrap(errkind.Internal, "preprocess_voice_parts: malformed worker response", err)
	}

	verse := payload.VerseNumber
	if verse == 0 {
		verse = asInt(intent.args["verse_number"], h.ScoreSummary().SelectedVerseNumber)
	}

	return h.ApplyPreprocessResult(verse, json.RawMessage(content), payload.DerivedAvailableForTarget)
}

func parseToolCall(tc llm.ToolCall) (toolCallIntent, error) {
	args, err := toolrouter.MarshalArgs(tc.Arguments)
	if err != nil {
		return toolCallIntent{}, err
	}
	return toolCallIntent{call: tc, args: args}, nil
}

func syntheticResult(toolCallID, content string) llm.Message {
	return llm.Message{Role: "tool", Content: content, ToolCallID: toolCallID}
}

// withSessionFacts prepends the formatted session-facts block as a system
// message ahead of the real history, without mutating the slice the Handle
// owns.
func withSessionFacts(history []llm.Message, facts *hotctx.Facts) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	out = append(out, llm.Message{Role: "system", Content: hotctx.FormatSessionFacts(facts)})
	return append(out, history...)
}

func asInt(v any, fallback int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return fallback
	}
}
