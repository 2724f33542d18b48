package edge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrWong99/singer-orchestrator/internal/errkind"
	"github.com/MrWong99/singer-orchestrator/internal/sessionstore"
)

const estimateDeadline = 15 * time.Second

type estimateRequest struct {
	// Target is the verse number the estimate applies to.
	Target int `json:"target"`

	// SessionID is optional; when present, the resulting estimate is
	// attached to the session so a later synthesize call can reserve
	// against it without re-estimating, same as the in-chat
	// estimate_credits tool path.
	SessionID string `json:"session_id,omitempty"`
}

type estimateResponse struct {
	EstimatedSeconds int `json:"estimated_seconds"`
	EstimatedCredits int `json:"estimated_credits"`
	Balance          int `json:"balance"`
	Available        int `json:"available"`
	Projected        int `json:"projected"`
}

func (e *Edge) handleCreditsEstimate(w http.ResponseWriter, r *http.Request) {
	userID, err := e.authenticate(r)
	if err != nil {
		e.writeError(w, r, err)
		return
	}

	var req estimateRequest
	if jerr := json.NewDecoder(r.Body).Decode(&req); jerr != nil {
		e.writeError(w, r, errkind.Wrap(errkind.InvalidInput, "malformed estimate request body", jerr))
		return
	}

	deadline := time.Now().Add(estimateDeadline)
	result, err := e.deps.Router.Call(r.Context(), "estimate_credits", map[string]any{
		"target": req.Target,
	}, deadline)
	if err != nil {
		e.writeError(w, r, err)
		return
	}
	if result.IsError {
		e.writeError(w, r, errkind.New(errkind.InvalidInput, result.Content))
		return
	}

	var payload struct {
		EstimatedSeconds int `json:"estimated_seconds"`
	}
	if jerr := json.Unmarshal([]byte(result.Content), &payload); jerr != nil {
		e.writeError(w, r, errkind.Wrap(errkind.Internal, "estimate_credits: malformed worker response", jerr))
		return
	}

	est, err := e.deps.Ledger.Estimate(r.Context(), userID, payload.EstimatedSeconds)
	if err != nil {
		e.writeError(w, r, err)
		return
	}

	if req.SessionID != "" {
		err = e.deps.Sessions.WithSession(r.Context(), req.SessionID, func(_ context.Context, h *sessionstore.Handle) error {
			h.SetPendingEstimate(&sessionstore.EstimateRecord{
				EstimatedSeconds: est.EstimatedSeconds,
				EstimatedCredits: est.EstimatedCredits,
				Balance:          est.Balance,
				Available:        est.Available,
				Projected:        est.Projected,
				CreatedAt:        time.Now(),
			})
			return nil
		})
		if err != nil {
			e.writeError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, estimateResponse{
		EstimatedSeconds: est.EstimatedSeconds,
		EstimatedCredits: est.EstimatedCredits,
		Balance:          est.Balance,
		Available:        est.Available,
		Projected:        est.Projected,
	})
}

// creditsResponse is the `{balance, reserved, available, expires_at,
// overdrafted}` shape spec.md §6 documents.
type creditsResponse struct {
	Balance     int       `json:"balance"`
	Reserved    int       `json:"reserved"`
	Available   int       `json:"available"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	Overdrafted bool      `json:"overdrafted"`
}

func (e *Edge) handleCredits(w http.ResponseWriter, r *http.Request) {
	userID, err := e.authenticate(r)
	if err != nil {
		e.writeError(w, r, err)
		return
	}

	snap, err := e.deps.Ledger.Snapshot(r.Context(), userID)
	if err != nil {
		e.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, creditsResponse{
		Balance:     snap.Balance,
		Reserved:    snap.Reserved,
		Available:   snap.Available,
		ExpiresAt:   snap.ExpiresAt,
		Overdrafted: snap.Overdrafted,
	})
}
