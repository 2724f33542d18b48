package edge

import (
	"encoding/json"
	"net/http"

	"github.com/MrWong99/singer-orchestrator/internal/errkind"
	"github.com/MrWong99/singer-orchestrator/internal/orchestrator"
	"github.com/MrWong99/singer-orchestrator/internal/sessionstore"
)

type chatRequest struct {
	Message string `json:"message"`
}

// chatResponse is the tagged-union reply body, distinguished by Type.
// toChatResponse produces only "chat_text" and "chat_progress"; failed
// turns are written as an error body by writeError instead.
type chatResponse struct {
	Type         string                     `json:"type"`
	Message      string                     `json:"message"`
	CurrentScore *sessionstore.ScoreSummary `json:"current_score,omitempty"`
	AudioURL     string                     `json:"audio_url,omitempty"`
	ProgressURL  string                     `json:"progress_url,omitempty"`
	JobID        string                     `json:"job_id,omitempty"`
}

func (e *Edge) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	userID, err := e.authenticate(r)
	if err != nil {
		e.writeError(w, r, err)
		return
	}

	var req chatRequest
	if jerr := json.NewDecoder(r.Body).Decode(&req); jerr != nil {
		e.writeError(w, r, errkind.Wrap(errkind.InvalidInput, "malformed chat request body", jerr))
		return
	}
	if req.Message == "" {
		e.writeError(w, r, errkind.New(errkind.InvalidInput, "message must not be empty"))
		return
	}

	result, err := e.deps.Orchestrator.HandleChat(r.Context(), sessionID, userID, req.Message)
	if err != nil {
		e.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toChatResponse(sessionID, result))
}

func toChatResponse(sessionID string, result *orchestrator.TurnResult) chatResponse {
	score := result.Score
	resp := chatResponse{
		Message:      result.Text,
		CurrentScore: &score,
	}
	switch result.Kind {
	case orchestrator.ReplyProgress:
		resp.Type = "chat_progress"
		resp.JobID = result.JobID
		resp.ProgressURL = result.ProgressURL
	default:
		resp.Type = "chat_text"
	}
	return resp
}
