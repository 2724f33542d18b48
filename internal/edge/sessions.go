package edge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/MrWong99/singer-orchestrator/internal/errkind"
	"github.com/MrWong99/singer-orchestrator/internal/sessionstore"
)

// maxUploadBytes bounds a single multipart upload (spec.md §7's
// invalid-input boundary for malformed/oversized scores).
const maxUploadBytes = 16 << 20 // 16 MiB

const uploadDeadline = 30 * time.Second

// createSessionResponse is the `{session_id}` shape spec.md §6 documents.
type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

func (e *Edge) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, err := e.authenticate(r)
	if err != nil {
		e.writeError(w, r, err)
		return
	}
	sessionID := e.deps.Sessions.Create(userID)
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: sessionID})
}

// uploadResponse is the `{session_id, parsed, score_summary}` shape
// spec.md §6 documents.
type uploadResponse struct {
	SessionID    string                    `json:"session_id"`
	Parsed       json.RawMessage           `json:"parsed"`
	ScoreSummary sessionstore.ScoreSummary `json:"score_summary"`
}

// parseScoreResult is the `parse_score` tool's JSON result payload.
type parseScoreResult struct {
	Score                     json.RawMessage `json:"score"`
	DerivedAvailableForTarget bool            `json:"derived_available_for_target"`
}

func (e *Edge) handleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	userID, err := e.authenticate(r)
	if err != nil {
		e.writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		e.writeError(w, r, errkind.Wrap(errkind.InvalidInput, "upload too large or malformed", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		e.writeError(w, r, errkind.Wrap(errkind.InvalidInput, "missing \"file\" form field", err))
		return
	}
	defer file.Close()

	ext := strings.ToLower(path.Ext(header.Filename))
	if ext != ".xml" && ext != ".mxl" {
		e.writeError(w, r, errkind.Newf(errkind.InvalidInput, "unsupported score file extension %q", ext))
		return
	}

	objectKey := "sessions/" + userID + "/" + sessionID + "/input" + ext
	if err := e.deps.Objects.PutObject(r.Context(), objectKey, file); err != nil {
		e.writeError(w, r, errkind.Wrap(errkind.Internal, "store uploaded score", err))
		return
	}

	deadline := time.Now().Add(uploadDeadline)
	result, err := e.deps.Router.Call(r.Context(), "parse_score", map[string]any{
		"session_id": sessionID,
		"object_key": objectKey,
	}, deadline)
	if err != nil {
		e.writeError(w, r, err)
		return
	}
	if result.IsError {
		e.writeError(w, r, errkind.New(errkind.InvalidInput, result.Content))
		return
	}

	var parsed parseScoreResult
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
		e.writeError(w, r, errkind.Wrap(errkind.Internal, "parse_score: malformed worker response", err))
		return
	}

	var summary sessionstore.ScoreSummary
	err = e.deps.Sessions.WithSession(r.Context(), sessionID, func(_ context.Context, h *sessionstore.Handle) error {
		h.SetFile(&sessionstore.FileSlot{
			OriginalPath:              objectKey,
			OriginalExt:               ext,
			ParsedScore:               parsed.Score,
			Version:                   1,
			DerivedAvailableForTarget: parsed.DerivedAvailableForTarget,
		})
		summary = h.ScoreSummary()
		return nil
	})
	if err != nil {
		e.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		SessionID:    sessionID,
		Parsed:       parsed.Score,
		ScoreSummary: summary,
	})
}

func (e *Edge) handleScore(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if _, err := e.authenticate(r); err != nil {
		e.writeError(w, r, err)
		return
	}

	var key string
	err := e.deps.Sessions.WithSession(r.Context(), sessionID, func(_ context.Context, h *sessionstore.Handle) error {
		f := h.File()
		if f == nil {
			return errkind.New(errkind.InvalidInput, "session has no uploaded score")
		}
		key = f.OriginalPath
		return nil
	})
	if err != nil {
		e.writeError(w, r, err)
		return
	}

	rc, err := e.deps.Objects.GetObject(r.Context(), key)
	if err != nil {
		e.writeError(w, r, errkind.Wrap(errkind.Internal, "read stored score", err))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/vnd.recordare.musicxml+xml")
	io.Copy(w, rc)
}
