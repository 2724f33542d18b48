package edge

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/singer-orchestrator/internal/errkind"
	"github.com/MrWong99/singer-orchestrator/internal/jobregistry"
)

// progressPollInterval is how often the WebSocket upgrade re-checks a job's
// [jobregistry.Snapshot] for a change worth pushing. jobregistry exposes no
// subscription channel of its own (HandleProgress's channel is internal),
// so the Edge polls it the same way a human refreshing /progress would,
// just fast enough to feel live.
const progressPollInterval = 200 * time.Millisecond

// progressResponse is the `{status, step, progress, message, audio_url?,
// error?}` shape spec.md §6 documents.
type progressResponse struct {
	Status   string  `json:"status"`
	Step     string  `json:"step"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
	AudioURL string  `json:"audio_url,omitempty"`
	Error    string  `json:"error,omitempty"`
}

func (e *Edge) snapshotToResponse(sessionID string, snap jobregistry.Snapshot) progressResponse {
	resp := progressResponse{
		Status:   string(snap.State),
		Step:     snap.Step,
		Progress: snap.Progress,
		Message:  snap.Message,
	}
	if snap.State == jobregistry.StateError {
		resp.Error = snap.ErrorMessage
	}
	if snap.State == jobregistry.StateDone {
		resp.AudioURL = "/sessions/" + sessionID + "/audio?job=" + snap.JobID
	}
	return resp
}

func (e *Edge) lookupJob(r *http.Request) (jobregistry.Snapshot, error) {
	jobID := r.URL.Query().Get("job")
	if jobID == "" {
		return jobregistry.Snapshot{}, errkind.New(errkind.InvalidInput, "missing \"job\" query parameter")
	}
	snap, ok := e.deps.Jobs.Get(jobID)
	if !ok {
		return jobregistry.Snapshot{}, errkind.Newf(errkind.InvalidInput, "unknown job %q", jobID)
	}
	return snap, nil
}

func (e *Edge) handleProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if _, err := e.authenticate(r); err != nil {
		e.writeError(w, r, err)
		return
	}
	snap, err := e.lookupJob(r)
	if err != nil {
		e.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e.snapshotToResponse(sessionID, snap))
}

// handleProgressWS upgrades to a WebSocket and pushes the progress snapshot
// once per observed change and once more on terminal transition, then
// closes (SPEC_FULL.md §6's additional endpoint).
func (e *Edge) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if _, err := e.authenticate(r); err != nil {
		e.writeError(w, r, err)
		return
	}
	jobID := r.URL.Query().Get("job")
	if jobID == "" {
		e.writeError(w, r, errkind.New(errkind.InvalidInput, "missing \"job\" query parameter"))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	var last jobregistry.Snapshot
	first := true

	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()

	for {
		snap, ok := e.deps.Jobs.Get(jobID)
		if !ok {
			conn.Close(websocket.StatusNormalClosure, "unknown job")
			return
		}
		if first || snap != last {
			if werr := wsjson.Write(ctx, conn, e.snapshotToResponse(sessionID, snap)); werr != nil {
				return
			}
			first = false
			last = snap
		}
		if snapTerminal(snap) {
			conn.Close(websocket.StatusNormalClosure, "job reached a terminal state")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func snapTerminal(s jobregistry.Snapshot) bool {
	switch s.State {
	case jobregistry.StateDone, jobregistry.StateCancelled, jobregistry.StateError:
		return true
	default:
		return false
	}
}
