package edge

import (
	"net/http"
	"os"

	"github.com/MrWong99/singer-orchestrator/internal/errkind"
	"github.com/MrWong99/singer-orchestrator/internal/jobregistry"
)

// handleAudio streams a completed job's rendered audio, range-aware (206 on
// a Range request) per spec.md §6. The object store's local-filesystem
// implementation is the only one in scope (SPEC_FULL.md §9), so SignURL's
// returned reference is an on-disk path http.ServeContent can seek.
func (e *Edge) handleAudio(w http.ResponseWriter, r *http.Request) {
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
	if snap.State != jobregistry.StateDone {
		e.writeError(w, r, errkind.New(errkind.ActionRequired, "job has no audio yet"))
		return
	}

	key := "sessions/" + snap.UserID + "/" + sessionID + "/jobs/" + snap.JobID + "/output.wav"
	path, err := e.deps.Objects.SignURL(r.Context(), key)
	if err != nil {
		e.writeError(w, r, errkind.Wrap(errkind.Internal, "resolve audio reference", err))
		return
	}

	f, err := os.Open(path)
	if err != nil {
		e.writeError(w, r, errkind.Wrap(errkind.Internal, "open rendered audio", err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		e.writeError(w, r, errkind.Wrap(errkind.Internal, "stat rendered audio", err))
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	http.ServeContent(w, r, "output.wav", info.ModTime(), f)
}
