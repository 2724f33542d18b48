// Package edge implements the HTTP Edge (C8): the public surface a UI
// drives, built on the standard library's pattern-based http.ServeMux
// rather than a router dependency the reference never used (SPEC_FULL.md
// §4.8). It translates HTTP requests into orchestrator/ledger/jobregistry
// calls and [errkind.Error]s into status codes, and nothing more — no
// business logic lives here.
package edge

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrWong99/singer-orchestrator/internal/creditledger"
	"github.com/MrWong99/singer-orchestrator/internal/errkind"
	"github.com/MrWong99/singer-orchestrator/internal/jobregistry"
	"github.com/MrWong99/singer-orchestrator/internal/observe"
	"github.com/MrWong99/singer-orchestrator/internal/orchestrator"
	"github.com/MrWong99/singer-orchestrator/internal/sessionstore"
	"github.com/MrWong99/singer-orchestrator/internal/toolrouter"
	"github.com/MrWong99/singer-orchestrator/internal/voicebank"
	"github.com/MrWong99/singer-orchestrator/pkg/identity"
	"github.com/MrWong99/singer-orchestrator/pkg/objectstore"
)

// Dependencies bundles every component the Edge dispatches to. All fields
// are required.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Sessions     *sessionstore.Store
	Jobs         *jobregistry.Registry
	Ledger       *creditledger.Ledger
	Router       *toolrouter.Router
	Objects      objectstore.Store
	Identity     identity.Verifier
	Voicebanks   *voicebank.Registry

	Log     *slog.Logger
	Metrics *observe.Metrics
}

// Edge holds the constructed Dependencies and serves the routes in
// spec.md §6.
type Edge struct {
	deps Dependencies
	log  *slog.Logger
}

// New creates an Edge over deps. Log defaults to slog.Default() and Metrics
// to [observe.DefaultMetrics] if unset.
func New(deps Dependencies) *Edge {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Edge{deps: deps, log: log}
}

// Register adds every Edge route to mux.
func (e *Edge) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", e.handleCreateSession)
	mux.HandleFunc("POST /sessions/{id}/upload", e.handleUpload)
	mux.HandleFunc("POST /sessions/{id}/chat", e.handleChat)
	mux.HandleFunc("GET /sessions/{id}/score", e.handleScore)
	mux.HandleFunc("GET /sessions/{id}/progress", e.handleProgress)
	mux.HandleFunc("GET /sessions/{id}/progress/ws", e.handleProgressWS)
	mux.HandleFunc("GET /sessions/{id}/audio", e.handleAudio)
	mux.HandleFunc("POST /credits/estimate", e.handleCreditsEstimate)
	mux.HandleFunc("GET /credits", e.handleCredits)
}

// Handler returns the fully wired http.Handler: every route in a fresh
// ServeMux wrapped with the observability middleware, matching the
// reference's middleware-wraps-mux composition in cmd/*/main.go.
func (e *Edge) Handler() http.Handler {
	mux := http.NewServeMux()
	e.Register(mux)
	return observe.Middleware(e.deps.Metrics)(mux)
}

// authenticate resolves the bearer token on r into a user id via the
// configured identity.Verifier.
func (e *Edge) authenticate(r *http.Request) (string, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	userID, err := e.deps.Identity.Verify(r.Context(), token)
	if err != nil {
		return "", errkind.Wrap(errkind.InvalidInput, "invalid or missing credentials", err)
	}
	return userID, nil
}

// writeJSON encodes v as status, falling back to a plain-text 500 on
// encoding failure — matches the reference's health.writeJSON idiom.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
	}
}

// errorBody is the JSON shape every non-2xx Edge response carries.
type errorBody struct {
	Error string         `json:"error"`
	Data  map[string]any `json:"data,omitempty"`
}

// writeError classifies err via [errkind.Of] and writes the matching
// status code and body. Internal detail (Cause) never crosses this
// boundary — only Message and Data do.
func (e *Edge) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errkind.Of(err)
	status := kind.HTTPStatus()

	body := errorBody{Error: err.Error()}
	var ke *errkind.Error
	if errors.As(err, &ke) {
		body.Error = ke.Message
		body.Data = ke.Data
	}

	observe.Logger(r.Context()).Warn("edge: request failed",
		"path", r.URL.Path, "kind", string(kind), "status", status, "err", err)

	writeJSON(w, status, body)
}
