// Package app wires together the orchestrator core's components —
// sessions, jobs, credits, the tool worker pool, and the LLM/embeddings
// providers — into one constructed, runnable unit the Edge and cmd
// entry points consume.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/MrWong99/singer-orchestrator/internal/config"
	"github.com/MrWong99/singer-orchestrator/internal/creditledger"
	"github.com/MrWong99/singer-orchestrator/internal/hotctx"
	"github.com/MrWong99/singer-orchestrator/internal/jobregistry"
	"github.com/MrWong99/singer-orchestrator/internal/observe"
	"github.com/MrWong99/singer-orchestrator/internal/orchestrator"
	"github.com/MrWong99/singer-orchestrator/internal/resilience"
	"github.com/MrWong99/singer-orchestrator/internal/sessionstore"
	"github.com/MrWong99/singer-orchestrator/internal/toolrouter"
	"github.com/MrWong99/singer-orchestrator/internal/voicebank"
	"github.com/MrWong99/singer-orchestrator/internal/workerpool"
	"github.com/MrWong99/singer-orchestrator/pkg/docstore"
	docstorepostgres "github.com/MrWong99/singer-orchestrator/pkg/docstore/postgres"
	"github.com/MrWong99/singer-orchestrator/pkg/identity"
	"github.com/MrWong99/singer-orchestrator/pkg/objectstore"
	"github.com/MrWong99/singer-orchestrator/pkg/provider/embeddings"
	"github.com/MrWong99/singer-orchestrator/pkg/provider/llm"
	"github.com/MrWong99/singer-orchestrator/pkg/recall"
	recallpostgres "github.com/MrWong99/singer-orchestrator/pkg/recall/postgres"
)

// App bundles every constructed component the Edge and worker supervision
// loop need. It owns their shutdown order.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics

	llmProvider llm.Provider
	embedder    embeddings.Provider

	docs     docstore.Store
	objects  objectstore.Store
	identity identity.Verifier

	voicebanks *voicebank.Registry
	sessions   *sessionstore.Store
	jobs       *jobregistry.Registry
	ledger     *creditledger.Ledger
	pool       *workerpool.Pool
	router     *toolrouter.Router
	orch       *orchestrator.Orchestrator

	recallIndex recall.Index

	closers []func(context.Context) error
}

// New constructs every component wired to cfg. On any failure, components
// already constructed are torn down before the error is returned.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	a := &App{cfg: cfg, log: log, metrics: observe.DefaultMetrics()}

	if err := a.initProviders(cfg); err != nil {
		return nil, a.abort(ctx, err)
	}
	if err := a.initStorage(ctx, cfg); err != nil {
		return nil, a.abort(ctx, err)
	}
	a.initVoicebank(cfg)
	a.initSessionsAndJobs(cfg)
	a.initLedger(cfg)
	if err := a.initWorkers(ctx, cfg); err != nil {
		return nil, a.abort(ctx, err)
	}
	a.initOrchestrator(cfg)

	return a, nil
}

func (a *App) abort(ctx context.Context, cause error) error {
	if err := a.Shutdown(ctx); err != nil {
		a.log.Warn("app: shutdown during aborted startup reported an error", "err", err)
	}
	return cause
}

func (a *App) initProviders(cfg *config.Config) error {
	registry := newProviderRegistry()

	llmProvider, err := registry.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return fmt.Errorf("app: create llm provider: %w", err)
	}

	if cfg.Providers.FallbackLLM.Name != "" {
		fallback, err := registry.CreateLLM(cfg.Providers.FallbackLLM)
		if err != nil {
			return fmt.Errorf("app: create fallback llm provider: %w", err)
		}
		group := resilience.NewLLMFallback(llmProvider, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		group.AddFallback(cfg.Providers.FallbackLLM.Name, fallback)
		llmProvider = group
		a.log.Info("app: llm fallback configured",
			"primary", cfg.Providers.LLM.Name, "fallback", cfg.Providers.FallbackLLM.Name)
	}
	a.llmProvider = llmProvider

	if cfg.Providers.Embeddings.Name != "" {
		embedder, err := registry.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return fmt.Errorf("app: create embeddings provider: %w", err)
		}
		a.embedder = embedder
	}
	return nil
}

func (a *App) initStorage(ctx context.Context, cfg *config.Config) error {
	// No external identity backend is in scope (SPEC_FULL.md §9); a
	// production deployment supplies its own identity.Verifier. Bypass is
	// only genuinely safe when BACKEND_AUTH_DISABLED is set, but it is also
	// the only Verifier this module ships, so it is used either way with a
	// loud warning when auth was not explicitly disabled.
	if !cfg.Server.AuthDisabled {
		a.log.Warn("app: no identity backend configured; falling back to Bypass even though auth is not disabled")
	}
	a.identity = &identity.Bypass{}

	objects, err := objectstore.NewLocal(cfg.Storage.ObjectStoreRoot)
	if err != nil {
		return fmt.Errorf("app: create object store: %w", err)
	}
	a.objects = objects

	if cfg.Storage.PostgresDSN == "" {
		a.docs = docstore.NewMemory()
		a.log.Warn("app: storage.postgres_dsn is empty; using in-memory docstore (state lost on restart)")
		return nil
	}

	docs, err := docstorepostgres.NewStore(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return fmt.Errorf("app: connect docstore: %w", err)
	}
	a.docs = docs
	a.closers = append(a.closers, func(context.Context) error { docs.Close(); return nil })

	if a.embedder != nil {
		dims := cfg.Storage.EmbeddingDimensions
		if dims <= 0 {
			dims = a.embedder.Dimensions()
		}
		recallStore, err := recallpostgres.NewStore(ctx, cfg.Storage.PostgresDSN, dims)
		if err != nil {
			return fmt.Errorf("app: connect recall index: %w", err)
		}
		a.recallIndex = recallStore.Index()
		a.closers = append(a.closers, func(context.Context) error { recallStore.Close(); return nil })
	}

	return nil
}

func (a *App) initVoicebank(cfg *config.Config) {
	reg := voicebank.NewRegistry()
	if cfg.Voicebank.ManifestPath != "" {
		manifest, err := voicebank.LoadManifestFile(cfg.Voicebank.ManifestPath)
		if err != nil {
			a.log.Warn("app: load voicebank manifest", "path", cfg.Voicebank.ManifestPath, "err", err)
		} else {
			added, skipped := voicebank.Seed(reg, manifest)
			a.log.Info("app: seeded voicebank registry", "added", added, "skipped", len(skipped))
		}
	}
	a.voicebanks = reg
}

func (a *App) initSessionsAndJobs(cfg *config.Config) {
	a.jobs = jobregistry.New(a.log, a.metrics)

	a.sessions = sessionstore.New(
		sessionstore.WithTTL(cfg.Session.TTL()),
		sessionstore.WithEvictHook(func(sessionID, userID string) {
			a.jobs.CancelForSession(sessionID)
			if err := a.objects.DeleteAll(context.Background(), "sessions/"+userID+"/"+sessionID); err != nil {
				a.log.Warn("app: evict session: reclaim scratch storage", "session_id", sessionID, "err", err)
			}
		}),
	)
	a.closers = append(a.closers, func(context.Context) error { a.sessions.Close(); return nil })
	a.closers = append(a.closers, func(context.Context) error { a.jobs.Close(); return nil })
}

func (a *App) initLedger(cfg *config.Config) {
	a.ledger = creditledger.New(a.docs, a.log, a.metrics, creditledger.WithReservationTTL(cfg.Credits.ReservationTTL()))
	a.closers = append(a.closers, func(context.Context) error { a.ledger.Close(); return nil })
}

func (a *App) initWorkers(ctx context.Context, cfg *config.Config) error {
	cpuCfg := cfg.Workers.CPU.ToPoolConfig(workerpool.ClassCPU)
	gpuCfg := cfg.Workers.GPU.ToPoolConfig(workerpool.ClassGPU)

	pool, err := workerpool.New(ctx, a.log, a.jobs, cpuCfg, gpuCfg)
	if err != nil {
		return fmt.Errorf("app: start worker pool: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func(context.Context) error { return a.pool.Close() })

	a.router = toolrouter.New(toolrouter.DefaultRegistry(), pool, a.metrics)
	return nil
}

func (a *App) initOrchestrator(cfg *config.Config) {
	var assemblerOpts []hotctx.Option
	if a.embedder != nil && a.recallIndex != nil {
		finder := recall.NewFinder(a.embedder, a.recallIndex)
		assemblerOpts = append(assemblerOpts, hotctx.WithPriorRequestFinder(finder), hotctx.WithTopK(3))
	}
	assembler := hotctx.NewAssembler(a.ledger, assemblerOpts...)

	a.orch = orchestrator.New(orchestrator.Dependencies{
		Sessions:     a.sessions,
		Ledger:       a.ledger,
		Jobs:         a.jobs,
		Router:       a.router,
		Provider:     a.llmProvider,
		Assembler:    assembler,
		Log:          a.log,
		Metrics:      a.metrics,
		TurnDeadline: cfg.Jobs.Deadline(),
	})
}

// Orchestrator returns the constructed Orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Sessions returns the constructed session store.
func (a *App) Sessions() *sessionstore.Store { return a.sessions }

// Jobs returns the constructed job registry.
func (a *App) Jobs() *jobregistry.Registry { return a.jobs }

// Ledger returns the constructed credit ledger.
func (a *App) Ledger() *creditledger.Ledger { return a.ledger }

// Router returns the constructed tool router.
func (a *App) Router() *toolrouter.Router { return a.router }

// Identity returns the constructed identity verifier.
func (a *App) Identity() identity.Verifier { return a.identity }

// Objects returns the constructed object store.
func (a *App) Objects() objectstore.Store { return a.objects }

// Voicebanks returns the constructed voicebank registry.
func (a *App) Voicebanks() *voicebank.Registry { return a.voicebanks }

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Log returns the App's logger.
func (a *App) Log() *slog.Logger { return a.log }

// Metrics returns the App's metrics recorder.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// Shutdown tears down every constructed component in reverse construction
// order. Errors are collected but do not stop later closers from running.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
