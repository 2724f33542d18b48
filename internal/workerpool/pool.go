package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/singer-orchestrator/internal/errkind"
)

const defaultReadyTimeout = 3 * time.Second
const defaultPingInterval = time.Minute
const defaultPingTimeout = 3 * time.Second
const defaultCloseGrace = 5 * time.Second

// Worker supervises one class's subprocess: its live transport, concurrency
// gate, restart loop, and health tracking. Exactly one Worker exists per
// class; the pool does not horizontally scale within a class.
type Worker struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	tr      *transport
	st      state
	allowed map[string]struct{}
	restart int

	sem     *semaphore.Weighted
	waiting atomic.Int32

	window *rollingWindow

	notify   notifier
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newWorker(cfg Config, log *slog.Logger, notify notifier) *Worker {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaultPingTimeout
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = defaultCloseGrace
	}

	concurrency := cfg.Concurrency
	if cfg.Class == ClassGPU {
		concurrency = 1
	} else if concurrency <= 0 {
		concurrency = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 16
	}

	return &Worker{
		cfg:    cfg,
		log:    log,
		sem:    semaphore.NewWeighted(int64(concurrency)),
		window: newRollingWindow(50),
		notify: notify,
		stopCh: make(chan struct{}),
	}
}

// start performs the initial spawn + handshake and, on success, launches
// the health-check supervisor goroutine. A failure here is fatal at startup
// (the caller maps it to the process's unrecoverable-worker exit code).
func (w *Worker) start(ctx context.Context) error {
	tr, tools, err := dial(ctx, w.cfg, w.notify)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.tr = tr
	w.st = stateReady
	w.allowed = toolSet(tools)
	w.mu.Unlock()

	go w.healthLoop()
	return nil
}

func toolSet(tools []ToolMeta) map[string]struct{} {
	m := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		m[t.Name] = struct{}{}
	}
	return m
}

// Tools returns the worker's currently allow-listed tool names, as
// discovered from its last successful tools/list.
func (w *Worker) Tools() map[string]struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]struct{}, len(w.allowed))
	for k := range w.allowed {
		out[k] = struct{}{}
	}
	return out
}

// Call executes one tool call against this worker, respecting its
// concurrency budget and queue-depth backpressure bound.
func (w *Worker) Call(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	if w.waiting.Load() >= int32(w.cfg.QueueDepth) {
		return nil, errkind.New(errkind.Backpressure, fmt.Sprintf("%s worker queue at depth %d", w.cfg.Class, w.cfg.QueueDepth))
	}
	w.waiting.Add(1)
	defer w.waiting.Add(-1)

	if err := w.sem.Acquire(ctx, 1); err != nil {
		return nil, errkind.Wrap(errkind.Timeout, "waiting for worker slot", err)
	}
	defer w.sem.Release(1)

	w.mu.Lock()
	tr := w.tr
	st := w.st
	w.mu.Unlock()

	if st != stateReady || tr == nil {
		return nil, errkind.New(errkind.WorkerLost, fmt.Sprintf("%s worker not ready", w.cfg.Class))
	}

	start := time.Now()
	res, err := tr.call(ctx, name, args)
	dur := time.Since(start).Milliseconds()

	isErr := err != nil || (res != nil && res.IsError)
	w.window.Record(dur, isErr)

	if err != nil && errkind.Of(err) == errkind.WorkerLost {
		go w.restart(context.Background())
	}
	return res, err
}

// healthLoop periodically pings an idle worker and triggers a restart on
// failure, satisfying the readiness-probe requirement independent of call
// traffic.
func (w *Worker) healthLoop() {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.mu.Lock()
			tr := w.tr
			st := w.st
			w.mu.Unlock()
			if st != stateReady || tr == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), w.cfg.PingTimeout)
			err := tr.ping(ctx)
			cancel()
			if err != nil {
				w.log.Warn("worker health check failed", "class", w.cfg.Class, "error", err)
				go w.restart(context.Background())
			}
		}
	}
}

// restart terminates the current transport (if any) and respawns it after
// the backoff delay appropriate to the current restart attempt number.
// Concurrent restart attempts for the same worker collapse into one via the
// stateRestarting guard.
func (w *Worker) restart(ctx context.Context) {
	w.mu.Lock()
	if w.st == stateRestarting || w.st == stateClosed {
		w.mu.Unlock()
		return
	}
	w.st = stateRestarting
	oldTr := w.tr
	w.tr = nil
	attempt := w.restart
	w.restart++
	w.mu.Unlock()

	if oldTr != nil {
		_ = oldTr.close()
	}

	delay := backoffFor(attempt)
	w.log.Warn("restarting worker", "class", w.cfg.Class, "attempt", attempt, "delay", delay)

	select {
	case <-time.After(delay):
	case <-w.stopCh:
		return
	}

	preAllow := w.Tools()

	tr, tools, err := dial(ctx, w.cfg, w.notify)
	if err != nil {
		w.log.Error("worker restart failed", "class", w.cfg.Class, "error", err)
		w.mu.Lock()
		w.st = stateStarting
		w.mu.Unlock()
		// Try again; the next attempt backs off further.
		go w.restart(ctx)
		return
	}

	newAllow := toolSet(tools)
	if len(preAllow) > 0 && !sameToolSet(preAllow, newAllow) {
		w.log.Error("worker restarted with a different tool allow-list; failing closed", "class", w.cfg.Class)
		_ = tr.close()
		w.mu.Lock()
		w.st = stateClosed
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.tr = tr
	w.allowed = newAllow
	w.st = stateReady
	w.mu.Unlock()
}

func sameToolSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// close stops the health loop and closes the current transport.
func (w *Worker) close() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.mu.Lock()
	tr := w.tr
	w.tr = nil
	w.st = stateClosed
	w.mu.Unlock()
	if tr == nil {
		return nil
	}
	return tr.close()
}

// Pool owns the one worker per class and fans out forwarded progress
// notifications to the registered notifier (normally jobregistry.Registry).
type Pool struct {
	workers map[Class]*Worker
	log     *slog.Logger
}

// New creates a Pool with one Worker per supplied Config, dialing each
// worker's subprocess. A non-nil error means at least one worker failed to
// start — callers (cmd/singer-server) treat this as a fatal startup
// condition.
func New(ctx context.Context, log *slog.Logger, notify notifier, cfgs ...Config) (*Pool, error) {
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{workers: make(map[Class]*Worker, len(cfgs)), log: log}
	for _, cfg := range cfgs {
		w := newWorker(cfg, log, notify)
		if err := w.start(ctx); err != nil {
			_ = p.Close()
			return nil, errkind.Wrap(errkind.Internal, fmt.Sprintf("starting %s worker", cfg.Class), err)
		}
		p.workers[cfg.Class] = w
	}
	return p, nil
}

// Call dispatches a tool call to the worker owning class.
func (p *Pool) Call(ctx context.Context, class Class, name string, args map[string]any) (*CallResult, error) {
	w, ok := p.workers[class]
	if !ok {
		return nil, errkind.New(errkind.Internal, fmt.Sprintf("no worker registered for class %q", class))
	}
	return w.Call(ctx, name, args)
}

// AllowedTools returns the current tool allow-list for a class, as
// discovered from the worker's last successful tools/list.
func (p *Pool) AllowedTools(class Class) map[string]struct{} {
	w, ok := p.workers[class]
	if !ok {
		return nil
	}
	return w.Tools()
}

// Close shuts down every worker, waiting for each's close grace period.
func (p *Pool) Close() error {
	var firstErr error
	for class, w := range p.workers {
		if err := w.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s worker: %w", class, err)
		}
	}
	return firstErr
}
