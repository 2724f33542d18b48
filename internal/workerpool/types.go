// Package workerpool manages the lifecycle of the subprocess tool workers
// (one per class: cpu, gpu) that execute the synthesis pipeline stages.
//
// Each class runs exactly one worker process in normal operation. The pool
// spawns it, probes readiness, gates concurrent access to its class's
// budget, restarts it with exponential backoff on failure, and forwards its
// job/progress notifications to whoever is listening.
package workerpool

import (
	"context"
	"time"
)

// Class identifies a worker's resource class and, transitively, the
// tool-name allow-list it owns.
type Class string

const (
	// ClassCPU handles parsing, preprocessing, phonemization and other
	// CPU-bound pipeline stages. Allows N_cpu concurrent in-flight calls.
	ClassCPU Class = "cpu"

	// ClassGPU handles inference and rendering stages. Serialized to one
	// in-flight call at a time to avoid device-memory contention.
	ClassGPU Class = "gpu"
)

// Config describes how to spawn and supervise one class's worker.
type Config struct {
	Class Class

	// Command is split on spaces into executable + args, same convention
	// as the reference mcphost server-config loader.
	Command string

	// Env holds additional environment variables injected into the
	// subprocess, in KEY=VALUE form.
	Env []string

	// Concurrency is the number of simultaneous tool calls admitted for
	// this class. CPU workers default to 4; GPU workers are always 1
	// regardless of this field (serialization is load-bearing there).
	Concurrency int

	// QueueDepth bounds the number of calls allowed to wait for an
	// available slot before backpressure kicks in. Only meaningful for
	// GPU (CPU rarely queues in practice but the bound still applies).
	QueueDepth int

	// ReadyTimeout bounds the startup tools/list call.
	ReadyTimeout time.Duration

	// PingInterval is how often an idle worker is health-checked.
	PingInterval time.Duration

	// PingTimeout bounds each health-check call.
	PingTimeout time.Duration

	// CloseGrace bounds how long Transport.Close waits for a graceful
	// subprocess exit before killing the subprocess.
	CloseGrace time.Duration
}

// ToolMeta describes one tool discovered from a worker's tools/list result.
type ToolMeta struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ProgressEvent is a job/progress notification forwarded verbatim from a
// worker, destined for jobregistry.Registry.
type ProgressEvent struct {
	JobID    string
	Step     string
	Progress float64
	Message  string
}

// CallResult is the outcome of a successful tools/call round-trip. IsError
// reports an application-level tool failure (the worker ran but returned an
// error payload) — distinct from a Go error, which means the call never
// completed.
type CallResult struct {
	Content    string
	IsError    bool
	DurationMs int64
}

// state is the worker's current supervision state. Worker.Call refuses with
// worker_lost unless the state is ready; concurrency is gated separately by
// the semaphore and the queue-depth bound.
type state int

const (
	stateStarting state = iota
	stateReady
	stateRestarting
	stateClosed
)

// notifier is satisfied by anything that wants a worker's forwarded
// progress notifications. jobregistry.Registry implements this.
type notifier interface {
	HandleProgress(ctx context.Context, ev ProgressEvent)
}
