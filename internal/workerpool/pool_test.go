package workerpool

import (
	"context"
	"log/slog"
	"testing"

	"github.com/MrWong99/singer-orchestrator/internal/errkind"
)

func TestSameToolSet(t *testing.T) {
	a := map[string]struct{}{"parse_score": {}, "phonemize": {}}
	b := map[string]struct{}{"phonemize": {}, "parse_score": {}}
	if !sameToolSet(a, b) {
		t.Error("expected identical sets to compare equal")
	}
	c := map[string]struct{}{"parse_score": {}}
	if sameToolSet(a, c) {
		t.Error("expected differently-sized sets to compare unequal")
	}
}

func TestWorkerCallBackpressureAtQueueDepth(t *testing.T) {
	w := newWorker(Config{Class: ClassGPU, QueueDepth: 1}, slog.Default(), nil)
	w.waiting.Store(1)

	_, err := w.Call(context.Background(), "synthesize", nil)
	if errkind.Of(err) != errkind.Backpressure {
		t.Fatalf("expected backpressure, got %v", err)
	}
}

func TestWorkerCallNotReadyIsWorkerLost(t *testing.T) {
	w := newWorker(Config{Class: ClassCPU, QueueDepth: 16}, slog.Default(), nil)
	w.st = stateStarting

	_, err := w.Call(context.Background(), "parse_score", nil)
	if errkind.Of(err) != errkind.WorkerLost {
		t.Fatalf("expected worker_lost, got %v", err)
	}
}

func TestPoolCallUnknownClass(t *testing.T) {
	p := &Pool{workers: map[Class]*Worker{}}
	_, err := p.Call(context.Background(), ClassGPU, "synthesize", nil)
	if errkind.Of(err) != errkind.Internal {
		t.Fatalf("expected internal error for unregistered class, got %v", err)
	}
}
