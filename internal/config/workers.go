package config

import (
	"time"

	"github.com/MrWong99/singer-orchestrator/internal/workerpool"
)

// ToPoolConfig converts a WorkerConfig into the shape [workerpool.Pool]
// consumes, filling in its class and converting second-granularity durations.
func (w WorkerConfig) ToPoolConfig(class workerpool.Class) workerpool.Config {
	env := make([]string, 0, len(w.Env))
	for k, v := range w.Env {
		env = append(env, k+"="+v)
	}
	return workerpool.Config{
		Class:        class,
		Command:      w.Command,
		Env:          env,
		Concurrency:  w.Concurrency,
		QueueDepth:   w.QueueDepth,
		ReadyTimeout: time.Duration(w.ReadyTimeoutSeconds) * time.Second,
		PingInterval: time.Duration(w.PingIntervalSeconds) * time.Second,
		PingTimeout:  time.Duration(w.PingTimeoutSeconds) * time.Second,
		CloseGrace:   time.Duration(w.CloseGraceSeconds) * time.Second,
	}
}

// TTL returns the session TTL as a [time.Duration].
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// Deadline returns the job deadline as a [time.Duration].
func (j JobConfig) Deadline() time.Duration {
	return time.Duration(j.DeadlineSeconds) * time.Second
}

// ReservationTTL returns the credit reservation TTL as a [time.Duration].
func (c CreditsConfig) ReservationTTL() time.Duration {
	return time.Duration(c.ReservationTTLSeconds) * time.Second
}
