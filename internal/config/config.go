// Package config provides the configuration schema, loader, and provider
// registry for the singing-voice synthesis orchestrator.
package config

import "fmt"

// Config is the root configuration structure for the orchestrator. Static
// topology (worker spawn commands, voicebank catalogue location, provider
// selection) lives in a YAML file; deploy-time knobs are layered on top from
// environment variables by [LoadFromReader] — see spec §6's environment
// table.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Jobs      JobConfig       `yaml:"jobs"`
	Workers   WorkersConfig   `yaml:"workers"`
	Voicebank VoicebankConfig `yaml:"voicebank"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	Credits   CreditsConfig   `yaml:"credits"`
}

// ServerConfig holds the HTTP bind address, logging, and auth settings for
// the Edge.
type ServerConfig struct {
	// Host is the interface the Edge listens on. Overridden by BACKEND_HOST.
	Host string `yaml:"host"`

	// Port is the TCP port the Edge listens on. Overridden by BACKEND_PORT.
	Port int `yaml:"port"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`

	// AuthDisabled bypasses identity verification entirely (dev only).
	// Overridden by BACKEND_AUTH_DISABLED.
	AuthDisabled bool `yaml:"auth_disabled"`
}

// ListenAddr returns the address suitable for net/http's Server.Addr.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogLevel is a validated slog verbosity level.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	// TTLSeconds is how long a session survives without activity before
	// eviction. Overridden by SESSION_TTL_SECONDS. Default 86400 (24h).
	TTLSeconds int `yaml:"ttl_seconds"`
}

// JobConfig controls synthesis job deadlines.
type JobConfig struct {
	// DeadlineSeconds bounds how long a job may run before it is cancelled
	// with CancelReason deadline. Overridden by JOB_DEADLINE_SECONDS.
	// Default 900 (15m).
	DeadlineSeconds int `yaml:"deadline_seconds"`
}

// WorkersConfig holds the spawn configuration for the two tool-worker
// classes. Exactly one worker runs per class in normal operation.
type WorkersConfig struct {
	CPU WorkerConfig `yaml:"cpu"`
	GPU WorkerConfig `yaml:"gpu"`
}

// WorkerConfig describes how to launch and supervise one class's worker
// subprocess. Mirrors [workerpool.Config] field-for-field; see
// [WorkerConfig.ToPoolConfig].
type WorkerConfig struct {
	// Command is the executable (with optional arguments), split on spaces,
	// e.g. "cpu-worker --voicebank-dir /var/cache/voicebanks".
	Command string `yaml:"command"`

	// Env holds additional environment variables injected into the
	// subprocess, as a name → value map.
	Env map[string]string `yaml:"env"`

	// Concurrency is the number of simultaneous tool calls admitted for
	// this class. Ignored for GPU, which is always serialized to 1.
	// Overridden for CPU by CPU_CONCURRENCY.
	Concurrency int `yaml:"concurrency"`

	// QueueDepth bounds how many calls may wait for a slot before
	// backpressure kicks in. Overridden for GPU by GPU_QUEUE_DEPTH.
	QueueDepth int `yaml:"queue_depth"`

	// ReadyTimeoutSeconds bounds the startup tools/list call.
	ReadyTimeoutSeconds int `yaml:"ready_timeout_seconds"`

	// PingIntervalSeconds is how often an idle worker is health-checked.
	PingIntervalSeconds int `yaml:"ping_interval_seconds"`

	// PingTimeoutSeconds bounds each health-check call.
	PingTimeoutSeconds int `yaml:"ping_timeout_seconds"`

	// CloseGraceSeconds bounds how long Close waits for a graceful exit
	// before the process group is force-killed.
	CloseGraceSeconds int `yaml:"close_grace_seconds"`
}

// VoicebankConfig locates the voicebank catalogue and its local cache.
type VoicebankConfig struct {
	// ManifestPath is the YAML manifest seeded into the voicebank registry
	// at startup.
	ManifestPath string `yaml:"manifest_path"`

	// CacheDir is where downloaded voicebank assets are cached locally.
	// Overridden by VOICEBANK_CACHE_DIR.
	CacheDir string `yaml:"cache_dir"`
}

// ProvidersConfig declares which provider implementation to use for each
// model-backed concern. Each field selects a named provider registered in
// the [Registry].
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	Embeddings ProviderEntry `yaml:"embeddings"`

	// FallbackLLM is an optional secondary LLM provider. When Name is set,
	// the Orchestrator's completion calls fail over to it (behind its own
	// circuit breaker) whenever the primary is unhealthy.
	FallbackLLM ProviderEntry `yaml:"fallback_llm"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration not covered above.
	Options map[string]any `yaml:"options"`
}

// StorageConfig holds connection settings for the durable stores: the
// document store backing sessions/credits/recall, and the object store
// backing uploaded scores and rendered audio.
type StorageConfig struct {
	// PostgresDSN is the connection string shared by docstore and recall's
	// pgvector index.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the vector dimension used by recall's
	// embedding column. Must match Providers.Embeddings' model.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// ObjectStoreRoot is the local filesystem root for uploaded scores and
	// rendered audio (spec §6's sessions/{uid}/{session_id}/ layout).
	ObjectStoreRoot string `yaml:"object_store_root"`
}

// CreditsConfig controls the credit ledger's reservation behaviour.
type CreditsConfig struct {
	// ReservationTTLSeconds bounds how long a pending reservation holds
	// funds before it is released automatically.
	ReservationTTLSeconds int `yaml:"reservation_ttl_seconds"`

	// SecondsPerCredit is parsed and reported by Diff on reload. The credit
	// ledger converts seconds to credits at a fixed 30 seconds per credit
	// and does not read this value.
	SecondsPerCredit float64 `yaml:"seconds_per_credit"`
}
