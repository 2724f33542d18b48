package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// defaultConfig returns a Config populated with spec §6's documented
// defaults, before the YAML file and environment overrides are applied.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8080,
			LogLevel: LogLevelInfo,
		},
		Session: SessionConfig{TTLSeconds: 86400},
		Jobs:    JobConfig{DeadlineSeconds: 900},
		Workers: WorkersConfig{
			CPU: WorkerConfig{
				Concurrency:         4,
				ReadyTimeoutSeconds: 10,
				PingIntervalSeconds: 30,
				PingTimeoutSeconds:  5,
				CloseGraceSeconds:   5,
			},
			GPU: WorkerConfig{
				Concurrency:         1,
				QueueDepth:          16,
				ReadyTimeoutSeconds: 10,
				PingIntervalSeconds: 30,
				PingTimeoutSeconds:  5,
				CloseGraceSeconds:   5,
			},
		},
		Credits: CreditsConfig{
			ReservationTTLSeconds: 900,
			SecondsPerCredit:      1.0,
		},
	}
}

// Load reads the YAML configuration file at path, layers environment
// variable overrides on top, and returns a validated [Config]. It is a
// convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, starting from documented
// defaults, then applies environment variable overrides for the deploy-time
// knobs spec §6 names, then validates the result. An empty reader is
// accepted — the config is then driven entirely by defaults and environment
// variables, which is a supported deployment mode.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := defaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers the environment variables listed in spec §6 on
// top of a YAML-decoded config. Malformed numeric values are logged and
// ignored, leaving the prior value in place.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("BACKEND_HOST"); ok && v != "" {
		cfg.Server.Host = v
	}
	if v, ok := lookupEnvInt("BACKEND_PORT"); ok {
		cfg.Server.Port = v
	}
	if v, ok := os.LookupEnv("BACKEND_AUTH_DISABLED"); ok {
		cfg.Server.AuthDisabled = isTruthy(v)
	}
	if v, ok := lookupEnvInt("SESSION_TTL_SECONDS"); ok {
		cfg.Session.TTLSeconds = v
	}
	if v, ok := lookupEnvInt("JOB_DEADLINE_SECONDS"); ok {
		cfg.Jobs.DeadlineSeconds = v
	}
	if v, ok := lookupEnvInt("GPU_QUEUE_DEPTH"); ok {
		cfg.Workers.GPU.QueueDepth = v
	}
	if v, ok := lookupEnvInt("CPU_CONCURRENCY"); ok {
		cfg.Workers.CPU.Concurrency = v
	}
	if v, ok := os.LookupEnv("VOICEBANK_CACHE_DIR"); ok && v != "" {
		cfg.Voicebank.CacheDir = v
	}
}

func lookupEnvInt(name string) (int, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("config: ignoring malformed integer environment override", "var", name, "value", raw)
		return 0, false
	}
	return n, true
}

func isTruthy(v string) bool {
	switch v {
	case "1", "true", "TRUE", "True", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}

	if cfg.Session.TTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("session.ttl_seconds must be positive, got %d", cfg.Session.TTLSeconds))
	}
	if cfg.Jobs.DeadlineSeconds <= 0 {
		errs = append(errs, fmt.Errorf("jobs.deadline_seconds must be positive, got %d", cfg.Jobs.DeadlineSeconds))
	}

	if cfg.Workers.CPU.Command == "" {
		errs = append(errs, errors.New("workers.cpu.command is required"))
	}
	if cfg.Workers.GPU.Command == "" {
		errs = append(errs, errors.New("workers.gpu.command is required"))
	}
	if cfg.Workers.CPU.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("workers.cpu.concurrency must be positive, got %d", cfg.Workers.CPU.Concurrency))
	}
	if cfg.Workers.GPU.QueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("workers.gpu.queue_depth must be positive, got %d", cfg.Workers.GPU.QueueDepth))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}

	if cfg.Providers.Embeddings.Name != "" && cfg.Storage.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but storage.embedding_dimensions is not set; recall will not be able to index requests")
	}

	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; docstore and recall will not be available")
	}

	if cfg.Storage.ObjectStoreRoot == "" {
		errs = append(errs, errors.New("storage.object_store_root is required"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
