package config_test

import (
	"testing"

	"github.com/MrWong99/singer-orchestrator/internal/config"
)

func TestDiff_LogLevelChanged(t *testing.T) {
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("LogLevelChanged = false, want true")
	}
	if d.NewLogLevel != config.LogLevelDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_NoChanges(t *testing.T) {
	cfg := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogLevelInfo},
		Voicebank: config.VoicebankConfig{CacheDir: "/tmp/vb"},
		Credits:   config.CreditsConfig{SecondsPerCredit: 1.0},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.VoicebankChanged || d.CreditsRateChanged {
		t.Errorf("Diff of identical configs reported a change: %+v", d)
	}
}

func TestDiff_VoicebankChanged(t *testing.T) {
	old := &config.Config{Voicebank: config.VoicebankConfig{CacheDir: "/tmp/a"}}
	new := &config.Config{Voicebank: config.VoicebankConfig{CacheDir: "/tmp/b"}}

	d := config.Diff(old, new)
	if !d.VoicebankChanged {
		t.Error("VoicebankChanged = false, want true")
	}
	if d.NewVoicebankConfig.CacheDir != "/tmp/b" {
		t.Errorf("NewVoicebankConfig.CacheDir = %q, want /tmp/b", d.NewVoicebankConfig.CacheDir)
	}
}

func TestDiff_CreditsRateChanged(t *testing.T) {
	old := &config.Config{Credits: config.CreditsConfig{SecondsPerCredit: 1.0}}
	new := &config.Config{Credits: config.CreditsConfig{SecondsPerCredit: 2.0}}

	d := config.Diff(old, new)
	if !d.CreditsRateChanged {
		t.Error("CreditsRateChanged = false, want true")
	}
	if d.NewSecondsPerCredit != 2.0 {
		t.Errorf("NewSecondsPerCredit = %v, want 2.0", d.NewSecondsPerCredit)
	}
}
