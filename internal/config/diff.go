package config

// ConfigDiff describes what changed between two configs. Only fields that
// are safe to hot-reload are tracked — worker spawn commands, ports, and
// storage DSNs require a process restart and are intentionally not diffed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoicebankChanged    bool
	NewVoicebankConfig  VoicebankConfig
	CreditsRateChanged  bool
	NewSecondsPerCredit float64
}

// Diff compares old and new configs and returns what changed. Only tracks
// changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Voicebank != new.Voicebank {
		d.VoicebankChanged = true
		d.NewVoicebankConfig = new.Voicebank
	}

	if old.Credits.SecondsPerCredit != new.Credits.SecondsPerCredit {
		d.CreditsRateChanged = true
		d.NewSecondsPerCredit = new.Credits.SecondsPerCredit
	}

	return d
}
