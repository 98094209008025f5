package cliconfig

import "os"

// EnvLogLevel overrides the log level from the environment.
const EnvLogLevel = "CTLPLANE_LOG_LEVEL"

// ApplyEnvConfig applies configuration from environment variables (CTLPLANE_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("pier", os.Getenv("CTLPLANE_PIER"), &cfg.PierDir)
	s.setString("socket", os.Getenv("CTLPLANE_SOCKET"), &cfg.SocketPath)
	s.setString("log-level", os.Getenv(EnvLogLevel), &cfg.LogLevel)
	s.setString("metrics-addr", os.Getenv("CTLPLANE_METRICS_ADDR"), &cfg.MetricsAddr)

	if err := s.setDuration("write-timeout", os.Getenv("CTLPLANE_WRITE_TIMEOUT"), &cfg.WriteTimeout); err != nil {
		return err
	}
	if err := s.setUint64FromString("max-frame-bytes", os.Getenv("CTLPLANE_MAX_FRAME_BYTES"), &cfg.MaxFrameBytes); err != nil {
		return err
	}
	if err := s.setIntFromString("outbox-depth", os.Getenv("CTLPLANE_OUTBOX_DEPTH"), &cfg.OutboxDepth); err != nil {
		return err
	}
	if err := s.setIntFromString("max-nesting", os.Getenv("CTLPLANE_MAX_NESTING"), &cfg.MaxNesting); err != nil {
		return err
	}

	return nil
}

// LevelPinned reports whether the log level came from a flag or the
// environment. Both outrank the config file, so a file watcher must leave
// the level alone.
func LevelPinned(changed map[string]bool) bool {
	return changed["log-level"] || os.Getenv(EnvLogLevel) != ""
}
