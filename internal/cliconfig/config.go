package cliconfig

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/bft-labs/ctlplane/pkg/ctlplane"
)

// Config holds CLI configuration for ctlplane.
type Config struct {
	PierDir    string
	SocketPath string

	MaxFrameBytes uint64
	OutboxDepth   int
	WriteTimeout  time.Duration
	MaxNesting    int

	LogLevel    string
	MetricsAddr string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	d := ctlplane.DefaultConfig()
	return Config{
		SocketPath:    d.SocketPath,
		MaxFrameBytes: d.MaxFrameBytes,
		OutboxDepth:   d.OutboxDepth,
		WriteTimeout:  d.WriteTimeout,
		MaxNesting:    d.MaxNesting,
		LogLevel:      "info",
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.PierDir == "" {
		return fmt.Errorf("pier is required")
	}
	if filepath.IsAbs(c.SocketPath) {
		return fmt.Errorf("socket must be relative to the pier directory")
	}
	if c.MaxFrameBytes == 0 {
		return fmt.Errorf("max frame bytes must be positive")
	}
	if c.OutboxDepth <= 0 {
		return fmt.Errorf("outbox depth must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (zerolog.Level, error) {
	if c.LogLevel == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse log level: %w", err)
	}
	return lvl, nil
}

// Driver converts the CLI config to the driver's config.
func (c *Config) Driver() ctlplane.Config {
	return ctlplane.Config{
		PierDir:       c.PierDir,
		SocketPath:    c.SocketPath,
		MaxFrameBytes: c.MaxFrameBytes,
		OutboxDepth:   c.OutboxDepth,
		WriteTimeout:  c.WriteTimeout,
		MaxNesting:    c.MaxNesting,
	}
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setUint64(flag string, value uint64, dst *uint64) {
	if value == 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

func (s *configSetter) setUint64FromString(flag, value string, dst *uint64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	u, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	s.setUint64(flag, u, dst)
	return nil
}
