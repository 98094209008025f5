package ctlplane

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/bft-labs/ctlplane/internal/server"
	"github.com/bft-labs/ctlplane/pkg/codec"
	"github.com/bft-labs/ctlplane/pkg/frame"
)

// Config holds the driver's settings. Use DefaultConfig for defaults.
type Config struct {
	// PierDir is the root directory the socket is created under. Required.
	PierDir string

	// SocketPath is the socket location relative to PierDir.
	// Default: .ctl/control.sock
	SocketPath string

	// MaxFrameBytes caps a single frame payload in either direction.
	// Default: 8 MiB
	MaxFrameBytes uint64

	// OutboxDepth is how many outbound frames may queue per connection.
	// Default: 64
	OutboxDepth int

	// WriteTimeout bounds each frame write to a client.
	// Default: 5 seconds
	WriteTimeout time.Duration

	// MaxNesting bounds the nesting depth of decoded client values.
	// Default: 32
	MaxNesting int
}

// DefaultConfig returns a Config with every default filled in except PierDir.
func DefaultConfig() Config {
	var c Config
	c.SetDefaults()
	return c
}

// SetDefaults fills zero fields with their defaults.
func (c *Config) SetDefaults() {
	if c.SocketPath == "" {
		c.SocketPath = server.DefaultSocketPath
	}
	if c.MaxFrameBytes == 0 {
		c.MaxFrameBytes = frame.DefaultLimits().MaxPayloadBytes
	}
	if c.OutboxDepth == 0 {
		c.OutboxDepth = 64
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MaxNesting == 0 {
		c.MaxNesting = codec.DefaultMaxNested
	}
}

// Limits returns the frame limits implied by MaxFrameBytes.
func (c Config) Limits() frame.Limits {
	return frame.Limits{MaxPayloadBytes: c.MaxFrameBytes}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.PierDir == "" {
		return fmt.Errorf("%w: pier directory is required", ErrInvalidConfig)
	}
	if filepath.IsAbs(c.SocketPath) {
		return fmt.Errorf("%w: socket path %q must be relative to the pier directory", ErrInvalidConfig, c.SocketPath)
	}
	if c.OutboxDepth < 0 {
		return fmt.Errorf("%w: outbox depth must not be negative", ErrInvalidConfig)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("%w: write timeout must not be negative", ErrInvalidConfig)
	}
	if c.MaxNesting != 0 && (c.MaxNesting < 4 || c.MaxNesting > 65535) {
		return fmt.Errorf("%w: max nesting must be between 4 and 65535", ErrInvalidConfig)
	}
	return nil
}
