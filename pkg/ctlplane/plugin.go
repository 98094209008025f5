package ctlplane

import (
	"context"

	"github.com/bft-labs/ctlplane/pkg/log"
)

// Plugin extends the driver with optional behavior that runs for the
// driver's lifetime.
type Plugin interface {
	// Name returns a short identifier used in logs.
	Name() string

	// Initialize is called from Start before the announcement is submitted.
	// A failure aborts Start.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown is called from Shutdown, in reverse registration order.
	Shutdown(ctx context.Context) error
}

// PluginConfig is what a plugin learns about the driver it is attached to.
type PluginConfig struct {
	PierDir    string
	SocketPath string
	Session    uint32
	Logger     log.Logger
}
