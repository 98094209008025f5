package ctlplane

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/ctlplane/pkg/codec"
	"github.com/bft-labs/ctlplane/pkg/log"
)

// FatalHandler is called when the control socket cannot be opened. The
// control plane is foundational, so the default handler logs and exits the
// process.
type FatalHandler func(err error)

// ConfigObserver receives the payload of driver-global configuration
// effects. The driver itself does not act on them.
type ConfigObserver func(payload any)

// Option configures optional behavior of a Driver.
type Option func(*options)

type options struct {
	logger       log.Logger
	eventHandler EventHandler
	codec        codec.Codec
	fatal        FatalHandler
	plugins      []Plugin
	clock        func() time.Time
	registerer   prometheus.Registerer
	onConfig     ConfigObserver
}

func defaultOptions() options {
	return options{
		logger: log.NewNoopLogger(),
		clock:  time.Now,
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventHandler sets a handler for lifecycle events.
// Events are called synchronously; implementations should return quickly.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithCodec replaces the default CBOR value codec. If the codec implements
// io.Closer it is closed on Shutdown.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithFatalHandler replaces the default log-and-exit behavior when the
// socket cannot be opened.
func WithFatalHandler(h FatalHandler) Option {
	return func(o *options) {
		o.fatal = h
	}
}

// WithPlugin registers a plugin to be initialized when the driver starts.
// Plugins are initialized in registration order and shut down in reverse order.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// WithClock sets the time source the session id is derived from.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithMetrics registers the driver's Prometheus collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithConfigObserver sets a hook for driver-global configuration effects.
func WithConfigObserver(fn ConfigObserver) Option {
	return func(o *options) {
		o.onConfig = fn
	}
}

func exitOnFatal(logger log.Logger) FatalHandler {
	return func(err error) {
		logger.Error("control plane unavailable", log.Err(err))
		os.Exit(1)
	}
}
