package ctlplane

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/bft-labs/ctlplane/internal/app"
	"github.com/bft-labs/ctlplane/internal/domain"
	"github.com/bft-labs/ctlplane/internal/observability"
	"github.com/bft-labs/ctlplane/internal/ports"
	"github.com/bft-labs/ctlplane/internal/server"
	"github.com/bft-labs/ctlplane/pkg/aura"
	"github.com/bft-labs/ctlplane/pkg/codec"
	"github.com/bft-labs/ctlplane/pkg/log"
	"github.com/bft-labs/ctlplane/pkg/wire"
)

// Kernel is the event queue the driver submits into.
type Kernel = ports.Kernel

// Event is a command event submitted to the Kernel.
type Event = domain.Event

// Event and effect tags.
const (
	TagAnnounce = domain.TagAnnounce
	TagCommand  = domain.TagCommand
	TagReply    = domain.TagReply
	TagConfig   = domain.TagConfig
)

// Hooks are the entry points a kernel integration calls on a driver.
type Hooks interface {
	Start(ctx context.Context) error
	OnEffect(path wire.Path, tag string, payload any) bool
	Shutdown() error
}

// Driver is the control-plane driver. It announces itself to the kernel,
// opens the control socket once the kernel acknowledges, routes kernel
// effects to client connections, and tears everything down on Shutdown.
type Driver struct {
	config     Config
	opts       options
	kernel     Kernel
	codec      codec.Codec
	logger     log.Logger
	metrics    *observability.Metrics
	lifecycle  *app.Lifecycle
	dispatcher *app.Dispatcher
	session    uint32

	mu       sync.Mutex
	listener *server.Listener
	started  []Plugin
	ready    chan struct{}
	quit     chan struct{}
	wg       sync.WaitGroup
}

// New creates a driver in StateUninitialized. The session id is derived
// from the clock here, once per driver.
func New(cfg Config, kernel Kernel, opts ...Option) (*Driver, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if kernel == nil {
		return nil, ErrNoKernel
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewNoopLogger()
	}
	if o.fatal == nil {
		o.fatal = exitOnFatal(o.logger)
	}
	if o.codec == nil {
		c, err := codec.NewCBOR(cfg.MaxNesting)
		if err != nil {
			return nil, err
		}
		o.codec = c
	}

	var metrics *observability.Metrics
	if o.registerer != nil {
		m, err := observability.NewMetrics(o.registerer)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		metrics = m
	}

	session := sessionID(o.clock())
	emitter := &eventEmitterWrapper{handler: o.eventHandler}

	return &Driver{
		config:     cfg,
		opts:       o,
		kernel:     kernel,
		codec:      o.codec,
		logger:     o.logger,
		metrics:    metrics,
		lifecycle:  app.NewLifecycle(o.logger, emitter),
		dispatcher: app.NewDispatcher(session, o.logger, metrics, app.ConfigObserver(o.onConfig)),
		session:    session,
		ready:      make(chan struct{}),
		quit:       make(chan struct{}),
	}, nil
}

// sessionID folds a hash of the boot time into a non-zero 31-bit id.
func sessionID(t time.Time) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(t.UnixNano()))
	h := xxhash.Sum64(b[:])
	id := uint32(h^(h>>32)) & 0x7fffffff
	if id == 0 {
		id = 0x7fffffff
	}
	return id
}

// Session returns the session id stamped into every address.
func (d *Driver) Session() uint32 { return d.session }

// SocketPath returns the absolute socket path.
func (d *Driver) SocketPath() string {
	return filepath.Join(d.config.PierDir, d.config.SocketPath)
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (d *Driver) Status() State {
	return convertState(d.lifecycle.State())
}

// Ready is closed once the socket is open and serving.
func (d *Driver) Ready() <-chan struct{} { return d.ready }

// Start initializes plugins, submits the startup announcement and returns.
// The socket is opened in the background once the kernel acknowledges the
// announcement. A failed acknowledgment leaves the driver permanently
// non-live; it is logged, not retried.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.lifecycle.State() {
	case app.StateUninitialized:
	case app.StateShuttingDown, app.StateTerminated:
		return ErrTerminated
	default:
		return ErrAlreadyStarted
	}

	pluginCfg := PluginConfig{
		PierDir:    d.config.PierDir,
		SocketPath: d.SocketPath(),
		Session:    d.session,
		Logger:     d.logger,
	}
	for i, p := range d.opts.plugins {
		if err := p.Initialize(ctx, pluginCfg); err != nil {
			d.logger.Error("plugin initialization failed",
				log.String("plugin", p.Name()),
				log.Err(err))
			d.shutdownPlugins(d.opts.plugins[:i])
			return fmt.Errorf("plugin %s: %w", p.Name(), err)
		}
		d.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}
	d.started = d.opts.plugins

	if err := d.lifecycle.TransitionTo(app.StateAwaitingReady, "Start() called"); err != nil {
		return err
	}

	ack := d.kernel.Submit(domain.Event{
		Path: wire.Encode(d.session, wire.GlobalConn, 0),
		Tag:  domain.TagAnnounce,
	})

	d.wg.Add(1)
	go d.awaitReady(ctx, ack)
	return nil
}

func (d *Driver) awaitReady(ctx context.Context, ack <-chan error) {
	defer d.wg.Done()

	select {
	case err := <-ack:
		if err != nil {
			d.logger.Warn("kernel rejected startup announcement; control plane stays offline",
				log.Err(err))
			return
		}
	case <-ctx.Done():
		d.logger.Warn("gave up waiting for startup acknowledgment", log.Err(ctx.Err()))
		return
	case <-d.quit:
		return
	}

	d.goLive()
}

func (d *Driver) goLive() {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Shutdown may have won the race for the lock.
	if d.lifecycle.State() != app.StateAwaitingReady {
		return
	}

	l, err := server.Open(server.Config{
		Root:         d.config.PierDir,
		SocketPath:   d.config.SocketPath,
		Session:      d.session,
		Limits:       d.config.Limits(),
		OutboxDepth:  d.config.OutboxDepth,
		WriteTimeout: d.config.WriteTimeout,
		Kernel:       d.kernel,
		Codec:        d.codec,
		Logger:       d.logger,
		Metrics:      d.metrics,
	})
	if err != nil {
		d.opts.fatal(fmt.Errorf("open control socket: %w", err))
		return
	}

	d.listener = l
	if err := d.lifecycle.TransitionTo(app.StateLive, "kernel acknowledged announcement"); err != nil {
		d.logger.Error("failed to transition to live", log.Err(err))
		return
	}
	d.logger.Info("live on "+l.Path(),
		log.String("session", aura.FormatUV(uint64(d.session))))
	close(d.ready)
}

// OnEffect routes one kernel effect. It returns false only for effects
// addressed to another driver.
func (d *Driver) OnEffect(path wire.Path, tag string, payload any) bool {
	d.mu.Lock()
	l := d.listener
	d.mu.Unlock()

	var conns app.Connections
	if l != nil {
		conns = listenerConns{l}
	}
	return d.dispatcher.Dispatch(path, tag, payload, conns)
}

// Shutdown closes every connection, removes the socket file and releases the
// codec and plugins. The socket work only happens if the driver went live.
// Calling Shutdown again is a no-op.
func (d *Driver) Shutdown() error {
	d.mu.Lock()
	switch d.lifecycle.State() {
	case app.StateShuttingDown, app.StateTerminated:
		d.mu.Unlock()
		return nil
	}
	if err := d.lifecycle.TransitionTo(app.StateShuttingDown, "Shutdown() called"); err != nil {
		d.mu.Unlock()
		return err
	}
	close(d.quit)
	l := d.listener
	d.listener = nil
	started := d.started
	d.mu.Unlock()

	d.wg.Wait()

	var errs []error
	if l != nil {
		if err := l.Close(func(c *server.Channel) {
			d.logger.Debug("connection closed on shutdown", log.Uint32("conn", c.ID()))
		}); err != nil {
			errs = append(errs, err)
		}
	}

	if c, ok := d.codec.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close codec: %w", err))
		}
	}
	d.shutdownPlugins(started)

	_ = d.lifecycle.TransitionTo(app.StateTerminated, "shutdown complete")
	return errors.Join(errs...)
}

// shutdownPlugins stops plugins in reverse order.
func (d *Driver) shutdownPlugins(plugins []Plugin) {
	ctx := context.Background()
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if err := p.Shutdown(ctx); err != nil {
			d.logger.Error("plugin shutdown failed",
				log.String("plugin", p.Name()),
				log.Err(err))
		} else {
			d.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
		}
	}
}

// ConnectionIDs returns the ids of the open connections in ascending order.
func (d *Driver) ConnectionIDs() []uint32 {
	d.mu.Lock()
	l := d.listener
	d.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.IDs()
}

// listenerConns adapts the listener's arena to the dispatcher.
type listenerConns struct {
	l *server.Listener
}

func (c listenerConns) Connection(id uint32) (app.Sender, bool) {
	ch, ok := c.l.Lookup(id)
	if !ok {
		return nil, false
	}
	return ch, true
}

var _ Hooks = (*Driver)(nil)
