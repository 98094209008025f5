// Package server owns the control socket: binding it, accepting
// connections, and the per-connection channels that frame, decode and
// submit client messages.
package server

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bft-labs/ctlplane/internal/domain"
	"github.com/bft-labs/ctlplane/internal/observability"
	"github.com/bft-labs/ctlplane/internal/ports"
	"github.com/bft-labs/ctlplane/pkg/codec"
	"github.com/bft-labs/ctlplane/pkg/frame"
	"github.com/bft-labs/ctlplane/pkg/log"
)

// DefaultSocketPath is the socket location relative to the pier directory.
const DefaultSocketPath = ".ctl/control.sock"

// Config configures a Listener.
type Config struct {
	// Root is the pier directory the socket lives under.
	Root string
	// SocketPath is relative to Root. Defaults to DefaultSocketPath.
	SocketPath string
	// Session is the id stamped into every connection address.
	Session uint32

	Limits       frame.Limits
	OutboxDepth  int
	WriteTimeout time.Duration

	Kernel  ports.Kernel
	Codec   codec.Codec
	Logger  log.Logger
	Metrics *observability.Metrics
}

func (c *Config) validate() error {
	if c.Root == "" {
		return fmt.Errorf("%w: root directory is required", domain.ErrInvalidConfig)
	}
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if filepath.IsAbs(c.SocketPath) {
		return fmt.Errorf("%w: socket path must be relative to root", domain.ErrInvalidConfig)
	}
	if c.Kernel == nil {
		return domain.ErrNoKernel
	}
	if c.Codec == nil {
		return fmt.Errorf("%w: codec is required", domain.ErrInvalidConfig)
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = frame.DefaultLimits()
	}
	if c.OutboxDepth <= 0 {
		c.OutboxDepth = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.NewNoopLogger()
	}
	return nil
}

// Listener accepts connections on the control socket and owns every open
// Channel. Channels are addressed by id; ids are handed out in increasing
// order and never reused.
type Listener struct {
	cfg  Config
	ln   net.Listener
	lock *os.File
	path string
	quit chan struct{}
	wg   sync.WaitGroup

	mu    sync.Mutex
	conns map[uint32]*Channel
	// draining holds channels that left conns after a fault but whose
	// writer is still flushing the fault frame.
	draining map[uint32]*Channel
	last     uint32
	done     bool
}

// Open binds the control socket and starts accepting connections.
func Open(cfg Config) (*Listener, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	b, err := bind(cfg.Root, cfg.SocketPath)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		cfg:      cfg,
		ln:       b.ln,
		lock:     b.lock,
		path:     b.path,
		quit:     make(chan struct{}),
		conns:    make(map[uint32]*Channel),
		draining: make(map[uint32]*Channel),
	}
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

// Path returns the absolute socket path.
func (l *Listener) Path() string { return l.path }

// Lookup returns the open channel with the given id.
func (l *Listener) Lookup(id uint32) (*Channel, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.conns[id]
	return c, ok
}

// Len returns the number of open channels.
func (l *Listener) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// IDs returns the ids of all open channels in ascending order.
func (l *Listener) IDs() []uint32 {
	l.mu.Lock()
	ids := make([]uint32, 0, len(l.conns))
	for id := range l.conns {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close stops every open channel, calling onEach for each one after it is
// stopped, and cuts off channels still flushing a fault frame. It then closes
// the listening socket, removes the socket file and waits for all connection
// goroutines before releasing the lock. Close is idempotent.
func (l *Listener) Close(onEach func(*Channel)) error {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return nil
	}
	l.done = true
	close(l.quit)
	chans := make([]*Channel, 0, len(l.conns))
	for _, c := range l.conns {
		chans = append(chans, c)
	}
	retired := make([]*Channel, 0, len(l.draining))
	for _, c := range l.draining {
		retired = append(retired, c)
	}
	l.conns = make(map[uint32]*Channel)
	l.draining = make(map[uint32]*Channel)
	l.mu.Unlock()

	sort.Slice(chans, func(i, j int) bool { return chans[i].id < chans[j].id })
	for _, c := range chans {
		c.stop()
		l.cfg.Metrics.ConnectionClosed()
		if onEach != nil {
			onEach(c)
		}
	}
	for _, c := range retired {
		c.stop()
	}

	var errs []error
	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("close listener: %w", err))
	}
	// Unlink before the lock is released.
	l.cfg.Logger.Info("unlinking " + l.path)
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove socket: %w", err))
	}
	l.wg.Wait()
	releaseLock(l.lock)
	return errors.Join(errs...)
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	retry := newAcceptRetry(5*time.Millisecond, time.Second)
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			pause := retry.failed()
			l.cfg.Logger.Warn("accept failed",
				log.Err(err),
				log.Duration("retry_in", pause),
			)
			select {
			case <-time.After(pause):
			case <-l.quit:
				return
			}
			continue
		}
		retry.succeeded()
		l.admit(conn)
	}
}

func (l *Listener) admit(conn net.Conn) {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		conn.Close()
		return
	}
	if l.last == math.MaxUint32 {
		l.mu.Unlock()
		conn.Close()
		l.cfg.Logger.Error("connection ids exhausted")
		return
	}
	l.last++
	c := newChannel(l.last, conn, l)
	l.conns[c.id] = c
	l.wg.Add(2)
	l.mu.Unlock()

	l.cfg.Metrics.ConnectionOpened()
	l.cfg.Logger.Debug("connection accepted", log.Uint32("conn", c.id))

	go c.readLoop()
	go c.writeLoop()
}

// remove drops c from the arena. It reports whether c was still registered.
func (l *Listener) remove(c *Channel) bool {
	return l.detach(c, false)
}

// retire moves c from the arena to the draining set, where Close can still
// reach it while its writer flushes. It reports whether c was registered.
func (l *Listener) retire(c *Channel) bool {
	return l.detach(c, true)
}

func (l *Listener) detach(c *Channel, drain bool) bool {
	l.mu.Lock()
	cur, ok := l.conns[c.id]
	ok = ok && cur == c
	if ok {
		delete(l.conns, c.id)
		if drain {
			l.draining[c.id] = c
		}
	}
	l.mu.Unlock()
	if !ok {
		return false
	}
	l.cfg.Metrics.ConnectionClosed()
	return true
}

// forget drops c from the draining set once its writer has exited.
func (l *Listener) forget(c *Channel) {
	l.mu.Lock()
	if cur, ok := l.draining[c.id]; ok && cur == c {
		delete(l.draining, c.id)
	}
	l.mu.Unlock()
}
