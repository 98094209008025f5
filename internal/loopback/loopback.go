// Package loopback is a minimal in-process kernel. It acknowledges every
// event it is given and answers each client command by echoing the payload
// back as a reply effect. The CLI serves with it, and tests use it to drive
// the control plane end to end.
package loopback

import (
	"errors"
	"sync"

	"github.com/bft-labs/ctlplane/internal/domain"
	"github.com/bft-labs/ctlplane/internal/ports"
	"github.com/bft-labs/ctlplane/pkg/log"
	"github.com/bft-labs/ctlplane/pkg/wire"
)

// ErrQueueFull is returned through the ack channel when the event queue is
// saturated.
var ErrQueueFull = errors.New("loopback: event queue full")

// ConfigKey marks a command whose value is re-emitted as a driver-global
// configuration effect.
const ConfigKey = "config"

type pending struct {
	ev  domain.Event
	ack chan error
}

// Kernel processes events on a single goroutine in submission order.
type Kernel struct {
	logger log.Logger
	queue  chan pending

	mu     sync.Mutex
	sink   ports.EffectSink
	closed bool

	wg sync.WaitGroup
}

// New starts a kernel with a queue of the given depth.
func New(depth int, logger log.Logger) *Kernel {
	if depth <= 0 {
		depth = 256
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	k := &Kernel{
		logger: logger,
		queue:  make(chan pending, depth),
	}
	k.wg.Add(1)
	go k.run()
	return k
}

// Attach sets the driver that receives effects.
func (k *Kernel) Attach(sink ports.EffectSink) {
	k.mu.Lock()
	k.sink = sink
	k.mu.Unlock()
}

// Submit implements ports.Kernel.
func (k *Kernel) Submit(ev domain.Event) <-chan error {
	ack := make(chan error, 1)

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		ack <- domain.ErrTerminated
		return ack
	}
	select {
	case k.queue <- pending{ev: ev, ack: ack}:
	default:
		ack <- ErrQueueFull
	}
	return ack
}

// Close stops the kernel after the queued events are processed. Events
// submitted afterwards fail with domain.ErrTerminated.
func (k *Kernel) Close() {
	k.mu.Lock()
	if !k.closed {
		k.closed = true
		close(k.queue)
	}
	k.mu.Unlock()
	k.wg.Wait()
}

func (k *Kernel) run() {
	defer k.wg.Done()
	for p := range k.queue {
		p.ack <- nil
		switch p.ev.Tag {
		case domain.TagAnnounce:
			k.logger.Debug("driver announced", log.Strings("path", p.ev.Path))
		case domain.TagCommand:
			k.command(p.ev)
		default:
			k.logger.Warn("unknown event tag", log.String("tag", p.ev.Tag))
		}
	}
}

func (k *Kernel) command(ev domain.Event) {
	if m, ok := ev.Payload.(map[any]any); ok {
		if cfg, ok := m[ConfigKey]; ok {
			if addr, err := wire.Decode(ev.Path); err == nil {
				k.emit(wire.Encode(addr.Session, wire.GlobalConn, 0), domain.TagConfig, cfg)
			}
		}
	}
	k.emit(ev.Path, domain.TagReply, ev.Payload)
}

func (k *Kernel) emit(path wire.Path, tag string, payload any) {
	k.mu.Lock()
	sink := k.sink
	k.mu.Unlock()
	if sink == nil {
		k.logger.Warn("effect with no driver attached", log.String("tag", tag))
		return
	}
	if !sink.OnEffect(path, tag, payload) {
		k.logger.Warn("effect not claimed", log.Strings("path", path), log.String("tag", tag))
	}
}

var _ ports.Kernel = (*Kernel)(nil)
