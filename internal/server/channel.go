package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bft-labs/ctlplane/internal/domain"
	"github.com/bft-labs/ctlplane/pkg/codec"
	"github.com/bft-labs/ctlplane/pkg/frame"
	"github.com/bft-labs/ctlplane/pkg/log"
	"github.com/bft-labs/ctlplane/pkg/wire"
)

// Fault kinds reported to clients in diagnostic frames.
const (
	FaultDecode    = "decode"
	FaultOversize  = "oversize"
	FaultVersion   = "version"
	FaultTruncated = "truncated"
	FaultIO        = "io"
)

// Fault is the diagnostic message sent to a client before the driver drops
// an input it could not handle.
type Fault struct {
	Kind    string `cbor:"fault"`
	Message string `cbor:"message"`
}

// Channel is one accepted client connection. Reads happen on a dedicated
// goroutine; writes are queued to a bounded outbox drained in FIFO order.
type Channel struct {
	id    uint32
	conn  net.Conn
	owner *Listener
	out   chan []byte

	mu     sync.Mutex
	closed bool
	// flushBy bounds the whole drain once the channel is draining.
	flushBy time.Time
}

func newChannel(id uint32, conn net.Conn, owner *Listener) *Channel {
	return &Channel{
		id:    id,
		conn:  conn,
		owner: owner,
		out:   make(chan []byte, owner.cfg.OutboxDepth),
	}
}

// ID returns the connection id.
func (c *Channel) ID() uint32 { return c.id }

// Path returns the wire address used for events from this connection.
func (c *Channel) Path() wire.Path {
	return wire.Encode(c.owner.cfg.Session, c.id, 0)
}

// Send encodes v and queues it for writing. Failures are logged and counted;
// the returned error is for callers that want to react to them.
func (c *Channel) Send(v any) error {
	cfg := &c.owner.cfg
	b, err := cfg.Codec.Encode(v)
	if err != nil {
		cfg.Logger.Warn("send encode failed", log.Uint32("conn", c.id), log.Err(err))
		cfg.Metrics.SendFailed("encode")
		return err
	}
	buf, err := frame.Append(nil, b, cfg.Limits)
	if err != nil {
		cfg.Logger.Warn("send frame failed",
			log.Uint32("conn", c.id),
			log.Int("bytes", len(b)),
			log.Err(err),
		)
		cfg.Metrics.SendFailed("too_large")
		return err
	}
	if err := c.enqueue(buf); err != nil {
		cfg.Logger.Warn("send dropped", log.Uint32("conn", c.id), log.Err(err))
		cfg.Metrics.SendFailed(reason(err))
		return err
	}
	return nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, domain.ErrOutboxFull):
		return "outbox_full"
	case errors.Is(err, domain.ErrChannelClosed):
		return "closed"
	default:
		return "other"
	}
}

func (c *Channel) enqueue(buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrChannelClosed
	}
	select {
	case c.out <- buf:
		return nil
	default:
		return domain.ErrOutboxFull
	}
}

// isClosed reports whether the channel has been stopped or is draining.
func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// stop closes the connection immediately, discarding queued writes.
func (c *Channel) stop() {
	c.closeOutbox()
	c.conn.Close()
}

// drain stops accepting writes and lets the writer flush what is queued
// before it closes the connection. The flush shares one write timeout.
func (c *Channel) drain() {
	c.mu.Lock()
	c.flushBy = time.Now().Add(c.owner.cfg.WriteTimeout)
	c.mu.Unlock()
	c.closeOutbox()
}

func (c *Channel) writeDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.flushBy.IsZero() {
		return c.flushBy
	}
	return time.Now().Add(c.owner.cfg.WriteTimeout)
}

func (c *Channel) closeOutbox() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

func (c *Channel) readLoop() {
	defer c.owner.wg.Done()

	cfg := &c.owner.cfg
	for {
		payload, err := frame.Read(c.conn, cfg.Limits)
		if err != nil {
			c.readFailed(err)
			return
		}
		cfg.Metrics.FrameReceived()
		c.onFrame(payload)
	}
}

func (c *Channel) onFrame(payload []byte) {
	cfg := &c.owner.cfg
	v, err := cfg.Codec.Decode(payload)
	if err != nil {
		cfg.Logger.Warn("dropping undecodable frame",
			log.Uint32("conn", c.id),
			log.Int("bytes", len(payload)),
			log.Err(err),
		)
		c.fault(FaultDecode, err)
		return
	}
	cfg.Kernel.Submit(domain.Event{
		Path:    c.Path(),
		Tag:     domain.TagCommand,
		Payload: v,
	})
}

func (c *Channel) readFailed(err error) {
	if c.isClosed() {
		return
	}
	cfg := &c.owner.cfg
	if errors.Is(err, io.EOF) {
		if c.owner.remove(c) {
			cfg.Logger.Debug("connection closed by peer", log.Uint32("conn", c.id))
		}
		c.stop()
		return
	}

	kind := classify(err)
	cfg.Logger.Warn("connection read failed",
		log.Uint32("conn", c.id),
		log.String("fault", kind),
		log.Err(err),
	)
	c.fault(kind, err)
	if !c.owner.retire(c) {
		c.stop()
		return
	}
	c.drain()
}

func classify(err error) string {
	switch {
	case errors.Is(err, frame.ErrPayloadTooLarge):
		return FaultOversize
	case errors.Is(err, frame.ErrVersion):
		return FaultVersion
	case errors.Is(err, io.ErrUnexpectedEOF):
		return FaultTruncated
	case errors.Is(err, codec.ErrDecode):
		return FaultDecode
	default:
		return FaultIO
	}
}

func (c *Channel) fault(kind string, err error) {
	c.owner.cfg.Metrics.Fault(kind)
	c.Send(Fault{Kind: kind, Message: err.Error()})
}

func (c *Channel) writeLoop() {
	defer c.owner.wg.Done()
	defer c.conn.Close()
	defer c.owner.forget(c)

	cfg := &c.owner.cfg
	for buf := range c.out {
		if err := c.conn.SetWriteDeadline(c.writeDeadline()); err != nil {
			cfg.Logger.Debug("set write deadline", log.Uint32("conn", c.id), log.Err(err))
		}
		if _, err := c.conn.Write(buf); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			cfg.Logger.Warn("connection write failed",
				log.Uint32("conn", c.id),
				log.Err(fmt.Errorf("write frame: %w", err)),
			)
			cfg.Metrics.SendFailed("write")
			continue
		}
		cfg.Metrics.FrameSent()
	}
}
