// Package client talks to a running control socket: it frames and encodes
// values on the way out and decodes replies on the way in.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bft-labs/ctlplane/pkg/codec"
	"github.com/bft-labs/ctlplane/pkg/frame"
)

// ErrFault is wrapped by errors Call returns when the driver answered with a
// diagnostic fault frame.
var ErrFault = errors.New("client: driver reported fault")

// Fault is a decoded diagnostic frame.
type Fault struct {
	Kind    string
	Message string
}

func (f Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap lets errors.Is match ErrFault.
func (f Fault) Unwrap() error { return ErrFault }

// AsFault reports whether v is a fault frame.
func AsFault(v any) (Fault, bool) {
	m, ok := v.(map[any]any)
	if !ok || len(m) != 2 {
		return Fault{}, false
	}
	kind, ok1 := m["fault"].(string)
	msg, ok2 := m["message"].(string)
	if !ok1 || !ok2 {
		return Fault{}, false
	}
	return Fault{Kind: kind, Message: msg}, true
}

// Client is one connection to the control socket. Send and Recv may be used
// from different goroutines; Call serialises a request with its reply.
type Client struct {
	conn   net.Conn
	codec  codec.Codec
	limits frame.Limits

	wmu sync.Mutex
	rmu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithCodec overrides the default CBOR codec.
func WithCodec(c codec.Codec) Option {
	return func(cl *Client) { cl.codec = c }
}

// WithLimits overrides the default frame limits.
func WithLimits(l frame.Limits) Option {
	return func(cl *Client) { cl.limits = l }
}

// Dial connects to the socket at path.
func Dial(ctx context.Context, path string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	c, err := New(conn, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an established connection.
func New(conn net.Conn, opts ...Option) (*Client, error) {
	c := &Client{conn: conn, limits: frame.DefaultLimits()}
	for _, opt := range opts {
		opt(c)
	}
	if c.codec == nil {
		cb, err := codec.NewCBOR(0)
		if err != nil {
			return nil, err
		}
		c.codec = cb
	}
	return c, nil
}

// Send writes v as one frame.
func (c *Client) Send(v any) error {
	b, err := c.codec.Encode(v)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := frame.Write(c.conn, b, c.limits); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Recv reads and decodes the next frame. Fault frames are returned as values;
// use AsFault to recognise them.
func (c *Client) Recv() (any, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	b, err := frame.Read(c.conn, c.limits)
	if err != nil {
		return nil, err
	}
	return c.codec.Decode(b)
}

// Call sends v and waits for the next frame, honouring ctx's deadline. A
// fault frame is returned as an error wrapping ErrFault.
func (c *Client) Call(ctx context.Context, v any) (any, error) {
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(dl)
		defer c.conn.SetDeadline(time.Time{})
	}
	if err := c.Send(v); err != nil {
		return nil, err
	}
	reply, err := c.Recv()
	if err != nil {
		return nil, err
	}
	if f, ok := AsFault(reply); ok {
		return nil, f
	}
	return reply, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
