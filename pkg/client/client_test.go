package client

import (
	"context"
	"errors"
	"io"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/bft-labs/ctlplane/pkg/codec"
	"github.com/bft-labs/ctlplane/pkg/frame"
)

// echoPeer answers each frame with the same payload, or with a fault frame
// when the payload equals "boom".
func echoPeer(t *testing.T, conn net.Conn) {
	t.Helper()
	cb, _ := codec.NewCBOR(0)
	go func() {
		defer conn.Close()
		for {
			b, err := frame.Read(conn, frame.DefaultLimits())
			if err != nil {
				return
			}
			v, err := cb.Decode(b)
			if err == nil && v == "boom" {
				b, _ = cb.Encode(map[string]string{"fault": "decode", "message": "bad"})
			}
			if err := frame.Write(conn, b, frame.DefaultLimits()); err != nil {
				return
			}
		}
	}()
}

func newPair(t *testing.T) *Client {
	t.Helper()
	a, b := net.Pipe()
	echoPeer(t, b)
	c, err := New(a)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_Call(t *testing.T) {
	c := newPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := c.Call(ctx, map[string]any{"cmd": "ping", "n": 3})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	want := map[any]any{"cmd": "ping", "n": uint64(3)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("reply = %#v, want %#v", got, want)
	}
}

func TestClient_CallFault(t *testing.T) {
	c := newPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.Call(ctx, "boom")
	if !errors.Is(err, ErrFault) {
		t.Fatalf("err = %v, want ErrFault", err)
	}
	var f Fault
	if !errors.As(err, &f) || f.Kind != "decode" || f.Message != "bad" {
		t.Errorf("fault = %+v", f)
	}
}

func TestClient_RecvEOF(t *testing.T) {
	a, b := net.Pipe()
	c, _ := New(a)
	defer c.Close()
	b.Close()

	if _, err := c.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("Recv err = %v, want EOF", err)
	}
}

func TestAsFault(t *testing.T) {
	tests := []struct {
		name string
		v    any
		ok   bool
	}{
		{"fault", map[any]any{"fault": "io", "message": "x"}, true},
		{"extra key", map[any]any{"fault": "io", "message": "x", "y": 1}, false},
		{"wrong type", map[any]any{"fault": 1, "message": "x"}, false},
		{"not a map", "fault", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := AsFault(tt.v); ok != tt.ok {
				t.Errorf("AsFault(%#v) ok = %v, want %v", tt.v, ok, tt.ok)
			}
		})
	}
}

func TestDial_Missing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Dial(ctx, "/nonexistent/ctl.sock"); err == nil {
		t.Error("expected dial error")
	}
}
