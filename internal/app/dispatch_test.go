package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/ctlplane/internal/domain"
	"github.com/bft-labs/ctlplane/internal/observability"
	"github.com/bft-labs/ctlplane/pkg/log"
	"github.com/bft-labs/ctlplane/pkg/wire"
)

const session = 0xbeef

type fakeSender struct {
	sent []any
	err  error
}

func (f *fakeSender) Send(v any) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, v)
	return nil
}

type fakeConns map[uint32]*fakeSender

func (f fakeConns) Connection(id uint32) (Sender, bool) {
	s, ok := f[id]
	return s, ok
}

// recordingLogger captures messages by level.
type recordingLogger struct {
	mu   sync.Mutex
	warn []string
	info []string
}

func (r *recordingLogger) Debug(msg string, fields ...log.Field) {}
func (r *recordingLogger) Error(msg string, fields ...log.Field) {}

func (r *recordingLogger) Info(msg string, fields ...log.Field) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info = append(r.info, msg)
}

func (r *recordingLogger) Warn(msg string, fields ...log.Field) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warn = append(r.warn, msg)
}

func effectCount(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "ctlplane_effects_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" && lp.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func newTestDispatcher(t *testing.T, onConfig ConfigObserver) (*Dispatcher, *recordingLogger, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	logger := &recordingLogger{}
	return NewDispatcher(session, logger, m, onConfig), logger, reg
}

func TestDispatch_Reply(t *testing.T) {
	d, _, reg := newTestDispatcher(t, nil)
	one, two := &fakeSender{}, &fakeSender{}
	conns := fakeConns{1: one, 2: two}

	ok := d.Dispatch(wire.Encode(session, 1, 0), domain.TagReply, "Q", conns)
	if !ok {
		t.Fatal("reply effect not accepted")
	}
	if len(one.sent) != 1 || one.sent[0] != "Q" {
		t.Errorf("conn 1 got %v, want [Q]", one.sent)
	}
	if len(two.sent) != 0 {
		t.Errorf("conn 2 got %v, want nothing", two.sent)
	}
	if got := effectCount(t, reg, observability.EffectDelivered); got != 1 {
		t.Errorf("delivered = %v, want 1", got)
	}
}

func TestDispatch_Dropped(t *testing.T) {
	tests := []struct {
		name    string
		path    wire.Path
		tag     string
		conns   Connections
		outcome string
	}{
		{
			name:    "unknown connection",
			path:    wire.Encode(session, 7, 0),
			tag:     domain.TagReply,
			conns:   fakeConns{1: {}},
			outcome: observability.EffectUnknownConn,
		},
		{
			name:    "stale session",
			path:    wire.Encode(session+1, 1, 0),
			tag:     domain.TagReply,
			conns:   fakeConns{1: {}},
			outcome: observability.EffectStale,
		},
		{
			name:    "unknown tag",
			path:    wire.Encode(session, 1, 0),
			tag:     "bogus",
			conns:   fakeConns{1: {}},
			outcome: observability.EffectUnknownTag,
		},
		{
			name:    "config on a connection",
			path:    wire.Encode(session, 1, 0),
			tag:     domain.TagConfig,
			conns:   fakeConns{1: {}},
			outcome: observability.EffectUnknownTag,
		},
		{
			name:    "unknown global tag",
			path:    wire.Encode(session, 0, 0),
			tag:     domain.TagReply,
			conns:   fakeConns{},
			outcome: observability.EffectUnknownTag,
		},
		{
			name:    "malformed path",
			path:    wire.Path{wire.Driver, "not-a-uv"},
			tag:     domain.TagReply,
			conns:   fakeConns{},
			outcome: observability.EffectMalformed,
		},
		{
			name:    "not live",
			path:    wire.Encode(session, 1, 0),
			tag:     domain.TagReply,
			conns:   nil,
			outcome: observability.EffectNotLive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, logger, reg := newTestDispatcher(t, nil)
			if !d.Dispatch(tt.path, tt.tag, "Q", tt.conns) {
				t.Fatal("effect for this driver was not accepted")
			}
			if fc, ok := tt.conns.(fakeConns); ok {
				for id, s := range fc {
					if len(s.sent) != 0 {
						t.Errorf("conn %d received %v", id, s.sent)
					}
				}
			}
			if got := effectCount(t, reg, tt.outcome); got != 1 {
				t.Errorf("%s = %v, want 1", tt.outcome, got)
			}
			if len(logger.warn) != 1 {
				t.Errorf("warnings = %v, want one", logger.warn)
			}
		})
	}
}

func TestDispatch_Foreign(t *testing.T) {
	d, logger, reg := newTestDispatcher(t, nil)
	one := &fakeSender{}

	for _, p := range []wire.Path{
		{"behn", "0v1", "1"},
		{},
		nil,
	} {
		if d.Dispatch(p, domain.TagReply, "Q", fakeConns{1: one}) {
			t.Errorf("Dispatch(%v) accepted a foreign effect", p)
		}
	}
	if len(one.sent) != 0 || len(logger.warn) != 0 {
		t.Errorf("foreign effect had side effects: sent=%v warn=%v", one.sent, logger.warn)
	}
	families, _ := reg.Gather()
	for _, mf := range families {
		if mf.GetName() == "ctlplane_effects_total" && len(mf.GetMetric()) > 0 {
			t.Errorf("foreign effect was counted")
		}
	}
}

func TestDispatch_GlobalConfig(t *testing.T) {
	var got []any
	d, logger, reg := newTestDispatcher(t, func(payload any) { got = append(got, payload) })
	conn := &fakeSender{}

	if !d.Dispatch(wire.Encode(session, 0, 0), domain.TagConfig, map[string]any{"verbose": true}, fakeConns{1: conn}) {
		t.Fatal("config effect not accepted")
	}
	if len(got) != 1 {
		t.Fatalf("observer called %d times, want 1", len(got))
	}
	if len(conn.sent) != 0 {
		t.Errorf("config effect sent a frame: %v", conn.sent)
	}
	if len(logger.info) != 1 {
		t.Errorf("info logs = %v, want one", logger.info)
	}
	if c := effectCount(t, reg, observability.EffectGlobal); c != 1 {
		t.Errorf("global = %v, want 1", c)
	}
}

func TestDispatch_SendFailureStillAccepted(t *testing.T) {
	d, _, reg := newTestDispatcher(t, nil)
	conn := &fakeSender{err: domain.ErrOutboxFull}

	if !d.Dispatch(wire.Encode(session, 3, 0), domain.TagReply, "Q", fakeConns{3: conn}) {
		t.Fatal("effect not accepted")
	}
	if c := effectCount(t, reg, observability.EffectDelivered); c != 0 {
		t.Errorf("delivered = %v, want 0", c)
	}
	if !errors.Is(conn.err, domain.ErrOutboxFull) {
		t.Fatal("sender error changed")
	}
}

func TestDispatch_NilMetrics(t *testing.T) {
	d := NewDispatcher(session, nil, nil, nil)
	conn := &fakeSender{}
	if !d.Dispatch(wire.Encode(session, 1, 0), domain.TagReply, 1, fakeConns{1: conn}) {
		t.Fatal("effect not accepted")
	}
	if !d.Dispatch(wire.Encode(session, 0, 0), domain.TagConfig, nil, fakeConns{}) {
		t.Fatal("config effect not accepted")
	}
	if len(conn.sent) != 1 {
		t.Errorf("sent = %v", conn.sent)
	}
}
