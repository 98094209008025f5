package loopback

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/ctlplane/internal/domain"
	"github.com/bft-labs/ctlplane/pkg/wire"
)

type effect struct {
	path    wire.Path
	tag     string
	payload any
}

type recordingSink struct {
	mu      sync.Mutex
	effects []effect
	claim   bool
}

func (s *recordingSink) OnEffect(path wire.Path, tag string, payload any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.effects = append(s.effects, effect{path, tag, payload})
	return s.claim
}

func (s *recordingSink) all() []effect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]effect(nil), s.effects...)
}

func wait(t *testing.T, ack <-chan error) error {
	t.Helper()
	select {
	case err := <-ack:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ack")
		return nil
	}
}

func TestKernel_EchoesCommands(t *testing.T) {
	k := New(0, nil)
	sink := &recordingSink{claim: true}
	k.Attach(sink)

	path := wire.Encode(5, 1, 0)
	if err := wait(t, k.Submit(domain.Event{Path: wire.Encode(5, 0, 0), Tag: domain.TagAnnounce})); err != nil {
		t.Fatalf("announce ack: %v", err)
	}
	for _, v := range []any{"a", "b"} {
		if err := wait(t, k.Submit(domain.Event{Path: path, Tag: domain.TagCommand, Payload: v})); err != nil {
			t.Fatalf("command ack: %v", err)
		}
	}
	k.Close()

	want := []effect{
		{path, domain.TagReply, "a"},
		{path, domain.TagReply, "b"},
	}
	if got := sink.all(); !reflect.DeepEqual(got, want) {
		t.Errorf("effects = %+v, want %+v", got, want)
	}
}

func TestKernel_ConfigCommand(t *testing.T) {
	k := New(0, nil)
	sink := &recordingSink{claim: true}
	k.Attach(sink)

	payload := map[any]any{ConfigKey: "debug"}
	wait(t, k.Submit(domain.Event{Path: wire.Encode(9, 2, 0), Tag: domain.TagCommand, Payload: payload}))
	k.Close()

	got := sink.all()
	if len(got) != 2 {
		t.Fatalf("got %d effects, want 2", len(got))
	}
	if got[0].tag != domain.TagConfig || !reflect.DeepEqual(got[0].path, wire.Encode(9, 0, 0)) || got[0].payload != "debug" {
		t.Errorf("config effect = %+v", got[0])
	}
	if got[1].tag != domain.TagReply {
		t.Errorf("second effect = %+v", got[1])
	}
}

func TestKernel_SubmitAfterClose(t *testing.T) {
	k := New(0, nil)
	k.Close()
	k.Close()

	if err := wait(t, k.Submit(domain.Event{Tag: domain.TagCommand})); !errors.Is(err, domain.ErrTerminated) {
		t.Errorf("err = %v, want ErrTerminated", err)
	}
}

func TestKernel_NoSink(t *testing.T) {
	k := New(1, nil)
	defer k.Close()
	if err := wait(t, k.Submit(domain.Event{Path: wire.Encode(1, 1, 0), Tag: domain.TagCommand, Payload: 1})); err != nil {
		t.Errorf("ack err = %v", err)
	}
}
