package configwatcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bft-labs/ctlplane/pkg/ctlplane"
)

type levelRecorder struct {
	mu     sync.Mutex
	levels []zerolog.Level
}

func (r *levelRecorder) set(l zerolog.Level) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, l)
}

func (r *levelRecorder) last() (zerolog.Level, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.levels) == 0 {
		return zerolog.NoLevel, 0
	}
	return r.levels[len(r.levels)-1], len(r.levels)
}

func writeConfig(t *testing.T, path, level string) {
	t.Helper()
	body := "pier = \"/tmp/pier\"\nlog_level = \"" + level + "\"\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestPlugin_ReloadsLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeConfig(t, path, "info")

	rec := &levelRecorder{}
	p := New(Config{Path: path, DebounceDelay: 10 * time.Millisecond, SetLevel: rec.set})

	if err := p.Initialize(context.Background(), ctlplane.PluginConfig{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer p.Shutdown(context.Background())

	if lvl, n := rec.last(); lvl != zerolog.InfoLevel || n != 1 {
		t.Fatalf("initial level = %v (%d calls), want info", lvl, n)
	}

	writeConfig(t, path, "debug")

	deadline := time.Now().Add(2 * time.Second)
	for p.Level() != zerolog.DebugLevel {
		if time.Now().After(deadline) {
			t.Fatalf("level not reloaded, still %v", p.Level())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if lvl, _ := rec.last(); lvl != zerolog.DebugLevel {
		t.Errorf("SetLevel last = %v, want debug", lvl)
	}
}

func TestPlugin_PinnedLevelOutranksFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeConfig(t, path, "warn")

	rec := &levelRecorder{}
	p := New(Config{
		Path:          path,
		DebounceDelay: 10 * time.Millisecond,
		SetLevel:      rec.set,
		Level:         "debug",
		LevelPinned:   true,
	})
	if err := p.Initialize(context.Background(), ctlplane.PluginConfig{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer p.Shutdown(context.Background())

	if _, n := rec.last(); n != 0 {
		t.Fatalf("SetLevel called %d times at startup", n)
	}

	writeConfig(t, path, "error")
	time.Sleep(200 * time.Millisecond)

	if _, n := rec.last(); n != 0 {
		t.Errorf("SetLevel called %d times after file edit", n)
	}
	if p.Level() != zerolog.DebugLevel {
		t.Errorf("Level = %v, want debug", p.Level())
	}
}

func TestPlugin_SkipsLevelAlreadyInEffect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeConfig(t, path, "info")

	rec := &levelRecorder{}
	p := New(Config{Path: path, DebounceDelay: 10 * time.Millisecond, SetLevel: rec.set, Level: "info"})
	if err := p.Initialize(context.Background(), ctlplane.PluginConfig{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer p.Shutdown(context.Background())

	if _, n := rec.last(); n != 0 {
		t.Fatalf("SetLevel called %d times for unchanged level", n)
	}

	writeConfig(t, path, "warn")
	deadline := time.Now().Add(2 * time.Second)
	for p.Level() != zerolog.WarnLevel {
		if time.Now().After(deadline) {
			t.Fatalf("level not reloaded, still %v", p.Level())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if lvl, n := rec.last(); lvl != zerolog.WarnLevel || n != 1 {
		t.Errorf("SetLevel last = %v (%d calls), want warn once", lvl, n)
	}
}

func TestPlugin_IgnoresBadLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeConfig(t, path, "shouting")

	rec := &levelRecorder{}
	p := New(Config{Path: path, SetLevel: rec.set})
	if err := p.Initialize(context.Background(), ctlplane.PluginConfig{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer p.Shutdown(context.Background())

	if _, n := rec.last(); n != 0 {
		t.Errorf("SetLevel called %d times for invalid level", n)
	}
	if p.Level() != zerolog.NoLevel {
		t.Errorf("Level = %v, want NoLevel", p.Level())
	}
}

func TestPlugin_Disabled(t *testing.T) {
	p := New(DefaultConfig())
	if err := p.Initialize(context.Background(), ctlplane.PluginConfig{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestPlugin_MissingDirectory(t *testing.T) {
	p := New(Config{Path: "/nonexistent/dir/config.toml"})
	if err := p.Initialize(context.Background(), ctlplane.PluginConfig{}); err == nil {
		t.Error("Initialize succeeded for unwatchable directory")
	}
}

func TestPlugin_Name(t *testing.T) {
	if got := New(DefaultConfig()).Name(); got != "configwatcher" {
		t.Errorf("Name() = %q", got)
	}
}
