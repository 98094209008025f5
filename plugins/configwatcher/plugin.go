// Package configwatcher provides config file monitoring for ctlplane.
// When enabled, it watches the CLI's TOML config file and applies a changed
// log_level without restarting the driver.
package configwatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/bft-labs/ctlplane/pkg/ctlplane"
	"github.com/bft-labs/ctlplane/pkg/log"
)

// Plugin reloads the log level when the config file changes.
type Plugin struct {
	mu sync.Mutex

	// Configuration
	path          string
	debounceDelay time.Duration
	setLevel      func(zerolog.Level)
	pinned        bool

	// Runtime state
	logger   log.Logger
	level    zerolog.Level
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// Path is the TOML file to watch. An empty path disables the plugin.
	Path string

	// DebounceDelay is the delay to wait after a file change before reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration

	// SetLevel applies a new level.
	// Default: zerolog.SetGlobalLevel
	SetLevel func(zerolog.Level)

	// Level is the level already in effect when the plugin starts. The file
	// is only applied when it names a different one. Empty means unknown.
	Level string

	// LevelPinned marks the level as set by a flag or the environment.
	// The file's log_level is then ignored.
	LevelPinned bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 100 * time.Millisecond,
		SetLevel:      zerolog.SetGlobalLevel,
	}
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	if cfg.SetLevel == nil {
		cfg.SetLevel = zerolog.SetGlobalLevel
	}
	level := zerolog.NoLevel
	if cfg.Level != "" {
		if l, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = l
		}
	}
	return &Plugin{
		path:          cfg.Path,
		debounceDelay: cfg.DebounceDelay,
		setLevel:      cfg.SetLevel,
		pinned:        cfg.LevelPinned,
		level:         level,
		logger:        log.NewNoopLogger(),
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize applies the current file once and starts watching it.
func (p *Plugin) Initialize(ctx context.Context, cfg ctlplane.PluginConfig) error {
	p.mu.Lock()
	if cfg.Logger != nil {
		p.logger = cfg.Logger
	}
	p.mu.Unlock()

	if p.path == "" {
		p.logger.Warn("config watcher disabled: no config file")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen too.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(p.path), err)
	}

	p.reload()

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)

	p.logger.Info("config watcher plugin initialized", log.String("path", p.path))
	return nil
}

// Shutdown stops the config watcher.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()
	return nil
}

// Level returns the level in effect, or zerolog.NoLevel if unknown.
func (p *Plugin) Level() zerolog.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p.debounceReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceReload() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.debounceDelay, p.reload)
}

// levelFile is the subset of the config file this plugin reads.
type levelFile struct {
	LogLevel string `toml:"log_level"`
}

func (p *Plugin) reload() {
	b, err := os.ReadFile(p.path)
	if err != nil {
		p.logger.Warn("config watcher: read failed", log.String("path", p.path), log.Err(err))
		return
	}
	var f levelFile
	if err := toml.Unmarshal(b, &f); err != nil {
		p.logger.Warn("config watcher: parse failed", log.String("path", p.path), log.Err(err))
		return
	}
	if f.LogLevel == "" {
		return
	}
	lvl, err := zerolog.ParseLevel(f.LogLevel)
	if err != nil {
		p.logger.Warn("config watcher: bad log level", log.String("level", f.LogLevel))
		return
	}

	p.mu.Lock()
	changed := lvl != p.level
	if changed && !p.pinned {
		p.level = lvl
	}
	p.mu.Unlock()
	if !changed {
		return
	}
	if p.pinned {
		p.logger.Info("config watcher: log_level in file ignored, level set by flag or environment",
			log.String("file_level", lvl.String()))
		return
	}
	p.setLevel(lvl)
	p.logger.Info("log level reloaded", log.String("level", lvl.String()))
}

// Ensure Plugin implements ctlplane.Plugin.
var _ ctlplane.Plugin = (*Plugin)(nil)
