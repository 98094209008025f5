package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/ctlplane/internal/cliconfig"
	"github.com/bft-labs/ctlplane/internal/loopback"
	"github.com/bft-labs/ctlplane/pkg/client"
	"github.com/bft-labs/ctlplane/pkg/ctlplane"
	plog "github.com/bft-labs/ctlplane/pkg/log"
	"github.com/bft-labs/ctlplane/plugins/configwatcher"
)

const longHelp = `Control-plane socket for an event-sourced kernel.

Clients connect to <pier>/.ctl/control.sock and exchange length-prefixed
CBOR frames. Each message becomes a command event for the kernel; replies
are routed back to the connection that sent it.

"serve" runs the driver against a loopback kernel that echoes every command,
which is useful for exercising clients. "send" delivers one JSON value and
prints the reply.`

var exampleUsage = strings.TrimSpace(`
  ctlplane serve --pier ~/piers/zod --metrics-addr 127.0.0.1:9100
  ctlplane send --pier ~/piers/zod '{"cmd":"ping"}'
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	log := cliconfig.Logger()

	// load resolves file, env and flag settings in that order of precedence,
	// lowest first.
	load := func(cmd *cobra.Command) (loaded, error) {
		cfgFile := cfgPath
		if cfgFile == "" {
			cfgFile = cliconfig.DefaultConfigPath()
		}

		changed := map[string]bool{}
		cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

		res := loaded{levelPinned: cliconfig.LevelPinned(changed)}
		if cfgFile != "" && cliconfig.FileExists(cfgFile) {
			fc, err := cliconfig.LoadFileConfig(cfgFile)
			if err != nil {
				return res, fmt.Errorf("load config: %w", err)
			}
			if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
				return res, err
			}
			res.file = cfgFile
		}

		if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
			return res, err
		}
		if err := cfg.Validate(); err != nil {
			return res, err
		}
		lvl, _ := cfg.Level()
		zerolog.SetGlobalLevel(lvl)
		return res, nil
	}

	root := &cobra.Command{
		Use:          "ctlplane",
		Short:        "Control-plane socket for an event-sourced kernel",
		Long:         longHelp,
		Example:      exampleUsage,
		Version:      fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.ctlplane/config.toml)")
	root.PersistentFlags().StringVar(&cfg.PierDir, "pier", cfg.PierDir, "pier directory the socket lives under")
	root.PersistentFlags().StringVar(&cfg.SocketPath, "socket", cfg.SocketPath, "socket path relative to the pier")
	root.PersistentFlags().Uint64Var(&cfg.MaxFrameBytes, "max-frame-bytes", cfg.MaxFrameBytes, "largest frame payload accepted or sent")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace, debug, info, warn, error)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the control socket against the loopback kernel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := load(cmd)
			if err != nil {
				return err
			}
			log.Info().Interface("config", cfg).Msg("configuration")
			return serveLoopback(cfg, res, log)
		},
	}
	serve.Flags().IntVar(&cfg.OutboxDepth, "outbox-depth", cfg.OutboxDepth, "queued outbound frames per connection")
	serve.Flags().DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "per-frame write timeout")
	serve.Flags().IntVar(&cfg.MaxNesting, "max-nesting", cfg.MaxNesting, "deepest value nesting accepted from clients")
	serve.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve Prometheus metrics on (disabled if empty)")

	var timeout time.Duration
	send := &cobra.Command{
		Use:   "send <json>",
		Short: "Send one JSON value and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := load(cmd); err != nil {
				return err
			}
			v, err := decodeJSON([]byte(args[0]))
			if err != nil {
				return fmt.Errorf("parse value: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			c, err := client.Dial(ctx, filepath.Join(cfg.PierDir, cfg.SocketPath),
				client.WithLimits(cfg.Driver().Limits()))
			if err != nil {
				return err
			}
			defer c.Close()

			reply, err := c.Call(ctx, v)
			if err != nil {
				return err
			}
			out, err := json.Marshal(toJSON(reply))
			if err != nil {
				return fmt.Errorf("render reply: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	send.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "time to wait for the reply")

	root.AddCommand(serve, send)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("ctlplane")
		os.Exit(1)
	}
}

// loaded describes where the effective configuration came from.
type loaded struct {
	file        string
	levelPinned bool
}

func serveLoopback(cfg cliconfig.Config, src loaded, log zerolog.Logger) error {
	logger := plog.NewZerologAdapterWithLogger(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	kernel := loopback.New(0, logger)
	defer kernel.Close()

	opts := []ctlplane.Option{
		ctlplane.WithLogger(logger),
		ctlplane.WithMetrics(reg),
		ctlplane.WithConfigObserver(func(payload any) {
			log.Info().Interface("payload", toJSON(payload)).Msg("config directive")
		}),
	}
	if src.file != "" {
		opts = append(opts, configwatcher.WithConfigWatcher(configwatcher.Config{
			Path:        src.file,
			Level:       cfg.LogLevel,
			LevelPinned: src.levelPinned,
		}))
	}

	drv, err := ctlplane.New(cfg.Driver(), kernel, opts...)
	if err != nil {
		return fmt.Errorf("create driver: %w", err)
	}
	kernel.Attach(drv)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server")
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := drv.Start(ctx); err != nil {
		return fmt.Errorf("start driver: %w", err)
	}

	<-ctx.Done()
	log.Info().Msg("received signal, stopping...")

	if err := drv.Shutdown(); err != nil {
		return fmt.Errorf("shutdown driver: %w", err)
	}
	return nil
}
