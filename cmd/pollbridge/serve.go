package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/pollbridge/internal/api"
	"github.com/mattjoyce/pollbridge/internal/bridge"
	"github.com/mattjoyce/pollbridge/internal/config"
	"github.com/mattjoyce/pollbridge/internal/events"
	"github.com/mattjoyce/pollbridge/internal/forward"
	"github.com/mattjoyce/pollbridge/internal/journal"
	"github.com/mattjoyce/pollbridge/internal/lock"
	"github.com/mattjoyce/pollbridge/internal/log"
	"github.com/mattjoyce/pollbridge/internal/metrics"
	"github.com/mattjoyce/pollbridge/internal/observability"
	"github.com/mattjoyce/pollbridge/internal/tools"
)

const retentionInterval = time.Hour

func serveCmd() *cobra.Command {
	var (
		stdio  bool
		listen string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		Long: `Run the bridge: serve the executor endpoints on bridge.listen and, with
--stdio, the assistant-facing MCP tools on stdin/stdout.

If bridge.listen is already taken by another pollbridge and forwarding is
enabled, tool calls are relayed to that bridge instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Bridge.Listen = listen
			}

			log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, stdio)
		},
	}

	cmd.Flags().BoolVar(&stdio, "stdio", false, "Serve MCP tools on stdin/stdout")
	cmd.Flags().StringVar(&listen, "listen", "", "Override bridge.listen")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, stdio bool) error {
	logger := log.WithComponent("main")

	fingerprint, err := config.Fingerprint(cfg)
	if err != nil {
		return err
	}
	logger.Info("pollbridge starting",
		"version", version,
		"config", configSource(cfg),
		"config_fingerprint", shortenCommit(fingerprint),
	)

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Service.Name,
		Version:     version,
		SampleRate:  cfg.Telemetry.SampleRate,
	}); err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	ln, err := net.Listen("tcp", cfg.Bridge.Listen)
	if err != nil {
		if !cfg.Forward.Enabled || !errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("listen %s: %w", cfg.Bridge.Listen, err)
		}
		logger.Warn("listen address in use; forwarding tool calls to the bridge there", "listen", cfg.Bridge.Listen)
		ln = nil
	}

	hub := events.NewHub(256)
	observers := []bridge.Observer{events.NewRecorder(hub)}

	var b *bridge.Bridge
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New("pollbridge", func() bridge.Stats { return b.Stats() })
		observers = append(observers, m)
	}

	var j *journal.Journal
	if ln != nil && cfg.Journal.Path != "" {
		pidLock, err := lock.AcquirePIDLock(lock.PathFor(cfg.Journal.Path))
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("journal %s: %w", cfg.Journal.Path, err)
		}
		defer pidLock.Release()

		j, err = journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		observers = append(observers, j)
		logger.Info("journal opened", "path", cfg.Journal.Path, "retention", cfg.Journal.Retention)
	}

	b = bridge.New(
		bridge.WithLogger(log.WithComponent("bridge")),
		bridge.WithObserver(bridge.Observers(observers...)),
		bridge.WithPollTimeout(cfg.Bridge.PollTimeout),
		bridge.WithInvocationTimeout(cfg.Bridge.InvocationTimeout),
		bridge.WithExecutorIdleGap(cfg.Bridge.ExecutorIdleGap),
		bridge.WithRecentIDs(cfg.Bridge.RecentIDs),
	)
	defer b.Close()

	g, gctx := errgroup.WithContext(ctx)

	// Closing the bridge releases every waiting caller and poller, which lets
	// the HTTP server drain.
	g.Go(func() error {
		<-gctx.Done()
		return b.Close()
	})

	if ln != nil {
		apiConfig := api.Config{
			Listen:       cfg.Bridge.Listen,
			Version:      version,
			MaxBodyBytes: cfg.Bridge.MaxBodyBytes,
			Events:       hub,
		}
		if m != nil {
			apiConfig.Metrics = m.Handler()
			apiConfig.OnProxied = m.Proxied
		}
		srv := api.New(apiConfig, b, log.WithComponent("api"))
		g.Go(func() error {
			if err := srv.Serve(gctx, ln); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})

		if j != nil {
			g.Go(func() error {
				j.RunRetention(gctx, cfg.Journal.Retention, retentionInterval)
				return nil
			})
		}
	} else {
		client := &http.Client{Timeout: cfg.Forward.RequestTimeout}
		fwd := forward.New("http://"+dialAddr(cfg.Bridge.Listen), b,
			forward.WithHTTPClient(client),
			forward.WithMaxInFlight(cfg.Forward.MaxInFlight),
			forward.WithMaxBodyBytes(cfg.Bridge.MaxBodyBytes),
			forward.WithLogger(log.WithComponent("forward")),
		)
		g.Go(func() error {
			return fwd.Run(gctx)
		})
	}

	if stdio {
		toolServer := tools.NewServer(b, version, log.WithComponent("tools"))
		g.Go(func() error {
			if err := toolServer.RunStdio(gctx); err != nil || gctx.Err() != nil {
				return err
			}
			// The assistant closed stdin; nothing is left to serve.
			logger.Info("MCP client disconnected")
			return errClientGone
		})
	}

	logger.Info("pollbridge running", "listen", cfg.Bridge.Listen, "primary", ln != nil, "stdio", stdio)

	err = g.Wait()
	if errors.Is(err, errClientGone) {
		err = nil
	}
	logger.Info("pollbridge stopped")
	return err
}

var errClientGone = errors.New("mcp client disconnected")

// dialAddr turns a listen address into one a client can connect to.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func configSource(cfg *config.Config) string {
	if cfg.SourcePath == "" {
		return "<defaults>"
	}
	return cfg.SourcePath
}
