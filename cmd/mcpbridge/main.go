// Command mcpbridge supervises a single MCP server child process and
// exposes it over SSE, WebSocket, and plain HTTP POST with a configurable
// filter chain.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/mcpbridge/internal/broker"
	"github.com/gaspardpetit/mcpbridge/internal/catalog"
	"github.com/gaspardpetit/mcpbridge/internal/child"
	"github.com/gaspardpetit/mcpbridge/internal/config"
	"github.com/gaspardpetit/mcpbridge/internal/contentfilter"
	"github.com/gaspardpetit/mcpbridge/internal/filter"
	"github.com/gaspardpetit/mcpbridge/internal/httpapi"
	"github.com/gaspardpetit/mcpbridge/internal/logx"
	"github.com/gaspardpetit/mcpbridge/internal/metrics"
	"github.com/gaspardpetit/mcpbridge/internal/session"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const exitOK = 0
const exitBadFlags = 1
const exitChildFailedToStart = 2
const exitRestartBudgetExhausted = 3

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version information and exit")

	var cfg config.BridgeConfig
	cfg.BindFlags()

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "mcpbridge supervises a stdio MCP server and exposes it over HTTP.\n\nUsage:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("mcpbridge %s (commit %s, built %s)\n", version, commit, date)
		return exitOK
	}

	metricsPortSet := os.Getenv("BRIDGE_METRICS_PORT") != ""
	if cfg.ConfigFile != "" {
		metricsPortBefore := cfg.MetricsPort
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mcpbridge: failed to load %s: %v\n", cfg.ConfigFile, err)
			return exitBadFlags
		}
		metricsPortSet = metricsPortSet || cfg.MetricsPort != metricsPortBefore
		// Command-line flags take precedence over values from the file.
		flag.Parse()
	}
	flag.Visit(func(f *flag.Flag) {
		metricsPortSet = metricsPortSet || f.Name == "metrics-port"
	})
	if !metricsPortSet {
		cfg.MetricsPort = cfg.Port
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "mcpbridge: %v\n", err)
		flag.Usage()
		return exitBadFlags
	}

	logx.Configure(cfg.LogLevel)
	if err := logx.ConfigureOutput(cfg.LogLocation, cfg.LogPattern); err != nil {
		fmt.Fprintf(os.Stderr, "mcpbridge: failed to configure log output: %v\n", err)
		return exitBadFlags
	}
	metrics.SetBuildInfo(version, commit, date)

	sessions := session.New(cfg.MaxQueueDepth, cfg.HardCapMultiple, cfg.IdleTimeout, cfg.DetachGrace)

	chain := filter.New()
	filter.RegisterBuiltins(chain, cfg.NodeID)

	var contentMW *contentfilter.Middleware
	if cfg.ContentFilterCfg != "" {
		raw, err := os.ReadFile(cfg.ContentFilterCfg)
		if err != nil {
			logx.Log.Error().Err(err).Msg("mcpbridge: failed to read content filter config")
			return exitBadFlags
		}
		cfcfg, err := contentfilter.ParseConfig(raw)
		if err != nil {
			logx.Log.Error().Err(err).Msg("mcpbridge: failed to parse content filter config")
			return exitBadFlags
		}
		contentMW = contentfilter.New(cfcfg)
		contentMW.Register(chain)
	}

	var cat *catalog.Catalog
	if cfg.CatalogFile != "" {
		c, err := catalog.Load(cfg.CatalogFile)
		if err != nil {
			logx.Log.Error().Err(err).Msg("mcpbridge: failed to load catalog file")
			return exitBadFlags
		}
		cat = c
	} else {
		cat = catalog.Empty()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := child.New(cfg.ChildCommand, cfg.ChildArgs, cfg.ChildEnv, cfg.StartupGrace, cfg.MaxRestarts, nil)
	if err := sup.Start(ctx); err != nil {
		logx.Log.Error().Err(err).Msg("mcpbridge: failed to start child process")
		return exitChildFailedToStart
	}

	if !waitForReadyOrTerminal(sup, cfg.StartupGrace) {
		logx.Log.Error().Msg("mcpbridge: child did not become ready within the startup grace period")
		return exitChildFailedToStart
	}
	if sup.Health() == child.Terminal {
		return exitRestartBudgetExhausted
	}

	b := broker.New(sup, sessions, chain, cat, cfg.MaxInFlight, broker.Options{
		BroadcastServerRequests: cfg.BroadcastServerRequests,
		LocalInitialize:         cfg.LocalInitialize,
		ProtocolVersion:         "2024-11-05",
		RequestTimeout:          cfg.RequestTimeout,
	})

	metrics.Register(prometheus.DefaultRegisterer)

	go sweepLoop(ctx, sessions, b, cfg.RequestTimeout)

	handler := httpapi.New(b, sessions, &cfg, contentMW)

	mainSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler}
	var metricsSrv *http.Server
	if cfg.MetricsPort != 0 && cfg.MetricsPort != cfg.Port {
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: promhttp.Handler()}
	}

	serveErrCh := make(chan error, 2)
	go func() {
		logx.Log.Info().Int("port", cfg.Port).Msg("mcpbridge: listening")
		if err := mainSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
	}()
	if metricsSrv != nil {
		go func() {
			logx.Log.Info().Int("port", cfg.MetricsPort).Msg("mcpbridge: metrics listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErrCh <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		logx.Log.Error().Err(err).Msg("mcpbridge: server error")
	case sig := <-sigCh:
		logx.Log.Info().Str("signal", sig.String()).Msg("mcpbridge: shutting down")
	}

	cancel()
	sup.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = mainSrv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	return exitOK
}

func waitForReadyOrTerminal(sup *child.Supervisor, grace time.Duration) bool {
	deadline := time.After(grace)
	for {
		switch sup.Health() {
		case child.Ready, child.Terminal:
			return true
		}
		select {
		case <-deadline:
			return sup.Health() == child.Ready || sup.Health() == child.Terminal
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func sweepLoop(ctx context.Context, sessions *session.Store, b *broker.Broker, requestTimeout time.Duration) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.SweepIdle()
			b.SweepTimeouts(requestTimeout)
		}
	}
}
