package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/raytheonbbn/iron-bpf/internal/binqueue"
	"github.com/raytheonbbn/iron-bpf/internal/config"
	"github.com/raytheonbbn/iron-bpf/internal/forwarder"
	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
	ironmetrics "github.com/raytheonbbn/iron-bpf/internal/metrics"
	appversion "github.com/raytheonbbn/iron-bpf/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// tickInterval is the forwarder/bin-queue manager's fallback tick cadence
// (spec.md §4.6 default 1ms).
const tickInterval = time.Millisecond

// zlrPacketPoolSize sizes the packet pool bin queues draw packetless
// zombies from during Zombie Latency Reduction conversion (spec.md §4.4).
// It is sized independently of the per-path-controller SOND pools; each
// zombie it supplies stays enqueued in its bin queue until dequeued.
const zlrPacketPoolSize = 256

// runDaemon loads configuration, wires the data-plane core together, and
// runs it until a termination signal or unrecoverable error.
func runDaemon(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logLevel := new(slog.LevelVar)
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("ironbpfd starting",
		slog.String("version", appversion.Version),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.String("control_addr", cfg.Control.Addr),
		slog.Int("num_path_controllers", len(cfg.PathControllers)),
	)

	reg := prometheus.NewRegistry()
	_ = ironmetrics.NewCollector(reg)

	binMap := ironpkt.NewBinMap()
	zlrPool := ironpkt.NewPool(zlrPacketPoolSize, ironpkt.WithLogger(logger))
	queues := binqueue.NewManager(binqueue.Config{Pool: zlrPool})
	fwd := forwarder.NewForwarder(forwarder.Config{FallbackTickInterval: tickInterval}, binMap, queues, selfBin)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := buildPathControllers(sigCtx, binMap, cfg.PathControllers)
	if err != nil {
		return fmt.Errorf("build path controllers: %w", err)
	}
	defer built.closeAll()
	for _, n := range built.neighbors {
		fwd.AddNeighbor(n)
	}

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	controlSrv := newControlServer(cfg.Control, queues, built.neighbors)

	g, gCtx := errgroup.WithContext(sigCtx)

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr))
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
	g.Go(func() error {
		logger.Info("control server listening", slog.String("addr", cfg.Control.Addr))
		return listenAndServe(gCtx, &lc, controlSrv, cfg.Control.Addr)
	})
	g.Go(func() error {
		return runTickLoop(gCtx, queues, fwd)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, configPath, logLevel, logger)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, metricsSrv, controlSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	logger.Info("ironbpfd stopped")
	return nil
}

// runTickLoop drives the bin queue manager's and forwarder's periodic
// ticks at tickInterval until ctx is cancelled (spec.md §4.6's fallback
// tick cadence, absent a real enqueue/writable event source here).
func runTickLoop(ctx context.Context, queues *binqueue.Manager, fwd *forwarder.Forwarder) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			queues.Tick(now)
			fwd.Tick(now)
		}
	}
}

// handleSIGHUP listens for SIGHUP signals and reloads the log level from
// a freshly-loaded configuration file. Path controller set changes
// (additions/removals) require a daemon restart in this implementation;
// only the log level is hot-reloadable, mirroring the teacher's
// SIGHUP-driven logLevel.Set without its session-reconciliation scope.
func handleSIGHUP(ctx context.Context, sig <-chan os.Signal, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			logger.Info("received SIGHUP, reloading configuration")
			newCfg, err := loadConfig(configPath)
			if err != nil {
				logger.Error("failed to reload configuration", slog.String("error", err.Error()))
				continue
			}
			logLevel.Set(config.ParseLogLevel(newCfg.Log.Level))
			logger.Info("configuration reloaded", slog.String("log_level", newCfg.Log.Level))
		}
	}
}

// gracefulShutdown shuts down every HTTP server within shutdownTimeout.
func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// listenAndServe creates a TCP listener using the ListenConfig (for noctx
// compliance) and serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Handler: mux}
}

// newControlServer creates the read-only local introspection HTTP server.
func newControlServer(cfg config.ControlConfig, queues *binqueue.Manager, neighbors []*forwarder.Neighbor) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/status", newStatusHandler(queues, neighbors))
	return &http.Server{Handler: mux}
}
