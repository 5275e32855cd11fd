// Package main implements the scenario runner for the NSEQE engine: it loads
// a JSON scenario, hands the node models to the engine, streams diagnostics
// to the log (and to NATS when configured), and shuts everything down on
// signal or when every sequence reaches a terminal state.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tylp/nseqe/diag"
	"github.com/tylp/nseqe/engine"
	"github.com/tylp/nseqe/health"
	"github.com/tylp/nseqe/metric"
	"github.com/tylp/nseqe/natsclient"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "nseqe"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Scenario failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()

	if cfg.ShowHelp {
		printDetailedHelp()
		return nil
	}
	if cfg.ShowVersion {
		fmt.Printf("%s %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}
	if err := validateFlags(cfg); err != nil {
		return err
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	name, models, err := LoadScenario(cfg.ScenarioPath)
	if err != nil {
		return err
	}
	if cfg.Validate {
		if result := engine.ValidateScenario(models); !result.Valid {
			for _, issue := range result.Errors {
				logger.Error("scenario issue", "issue", issue.Error())
			}
			return fmt.Errorf("scenario has %d issue(s)", len(result.Errors))
		}
		logger.Info("scenario is valid", "scenario", name, "nodes", len(models))
		return nil
	}

	var natsClient *natsclient.Client
	if cfg.NATSURL != "" {
		natsClient, err = natsclient.NewClient(cfg.NATSURL,
			natsclient.WithName(appName),
			natsclient.WithLogger(logger))
		if err != nil {
			return err
		}
		if err := natsClient.Connect(context.Background()); err != nil {
			return err
		}
		defer func() { _ = natsClient.Close() }()
	}

	metrics := metric.NewMetricsRegistry()
	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.PrometheusRegistry(), promhttp.HandlerOpts{}))
		serveBackground(logger, "metrics", cfg.MetricsPort, mux)
	}

	monitor := health.NewMonitor()
	if cfg.HealthPort > 0 {
		serveBackground(logger, "health", cfg.HealthPort, health.Handler(monitor, name, logger))
	}

	streamDeps := diag.StreamDeps{
		Logger:          logger,
		MetricsRegistry: metrics,
		Subject:         "nseqe.diag." + name,
	}
	if natsClient != nil {
		streamDeps.NATSConn = natsClient.Conn()
	}
	stream, err := diag.NewStream(streamDeps)
	if err != nil {
		return err
	}
	defer stream.Close()

	events, cancelEvents := stream.Subscribe(256)
	defer cancelEvents()
	go logEvents(logger, events)

	eng := engine.New(engine.Deps{
		Logger:          logger,
		Diag:            stream,
		MetricsRegistry: metrics,
		Health:          monitor,
	})
	if err := eng.Load(models); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		_ = eng.Stop(cfg.ShutdownTimeout)
		return err
	}
	defer func() {
		if err := eng.Stop(cfg.ShutdownTimeout); err != nil {
			logger.Warn("scenario stop reported an error", "error", err)
		}
	}()

	logger.Info("scenario running", "scenario", name, "nodes", len(models))

	err = eng.Await(ctx)
	logFinalStatuses(logger, eng)
	if ctx.Err() != nil {
		logger.Info("shutdown signal received")
		return nil
	}
	return err
}

// serveBackground starts an auxiliary HTTP listener that lives for the whole
// process.
func serveBackground(logger *slog.Logger, kind string, port int, handler http.Handler) {
	addr := fmt.Sprintf(":%d", port)
	go func() {
		logger.Info(kind+" listening", "addr", addr)
		if err := http.ListenAndServe(addr, handler); err != nil {
			logger.Error(kind+" server stopped", "error", err)
		}
	}()
}

func logFinalStatuses(logger *slog.Logger, eng *engine.Engine) {
	for _, st := range eng.Statuses() {
		logger.Info("node finished",
			"node", st.Name,
			"state", string(st.Sequence.State),
			"reason", st.Sequence.Reason,
			"connections", st.Connections,
			"inbox_overflows", st.InboxOverflows)
	}
}

func logEvents(logger *slog.Logger, events <-chan diag.Event) {
	for evt := range events {
		logger.Debug("diagnostics event",
			"node", evt.Node,
			"kind", string(evt.Kind),
			"action", evt.Action,
			"task", evt.Task,
			"detail", evt.Detail,
			"error", evt.Error)
	}
}
