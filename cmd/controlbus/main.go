// Package main runs a configured tree of endpoints and state machines on one
// message bus, optionally bridged to other processes over NATS.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/controlbus/classes"
	"github.com/c360/controlbus/config"
	"github.com/c360/controlbus/health"
	"github.com/c360/controlbus/message"
	"github.com/c360/controlbus/metric"
	"github.com/c360/controlbus/natsbridge"
	"github.com/c360/controlbus/pkg/retry"
	"github.com/c360/controlbus/registry"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "controlbus"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := config.NewLoader().LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Runtime.LogLevel = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Runtime.LogFormat = cliCfg.LogFormat
	}

	logger := setupLogger(os.Stdout, cfg.Runtime.LogLevel, cfg.Runtime.LogFormat)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		return validateOnly(cfg, logger)
	}

	logger.Info("Starting controlbus", "config_path", cliCfg.ConfigPath)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return a.run(ctx, cliCfg.ShutdownTimeout)
}

// validateOnly builds the object tree without starting it.
func validateOnly(cfg *config.Config, logger *slog.Logger) error {
	reg := registry.New(registry.WithLogger(logger))
	bus := message.NewBus(reg, message.WithLogger(logger))
	if err := classes.Register(reg, classes.Dependencies{Bus: bus}); err != nil {
		return err
	}
	for _, child := range cfg.Objects.Children() {
		if child.Class() == classes.NATSProxyClass {
			continue
		}
		if _, err := reg.Build(child); err != nil {
			return fmt.Errorf("invalid object %s: %w", child.Name(), err)
		}
	}
	logger.Info("Configuration is valid", "objects", len(cfg.Objects.Children()))
	return nil
}

type app struct {
	logger   *slog.Logger
	metrics  *metric.MetricsRegistry
	registry *registry.Registry
	bus      *message.Bus
	client   *natsbridge.Client
	server   *natsbridge.Server
	http     *metric.Server
	port     int
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		logger:  logger,
		metrics: metric.NewMetricsRegistry(),
		port:    cfg.Runtime.MetricsPort,
	}
	a.registry = registry.New(registry.WithLogger(logger))
	a.bus = message.NewBus(a.registry, message.WithLogger(logger), message.WithMetrics(a.metrics))

	deps := classes.Dependencies{Bus: a.bus, Logger: logger}
	if cfg.Runtime.NATSURL != "" {
		a.client = natsbridge.NewClient(cfg.Runtime.NATSURL,
			natsbridge.WithClientName(appName),
			natsbridge.WithConnectRetry(retry.Startup()),
			natsbridge.WithClientLogger(logger),
			natsbridge.WithClientMetrics(a.metrics))
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := a.client.Connect(connCtx); err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		deps.NATS = a.client.Conn()
	}

	if err := classes.Register(a.registry, deps); err != nil {
		a.close(time.Second)
		return nil, fmt.Errorf("register classes: %w", err)
	}
	if err := a.registry.Initialise(ctx, cfg.Objects); err != nil {
		a.close(5 * time.Second)
		return nil, fmt.Errorf("initialise objects: %w", err)
	}
	logger.Info("Objects initialised", "objects", a.registry.List())

	if len(cfg.Runtime.Exported) > 0 {
		a.server = natsbridge.NewServer(a.bus, cfg.Runtime.Exported,
			natsbridge.WithServerName(appName),
			natsbridge.WithServerMetrics(a.metrics))
		if err := a.server.Start(ctx, a.client.Conn()); err != nil {
			a.close(5 * time.Second)
			return nil, fmt.Errorf("start NATS bridge: %w", err)
		}
	}

	if a.port > 0 {
		a.http = metric.NewServer(a.port, "/metrics", a.metrics, a.health)
	}
	return a, nil
}

// health aggregates every registered object that reports health, plus the bridge.
func (a *app) health() health.Status {
	var reporters []health.Reporter
	for _, name := range a.registry.List() {
		obj, _ := a.registry.Find(name)
		if r, ok := obj.(health.Reporter); ok {
			reporters = append(reporters, r)
		}
	}
	if a.client != nil {
		reporters = append(reporters, a.client)
	}
	if a.server != nil {
		reporters = append(reporters, a.server)
	}
	return health.Collect(appName, reporters...)
}

func (a *app) run(ctx context.Context, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	if a.http != nil {
		g.Go(func() error {
			a.logger.Info("Metrics server listening", "address", a.http.Address())
			return a.http.Start()
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down")
		a.close(shutdownTimeout)
		return nil
	})

	a.logger.Info("controlbus started")
	err := g.Wait()
	a.logger.Info("controlbus shutdown complete")
	return err
}

// close tears down in reverse start order. Errors are logged, not returned,
// so every part gets its chance to stop.
func (a *app) close(timeout time.Duration) {
	if a.http != nil {
		if err := a.http.Stop(); err != nil {
			a.logger.Error("Failed to stop metrics server", "error", err)
		}
	}
	if a.server != nil {
		if err := a.server.Stop(timeout); err != nil {
			a.logger.Error("Failed to stop NATS bridge", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.registry.Purge(ctx, timeout); err != nil {
		a.logger.Error("Failed to purge objects", "error", err)
	}

	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.logger.Error("Failed to close NATS connection", "error", err)
		}
	}
}
