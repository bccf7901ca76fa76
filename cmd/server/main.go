package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/epiphany-db/monitor/internal/config"
	"github.com/epiphany-db/monitor/internal/frontend"
	"github.com/epiphany-db/monitor/internal/inspect"
	"github.com/epiphany-db/monitor/internal/logging"
	"github.com/epiphany-db/monitor/internal/metrics"
	"github.com/epiphany-db/monitor/internal/stats"
	"github.com/epiphany-db/monitor/internal/ticker"
	"github.com/epiphany-db/monitor/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Use mock engine stats regardless of config")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	noUI := flag.Bool("no-ui", false, "Do not serve the browser dashboard")
	flag.Parse()

	config.LoadDotEnv()
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *mockMode {
		cfg.Stats.Source = "mock"
	}

	logCloser := logging.Init(cfg.Log)
	defer logCloser.Close()

	if err := run(cfg, *noUI); err != nil {
		slog.Error("server exited", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, noUI bool) error {
	logger := slog.Default()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	registry := ws.NewRegistry(cfg.Server.MaxObservers, ws.WithMembershipHook(m.SetActiveObservers))
	broadcaster := ws.NewBroadcaster(registry,
		ws.WithLogger(logger),
		ws.WithMetrics(m),
		ws.WithSendConcurrency(cfg.Broadcast.SendConcurrency),
	)

	provider, err := stats.New(cfg.Stats.Source)
	if err != nil {
		return err
	}
	tk := ticker.New(provider, broadcaster,
		ticker.WithInterval(cfg.Broadcast.TickInterval),
		ticker.WithTimeout(cfg.ProviderTimeout()),
		ticker.WithMessageType(ws.MessageType(cfg.Broadcast.MessageType)),
		ticker.WithSource(cfg.Stats.Source),
		ticker.WithImmediateTick(cfg.Broadcast.PublishOnStart),
		ticker.WithLogger(logger),
		ticker.WithMetrics(m),
	)

	opts := []ws.ServerOption{
		ws.WithServerLogger(logger),
		ws.WithServerMetrics(m, metrics.Handler(reg)),
		ws.WithSourceHealth(tk.Health),
	}
	if !noUI {
		opts = append(opts, ws.WithStaticHandler(frontend.Handler()))
	}
	source := inspect.NewMockSource(64, 16, 4, time.Now())
	server := ws.NewServer(cfg, registry, broadcaster, source, opts...)

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting monitor",
		"addr", ln.Addr().String(),
		"stats_source", cfg.Stats.Source,
		"tick_interval", cfg.Broadcast.TickInterval,
		"max_observers", cfg.Server.MaxObservers,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(ln)
	})
	g.Go(func() error {
		tk.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	return g.Wait()
}
