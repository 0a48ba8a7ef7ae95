package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.io/infrasutra/mailmcp/internal/api"
	"github.io/infrasutra/mailmcp/internal/config"
	"github.io/infrasutra/mailmcp/internal/dispatch"
	"github.io/infrasutra/mailmcp/internal/mailer"
	"github.io/infrasutra/mailmcp/internal/mcp"
	"github.io/infrasutra/mailmcp/internal/metrics"
	"github.io/infrasutra/mailmcp/internal/smtpsink"
	"github.io/infrasutra/mailmcp/internal/sse"
	"github.io/infrasutra/mailmcp/internal/store"
)

const shutdownTimeout = 10 * time.Second

// app holds the long-lived components shared by the serve and stdio
// commands.
type app struct {
	cfg        config.Config
	configPath string
	logger     *slog.Logger
	store      *store.Store
	mailer     *mailer.Mailer
	hub        *sse.Hub
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	svc        *dispatch.Service
	closers    []io.Closer
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger writes to log.file when set and to fallback otherwise.
func newLogger(cfg config.Config, fallback io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, nil, err
	}
	out := fallback
	var closer io.Closer
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closer, nil
}

func newApp(ctx context.Context, configPath string, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := newLogger(cfg, logOut)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, configPath: configPath, logger: logger}
	if logCloser != nil {
		a.closers = append(a.closers, logCloser)
	}

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, db)
	if err := db.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if cfg.DBPath == "" {
		logger.Warn("db_path not set; address book and history are kept in memory")
	}
	a.store = db

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics, err = metrics.New(a.registry)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	mailerCfg, err := cfg.MailerConfig()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.mailer = mailer.New(mailerCfg, mailer.WithLogger(logger))
	a.hub = sse.NewHub()
	a.svc = dispatch.New(db, a.mailer,
		dispatch.WithHub(a.hub),
		dispatch.WithMetrics(a.metrics),
		dispatch.WithLogger(logger),
	)

	senders := make([]string, 0, len(cfg.Mailer.Senders))
	for _, sender := range cfg.Mailer.Senders {
		senders = append(senders, sender.Email)
	}
	logger.Info("mailer configured",
		"smtp_host", cfg.Mailer.SMTPHost,
		"smtp_port", cfg.Mailer.SMTPPort,
		"senders", senders,
	)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.logger != nil {
			a.logger.Error("close", "error", err)
		}
	}
	a.closers = nil
}

func (a *app) mcpServer(version string) *mcp.Server {
	return mcp.NewServer(a.svc, &mcp.ServerOptions{Logger: a.logger, Version: version})
}

// watchConfig swaps sender identities when the config file changes.
func (a *app) watchConfig(ctx context.Context) error {
	if a.configPath == "" {
		return nil
	}
	if _, err := os.Stat(a.configPath); err != nil {
		a.logger.Debug("config file not found; live reload disabled", "path", a.configPath)
		return nil
	}
	return config.Watch(ctx, a.configPath, a.logger, func(cfg config.Config) {
		a.mailer.SetSenders(cfg.Senders())
	})
}

// runSink serves the capture SMTP server until ctx is done.
func runSink(ctx context.Context, g *errgroup.Group, cfg smtpsink.Config, logger *slog.Logger) {
	sink := smtpsink.New(cfg, logger)
	g.Go(sink.ListenAndServe)
	g.Go(func() error {
		<-ctx.Done()
		return sink.Close()
	})
}

func (a *app) serve(ctx context.Context, version string) error {
	g, ctx := errgroup.WithContext(ctx)

	handler := api.NewServer(a.svc, api.Options{
		MCP:      a.mcpServer(version).Handler(),
		Hub:      a.hub,
		Metrics:  a.metrics,
		Gatherer: a.registry,
		Logger:   a.logger,
	})
	httpSrv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", a.cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("shutdown http", "error", err)
		}
		return nil
	})
	if a.cfg.Sink.Enabled {
		sinkCfg, err := a.cfg.SinkConfig()
		if err != nil {
			return err
		}
		runSink(ctx, g, sinkCfg, a.logger)
	}
	g.Go(func() error {
		return a.watchConfig(ctx)
	})

	return g.Wait()
}

func (a *app) stdio(ctx context.Context, version string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The client closing stdin ends the session and the process.
		defer cancel()
		return a.mcpServer(version).Run(ctx)
	})
	g.Go(func() error {
		return a.watchConfig(ctx)
	})
	return g.Wait()
}
