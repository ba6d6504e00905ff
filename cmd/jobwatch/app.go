package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stanstork/jobwatch/internal/config"
	"github.com/stanstork/jobwatch/internal/metrics"
	"github.com/stanstork/jobwatch/internal/middleware"
	"github.com/stanstork/jobwatch/internal/monitor"
	"github.com/stanstork/jobwatch/internal/notification"
	"github.com/stanstork/jobwatch/internal/repository"
	"github.com/stanstork/jobwatch/internal/session"
	"github.com/stanstork/jobwatch/internal/storage"
	"github.com/stanstork/jobwatch/internal/transport"
	"github.com/urfave/cli/v3"
)

type application struct {
	config        *config.Config
	logger        zerolog.Logger
	store         storage.Store
	session       *session.Manager
	jobs          *transport.JobsAPI
	monitor       *monitor.Facade
	notifications notification.Service
	metricsServer *http.Server
}

// withApp builds the application for one command and tears it down after.
func withApp(logger zerolog.Logger, action func(context.Context, *cli.Command, *application) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		app, err := newApplication(ctx, cmd, logger)
		if err != nil {
			return err
		}
		defer app.close()
		return action(ctx, cmd, app)
	}
}

func newApplication(ctx context.Context, cmd *cli.Command, logger zerolog.Logger) (*application, error) {
	if envFile := cmd.String("env"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "load env file")
		}
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.LogLevel = level
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", cfg.LogLevel)
	}
	zerolog.SetGlobalLevel(level)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	store, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Transport: middleware.LoggingTransport(logger, m)(http.DefaultTransport)}
	clientOpts := []transport.Option{
		transport.WithHTTPClient(httpClient),
		transport.WithTimeout(cfg.RequestTimeout),
		transport.WithLogger(logger),
	}

	auth := transport.NewAuthAPI(cfg.BaseURL, cfg.Endpoints, clientOpts...)
	sessions := session.NewManager(auth, repository.NewSessionRepository(store), cfg.Session,
		session.WithLogger(logger),
		session.WithMetrics(m),
		session.WithTenant(cfg.TenantID),
	)
	jobs := transport.NewJobsAPI(transport.NewClient(cfg.BaseURL, sessions, clientOpts...), cfg.Endpoints)

	notifications := notification.NewService(logger,
		notification.NewLogNotifier(logger),
		notification.NewConsoleNotifier(os.Stdout),
	)
	facade := monitor.New(monitor.FromJobsAPI(jobs), repository.NewJobRepository(store), cfg.Monitor,
		monitor.WithLogger(logger),
		monitor.WithMetrics(m),
		monitor.WithNotifications(notifications),
		monitor.WithAuthEvents(sessions),
	)

	app := &application{
		config:        cfg,
		logger:        logger,
		store:         store,
		session:       sessions,
		jobs:          jobs,
		monitor:       facade,
		notifications: notifications,
	}
	if addr := cmd.String("metrics-addr"); addr != "" {
		app.serveMetrics(addr, registry)
	}
	return app, nil
}

func (app *application) serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	app.metricsServer = &http.Server{Addr: addr, Handler: mux}

	go func() {
		app.logger.Info().Msgf("Metrics listening on %s", addr)
		if err := app.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// requireSession restores the stored session or explains how to get one.
func (app *application) requireSession(ctx context.Context) error {
	ok, err := app.session.Load(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("not signed in, run `jobwatch login` first")
	}
	return nil
}

func (app *application) close() {
	app.monitor.Close()
	app.session.Close()

	if app.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.metricsServer.Shutdown(ctx); err != nil {
			app.logger.Error().Err(err).Msg("metrics server shutdown failed")
		}
	}
	if err := app.store.Close(); err != nil {
		app.logger.Error().Err(err).Msg("failed to close state store")
	}
}
