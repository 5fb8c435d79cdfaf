package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"crowdcounter/internal/config"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/metrics"
	"crowdcounter/internal/repository/sqlite"
	"crowdcounter/internal/routes"
	"crowdcounter/internal/services"
	"crowdcounter/internal/services/ai"
	"crowdcounter/internal/services/ingest"
	"crowdcounter/internal/services/query"
	"crowdcounter/internal/services/websocket"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config     *config.Config
	logger     *logger.Logger
	db         *sqlite.DB
	hubService *websocket.HubService
	manager    *services.Manager
	overlay    *ai.Overlay
	server     *http.Server
}

// NewApp wires every component from the environment. Configuration errors
// are returned before anything is opened.
func NewApp() (*App, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}

	log := logger.NewLogger(cfg)
	a := &App{config: cfg, logger: log}

	db, err := sqlite.New(cfg.DBPath, log)
	if err != nil {
		a.close()
		return nil, err
	}
	a.db = db
	repo := sqlite.NewAggregateRepository(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewMetrics(registry)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	a.hubService = websocket.NewHubService(log)

	deps := services.Dependencies{
		Opener: ai.NewCaptureOpener(cfg, log),
		NewTracker: func(config.Source) (ingest.Tracker, error) {
			tracker, err := ai.NewTracker(cfg, log)
			if err != nil {
				return nil, err
			}
			return tracker, nil
		},
		Store:    repo,
		Notifier: a.hubService,
		Metrics:  m,
	}
	if cfg.ShowOverlay {
		a.overlay = ai.NewOverlay(cfg.BoundaryY)
		deps.Hook = a.overlay
	}

	a.manager, err = services.NewManager(cfg, deps, log)
	if err != nil {
		a.close()
		return nil, err
	}

	router := routes.SetupRoutes(cfg, routes.Services{
		Query:    query.NewService(repo),
		Sources:  a.manager,
		Hub:      a.hubService,
		Store:    db,
		Registry: registry,
	}, log)

	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Run serves until ctx is done or SIGINT/SIGTERM arrives. Every source
// finishes its pending append before the database is closed.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer a.close()

	fmt.Printf("🚀 Crowd Counter\n")
	fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
	fmt.Printf("📏 Boundary: y=%.0f (%s crossing)\n", a.config.BoundaryY, a.config.CrossingPolicy)
	fmt.Printf("🪟 Window: %s every %s\n", a.config.WindowMode, a.config.Interval())
	fmt.Printf("💾 Database: %s\n", a.config.DBPath)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.hubService.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return a.manager.Run(gctx)
	})
	g.Go(func() error {
		a.logger.Info("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) close() {
	if a.overlay != nil {
		a.overlay.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Failed to close database: %v", err)
		}
		a.db = nil
	}
	a.logger.Close()
}
