package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/janhq/catalog-api/internal/config"
	"github.com/janhq/catalog-api/internal/infrastructure/crontab"
	"github.com/janhq/catalog-api/internal/infrastructure/logger"
	"github.com/janhq/catalog-api/internal/interfaces/httpserver"
	"github.com/janhq/catalog-api/internal/worker"
)

// Application groups the long running parts of the catalog service.
type Application struct {
	httpServer *httpserver.HttpServer
	crontab    *crontab.Crontab
	activity   *worker.Pool
	log        zerolog.Logger
}

// NewApplication assembles the application from its components.
func NewApplication(
	httpServer *httpserver.HttpServer,
	cron *crontab.Crontab,
	activity *worker.Pool,
	log zerolog.Logger,
) *Application {
	return &Application{
		httpServer: httpServer,
		crontab:    cron,
		activity:   activity,
		log:        log,
	}
}

// Start runs the HTTP server and the retention job until ctx is cancelled.
// Activity delivery is drained after both have stopped.
func (a *Application) Start(ctx context.Context) error {
	if err := a.activity.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("start activity workers: %w", err)
	}
	defer func() {
		a.log.Info().Msg("stopping activity workers")
		a.activity.Stop()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.httpServer.Run(gctx)
	})
	g.Go(func() error {
		return a.crontab.Run(gctx)
	})
	return g.Wait()
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := buildApplication(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build application")
	}

	err = app.Start(ctx)
	cleanup()
	if err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	log.Info().Msg("application exited cleanly")
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
