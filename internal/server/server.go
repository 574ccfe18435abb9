// Package server hosts the long-running serve mode: an ops HTTP endpoint
// (health and prometheus metrics) and the scheduler that fires configured
// jobs on their cron schedules.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/quarrymath/quarry/config"
	"github.com/quarrymath/quarry/internal/pool"
)

// Run blocks until the context is cancelled or a signal arrives, serving the
// ops endpoint and ticking the scheduler.
func Run(ctx context.Context, cfg *config.Config, p *pool.Pool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.New(log.Writer(), "[SERVE] ", log.LstdFlags)

	var rdb *redis.Client
	if cfg.Storage.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		defer rdb.Close()
	}

	jobs, err := pool.BuildJobs(cfg.Jobs, logger)
	if err != nil {
		return fmt.Errorf("build jobs: %w", err)
	}
	scheduled := make([]ScheduledJob, 0, len(jobs))
	for i, job := range jobs {
		if cfg.Jobs[i].Schedule == "" {
			continue
		}
		scheduled = append(scheduled, ScheduledJob{Job: job, Schedule: cfg.Jobs[i].Schedule})
	}
	if len(scheduled) == 0 {
		logger.Printf("warn: no jobs carry a schedule, serve mode will only expose metrics")
	}

	sched := &Scheduler{Pool: p, Jobs: scheduled, Rdb: rdb, Logger: logger}
	sched.Start(ctx)

	if !cfg.Telemetry.Enabled {
		logger.Printf("telemetry disabled, ops endpoint not started")
		<-ctx.Done()
		return nil
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.Telemetry.MetricsAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutting down")
		return e.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
