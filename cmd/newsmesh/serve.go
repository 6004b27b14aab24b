package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/deusflow/newsmesh/internal/api"
	"github.com/deusflow/newsmesh/internal/app"
	"github.com/deusflow/newsmesh/internal/fetch"
	"github.com/deusflow/newsmesh/internal/logger"
	"github.com/deusflow/newsmesh/internal/metrics"
)

const sessionSweepSchedule = "@hourly"

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API and refresh the corpus on a schedule",
		Long: `Starts the HTTP API (/search, /refresh, /health, /stats, /metrics) and a
poller that runs an aggregation cycle on POLL_SCHEDULE.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			if !cfg.Debug {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := logger.Component("server")
			svc, closeStore, err := app.Build(ctx, cfg, logger.Logger, metrics.Global)
			if err != nil {
				return fmt.Errorf("failed to build service: %w", err)
			}
			defer func() {
				if cerr := closeStore(); cerr != nil {
					log.Warn("session store close failed", "error", cerr)
				}
			}()

			poller, err := startPoller(ctx, svc, cfg.PollSchedule, log)
			if err != nil {
				return err
			}
			defer func() { <-poller.Stop().Done() }()

			go refresh(ctx, svc, log)

			return runServer(ctx, newHTTPServer(cfg.HTTPAddr, api.NewRouter(svc, logger.Logger)), log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	return cmd
}

// startPoller schedules a refresh on schedule and an hourly session sweep.
// Overlapping ticks are skipped.
func startPoller(ctx context.Context, svc *app.Service, schedule string, log *slog.Logger) (*cron.Cron, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := c.AddFunc(schedule, func() { refresh(ctx, svc, log) }); err != nil {
		return nil, fmt.Errorf("invalid POLL_SCHEDULE %q: %w", schedule, err)
	}
	if _, err := c.AddFunc(sessionSweepSchedule, func() {
		if _, err := svc.SweepSessions(ctx); err != nil {
			log.Warn("session sweep failed", "error", err)
		}
	}); err != nil {
		return nil, err
	}
	c.Start()
	log.Info("poller started", "schedule", schedule)
	return c, nil
}

func refresh(ctx context.Context, svc *app.Service, log *slog.Logger) {
	if ctx.Err() != nil {
		return
	}
	corpus, err := svc.Refresh(ctx)
	if err != nil {
		if errors.Is(err, fetch.ErrTotalFailure) {
			log.Error("scheduled refresh failed, serving previous corpus", "error", err)
			return
		}
		log.Error("scheduled refresh failed", "error", err)
		return
	}
	log.Debug("scheduled refresh done", "articles", corpus.Len())
}
