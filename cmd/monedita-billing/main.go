package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/monedita/pkg/app"
	"github.com/platinummonkey/monedita/pkg/config"
	"github.com/platinummonkey/monedita/pkg/observability"
	"github.com/platinummonkey/monedita/pkg/scheduler"
)

var (
	runOnce = flag.Bool("run-once", false, "Run one job and exit instead of starting the cron scheduler")
	job     = flag.String("job", scheduler.JobRenewals, "Job to run with --run-once: renewals, retries, expiry or reminders")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("component", "monedita-billing")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize")
	}
	defer a.Close()
	log := a.BatchLogger

	// Run once mode (for cron-less deployments and backfills)
	if *runOnce {
		result, err := runJob(ctx, a.Scheduler, *job)
		if err != nil {
			log.WithError(err).Fatal("Invalid job")
		}
		fields := logrus.Fields{
			"job":       *job,
			"processed": result.Processed,
			"success":   result.Succeeded,
			"failed":    result.Failed,
		}
		if result.Error != "" {
			a.Close()
			log.WithFields(fields).WithField("error", result.Error).Fatal("Job aborted")
		}
		log.WithFields(fields).Info("Job completed")
		return
	}

	// Scheduled mode
	if err := a.Scheduler.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start scheduler")
	}
	log.Info("Monedita billing worker started")

	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	a.Scheduler.Stop(cfg.Server.ShutdownTimeout)
	log.Info("Billing worker stopped")
}

func runJob(ctx context.Context, s *scheduler.Scheduler, name string) (scheduler.Result, error) {
	switch name {
	case scheduler.JobRenewals:
		return s.ProcessDueRenewals(ctx), nil
	case scheduler.JobRetries:
		return s.ProcessFailedRetries(ctx), nil
	case scheduler.JobExpiry:
		return s.ProcessExpirations(ctx), nil
	case scheduler.JobReminders:
		return s.SendReminders(ctx), nil
	default:
		return scheduler.Result{}, fmt.Errorf("unknown job %q", name)
	}
}
