package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// Archiver moves relayed events older than the retention window to cold
// storage.
type Archiver struct {
	blobArchiver domain.Archiver
	retention    time.Duration
	clock        domain.Clock
	logger       *slog.Logger
}

// NewArchiver creates a new Archiver keeping retentionDays of events in the
// outbox.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, clock domain.Clock, logger *slog.Logger) *Archiver {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Archiver{
		blobArchiver: blobArchiver,
		retention:    time.Duration(retentionDays) * 24 * time.Hour,
		clock:        clock,
		logger:       logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive run.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.clock.Now().UTC().Add(-a.retention)
	a.logger.Info("pipeline: archive run starting", slog.Time("cutoff", cutoff))

	n, err := a.blobArchiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive events before %v: %w", cutoff, err)
	}
	a.logger.Info("pipeline: archive run complete", slog.Int64("events_archived", n))
	return nil
}

// ParseSchedule validates a standard 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parse cron %q: %w", expr, err)
	}
	return sched, nil
}

// RunCron runs the archiver on a cron schedule (UTC) until ctx is
// cancelled. Overlapping runs are skipped.
//
// Example: "0 3 * * *" runs every day at 03:00.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return err
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.Schedule(sched, cron.FuncJob(func() {
		if err := a.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("pipeline: archive run failed", slog.String("error", err.Error()))
		}
	}))

	a.logger.Info("pipeline: archiver cron started",
		slog.String("cron", expr),
		slog.Time("next_run", sched.Next(time.Now().UTC())),
	)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("pipeline: archiver cron stopped")
	return ctx.Err()
}
