// Package pipeline holds the scheduled maintenance jobs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// Archiver moves old data from the database to S3 cold storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger

	now func() time.Time
}

// NewArchiver creates a new Archiver. Rows older than retentionDays are
// exported and pruned on each run.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Run executes a single archive pass: processed activities, copy orders, and
// audit entries older than the retention cutoff. A failure stops the pass;
// nothing is pruned for a kind whose export did not verify.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	activitiesArchived, err := a.blobArchiver.ArchiveActivities(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving activities before %v: %w", cutoff, err)
	}

	ordersArchived, err := a.blobArchiver.ArchiveOrders(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving orders before %v: %w", cutoff, err)
	}

	auditArchived, err := a.blobArchiver.ArchiveAuditLog(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving audit log before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("activities_archived", activitiesArchived),
		slog.Int64("orders_archived", ordersArchived),
		slog.Int64("audit_archived", auditArchived),
	)
	return nil
}

// RunCron runs archive passes on the given cron schedule until ctx is
// cancelled. Standard 5-field expressions and descriptors are accepted,
// e.g. "0 3 * * *" for 03:00 daily or "@daily". A failed pass is logged and
// retried at the next trigger.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	c := cron.New()
	_, err := c.AddFunc(cronExpr, func() {
		if err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("pipeline: parse cron expression %q: %w", cronExpr, err)
	}

	c.Start()
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	<-ctx.Done()

	// Stop scheduling, then wait for an in-flight pass to wind down.
	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}
