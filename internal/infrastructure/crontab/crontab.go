package crontab

import (
	"context"
	"time"

	"github.com/mileusna/crontab"
	"github.com/rs/zerolog"

	"github.com/janhq/catalog-api/internal/domain/patch"
	"github.com/janhq/catalog-api/internal/infrastructure/metrics"
	"github.com/janhq/catalog-api/internal/utils/platformerrors"
)

// CronJobTimeout bounds each scheduled run.
const CronJobTimeout = 5 * time.Minute

// Crontab prunes accepted and rejected patches older than the retention
// window. Retention of zero disables the job.
type Crontab struct {
	ctab      *crontab.Crontab
	patches   patch.Repository
	retention time.Duration
	schedule  string
	now       func() time.Time
	log       zerolog.Logger
}

func NewCrontab(patches patch.Repository, retention time.Duration, schedule string, log zerolog.Logger) *Crontab {
	return &Crontab{
		ctab:      crontab.New(),
		patches:   patches,
		retention: retention,
		schedule:  schedule,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.With().Str("component", "crontab").Logger(),
	}
}

// Run schedules the retention job and blocks until ctx is done.
func (c *Crontab) Run(ctx context.Context) error {
	if c.retention <= 0 {
		c.log.Info().Msg("patch retention disabled")
		c.ctab.Shutdown()
		<-ctx.Done()
		return nil
	}

	// execute once on server start
	c.runPrune(ctx)

	if err := c.ctab.AddJob(c.schedule, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), CronJobTimeout)
		defer cancel()
		c.runPrune(jobCtx)
	}); err != nil {
		c.ctab.Shutdown()
		return platformerrors.AsError(ctx, platformerrors.LayerInfrastructure, err, "failed to add patch retention job")
	}
	c.log.Info().Str("schedule", c.schedule).Dur("retention", c.retention).Msg("patch retention scheduled")

	<-ctx.Done()
	c.ctab.Shutdown()
	return nil
}

// Prune deletes terminal patches last updated before now minus retention.
func (c *Crontab) Prune(ctx context.Context) (int64, error) {
	cutoff := c.now().Add(-c.retention)
	return c.patches.DeleteTerminalBefore(ctx, cutoff)
}

func (c *Crontab) runPrune(ctx context.Context) {
	n, err := c.Prune(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to prune terminal patches")
		return
	}
	metrics.RecordPruned(n)
	if n > 0 {
		c.log.Info().Int64("deleted", n).Msg("pruned terminal patches")
	}
}
