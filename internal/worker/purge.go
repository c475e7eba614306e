package worker

import (
	"context"
	"time"

	"github.com/kiranshivaraju/docrender/internal/store"
	"github.com/rs/zerolog"
)

// RunPurge deletes expired job records every interval until ctx is done.
func RunPurge(ctx context.Context, jobs store.JobStore, interval time.Duration, now func() time.Time, logger zerolog.Logger) error {
	if interval <= 0 {
		interval = time.Hour
	}
	if now == nil {
		now = time.Now
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			PurgeOnce(ctx, jobs, now(), logger)
		}
	}
}

// PurgeOnce runs a single purge pass and logs the outcome.
func PurgeOnce(ctx context.Context, jobs store.JobStore, now time.Time, logger zerolog.Logger) int64 {
	n, err := jobs.PurgeExpiredJobs(ctx, now)
	if err != nil {
		logger.Error().Err(err).Msg("purging expired jobs failed")
		return 0
	}
	if n > 0 {
		logger.Info().Int64("purged", n).Msg("expired jobs purged")
	}
	return n
}
