// Package usage records consumed work units per owner and calendar month.
package usage

import (
	"context"
	"time"

	"github.com/kiranshivaraju/docrender/internal/metrics"
	"github.com/kiranshivaraju/docrender/internal/store"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"github.com/rs/zerolog"
)

const periodLayout = "2006-01"

// Period returns the usage period key (YYYY-MM, UTC) containing t.
func Period(t time.Time) string {
	return t.UTC().Format(periodLayout)
}

// Ledger increments usage counters after work completes.
type Ledger struct {
	store  store.UsageStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewLedger creates a Ledger. A nil now uses time.Now.
func NewLedger(st store.UsageStore, logger zerolog.Logger, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: st, logger: logger, now: now}
}

// RecordUsage adds units of kind to the owner's counter for period. A failed
// increment is logged and counted, never returned: the job it belongs to has
// already succeeded.
func (l *Ledger) RecordUsage(ctx context.Context, ownerID, period string, kind models.JobKind, units int) {
	if units <= 0 {
		return
	}
	delta := store.UsageDelta{At: l.now().UTC()}
	if kind.IsAI() {
		delta.AICalls = int64(units)
	} else {
		delta.Pages = int64(units)
	}

	if err := l.store.IncrementUsage(ctx, ownerID, period, delta); err != nil {
		metrics.IncUsageLedgerError()
		l.logger.Warn().Err(err).
			Str("owner_id", ownerID).
			Str("period", period).
			Str("kind", string(kind)).
			Int("units", units).
			Msg("usage increment failed")
	}
}

// Current returns the owner's counter for the period containing now.
func (l *Ledger) Current(ctx context.Context, ownerID string) (*models.UsageCounter, error) {
	return l.store.GetUsage(ctx, ownerID, Period(l.now()))
}

// Now returns the ledger clock.
func (l *Ledger) Now() time.Time {
	return l.now()
}
