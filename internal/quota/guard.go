// Package quota decides whether a submission fits its owner's monthly plan.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/docrender/internal/store"
	"github.com/kiranshivaraju/docrender/internal/usage"
	"github.com/kiranshivaraju/docrender/pkg/models"
)

// Decision is the outcome of a pre-flight quota check. Remaining, Requested
// and Limit are reported for client messaging; Limit is models.Unlimited
// for plans without a ceiling.
type Decision struct {
	Admitted  bool  `json:"admitted"`
	Remaining int64 `json:"remaining"`
	Requested int64 `json:"requested"`
	Limit     int64 `json:"limit"`
}

// Guard checks requested units against a snapshot of current usage.
//
// The check is advisory: nothing is reserved, so concurrent submissions in
// the same period can overshoot the limit by the work already in flight.
type Guard struct {
	usage store.UsageStore
	now   func() time.Time
}

// NewGuard creates a Guard. A nil now uses time.Now.
func NewGuard(st store.UsageStore, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{usage: st, now: now}
}

// CheckAndReserve reports whether units more of kind fit within plan for the
// current period.
func (g *Guard) CheckAndReserve(ctx context.Context, ownerID string, plan models.Plan, kind models.JobKind, units int) (Decision, error) {
	limit := int64(plan.LimitFor(kind))
	d := Decision{Requested: int64(units), Limit: limit}
	if limit == models.Unlimited {
		d.Admitted = true
		d.Remaining = models.Unlimited
		return d, nil
	}

	counter, err := g.usage.GetUsage(ctx, ownerID, usage.Period(g.now()))
	if err != nil {
		return Decision{}, fmt.Errorf("reading usage: %w", err)
	}
	used := counter.Pages
	if kind.IsAI() {
		used = counter.AICalls
	}

	d.Remaining = limit - used
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	d.Admitted = used+int64(units) <= limit
	return d, nil
}
