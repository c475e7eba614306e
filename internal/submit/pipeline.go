package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/docrender/internal/metrics"
	"github.com/kiranshivaraju/docrender/internal/quota"
	"github.com/kiranshivaraju/docrender/internal/store"
	"github.com/kiranshivaraju/docrender/pkg/models"
)

// Admission is the request context threaded through the admission stages.
// Each stage reads what earlier stages resolved and fills in its own part.
type Admission struct {
	OwnerID      string
	Kind         models.JobKind
	Units        int
	Subscription *models.Subscription
	Plan         models.Plan
	Decision     quota.Decision
}

// Stage either enriches the admission or rejects it with an *Error. Any
// other error is an infrastructure failure.
type Stage func(ctx context.Context, a *Admission) error

// Pipeline runs stages in order and stops at the first error.
type Pipeline []Stage

func (p Pipeline) Run(ctx context.Context, a *Admission) error {
	for _, stage := range p {
		if err := stage(ctx, a); err != nil {
			if e, ok := AsError(err); ok {
				metrics.IncSubmissionRejected(string(e.Code))
			}
			return err
		}
	}
	return nil
}

// DefaultPipeline is subscription, then plan access, then quota.
func DefaultPipeline(subs store.SubscriptionStore, plans quota.Plans, guard *quota.Guard, now func() time.Time) Pipeline {
	return Pipeline{
		ResolveSubscription(subs, plans, now),
		RequireActive(),
		RequireAIAccess(),
		CheckQuota(guard),
	}
}

// ResolveSubscription loads the owner's subscription, creating an active
// free one on first use, and resolves its plan.
func ResolveSubscription(subs store.SubscriptionStore, plans quota.Plans, now func() time.Time) Stage {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, a *Admission) error {
		sub, err := subs.GetSubscription(ctx, a.OwnerID)
		if errors.Is(err, store.ErrNotFound) {
			t := now().UTC()
			sub, err = subs.CreateSubscription(ctx, &models.Subscription{
				OwnerID:   a.OwnerID,
				Plan:      quota.FreePlan,
				Status:    models.SubscriptionActive,
				CreatedAt: t,
				UpdatedAt: t,
			})
		}
		if err != nil {
			return fmt.Errorf("resolving subscription: %w", err)
		}
		a.Subscription = sub
		a.Plan = plans.Lookup(sub.Plan)
		return nil
	}
}

// RequireActive rejects owners whose subscription lapsed.
func RequireActive() Stage {
	return func(_ context.Context, a *Admission) error {
		if a.Subscription == nil || a.Subscription.Status != models.SubscriptionActive {
			status := ""
			if a.Subscription != nil {
				status = a.Subscription.Status
			}
			return &Error{
				Code:    models.ErrCodeSubscriptionInactive,
				Message: "subscription is not active",
				Details: map[string]any{"status": status},
			}
		}
		return nil
	}
}

// RequireAIAccess rejects AI work on plans that include none.
func RequireAIAccess() Stage {
	return func(_ context.Context, a *Admission) error {
		if a.Kind.IsAI() && a.Plan.AIPerMonth == 0 {
			return &Error{
				Code:    models.ErrCodeUpgradeRequired,
				Message: "AI template generation is not included in your plan",
				Details: map[string]any{"plan": a.Plan.Name},
			}
		}
		return nil
	}
}

// CheckQuota rejects work that would push the owner past the plan limit.
func CheckQuota(guard *quota.Guard) Stage {
	return func(ctx context.Context, a *Admission) error {
		d, err := guard.CheckAndReserve(ctx, a.OwnerID, a.Plan, a.Kind, a.Units)
		if err != nil {
			return err
		}
		a.Decision = d
		if !d.Admitted {
			return &Error{
				Code:    models.ErrCodeQuotaExceeded,
				Message: fmt.Sprintf("monthly limit exceeded: requested %d, remaining %d", d.Requested, d.Remaining),
				Details: map[string]any{
					"requested": d.Requested,
					"remaining": d.Remaining,
					"limit":     d.Limit,
					"plan":      a.Plan.Name,
				},
			}
		}
		return nil
	}
}
