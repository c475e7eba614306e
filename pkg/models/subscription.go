package models

import "time"

const (
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
	SubscriptionPastDue  = "past_due"
)

// Unlimited marks a plan limit with no ceiling.
const Unlimited = -1

// Subscription binds an owner to a plan. Managed by an external billing
// collaborator; the core only reads it (and creates the free default).
type Subscription struct {
	OwnerID   string    `json:"owner_id"`
	Plan      string    `json:"plan"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Plan is the quota policy of a subscription tier. A limit of Unlimited
// has no ceiling.
type Plan struct {
	Name           string `json:"name" yaml:"name"`
	PagesPerMonth  int    `json:"pages_per_month" yaml:"pages_per_month"`
	AIPerMonth     int    `json:"ai_per_month" yaml:"ai_per_month"`
	APIKeysAllowed int    `json:"api_keys_allowed" yaml:"api_keys_allowed"`
}

// LimitFor returns the monthly unit limit that applies to kind.
func (p Plan) LimitFor(kind JobKind) int {
	if kind.IsAI() {
		return p.AIPerMonth
	}
	return p.PagesPerMonth
}

// UsageCounter accumulates work units per owner per calendar period (YYYY-MM).
type UsageCounter struct {
	OwnerID      string    `json:"owner_id"`
	Period       string    `json:"period"`
	Pages        int64     `json:"pages"`
	AICalls      int64     `json:"ai_calls"`
	LastActivity time.Time `json:"last_activity"`
}
