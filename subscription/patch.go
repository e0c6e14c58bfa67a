package subscription

import (
	"time"

	"github.com/memberhq/billing/plan"
)

// Patch describes a partial update to a Subscription or ServiceSubscription
// row. Nil fields are left untouched. Applying the same Patch twice produces
// the same final state, which is what makes webhook redelivery safe.
type Patch struct {
	ExternalPriceID    *string
	PlanID             *plan.ID
	BillingCycle       *plan.BillingCycle
	Status             *Status
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  *bool
	CanceledAt         *time.Time
}

func (p Patch) updates() map[string]interface{} {
	u := make(map[string]interface{})
	if p.ExternalPriceID != nil {
		u["external_price_id"] = *p.ExternalPriceID
	}
	if p.PlanID != nil {
		u["plan_id"] = *p.PlanID
	}
	if p.BillingCycle != nil {
		u["billing_cycle"] = *p.BillingCycle
	}
	if p.Status != nil {
		u["status"] = *p.Status
	}
	if p.CurrentPeriodStart != nil {
		u["current_period_start"] = *p.CurrentPeriodStart
	}
	if p.CurrentPeriodEnd != nil {
		u["current_period_end"] = *p.CurrentPeriodEnd
	}
	if p.CancelAtPeriodEnd != nil {
		u["cancel_at_period_end"] = *p.CancelAtPeriodEnd
	}
	if p.CanceledAt != nil {
		u["canceled_at"] = *p.CanceledAt
	}
	return u
}
