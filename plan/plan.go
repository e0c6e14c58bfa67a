package plan

import (
	"github.com/stripe/stripe-go/v72"
)

// ID is the custom type for the internal plan identifier
type ID string

// Defining the plans available for purchase
const (
	Essential ID = "essential"
	Pro       ID = "pro"
)

// BillingCycle is the custom type for how often a subscription renews
type BillingCycle string

// Defining constants
const (
	CycleMonthly BillingCycle = "monthly"
	CycleAnnual  BillingCycle = "annual"
)

// Entry maps a single billing provider price to a plan and its billing cycle.
// This corresponds to one Price under a Product on Stripe.
type Entry struct {
	PriceID string       `json:"priceId" validate:"required"`
	PlanID  ID           `json:"planId" validate:"required,oneof=essential pro"`
	Cycle   BillingCycle `json:"billingCycle" validate:"required,oneof=monthly annual"`
}

// CycleFromInterval classifies a Stripe price recurrence interval into a
// BillingCycle. The resolver table and the live-subscription path must agree
// on this mapping, so both go through here.
func CycleFromInterval(interval stripe.PriceRecurringInterval) BillingCycle {
	if interval == stripe.PriceRecurringIntervalYear {
		return CycleAnnual
	}
	return CycleMonthly
}
