package subscription

import "github.com/stripe/stripe-go/v72"

// Status is the custom type to define the current state of a subscription
type Status string

// Defining different Statuses for a Subscription
const (
	StatusActive     Status = "active"
	StatusCanceled   Status = "canceled"
	StatusPastDue    Status = "past_due"
	StatusUnpaid     Status = "unpaid"
	StatusTrialing   Status = "trialing"
	StatusIncomplete Status = "incomplete"
)

// StatusFromStripe maps the provider's subscription status onto our enum.
// Anything we don't model (e.g. incomplete_expired) collapses to incomplete;
// the provider's next lifecycle event corrects it.
func StatusFromStripe(s stripe.SubscriptionStatus) Status {
	switch s {
	case stripe.SubscriptionStatusActive:
		return StatusActive
	case stripe.SubscriptionStatusCanceled:
		return StatusCanceled
	case stripe.SubscriptionStatusPastDue:
		return StatusPastDue
	case stripe.SubscriptionStatusUnpaid:
		return StatusUnpaid
	case stripe.SubscriptionStatusTrialing:
		return StatusTrialing
	default:
		return StatusIncomplete
	}
}
