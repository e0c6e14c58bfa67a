package external

import (
	"context"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

func NewStripeClient(key string) *client.API {
	sc := &client.API{}
	sc.Init(key, nil)
	return sc
}

// StripeBilling adapts the Stripe client to the reconciliation engine's view
// of the billing provider.
type StripeBilling struct {
	api *client.API
}

func NewStripeBilling(api *client.API) *StripeBilling {
	return &StripeBilling{
		api: api,
	}
}

// GetSubscription fetches the live subscription object from Stripe. The
// engine always writes from a fresh fetch, never from the event payload.
func (s *StripeBilling) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	return s.api.Subscriptions.Get(id, params)
}
