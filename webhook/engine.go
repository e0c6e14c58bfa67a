package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/memberhq/billing/broker"
	"github.com/memberhq/billing/plan"
	"github.com/memberhq/billing/subscriber"
	"github.com/memberhq/billing/subscription"

	"github.com/lib/pq"
	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

// Metadata keys stamped onto the subscription at checkout time. planType is
// the only discriminator between the regular and the service package flow
// that survives past the checkout session.
const (
	MetadataPlanType = "planType"
	MetadataPlanName = "planName"
	MetadataServices = "services"

	PlanTypeService = "service"
)

// BillingClient is the engine's view of the billing provider's API
type BillingClient interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

// Directory resolves a billing email to an internal user profile.
// Implementations return (nil, nil) when no profile matches.
type Directory interface {
	GetByEmail(ctx context.Context, email string) (*subscriber.Profile, error)
}

// Store is the Subscription Store contract the engine writes through.
// Updates report how many rows matched so the engine can tell a real write
// apart from the documented no-op on an unknown external id.
type Store interface {
	UpsertByExternalID(ctx context.Context, sub *subscription.Subscription) error
	UpdateByExternalID(ctx context.Context, externalID string, patch subscription.Patch) (int64, error)
	UpsertServiceSubscriptionByExternalID(ctx context.Context, sub *subscription.ServiceSubscription) error
	UpdateServiceSubscriptionByExternalID(ctx context.Context, externalID string, patch subscription.Patch) (int64, error)
	FindServiceSubscriptionByExternalID(ctx context.Context, externalID string) (*subscription.ServiceSubscription, error)
}

type EngineOptions struct {
	Billing   BillingClient
	Directory Directory
	Store     Store
	Resolver  *plan.Resolver
	Producer  broker.Producer // optional
	Logger    *zap.Logger
}

// Engine reconciles verified billing events into the Subscription Store.
// Each event is handled independently: there is no shared mutable state, and
// retry-on-failure is delegated entirely to the provider's redelivery.
type Engine struct {
	EngineOptions
	now func() time.Time
}

func NewEngine(option EngineOptions) (*Engine, error) {
	if option.Billing == nil {
		return nil, fmt.Errorf("nil Billing is invalid")
	}
	if option.Directory == nil {
		return nil, fmt.Errorf("nil Directory is invalid")
	}
	if option.Store == nil {
		return nil, fmt.Errorf("nil Store is invalid")
	}
	if option.Resolver == nil {
		return nil, fmt.Errorf("nil Resolver is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Engine{
		EngineOptions: option,
		now:           time.Now,
	}, nil
}

// Process applies one verified event to the store. A returned error means
// the delivery should be reported as failed so the provider retries;
// resolution misses (unknown price, unresolvable user) are logged and
// swallowed so a permanently-unresolvable event cannot poison the retry
// queue.
func (e *Engine) Process(ctx context.Context, event stripe.Event) error {
	logger := e.Logger.With(
		zap.String("EventID", event.ID),
		zap.String("EventType", event.Type),
	)

	switch event.Type {
	case "checkout.session.completed":
		return e.handleCheckoutCompleted(ctx, logger, event)
	case "customer.subscription.created", "customer.subscription.updated":
		return e.handleSubscriptionChanged(ctx, logger, event)
	case "customer.subscription.deleted":
		return e.handleSubscriptionDeleted(ctx, logger, event)
	case "invoice.paid":
		return e.handleInvoicePaid(ctx, logger, event)
	case "invoice.payment_failed":
		return e.handleInvoicePaymentFailed(ctx, logger, event)
	default:
		logger.Info("Ignoring unhandled event type")
		return nil
	}
}

func (e *Engine) handleCheckoutCompleted(ctx context.Context, logger *zap.Logger, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return extErrors.Wrap(err, "Cannot parse checkout session from event")
	}

	if session.Subscription == nil || len(session.Subscription.ID) == 0 {
		logger.Info("Checkout session completed without a subscription, skipping")
		return nil
	}

	logger = logger.With(zap.String("ExternalSubscriptionID", session.Subscription.ID))

	email := session.CustomerEmail
	if len(email) == 0 {
		logger.Warn("Checkout session carries no customer email, skipping")
		return nil
	}
	profile, err := e.Directory.GetByEmail(ctx, email)
	if err != nil {
		return extErrors.Wrap(err, "Cannot resolve user by email")
	}
	if profile == nil {
		logger.Warn("No user matches the checkout email, skipping",
			zap.String("Email", email),
		)
		return nil
	}

	// The event payload can be stale relative to a fast-follow event, so
	// every write derives from a fresh fetch.
	live, err := e.Billing.GetSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return extErrors.Wrap(err, "Cannot fetch live subscription from provider")
	}

	if planTypeOf(live, &session) == PlanTypeService {
		svcSub := &subscription.ServiceSubscription{
			UserID:                 profile.ID,
			ExternalCustomerID:     customerIDOf(live),
			ExternalSubscriptionID: live.ID,
			PlanName:               live.Metadata[MetadataPlanName],
			SelectedServices:       pq.StringArray(splitServices(live.Metadata[MetadataServices])),
			Status:                 subscription.StatusFromStripe(live.Status),
			CurrentPeriodStart:     time.Unix(live.CurrentPeriodStart, 0),
			CurrentPeriodEnd:       time.Unix(live.CurrentPeriodEnd, 0),
			CancelAtPeriodEnd:      live.CancelAtPeriodEnd,
		}
		if err := e.Store.UpsertServiceSubscriptionByExternalID(ctx, svcSub); err != nil {
			return err
		}
		e.publish(ctx, logger, live.ID, profile.ID, svcSub.Status)
		return nil
	}

	priceID := firstPriceID(live)
	entry, ok := e.Resolver.Resolve(priceID)
	if !ok {
		logger.Warn("Unknown price on completed checkout, skipping",
			zap.String("ExternalPriceID", priceID),
		)
		return nil
	}

	sub := &subscription.Subscription{
		UserID:                 profile.ID,
		ExternalCustomerID:     customerIDOf(live),
		ExternalSubscriptionID: live.ID,
		ExternalPriceID:        priceID,
		PlanID:                 entry.PlanID,
		BillingCycle:           entry.Cycle,
		Status:                 subscription.StatusFromStripe(live.Status),
		CurrentPeriodStart:     time.Unix(live.CurrentPeriodStart, 0),
		CurrentPeriodEnd:       time.Unix(live.CurrentPeriodEnd, 0),
		CancelAtPeriodEnd:      live.CancelAtPeriodEnd,
		CanceledAt:             canceledAtOf(live),
	}
	if err := e.Store.UpsertByExternalID(ctx, sub); err != nil {
		return err
	}
	e.publish(ctx, logger, live.ID, profile.ID, sub.Status)
	return nil
}

func (e *Engine) handleSubscriptionChanged(ctx context.Context, logger *zap.Logger, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return extErrors.Wrap(err, "Cannot parse subscription from event")
	}

	logger = logger.With(zap.String("ExternalSubscriptionID", sub.ID))

	svcSub, err := e.Store.FindServiceSubscriptionByExternalID(ctx, sub.ID)
	if err != nil {
		return err
	}

	status := subscription.StatusFromStripe(sub.Status)
	periodStart := time.Unix(sub.CurrentPeriodStart, 0)
	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0)

	if svcSub != nil {
		// Service package rows only track status and period, never plan
		affected, err := e.Store.UpdateServiceSubscriptionByExternalID(ctx, sub.ID, subscription.Patch{
			Status:             &status,
			CurrentPeriodStart: &periodStart,
			CurrentPeriodEnd:   &periodEnd,
		})
		if err != nil {
			return err
		}
		if affected > 0 {
			e.publish(ctx, logger, sub.ID, svcSub.UserID, status)
		}
		return nil
	}

	priceID := firstPriceID(&sub)
	entry, ok := e.Resolver.Resolve(priceID)
	if !ok {
		// Don't overwrite existing good data with unknowns
		logger.Warn("Unknown price on subscription change, skipping",
			zap.String("ExternalPriceID", priceID),
		)
		return nil
	}

	cancelAtPeriodEnd := sub.CancelAtPeriodEnd
	affected, err := e.Store.UpdateByExternalID(ctx, sub.ID, subscription.Patch{
		ExternalPriceID:    &priceID,
		PlanID:             &entry.PlanID,
		BillingCycle:       &entry.Cycle,
		Status:             &status,
		CurrentPeriodStart: &periodStart,
		CurrentPeriodEnd:   &periodEnd,
		CancelAtPeriodEnd:  &cancelAtPeriodEnd,
		CanceledAt:         canceledAtOf(&sub),
	})
	if err != nil {
		return err
	}
	if affected > 0 {
		e.publish(ctx, logger, sub.ID, "", status)
	}
	return nil
}

func (e *Engine) handleSubscriptionDeleted(ctx context.Context, logger *zap.Logger, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return extErrors.Wrap(err, "Cannot parse subscription from event")
	}

	logger = logger.With(zap.String("ExternalSubscriptionID", sub.ID))

	svcSub, err := e.Store.FindServiceSubscriptionByExternalID(ctx, sub.ID)
	if err != nil {
		return err
	}

	canceled := subscription.StatusCanceled
	if svcSub != nil {
		affected, err := e.Store.UpdateServiceSubscriptionByExternalID(ctx, sub.ID, subscription.Patch{
			Status: &canceled,
		})
		if err != nil {
			return err
		}
		if affected > 0 {
			e.publish(ctx, logger, sub.ID, svcSub.UserID, canceled)
		}
		return nil
	}

	canceledAt := e.now()
	affected, err := e.Store.UpdateByExternalID(ctx, sub.ID, subscription.Patch{
		Status:     &canceled,
		CanceledAt: &canceledAt,
	})
	if err != nil {
		return err
	}
	if affected > 0 {
		e.publish(ctx, logger, sub.ID, "", canceled)
	}
	return nil
}

// handleInvoicePaid re-activates the subscription and rolls the paid period
// forward. Failures here are logged but acknowledged: invoices recur, so a
// failed reconciliation heals on the next billing cycle and a retry storm
// helps nobody.
func (e *Engine) handleInvoicePaid(ctx context.Context, logger *zap.Logger, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return extErrors.Wrap(err, "Cannot parse invoice from event")
	}

	if invoice.Subscription == nil || len(invoice.Subscription.ID) == 0 {
		logger.Info("Invoice without a subscription, skipping")
		return nil
	}

	logger = logger.With(zap.String("ExternalSubscriptionID", invoice.Subscription.ID))

	live, err := e.Billing.GetSubscription(ctx, invoice.Subscription.ID)
	if err != nil {
		logger.Error("Cannot fetch live subscription for paid invoice",
			zap.Error(err),
		)
		return nil
	}

	active := subscription.StatusActive
	periodStart := time.Unix(live.CurrentPeriodStart, 0)
	periodEnd := time.Unix(live.CurrentPeriodEnd, 0)
	patch := subscription.Patch{
		Status:             &active,
		CurrentPeriodStart: &periodStart,
		CurrentPeriodEnd:   &periodEnd,
	}

	priceID := firstPriceID(live)
	if entry, ok := e.Resolver.Resolve(priceID); ok {
		patch.ExternalPriceID = &priceID
		patch.PlanID = &entry.PlanID
		// This path re-derives the cycle from the live price recurrence;
		// CycleFromInterval keeps it in agreement with the resolver table.
		cycle := liveCycleOf(live, entry.Cycle)
		patch.BillingCycle = &cycle
	}

	affected, err := e.Store.UpdateByExternalID(ctx, invoice.Subscription.ID, patch)
	if err != nil {
		logger.Error("Cannot update subscription for paid invoice",
			zap.Error(err),
		)
		return nil
	}
	if affected > 0 {
		e.publish(ctx, logger, invoice.Subscription.ID, "", active)
	}
	return nil
}

func (e *Engine) handleInvoicePaymentFailed(ctx context.Context, logger *zap.Logger, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return extErrors.Wrap(err, "Cannot parse invoice from event")
	}

	if invoice.Subscription == nil || len(invoice.Subscription.ID) == 0 {
		logger.Info("Invoice without a subscription, skipping")
		return nil
	}

	logger = logger.With(zap.String("ExternalSubscriptionID", invoice.Subscription.ID))

	pastDue := subscription.StatusPastDue
	affected, err := e.Store.UpdateByExternalID(ctx, invoice.Subscription.ID, subscription.Patch{
		Status: &pastDue,
	})
	if err != nil {
		logger.Error("Cannot mark subscription past due",
			zap.Error(err),
		)
		return nil
	}
	if affected > 0 {
		e.publish(ctx, logger, invoice.Subscription.ID, "", pastDue)
	}
	return nil
}

// publish emits a state-change notification. Broker failures never fail the
// delivery: the store is already consistent.
func (e *Engine) publish(ctx context.Context, logger *zap.Logger, externalID, userID string, status subscription.Status) {
	if e.Producer == nil {
		return
	}
	if err := e.Producer.PublishStateChange(ctx, &broker.StateChange{
		ExternalSubscriptionID: externalID,
		UserID:                 userID,
		Status:                 string(status),
		OccurredAt:             e.now(),
	}); err != nil {
		logger.Error("Cannot publish state change",
			zap.Error(err),
		)
	}
}

func firstPriceID(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	if sub.Items.Data[0].Price == nil {
		return ""
	}
	return sub.Items.Data[0].Price.ID
}

func customerIDOf(sub *stripe.Subscription) string {
	if sub.Customer == nil {
		return ""
	}
	return sub.Customer.ID
}

func canceledAtOf(sub *stripe.Subscription) *time.Time {
	if sub.CanceledAt == 0 {
		return nil
	}
	t := time.Unix(sub.CanceledAt, 0)
	return &t
}

func liveCycleOf(sub *stripe.Subscription, fallback plan.BillingCycle) plan.BillingCycle {
	if sub.Items != nil && len(sub.Items.Data) > 0 &&
		sub.Items.Data[0].Price != nil && sub.Items.Data[0].Price.Recurring != nil {
		return plan.CycleFromInterval(sub.Items.Data[0].Price.Recurring.Interval)
	}
	return fallback
}

func planTypeOf(live *stripe.Subscription, session *stripe.CheckoutSession) string {
	if t, ok := live.Metadata[MetadataPlanType]; ok {
		return t
	}
	return session.Metadata[MetadataPlanType]
}

func splitServices(joined string) []string {
	if len(joined) == 0 {
		return nil
	}
	parts := strings.Split(joined, ",")
	services := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); len(trimmed) > 0 {
			services = append(services, trimmed)
		}
	}
	return services
}
