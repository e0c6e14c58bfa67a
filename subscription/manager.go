package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// subscriptionAssignments are the columns an upsert overwrites when the
// external subscription id already exists. Internal identity (id) and the
// resolved owner (user_id) survive redelivery.
var subscriptionAssignments = []string{
	"external_customer_id",
	"external_price_id",
	"plan_id",
	"billing_cycle",
	"status",
	"current_period_start",
	"current_period_end",
	"cancel_at_period_end",
	"canceled_at",
	"updated_at",
}

var serviceSubscriptionAssignments = []string{
	"external_customer_id",
	"plan_name",
	"selected_services",
	"status",
	"current_period_start",
	"current_period_end",
	"cancel_at_period_end",
	"updated_at",
}

type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Manager is the Subscription Store: all reads and writes against the
// subscriptions and service_subscriptions tables go through here. Every
// mutation is scoped to a single row identified by external subscription id.
type Manager struct {
	ManagerOptions
}

func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Subscription{}, &ServiceSubscription{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize subscription.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// UpsertByExternalID will insert-or-replace a Subscription row keyed on
// external_subscription_id. Atomic per row via ON CONFLICT.
func (m *Manager) UpsertByExternalID(ctx context.Context, sub *Subscription) error {
	if len(sub.ExternalSubscriptionID) == 0 {
		return fmt.Errorf("Subscription.ExternalSubscriptionID is required")
	}
	if len(sub.ID) == 0 {
		sub.ID = shortuuid.New()
	}
	result := m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_subscription_id"}},
		DoUpdates: clause.AssignmentColumns(subscriptionAssignments),
	}).Create(sub)
	if result.Error != nil {
		m.Logger.Error("Unable to upsert subscription in database",
			zap.String("ExternalSubscriptionID", sub.ExternalSubscriptionID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot upsert subscription")
	}
	return nil
}

// UpdateByExternalID applies a partial update to the Subscription with the
// given external id and reports how many rows matched. No-op (not an error)
// if no row matches: lifecycle events must never create rows on their own.
func (m *Manager) UpdateByExternalID(ctx context.Context, externalID string, patch Patch) (int64, error) {
	updates := patch.updates()
	if len(updates) == 0 {
		return 0, nil
	}
	result := m.DB.WithContext(ctx).
		Model(&Subscription{}).
		Where("external_subscription_id = ?", externalID).
		Updates(updates)
	if result.Error != nil {
		m.Logger.Error("Unable to update subscription in database",
			zap.String("ExternalSubscriptionID", externalID),
			zap.Error(result.Error),
		)
		return 0, extErrors.Wrap(result.Error, "Cannot update subscription")
	}
	return result.RowsAffected, nil
}

// GetByExternalID will try to return the Subscription with the given
// external id. Returns (nil, nil) when no row matches.
func (m *Manager) GetByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	var sub Subscription
	result := m.DB.WithContext(ctx).First(&sub, "external_subscription_id = ?", externalID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription by external id")
	}
	return &sub, nil
}

// UpsertServiceSubscriptionByExternalID is the ServiceSubscription
// counterpart of UpsertByExternalID.
func (m *Manager) UpsertServiceSubscriptionByExternalID(ctx context.Context, sub *ServiceSubscription) error {
	if len(sub.ExternalSubscriptionID) == 0 {
		return fmt.Errorf("ServiceSubscription.ExternalSubscriptionID is required")
	}
	if len(sub.ID) == 0 {
		sub.ID = shortuuid.New()
	}
	result := m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_subscription_id"}},
		DoUpdates: clause.AssignmentColumns(serviceSubscriptionAssignments),
	}).Create(sub)
	if result.Error != nil {
		m.Logger.Error("Unable to upsert service subscription in database",
			zap.String("ExternalSubscriptionID", sub.ExternalSubscriptionID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot upsert service subscription")
	}
	return nil
}

// UpdateServiceSubscriptionByExternalID applies a partial update to a
// ServiceSubscription row and reports how many rows matched.
// ServiceSubscription carries no plan or canceled_at columns, so the Patch
// must only set status/period/cancel-flag fields.
func (m *Manager) UpdateServiceSubscriptionByExternalID(ctx context.Context, externalID string, patch Patch) (int64, error) {
	updates := patch.updates()
	if len(updates) == 0 {
		return 0, nil
	}
	result := m.DB.WithContext(ctx).
		Model(&ServiceSubscription{}).
		Where("external_subscription_id = ?", externalID).
		Updates(updates)
	if result.Error != nil {
		m.Logger.Error("Unable to update service subscription in database",
			zap.String("ExternalSubscriptionID", externalID),
			zap.Error(result.Error),
		)
		return 0, extErrors.Wrap(result.Error, "Cannot update service subscription")
	}
	return result.RowsAffected, nil
}

// FindServiceSubscriptionByExternalID will try to return the
// ServiceSubscription with the given external id. Returns (nil, nil) when no
// row matches; this is how the engine discriminates the two flows.
func (m *Manager) FindServiceSubscriptionByExternalID(ctx context.Context, externalID string) (*ServiceSubscription, error) {
	var sub ServiceSubscription
	result := m.DB.WithContext(ctx).First(&sub, "external_subscription_id = ?", externalID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.String("ExternalSubscriptionID", externalID),
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get service subscription by external id")
	}
	return &sub, nil
}

// ListByUser returns a user's subscriptions, newest first. Used by the
// portal-facing read endpoint.
func (m *Manager) ListByUser(ctx context.Context, userID string) ([]Subscription, error) {
	if len(userID) == 0 {
		return nil, fmt.Errorf("ListByUser requires a user id")
	}
	results := make([]Subscription, 0, 1)
	result := m.DB.WithContext(ctx).
		Order("created_at desc").
		Where("user_id = ?", userID).
		Find(&results)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return results, nil
}
