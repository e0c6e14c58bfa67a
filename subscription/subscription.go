package subscription

import (
	"time"

	"github.com/memberhq/billing/plan"

	"github.com/lib/pq"
)

// Subscription is the persisted record of a user's recurring plan. There is
// exactly one row per external subscription id; all writes are upserts keyed
// on it so redelivered events converge on the same row.
type Subscription struct {
	ID                     string            `json:"id" gorm:"primaryKey"`
	UserID                 string            `json:"userId" gorm:"index"`
	ExternalCustomerID     string            `json:"externalCustomerId" gorm:"index"`       // Corresponds to Stripe's Customer ID
	ExternalSubscriptionID string            `json:"externalSubscriptionId" gorm:"uniqueIndex"` // Corresponds to Stripe's Subscription ID, the upsert conflict target
	ExternalPriceID        string            `json:"externalPriceId"`                       // Corresponds to Stripe's Price ID currently on the subscription
	PlanID                 plan.ID           `json:"planId"`
	BillingCycle           plan.BillingCycle `json:"billingCycle"`
	Status                 Status            `json:"status"` // Source of truth for feature gating in the application
	CurrentPeriodStart     time.Time         `json:"currentPeriodStart"`
	CurrentPeriodEnd       time.Time         `json:"currentPeriodEnd"`
	CancelAtPeriodEnd      bool              `json:"cancelAtPeriodEnd"`
	CanceledAt             *time.Time        `json:"canceledAt"` // Set only on explicit cancellation, never cleared
	CreatedAt              time.Time         `json:"createdAt"`
	UpdatedAt              time.Time         `json:"updatedAt"`
}

// ServiceSubscription is the parallel record for the one-off service package
// flow. It shares the external subscription id namespace with Subscription;
// an external id belongs to exactly one of the two tables.
type ServiceSubscription struct {
	ID                     string         `json:"id" gorm:"primaryKey"`
	UserID                 string         `json:"userId" gorm:"index"`
	ExternalCustomerID     string         `json:"externalCustomerId" gorm:"index"`
	ExternalSubscriptionID string         `json:"externalSubscriptionId" gorm:"uniqueIndex"`
	PlanName               string         `json:"planName"`
	SelectedServices       pq.StringArray `json:"selectedServices" gorm:"type:text[]"`
	Status                 Status         `json:"status"`
	CurrentPeriodStart     time.Time      `json:"currentPeriodStart"`
	CurrentPeriodEnd       time.Time      `json:"currentPeriodEnd"`
	CancelAtPeriodEnd      bool           `json:"cancelAtPeriodEnd"`
	CreatedAt              time.Time      `json:"createdAt"`
	UpdatedAt              time.Time      `json:"updatedAt"`
}
