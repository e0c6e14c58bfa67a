package broker

import (
	"context"
	"time"
)

// StateChange is published after the engine successfully writes a
// subscription state to the store. Consumers (e.g. the member portal's cache
// invalidator) are outside this service.
type StateChange struct {
	ExternalSubscriptionID string    `json:"externalSubscriptionId"`
	UserID                 string    `json:"userId,omitempty"` // Only known on checkout completion
	Status                 string    `json:"status"`
	OccurredAt             time.Time `json:"occurredAt"`
}

// Producer defines a producer sending state-change notifications via message broker
type Producer interface {
	Close()
	PublishStateChange(ctx context.Context, change *StateChange) error
}
