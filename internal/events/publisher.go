// Package events publishes domain notifications for downstream consumers.
// Publishing is fire-and-forget from the caller's perspective: failures are
// logged, never propagated into the purchase path.
package events

import "context"

// PurchaseCompleted announces a committed plan purchase.
type PurchaseCompleted struct {
	SubscriptionID   string `json:"subscription_id"`
	AccountID        string `json:"account_id"`
	PlanID           string `json:"plan_id"`
	PrincipalCents   int64  `json:"principal_cents"`
	PurchasedUnixUTC int64  `json:"purchased_unix_utc"`
}

// Publisher emits domain events.
type Publisher interface {
	PublishPurchaseCompleted(ctx context.Context, event PurchaseCompleted) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

// PublishPurchaseCompleted implements Publisher.
func (NopPublisher) PublishPurchaseCompleted(context.Context, PurchaseCompleted) error {
	return nil
}
