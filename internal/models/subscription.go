package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Subscription status constants
const (
	SubStatusActive        = "active"
	SubStatusTrialing      = "trialing"
	SubStatusOnHold        = "on_hold"        // Payment failed, grace period
	SubStatusPendingCancel = "pending_cancel" // Will cancel at period end
	SubStatusCancelled     = "cancelled"
	SubStatusPaused        = "paused"
	SubStatusExpired       = "expired"
)

// Plan represents the premium offering shown at checkout
type Plan struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	PriceMonthly  int64    `json:"price_monthly"` // cents
	DodoProductID string   `json:"dodo_product_id"`
	Features      []string `json:"features"`
}

// Subscription is the app's cached projection of the payment provider's
// subscription object. The provider owns it; webhooks keep it current.
type Subscription struct {
	ProviderSubscriptionID string `bson:"providerSubscriptionId,omitempty" json:"provider_subscription_id,omitempty"`
	ProductID              string `bson:"productId,omitempty" json:"product_id,omitempty"`

	Status string `bson:"status" json:"status"`

	CurrentPeriodStart time.Time `bson:"currentPeriodStart,omitempty" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   time.Time `bson:"currentPeriodEnd,omitempty" json:"current_period_end,omitempty"`

	PriceAmount     int64   `bson:"priceAmount,omitempty" json:"price_amount,omitempty"` // minor units
	Currency        string  `bson:"currency,omitempty" json:"currency,omitempty"`
	DiscountPercent float64 `bson:"discountPercent,omitempty" json:"discount_percent,omitempty"`

	CancelAtPeriodEnd bool       `bson:"cancelAtPeriodEnd" json:"cancel_at_period_end"`
	CancelledAt       *time.Time `bson:"cancelledAt,omitempty" json:"cancelled_at,omitempty"`
	UpdatedAt         time.Time  `bson:"updatedAt" json:"updated_at"`
}

// IsActive returns true if subscription is currently active (user has access)
func (s *Subscription) IsActive() bool {
	if s == nil {
		return false
	}
	switch s.Status {
	case SubStatusActive, SubStatusTrialing, SubStatusOnHold, SubStatusPendingCancel:
		return true
	default:
		return false
	}
}

// IsExpired returns true if subscription period has ended
func (s *Subscription) IsExpired() bool {
	return s != nil && !s.CurrentPeriodEnd.IsZero() && s.CurrentPeriodEnd.Before(time.Now())
}

// SubscriptionEvent for audit logging and webhook idempotency
type SubscriptionEvent struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID         string             `bson:"userId,omitempty" json:"user_id,omitempty"`
	SubscriptionID string             `bson:"subscriptionId,omitempty" json:"subscription_id,omitempty"`
	EventType      string             `bson:"eventType" json:"event_type"`
	ProviderEvent  string             `bson:"providerEventId" json:"provider_event_id"`
	Metadata       map[string]any     `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt      time.Time          `bson:"createdAt" json:"created_at"`
}

// PremiumPlan builds the single premium plan for a configured product id
func PremiumPlan(productID string) Plan {
	return Plan{
		ID:            "premium",
		Name:          "Premium",
		PriceMonthly:  999,
		DodoProductID: productID,
		Features: []string{
			"Advanced reflections",
			"Unlimited AI prompts",
			"Weekly reports",
		},
	}
}
