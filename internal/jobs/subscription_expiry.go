package jobs

import (
	"context"
	"log"
	"time"
)

// SubscriptionExpirer moves lapsed subscriptions to expired
type SubscriptionExpirer interface {
	ExpireSubscriptions(ctx context.Context, cutoff time.Time) ([]string, error)
}

// SubscriptionExpiryJob expires on-hold and pending-cancel subscriptions
// whose period ended more than the grace window ago
type SubscriptionExpiryJob struct {
	users SubscriptionExpirer
	grace time.Duration
	now   func() time.Time
}

// NewSubscriptionExpiryJob creates a new subscription expiry job
func NewSubscriptionExpiryJob(users SubscriptionExpirer, grace time.Duration) *SubscriptionExpiryJob {
	if grace < 0 {
		grace = 0
	}
	return &SubscriptionExpiryJob{users: users, grace: grace, now: time.Now}
}

// Run expires every lapsed subscription
func (j *SubscriptionExpiryJob) Run(ctx context.Context) error {
	if j.users == nil {
		log.Println("⚠️  [SUBSCRIPTION-EXPIRY] Disabled (requires MongoDB)")
		return nil
	}

	cutoff := j.now().UTC().Add(-j.grace)
	expired, err := j.users.ExpireSubscriptions(ctx, cutoff)
	if err != nil {
		return err
	}

	if len(expired) > 0 {
		log.Printf("⏰ [SUBSCRIPTION-EXPIRY] Expired %d subscriptions (period ended before %s)",
			len(expired), cutoff.Format(time.RFC3339))
	}
	return nil
}
