package models

import "time"

// Run is one evaluation outcome for a subscription. Snapshot holds the raw
// course payload the evaluation saw, serialised as JSON.
type Run struct {
	ID               int64     `db:"id" json:"id"`
	SubscriptionID   int64     `db:"subscription_id" json:"subscriptionId"`
	Error            *string   `db:"error" json:"error,omitempty"`
	Snapshot         *string   `db:"snapshot" json:"snapshot,omitempty"`
	NotificationSent bool      `db:"notification_sent" json:"notificationSent"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
}
