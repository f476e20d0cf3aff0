package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/expensa/invoice-genie/pkg/enums"
)

// Subscription persists one entitlement per Stripe subscription.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"type:uuid;primaryKey"`
	AccountID            uuid.UUID                `gorm:"column:account_id;type:uuid;not null;index"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;uniqueIndex"`
	StripePriceID        string                   `gorm:"column:stripe_price_id"`
	Plan                 enums.PlanTier           `gorm:"column:plan;not null;default:'free'"`
	PageQuota            int                      `gorm:"column:page_quota;not null;default:10"`
	Status               enums.SubscriptionStatus `gorm:"column:status;not null;default:'active'"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
