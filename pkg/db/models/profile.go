package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/expensa/invoice-genie/pkg/enums"
)

// Profile mirrors the account row owned by the auth provider. Plan and
// PageQuota are the fallback entitlement when no subscription row exists.
type Profile struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Email     string         `gorm:"type:text;not null;uniqueIndex"`
	Plan      enums.PlanTier `gorm:"column:plan;not null;default:'free'"`
	PageQuota int            `gorm:"column:page_quota;not null;default:10"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
