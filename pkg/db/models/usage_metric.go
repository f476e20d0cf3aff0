package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageMetric is the per-account counter for one calendar month.
type UsageMetric struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	AccountID      uuid.UUID `gorm:"column:account_id;type:uuid;not null;uniqueIndex:usage_metrics_period_key,priority:1"`
	Year           int       `gorm:"column:year;not null;uniqueIndex:usage_metrics_period_key,priority:2"`
	Month          int       `gorm:"column:month;not null;uniqueIndex:usage_metrics_period_key,priority:3"`
	PagesProcessed int       `gorm:"column:pages_processed;not null;default:0"`
	PagesLimit     int       `gorm:"column:pages_limit;not null"`
	StorageBytes   int64     `gorm:"column:storage_bytes;not null;default:0"`
	APICalls       int       `gorm:"column:api_calls;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
