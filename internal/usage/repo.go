package usage

import (
	"context"
	"errors"

	"github.com/expensa/invoice-genie/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Period identifies one calendar month of usage.
type Period struct {
	Year  int
	Month int
}

// Repository persists the per-period usage counters.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindPeriod(ctx context.Context, accountID uuid.UUID, period Period) (*models.UsageMetric, error)
	CreatePeriod(ctx context.Context, metric *models.UsageMetric) error
	Save(ctx context.Context, metric *models.UsageMetric) error
	Increment(ctx context.Context, accountID uuid.UUID, period Period, pages int) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a usage repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindPeriod returns nil when the period has not been touched yet.
func (r *repository) FindPeriod(ctx context.Context, accountID uuid.UUID, period Period) (*models.UsageMetric, error) {
	var metric models.UsageMetric
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND year = ? AND month = ?", accountID, period.Year, period.Month).
		First(&metric).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &metric, nil
}

// CreatePeriod inserts the row unless a concurrent caller already did.
func (r *repository) CreatePeriod(ctx context.Context, metric *models.UsageMetric) error {
	if metric.ID == uuid.Nil {
		metric.ID = uuid.New()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "year"}, {Name: "month"}},
			DoNothing: true,
		}).
		Create(metric).Error
}

func (r *repository) Save(ctx context.Context, metric *models.UsageMetric) error {
	return r.db.WithContext(ctx).Save(metric).Error
}

// Increment adds pages in a single statement.
func (r *repository) Increment(ctx context.Context, accountID uuid.UUID, period Period, pages int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.UsageMetric{}).
		Where("account_id = ? AND year = ? AND month = ?", accountID, period.Year, period.Month).
		Updates(map[string]any{
			"pages_processed": gorm.Expr("pages_processed + ?", pages),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
