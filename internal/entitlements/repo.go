package entitlements

import (
	"context"
	"errors"
	"time"

	"github.com/expensa/invoice-genie/pkg/db/models"
	"github.com/expensa/invoice-genie/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists entitlement rows keyed by processor subscription id.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindCurrent(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error)
	FindLatest(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error)
	FindByStripeID(ctx context.Context, subscriptionRef string) (*models.Subscription, error)
	Upsert(ctx context.Context, subscription *models.Subscription) error
	UpdateStatus(ctx context.Context, subscriptionRef string, status enums.SubscriptionStatus) (bool, error)
	Cancel(ctx context.Context, subscriptionRef string, canceledAt time.Time, pageQuota int) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an entitlement repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindCurrent returns the most recently written non-canceled row.
func (r *repository) FindCurrent(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error) {
	return r.first(r.db.WithContext(ctx).
		Where("account_id = ? AND status <> ?", accountID, enums.SubscriptionStatusCanceled))
}

// FindLatest returns the most recently written row regardless of status.
func (r *repository) FindLatest(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error) {
	return r.first(r.db.WithContext(ctx).Where("account_id = ?", accountID))
}

func (r *repository) first(query *gorm.DB) (*models.Subscription, error) {
	var sub models.Subscription
	if err := query.
		Order("updated_at DESC").
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByStripeID(ctx context.Context, subscriptionRef string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", subscriptionRef).
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// Upsert inserts the row or overwrites every mutable column of the row with
// the same stripe_subscription_id.
func (r *repository) Upsert(ctx context.Context, subscription *models.Subscription) error {
	if subscription.ID == uuid.Nil {
		subscription.ID = uuid.New()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stripe_subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"account_id",
				"stripe_price_id",
				"plan",
				"page_quota",
				"status",
				"current_period_start",
				"current_period_end",
				"canceled_at",
				"updated_at",
			}),
		}).
		Create(subscription).Error
}

// UpdateStatus reports false when no row matches subscriptionRef.
func (r *repository) UpdateStatus(ctx context.Context, subscriptionRef string, status enums.SubscriptionStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", subscriptionRef).
		Updates(map[string]any{"status": status})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) Cancel(ctx context.Context, subscriptionRef string, canceledAt time.Time, pageQuota int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", subscriptionRef).
		Updates(map[string]any{
			"status":      enums.SubscriptionStatusCanceled,
			"canceled_at": canceledAt,
			"page_quota":  pageQuota,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
