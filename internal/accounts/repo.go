package accounts

import (
	"context"
	"errors"
	"strings"

	"github.com/expensa/invoice-genie/pkg/db"
	"github.com/expensa/invoice-genie/pkg/db/models"
	"github.com/expensa/invoice-genie/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrEmailTaken is returned by Create when another account owns the email.
var ErrEmailTaken = errors.New("account email already exists")

// Repository resolves accounts and their stored plan defaults.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, profile *models.Profile) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	FindByEmail(ctx context.Context, email string) (*models.Profile, error)
	UpdateDefaults(ctx context.Context, id uuid.UUID, plan enums.PlanTier, pageQuota int) error
	ResetToFree(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the repo to the provided GORM connection.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, profile *models.Profile) error {
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	profile.Email = NormalizeEmail(profile.Email)
	if err := r.db.WithContext(ctx).Create(profile).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

// FindByID returns nil when the account does not exist.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	var profile models.Profile
	if err := r.db.WithContext(ctx).First(&profile, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// FindByEmail matches case-insensitively and returns nil when nothing matches.
func (r *repository) FindByEmail(ctx context.Context, email string) (*models.Profile, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return nil, nil
	}
	var profile models.Profile
	if err := r.db.WithContext(ctx).
		Where("lower(email) = ?", normalized).
		First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (r *repository) UpdateDefaults(ctx context.Context, id uuid.UUID, plan enums.PlanTier, pageQuota int) error {
	return r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"plan":       plan,
			"page_quota": pageQuota,
		}).Error
}

// ResetToFree reverts the stored defaults to the free tier.
func (r *repository) ResetToFree(ctx context.Context, id uuid.UUID) error {
	return r.UpdateDefaults(ctx, id, enums.PlanTierFree, enums.FreePageQuota)
}

// NormalizeEmail lowercases and trims an email for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
