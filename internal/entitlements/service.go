package entitlements

import (
	"context"
	"strings"
	"time"

	"github.com/expensa/invoice-genie/internal/accounts"
	"github.com/expensa/invoice-genie/pkg/db/models"
	"github.com/expensa/invoice-genie/pkg/enums"
	pkgerrors "github.com/expensa/invoice-genie/pkg/errors"
	"github.com/expensa/invoice-genie/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Source records where an Entitlement was read from.
type Source string

const (
	SourceSubscription Source = "subscription"
	SourceProfile      Source = "profile"
	SourceDefault      Source = "default"
)

// Entitlement is the plan, quota and status currently assigned to an account.
type Entitlement struct {
	AccountID          uuid.UUID
	SubscriptionRef    string
	PriceID            string
	Plan               enums.PlanTier
	PageQuota          int
	Status             enums.SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CanceledAt         *time.Time
	Source             Source
}

// FreeDefault is the entitlement of an account with no stored state.
func FreeDefault(accountID uuid.UUID) Entitlement {
	return Entitlement{
		AccountID: accountID,
		Plan:      enums.PlanTierFree,
		PageQuota: enums.FreePageQuota,
		Status:    enums.SubscriptionStatusActive,
		Source:    SourceDefault,
	}
}

// UpsertInput carries the fields written for one processor subscription.
// Plan and PageQuota are resolved from PriceID when Plan is empty.
type UpsertInput struct {
	SubscriptionRef    string
	AccountID          uuid.UUID
	PriceID            string
	Plan               enums.PlanTier
	PageQuota          int
	Status             enums.SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CanceledAt         *time.Time
}

// Service is the Entitlement Store.
type Service interface {
	GetCurrent(ctx context.Context, accountID uuid.UUID) Entitlement
	Upsert(ctx context.Context, input UpsertInput) (*Entitlement, error)
	MarkCanceled(ctx context.Context, subscriptionRef string, canceledAt time.Time) error
	MarkPastDue(ctx context.Context, subscriptionRef string) error
	MarkActive(ctx context.Context, subscriptionRef string) error
	Plans() *PlanCatalog
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the entitlement service.
type ServiceParams struct {
	Repo              Repository
	AccountsRepo      accounts.Repository
	Plans             *PlanCatalog
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type service struct {
	repo     Repository
	accounts accounts.Repository
	plans    *PlanCatalog
	txRunner txRunner
	logg     *logger.Logger
}

// NewService builds the entitlement service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entitlement repo required")
	}
	if params.AccountsRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "accounts repo required")
	}
	if params.Plans == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		repo:     params.Repo,
		accounts: params.AccountsRepo,
		plans:    params.Plans,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
	}, nil
}

func (s *service) Plans() *PlanCatalog {
	return s.plans
}

// GetCurrent never fails: store errors are logged and answered with the
// free default.
func (s *service) GetCurrent(ctx context.Context, accountID uuid.UUID) Entitlement {
	logCtx := s.logg.WithAccountID(ctx, accountID.String())

	current, err := s.repo.FindCurrent(ctx, accountID)
	if err != nil {
		s.logg.Error(logCtx, "entitlement read failed; using free default", err)
		return FreeDefault(accountID)
	}
	if current == nil {
		// a canceled row still reports its status until a new subscription arrives
		current, err = s.repo.FindLatest(ctx, accountID)
		if err != nil {
			s.logg.Error(logCtx, "entitlement read failed; using free default", err)
			return FreeDefault(accountID)
		}
	}
	if current != nil {
		return fromModel(current)
	}

	profile, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		s.logg.Error(logCtx, "profile read failed; using free default", err)
		return FreeDefault(accountID)
	}
	if profile == nil {
		return FreeDefault(accountID)
	}
	ent := FreeDefault(accountID)
	if profile.Plan.IsValid() {
		ent.Plan = profile.Plan
	}
	if profile.PageQuota > 0 {
		ent.PageQuota = profile.PageQuota
	}
	ent.Source = SourceProfile
	return ent
}

// Upsert writes the row keyed by SubscriptionRef and mirrors the plan onto
// the account defaults. Repeating the same input leaves the same state. A
// canceled status carries the free quota like MarkCanceled.
func (s *service) Upsert(ctx context.Context, input UpsertInput) (*Entitlement, error) {
	ref := strings.TrimSpace(input.SubscriptionRef)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription ref is required")
	}
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	status := input.Status
	if status == "" {
		status = enums.SubscriptionStatusActive
	}
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription status").
			WithDetails(map[string]any{"status": status})
	}

	plan, quota := input.Plan, input.PageQuota
	if plan == "" {
		resolved := s.plans.Resolve(input.PriceID)
		plan, quota = resolved.Tier, resolved.PageQuota
	}
	if quota <= 0 {
		quota = s.plans.ForTier(plan).PageQuota
	}
	if status == enums.SubscriptionStatusCanceled {
		quota = enums.FreePageQuota
	}

	row := &models.Subscription{
		AccountID:            input.AccountID,
		StripeSubscriptionID: ref,
		StripePriceID:        strings.TrimSpace(input.PriceID),
		Plan:                 plan,
		PageQuota:            quota,
		Status:               status,
		CurrentPeriodStart:   input.CurrentPeriodStart,
		CurrentPeriodEnd:     input.CurrentPeriodEnd,
		CanceledAt:           input.CanceledAt,
	}

	var stored *models.Subscription
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Upsert(ctx, row); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "upsert entitlement")
		}
		accountsRepo := s.accounts.WithTx(tx)
		if status == enums.SubscriptionStatusCanceled {
			if err := accountsRepo.ResetToFree(ctx, input.AccountID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reset account defaults")
			}
		} else if err := accountsRepo.UpdateDefaults(ctx, input.AccountID, plan, quota); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update account defaults")
		}
		found, err := repo.FindByStripeID(ctx, ref)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload entitlement")
		}
		stored = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entitlement not persisted")
	}
	ent := fromModel(stored)
	return &ent, nil
}

// MarkCanceled also reverts the owning account to the free quota.
func (s *service) MarkCanceled(ctx context.Context, subscriptionRef string, canceledAt time.Time) error {
	ref := strings.TrimSpace(subscriptionRef)
	if ref == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription ref is required")
	}
	if canceledAt.IsZero() {
		canceledAt = time.Now().UTC()
	}
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindByStripeID(ctx, ref)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load entitlement")
		}
		if existing == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "entitlement not found").
				WithDetails(map[string]any{"subscription_ref": ref})
		}
		if _, err := repo.Cancel(ctx, ref, canceledAt, enums.FreePageQuota); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel entitlement")
		}
		if err := s.accounts.WithTx(tx).ResetToFree(ctx, existing.AccountID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reset account defaults")
		}
		return nil
	})
}

func (s *service) MarkPastDue(ctx context.Context, subscriptionRef string) error {
	return s.setStatus(ctx, subscriptionRef, enums.SubscriptionStatusPastDue)
}

func (s *service) MarkActive(ctx context.Context, subscriptionRef string) error {
	return s.setStatus(ctx, subscriptionRef, enums.SubscriptionStatusActive)
}

func (s *service) setStatus(ctx context.Context, subscriptionRef string, status enums.SubscriptionStatus) error {
	ref := strings.TrimSpace(subscriptionRef)
	if ref == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription ref is required")
	}
	updated, err := s.repo.UpdateStatus(ctx, ref, status)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update entitlement status")
	}
	if !updated {
		return pkgerrors.New(pkgerrors.CodeNotFound, "entitlement not found").
			WithDetails(map[string]any{"subscription_ref": ref})
	}
	return nil
}

func fromModel(sub *models.Subscription) Entitlement {
	return Entitlement{
		AccountID:          sub.AccountID,
		SubscriptionRef:    sub.StripeSubscriptionID,
		PriceID:            sub.StripePriceID,
		Plan:               sub.Plan,
		PageQuota:          sub.PageQuota,
		Status:             sub.Status,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CanceledAt:         sub.CanceledAt,
		Source:             SourceSubscription,
	}
}
