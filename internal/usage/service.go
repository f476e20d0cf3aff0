package usage

import (
	"context"
	"time"

	"github.com/expensa/invoice-genie/internal/entitlements"
	"github.com/expensa/invoice-genie/pkg/db/models"
	"github.com/expensa/invoice-genie/pkg/enums"
	pkgerrors "github.com/expensa/invoice-genie/pkg/errors"
	"github.com/expensa/invoice-genie/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QuotaResult answers whether an account may consume more pages this period.
type QuotaResult struct {
	Allowed   bool
	Remaining int
	Limit     int
}

// Summary combines the current entitlement with this period's counters.
type Summary struct {
	AccountID        uuid.UUID
	Plan             enums.PlanTier
	PlanName         string
	Status           enums.SubscriptionStatus
	PageQuota        int
	CurrentPeriodEnd *time.Time
	MonthlyPrice     decimal.Decimal
	Period           Period
	PagesProcessed   int
	PagesLimit       int
	PagesRemaining   int
	StorageBytes     int64
	APICalls         int
}

// Service is the Usage Ledger.
type Service interface {
	CheckQuota(ctx context.Context, accountID uuid.UUID, pages int) QuotaResult
	RecordUsage(ctx context.Context, accountID uuid.UUID, pages int) error
	Summary(ctx context.Context, accountID uuid.UUID) (*Summary, error)
}

type entitlementReader interface {
	GetCurrent(ctx context.Context, accountID uuid.UUID) entitlements.Entitlement
	Plans() *entitlements.PlanCatalog
}

type usageMetrics interface {
	IncQuotaCheck(allowed bool)
	AddPagesRecorded(pages int)
}

// ServiceParams groups dependencies for the usage service.
type ServiceParams struct {
	Repo         Repository
	Entitlements entitlementReader
	Logger       *logger.Logger
	Metrics      usageMetrics
	// AtomicIncrement records usage with a single UPDATE instead of
	// read-modify-write.
	AtomicIncrement bool
	Now             func() time.Time
}

type service struct {
	repo         Repository
	entitlements entitlementReader
	logg         *logger.Logger
	metrics      usageMetrics
	atomic       bool
	now          func() time.Time
}

// NewService builds the usage ledger.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "usage repo required")
	}
	if params.Entitlements == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entitlement service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:         params.Repo,
		entitlements: params.Entitlements,
		logg:         params.Logger,
		metrics:      params.Metrics,
		atomic:       params.AtomicIncrement,
		now:          now,
	}, nil
}

// PeriodOf returns the calendar month containing t in t's location.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// CheckQuota measures the period counter against the account's current
// entitlement, so plan changes and cancellations apply to the next check.
// It does not change the counter. A store failure is answered with the
// free-tier allowance.
func (s *service) CheckQuota(ctx context.Context, accountID uuid.UUID, pages int) QuotaResult {
	logCtx := s.logg.WithAccountID(ctx, accountID.String())

	limit, processed := enums.FreePageQuota, 0
	metric, err := s.loadOrCreate(ctx, accountID, PeriodOf(s.now()))
	if err != nil {
		s.logg.Error(logCtx, "usage read failed; using free-tier allowance", err)
	} else {
		limit = s.entitlements.GetCurrent(ctx, accountID).PageQuota
		processed = metric.PagesProcessed
	}

	remaining := limit - processed
	result := QuotaResult{
		Allowed:   remaining >= pages,
		Remaining: remaining,
		Limit:     limit,
	}
	if s.metrics != nil {
		s.metrics.IncQuotaCheck(result.Allowed)
	}
	return result
}

// RecordUsage adds pages to the current period. Increments are never retried.
func (s *service) RecordUsage(ctx context.Context, accountID uuid.UUID, pages int) error {
	period := PeriodOf(s.now())
	metric, err := s.loadOrCreate(ctx, accountID, period)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load usage period")
	}

	if s.atomic {
		updated, err := s.repo.Increment(ctx, accountID, period, pages)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "increment usage")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeInternal, "usage period missing")
		}
	} else {
		// concurrent callers can overwrite each other here
		metric.PagesProcessed += pages
		if err := s.repo.Save(ctx, metric); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save usage")
		}
	}

	if s.metrics != nil {
		s.metrics.AddPagesRecorded(pages)
	}
	return nil
}

func (s *service) Summary(ctx context.Context, accountID uuid.UUID) (*Summary, error) {
	ent := s.entitlements.GetCurrent(ctx, accountID)
	plan := s.entitlements.Plans().ForTier(ent.Plan)

	period := PeriodOf(s.now())
	metric, err := s.loadOrCreate(ctx, accountID, period)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load usage period")
	}

	return &Summary{
		AccountID:        accountID,
		Plan:             ent.Plan,
		PlanName:         plan.Name,
		Status:           ent.Status,
		PageQuota:        ent.PageQuota,
		CurrentPeriodEnd: ent.CurrentPeriodEnd,
		MonthlyPrice:     plan.MonthlyPrice,
		Period:           period,
		PagesProcessed:   metric.PagesProcessed,
		PagesLimit:       ent.PageQuota,
		PagesRemaining:   ent.PageQuota - metric.PagesProcessed,
		StorageBytes:     metric.StorageBytes,
		APICalls:         metric.APICalls,
	}, nil
}

// loadOrCreate snapshots the current entitlement quota into a new period row.
// The snapshot is history; limits are always read from the entitlement.
func (s *service) loadOrCreate(ctx context.Context, accountID uuid.UUID, period Period) (*models.UsageMetric, error) {
	metric, err := s.repo.FindPeriod(ctx, accountID, period)
	if err != nil {
		return nil, err
	}
	if metric != nil {
		return metric, nil
	}

	ent := s.entitlements.GetCurrent(ctx, accountID)
	if err := s.repo.CreatePeriod(ctx, &models.UsageMetric{
		AccountID:  accountID,
		Year:       period.Year,
		Month:      period.Month,
		PagesLimit: ent.PageQuota,
	}); err != nil {
		return nil, err
	}

	metric, err = s.repo.FindPeriod(ctx, accountID, period)
	if err != nil {
		return nil, err
	}
	if metric == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "usage period not persisted")
	}
	return metric, nil
}
