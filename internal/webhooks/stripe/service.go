package stripewebhook

import (
	"context"
	"time"

	"github.com/expensa/invoice-genie/internal/entitlements"
	"github.com/expensa/invoice-genie/pkg/db/models"
	pkgerrors "github.com/expensa/invoice-genie/pkg/errors"
	"github.com/expensa/invoice-genie/pkg/logger"
	"github.com/expensa/invoice-genie/pkg/metrics"
	"github.com/stripe/stripe-go/v84"
)

type entitlementWriter interface {
	Upsert(ctx context.Context, input entitlements.UpsertInput) (*entitlements.Entitlement, error)
	MarkCanceled(ctx context.Context, subscriptionRef string, canceledAt time.Time) error
	MarkPastDue(ctx context.Context, subscriptionRef string) error
	MarkActive(ctx context.Context, subscriptionRef string) error
}

type accountFinder interface {
	FindByEmail(ctx context.Context, email string) (*models.Profile, error)
}

// CustomerLookup resolves the billing email of a processor customer.
type CustomerLookup interface {
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}

type webhookMetrics interface {
	IncWebhookEvent(eventType, outcome string)
}

type ServiceParams struct {
	Entitlements entitlementWriter
	Accounts     accountFinder
	Customers    CustomerLookup
	Guard        *DeliveryGuard
	Logger       *logger.Logger
	Metrics      webhookMetrics
}

// Service is the event reconciler.
type Service struct {
	entitlements entitlementWriter
	accounts     accountFinder
	customers    CustomerLookup
	guard        *DeliveryGuard
	logg         *logger.Logger
	metrics      webhookMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Entitlements == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entitlement service required")
	}
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "accounts repo required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		entitlements: params.Entitlements,
		accounts:     params.Accounts,
		customers:    params.Customers,
		guard:        params.Guard,
		logg:         params.Logger,
		metrics:      params.Metrics,
	}, nil
}

// HandleEvent applies one verified event. Account misses and unknown
// subscription refs are logged and dropped; store failures are returned and
// release the delivery claim.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	decoded, err := Decode(event)
	if err != nil {
		s.record(string(eventType(event)), metrics.OutcomeFailed)
		return err
	}
	meta := decoded.meta()
	ctx = s.logg.WithEvent(ctx, meta.ID, meta.Type)

	claimed := false
	if s.guard != nil && meta.ID != "" {
		duplicate, err := s.guard.Claim(ctx, meta.ID)
		switch {
		case err != nil:
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "delivery guard unavailable; processing anyway")
		case duplicate:
			s.logg.Info(ctx, "duplicate delivery skipped")
			s.record(meta.Type, metrics.OutcomeDuplicate)
			return nil
		default:
			claimed = true
		}
	}

	outcome, err := s.apply(ctx, decoded)
	if err != nil {
		if claimed {
			if releaseErr := s.guard.Release(ctx, meta.ID); releaseErr != nil {
				s.logg.Error(ctx, "failed to release delivery claim", releaseErr)
			}
		}
		s.record(meta.Type, metrics.OutcomeFailed)
		return err
	}
	s.record(meta.Type, outcome)
	return nil
}

func (s *Service) apply(ctx context.Context, event Event) (string, error) {
	switch e := event.(type) {
	case SubscriptionChanged:
		return s.applySubscriptionChanged(ctx, e)
	case SubscriptionDeleted:
		ctx = s.logg.WithField(ctx, "subscription_ref", e.SubscriptionRef)
		return s.transition(ctx, s.entitlements.MarkCanceled(ctx, e.SubscriptionRef, e.CanceledAt))
	case InvoicePaid:
		ctx = s.logg.WithField(ctx, "subscription_ref", e.SubscriptionRef)
		return s.transition(ctx, s.entitlements.MarkActive(ctx, e.SubscriptionRef))
	case InvoiceFailed:
		ctx = s.logg.WithField(ctx, "subscription_ref", e.SubscriptionRef)
		return s.transition(ctx, s.entitlements.MarkPastDue(ctx, e.SubscriptionRef))
	case Unhandled:
		s.logg.Debug(s.logg.WithField(ctx, "reason", e.Reason), "event acknowledged without action")
		return metrics.OutcomeIgnored, nil
	default:
		return metrics.OutcomeIgnored, nil
	}
}

func (s *Service) applySubscriptionChanged(ctx context.Context, e SubscriptionChanged) (string, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"subscription_ref": e.SubscriptionRef,
		"customer_id":      e.CustomerID,
	})

	email := e.CustomerEmail
	if email == "" && e.CustomerID != "" && s.customers != nil {
		looked, err := s.customers.CustomerEmail(ctx, e.CustomerID)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve customer email")
		}
		email = looked
	}
	if email == "" {
		s.logg.Warn(ctx, "customer email unavailable; event dropped")
		return metrics.OutcomeDropped, nil
	}

	profile, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve account by email")
	}
	if profile == nil {
		s.logg.Warn(ctx, "no account for customer email; event dropped")
		return metrics.OutcomeDropped, nil
	}
	ctx = s.logg.WithAccountID(ctx, profile.ID.String())

	ent, err := s.entitlements.Upsert(ctx, entitlements.UpsertInput{
		SubscriptionRef:    e.SubscriptionRef,
		AccountID:          profile.ID,
		PriceID:            e.PriceID,
		Status:             e.Status,
		CurrentPeriodStart: e.CurrentPeriodStart,
		CurrentPeriodEnd:   e.CurrentPeriodEnd,
		CanceledAt:         e.CanceledAt,
	})
	if err != nil {
		return "", err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"plan":       ent.Plan,
		"page_quota": ent.PageQuota,
		"status":     ent.Status,
	}), "entitlement upserted")
	return metrics.OutcomeApplied, nil
}

func (s *Service) transition(ctx context.Context, err error) (string, error) {
	if err == nil {
		s.logg.Info(ctx, "entitlement status updated")
		return metrics.OutcomeApplied, nil
	}
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		s.logg.Warn(ctx, "no entitlement for subscription; event dropped")
		return metrics.OutcomeDropped, nil
	}
	return "", err
}

func (s *Service) record(eventType, outcome string) {
	if s.metrics != nil {
		s.metrics.IncWebhookEvent(eventType, outcome)
	}
}

func eventType(event *stripe.Event) stripe.EventType {
	if event == nil {
		return ""
	}
	return event.Type
}
