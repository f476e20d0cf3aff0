package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/expensa/invoice-genie/internal/accounts"
	"github.com/expensa/invoice-genie/internal/entitlements"
	"github.com/expensa/invoice-genie/internal/testutil"
	"github.com/expensa/invoice-genie/pkg/config"
	"github.com/expensa/invoice-genie/pkg/db/models"
	"github.com/expensa/invoice-genie/pkg/enums"
	pkgerrors "github.com/expensa/invoice-genie/pkg/errors"
	"github.com/expensa/invoice-genie/pkg/logger"
	"github.com/expensa/invoice-genie/pkg/metrics"
	"github.com/expensa/invoice-genie/pkg/redis"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
)

const (
	starterPrice      = "price_starter"
	professionalPrice = "price_pro"
)

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *outcomeRecorder) IncWebhookEvent(eventType, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[eventType+"/"+outcome]++
}

func (r *outcomeRecorder) count(eventType, outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[eventType+"/"+outcome]
}

type stubCustomers struct {
	emails map[string]string
	err    error
	calls  int
}

func (s *stubCustomers) CustomerEmail(_ context.Context, customerID string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.emails[customerID], nil
}

type env struct {
	svc          *Service
	entitlements entitlements.Service
	accounts     accounts.Repository
	customers    *stubCustomers
	metrics      *outcomeRecorder
	redis        *miniredis.Miniredis
}

func newEnv(t *testing.T) env {
	t.Helper()
	client := testutil.NewSQLite(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	accountsRepo := accounts.NewRepository(client.DB())
	entSvc, err := entitlements.NewService(entitlements.ServiceParams{
		Repo:              entitlements.NewRepository(client.DB()),
		AccountsRepo:      accountsRepo,
		Plans:             entitlements.NewPlanCatalog(config.StripeConfig{StarterPriceID: starterPrice, ProfessionalPriceID: professionalPrice}),
		TransactionRunner: client,
		Logger:            logg,
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	redisClient, err := redis.New(context.Background(), config.RedisConfig{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisClient.Close() })
	guard, err := NewDeliveryGuard(redisClient, time.Hour)
	require.NoError(t, err)

	customers := &stubCustomers{emails: map[string]string{}}
	recorder := &outcomeRecorder{}
	svc, err := NewService(ServiceParams{
		Entitlements: entSvc,
		Accounts:     accountsRepo,
		Customers:    customers,
		Guard:        guard,
		Logger:       logg,
		Metrics:      recorder,
	})
	require.NoError(t, err)
	return env{
		svc:          svc,
		entitlements: entSvc,
		accounts:     accountsRepo,
		customers:    customers,
		metrics:      recorder,
		redis:        mr,
	}
}

func (e env) newAccount(t *testing.T, email string) uuid.UUID {
	t.Helper()
	profile := &models.Profile{Email: email}
	require.NoError(t, e.accounts.Create(context.Background(), profile))
	return profile.ID
}

func buildEvent(t *testing.T, id string, eventType stripe.EventType, object map[string]any) *stripe.Event {
	t.Helper()
	payload := map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC).Unix(),
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": object},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	var event stripe.Event
	require.NoError(t, json.Unmarshal(raw, &event))
	return &event
}

func subscriptionObject(id, priceID string, customer any, status string) map[string]any {
	return map[string]any{
		"id":       id,
		"object":   "subscription",
		"status":   status,
		"customer": customer,
		"items": map[string]any{
			"object": "list",
			"data": []any{
				map[string]any{
					"id":                   "si_" + id,
					"object":               "subscription_item",
					"current_period_start": time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC).Unix(),
					"current_period_end":   time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC).Unix(),
					"price":                map[string]any{"id": priceID, "object": "price"},
				},
			},
		},
	}
}

func expandedCustomer(id, email string) map[string]any {
	return map[string]any{"id": id, "object": "customer", "email": email}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
}

func TestSubscriptionCreatedAppliesStarterPlan(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	accountID := e.newAccount(t, "owner@example.com")

	event := buildEvent(t, "evt_1", stripe.EventTypeCustomerSubscriptionCreated,
		subscriptionObject("sub_1", starterPrice, expandedCustomer("cus_1", "Owner@Example.com"), "active"))
	require.NoError(t, e.svc.HandleEvent(ctx, event))

	ent := e.entitlements.GetCurrent(ctx, accountID)
	assert.Equal(t, enums.PlanTierStarter, ent.Plan)
	assert.Equal(t, 300, ent.PageQuota)
	assert.Equal(t, enums.SubscriptionStatusActive, ent.Status)
	require.NotNil(t, ent.CurrentPeriodEnd)
	assert.True(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC).Equal(ent.CurrentPeriodEnd.UTC()))
	assert.Equal(t, 0, e.customers.calls)
	assert.Equal(t, 1, e.metrics.count(string(stripe.EventTypeCustomerSubscriptionCreated), metrics.OutcomeApplied))
}

func TestSubscriptionUpdatedLooksUpCustomerEmail(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	accountID := e.newAccount(t, "lookup@example.com")
	e.customers.emails["cus_lookup"] = "lookup@example.com"

	event := buildEvent(t, "evt_2", stripe.EventTypeCustomerSubscriptionUpdated,
		subscriptionObject("sub_2", professionalPrice, "cus_lookup", "past_due"))
	require.NoError(t, e.svc.HandleEvent(ctx, event))

	ent := e.entitlements.GetCurrent(ctx, accountID)
	assert.Equal(t, enums.PlanTierProfessional, ent.Plan)
	assert.Equal(t, 1000, ent.PageQuota)
	assert.Equal(t, enums.SubscriptionStatusPastDue, ent.Status)
	assert.Equal(t, 1, e.customers.calls)
}

func TestCustomerLookupFailureIsReturned(t *testing.T) {
	e := newEnv(t)
	e.customers.err = errors.New("stripe down")

	event := buildEvent(t, "evt_lookup_fail", stripe.EventTypeCustomerSubscriptionCreated,
		subscriptionObject("sub_lf", starterPrice, "cus_x", "active"))
	err := e.svc.HandleEvent(context.Background(), event)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestUnknownAccountIsDropped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	event := buildEvent(t, "evt_3", stripe.EventTypeCustomerSubscriptionCreated,
		subscriptionObject("sub_3", starterPrice, expandedCustomer("cus_3", "ghost@example.com"), "active"))
	require.NoError(t, e.svc.HandleEvent(ctx, event))

	err := e.entitlements.MarkActive(ctx, "sub_3")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "no row should have been written")
	assert.Equal(t, 1, e.metrics.count(string(stripe.EventTypeCustomerSubscriptionCreated), metrics.OutcomeDropped))
}

func TestSubscriptionDeletedRevertsToFree(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	accountID := e.newAccount(t, "pro@example.com")

	created := buildEvent(t, "evt_c", stripe.EventTypeCustomerSubscriptionCreated,
		subscriptionObject("sub_pro", professionalPrice, expandedCustomer("cus_p", "pro@example.com"), "active"))
	require.NoError(t, e.svc.HandleEvent(ctx, created))

	deletedObject := subscriptionObject("sub_pro", professionalPrice, "cus_p", "canceled")
	deletedObject["canceled_at"] = time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC).Unix()
	deleted := buildEvent(t, "evt_d", stripe.EventTypeCustomerSubscriptionDeleted, deletedObject)
	require.NoError(t, e.svc.HandleEvent(ctx, deleted))

	ent := e.entitlements.GetCurrent(ctx, accountID)
	assert.Equal(t, enums.SubscriptionStatusCanceled, ent.Status)
	assert.Equal(t, 10, ent.PageQuota)
	require.NotNil(t, ent.CanceledAt)
	assert.True(t, time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC).Equal(ent.CanceledAt.UTC()))
}

func TestInvoiceEventsTransitionStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	accountID := e.newAccount(t, "billing@example.com")

	require.NoError(t, e.svc.HandleEvent(ctx, buildEvent(t, "evt_sub", stripe.EventTypeCustomerSubscriptionCreated,
		subscriptionObject("sub_inv", starterPrice, expandedCustomer("cus_i", "billing@example.com"), "active"))))

	failed := buildEvent(t, "evt_fail", stripe.EventTypeInvoicePaymentFailed, map[string]any{
		"id": "in_1", "object": "invoice", "subscription": "sub_inv",
	})
	require.NoError(t, e.svc.HandleEvent(ctx, failed))
	ent := e.entitlements.GetCurrent(ctx, accountID)
	assert.Equal(t, enums.SubscriptionStatusPastDue, ent.Status)
	assert.Equal(t, 300, ent.PageQuota)

	paid := buildEvent(t, "evt_paid", stripe.EventTypeInvoicePaid, map[string]any{
		"id": "in_2", "object": "invoice",
		"parent": map[string]any{
			"type":                 "subscription_details",
			"subscription_details": map[string]any{"subscription": "sub_inv"},
		},
	})
	require.NoError(t, e.svc.HandleEvent(ctx, paid))
	ent = e.entitlements.GetCurrent(ctx, accountID)
	assert.Equal(t, enums.SubscriptionStatusActive, ent.Status)
	assert.Equal(t, 300, ent.PageQuota)
}

func TestInvoiceForUnknownSubscriptionIsDropped(t *testing.T) {
	e := newEnv(t)
	event := buildEvent(t, "evt_orphan", stripe.EventTypeInvoicePaymentSucceeded, map[string]any{
		"id": "in_3", "object": "invoice", "subscription": "sub_unknown",
	})
	require.NoError(t, e.svc.HandleEvent(context.Background(), event))
	assert.Equal(t, 1, e.metrics.count(string(stripe.EventTypeInvoicePaymentSucceeded), metrics.OutcomeDropped))
}

func TestUnhandledEventTypeIsIgnored(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	accountID := e.newAccount(t, "quiet@example.com")

	event := buildEvent(t, "evt_other", stripe.EventType("charge.refunded"), map[string]any{"id": "ch_1", "object": "charge"})
	require.NoError(t, e.svc.HandleEvent(ctx, event))

	assert.Equal(t, entitlements.SourceProfile, e.entitlements.GetCurrent(ctx, accountID).Source)
	assert.Equal(t, 1, e.metrics.count("charge.refunded", metrics.OutcomeIgnored))
}

func TestDuplicateDeliveryIsSkipped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.newAccount(t, "dup@example.com")

	event := buildEvent(t, "evt_dup", stripe.EventTypeCustomerSubscriptionCreated,
		subscriptionObject("sub_dup", starterPrice, expandedCustomer("cus_d", "dup@example.com"), "active"))
	require.NoError(t, e.svc.HandleEvent(ctx, event))
	require.NoError(t, e.svc.HandleEvent(ctx, event))

	typ := string(stripe.EventTypeCustomerSubscriptionCreated)
	assert.Equal(t, 1, e.metrics.count(typ, metrics.OutcomeApplied))
	assert.Equal(t, 1, e.metrics.count(typ, metrics.OutcomeDuplicate))
}

func TestRedeliveryWithoutGuardIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	accountID := e.newAccount(t, "again@example.com")
	e.svc.guard = nil

	event := buildEvent(t, "evt_again", stripe.EventTypeCustomerSubscriptionCreated,
		subscriptionObject("sub_again", professionalPrice, expandedCustomer("cus_a", "again@example.com"), "active"))
	require.NoError(t, e.svc.HandleEvent(ctx, event))
	require.NoError(t, e.svc.HandleEvent(ctx, event))

	ent := e.entitlements.GetCurrent(ctx, accountID)
	assert.Equal(t, enums.PlanTierProfessional, ent.Plan)
	assert.Equal(t, 1000, ent.PageQuota)
}

type failingEntitlements struct {
	entitlementWriter
}

func (failingEntitlements) MarkActive(context.Context, string) error {
	return pkgerrors.Wrap(pkgerrors.CodeInternal, errors.New("db down"), "update entitlement status")
}

func TestProcessingFailureReleasesClaim(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.svc.entitlements = failingEntitlements{}

	event := buildEvent(t, "evt_retry", stripe.EventTypeInvoicePaid, map[string]any{
		"id": "in_r", "object": "invoice", "subscription": "sub_r",
	})
	err := e.svc.HandleEvent(ctx, event)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))

	assert.False(t, e.redis.Exists("genie:idempotency:stripe-webhook:evt_retry"))
	assert.Equal(t, 1, e.metrics.count(string(stripe.EventTypeInvoicePaid), metrics.OutcomeFailed))
}

func TestGuardOutageDoesNotBlockProcessing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	accountID := e.newAccount(t, "outage@example.com")
	e.redis.Close()

	event := buildEvent(t, "evt_outage", stripe.EventTypeCustomerSubscriptionCreated,
		subscriptionObject("sub_out", starterPrice, expandedCustomer("cus_o", "outage@example.com"), "active"))
	require.NoError(t, e.svc.HandleEvent(ctx, event))
	assert.Equal(t, enums.PlanTierStarter, e.entitlements.GetCurrent(ctx, accountID).Plan)
}

func TestDecodeVariants(t *testing.T) {
	cases := []struct {
		name  string
		event *stripe.Event
		check func(t *testing.T, decoded Event)
	}{
		{
			name: "invoice without subscription",
			event: buildEvent(t, "evt_a", stripe.EventTypeInvoicePaid, map[string]any{
				"id": "in_a", "object": "invoice", "parent": nil,
			}),
			check: func(t *testing.T, decoded Event) {
				unhandled, ok := decoded.(Unhandled)
				require.True(t, ok)
				assert.Equal(t, "invoice has no subscription", unhandled.Reason)
			},
		},
		{
			name: "expanded invoice subscription",
			event: buildEvent(t, "evt_b", stripe.EventTypeInvoicePaymentFailed, map[string]any{
				"id": "in_b", "object": "invoice", "subscription": map[string]any{"id": "sub_b", "object": "subscription"},
			}),
			check: func(t *testing.T, decoded Event) {
				failed, ok := decoded.(InvoiceFailed)
				require.True(t, ok)
				assert.Equal(t, "sub_b", failed.SubscriptionRef)
				assert.Equal(t, "evt_b", failed.ID)
			},
		},
		{
			name:  "deleted without timestamps uses event time",
			event: buildEvent(t, "evt_c", stripe.EventTypeCustomerSubscriptionDeleted, map[string]any{"id": "sub_c", "object": "subscription"}),
			check: func(t *testing.T, decoded Event) {
				deleted, ok := decoded.(SubscriptionDeleted)
				require.True(t, ok)
				assert.True(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC).Equal(deleted.CanceledAt))
			},
		},
		{
			name:  "incomplete_expired folds to canceled",
			event: buildEvent(t, "evt_d", stripe.EventTypeCustomerSubscriptionUpdated, subscriptionObject("sub_d", starterPrice, "cus_d", "incomplete_expired")),
			check: func(t *testing.T, decoded Event) {
				changed, ok := decoded.(SubscriptionChanged)
				require.True(t, ok)
				assert.Equal(t, enums.SubscriptionStatusCanceled, changed.Status)
				assert.Equal(t, "cus_d", changed.CustomerID)
				assert.Equal(t, starterPrice, changed.PriceID)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := Decode(tc.event)
			require.NoError(t, err)
			tc.check(t, decoded)
		})
	}
}

func TestDecodeRejectsSubscriptionWithoutID(t *testing.T) {
	event := buildEvent(t, "evt_bad", stripe.EventTypeCustomerSubscriptionCreated, map[string]any{"object": "subscription"})
	_, err := Decode(event)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = Decode(nil)
	assert.Error(t, err)
}
