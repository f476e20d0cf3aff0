package stripewebhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/expensa/invoice-genie/pkg/enums"
	pkgerrors "github.com/expensa/invoice-genie/pkg/errors"
	"github.com/stripe/stripe-go/v84"
)

// Meta is common to every decoded event.
type Meta struct {
	ID      string
	Type    string
	Created time.Time
}

// Event is the closed set of lifecycle events the reconciler acts on.
type Event interface {
	meta() Meta
}

// SubscriptionChanged covers subscription created and updated.
type SubscriptionChanged struct {
	Meta
	SubscriptionRef    string
	CustomerID         string
	CustomerEmail      string
	PriceID            string
	Status             enums.SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CanceledAt         *time.Time
}

type SubscriptionDeleted struct {
	Meta
	SubscriptionRef string
	CanceledAt      time.Time
}

// InvoicePaid covers invoice.paid and invoice.payment_succeeded.
type InvoicePaid struct {
	Meta
	SubscriptionRef string
}

type InvoiceFailed struct {
	Meta
	SubscriptionRef string
}

// Unhandled is acknowledged without action.
type Unhandled struct {
	Meta
	Reason string
}

func (m Meta) meta() Meta { return m }

// Decode maps a verified Stripe event onto its variant.
func Decode(event *stripe.Event) (Event, error) {
	if event == nil || event.Data == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	meta := Meta{ID: event.ID, Type: string(event.Type)}
	if event.Created > 0 {
		meta.Created = time.Unix(event.Created, 0).UTC()
	}

	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated:
		sub, err := decodeSubscription(event)
		if err != nil {
			return nil, err
		}
		changed := SubscriptionChanged{
			Meta:            meta,
			SubscriptionRef: sub.ID,
			PriceID:         priceID(sub),
			Status:          enums.SubscriptionStatusFromStripe(sub.Status),
			CanceledAt:      unixPtr(sub.CanceledAt),
		}
		if sub.Customer != nil {
			changed.CustomerID = sub.Customer.ID
			changed.CustomerEmail = strings.TrimSpace(sub.Customer.Email)
		}
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
			changed.CurrentPeriodStart = unixPtr(sub.Items.Data[0].CurrentPeriodStart)
			changed.CurrentPeriodEnd = unixPtr(sub.Items.Data[0].CurrentPeriodEnd)
		}
		return changed, nil

	case stripe.EventTypeCustomerSubscriptionDeleted:
		sub, err := decodeSubscription(event)
		if err != nil {
			return nil, err
		}
		canceledAt := meta.Created
		switch {
		case sub.CanceledAt > 0:
			canceledAt = time.Unix(sub.CanceledAt, 0).UTC()
		case sub.EndedAt > 0:
			canceledAt = time.Unix(sub.EndedAt, 0).UTC()
		}
		return SubscriptionDeleted{Meta: meta, SubscriptionRef: sub.ID, CanceledAt: canceledAt}, nil

	case stripe.EventTypeInvoicePaymentSucceeded, stripe.EventTypeInvoicePaid:
		ref := invoiceSubscriptionRef(event)
		if ref == "" {
			return Unhandled{Meta: meta, Reason: "invoice has no subscription"}, nil
		}
		return InvoicePaid{Meta: meta, SubscriptionRef: ref}, nil

	case stripe.EventTypeInvoicePaymentFailed:
		ref := invoiceSubscriptionRef(event)
		if ref == "" {
			return Unhandled{Meta: meta, Reason: "invoice has no subscription"}, nil
		}
		return InvoiceFailed{Meta: meta, SubscriptionRef: ref}, nil

	default:
		return Unhandled{Meta: meta, Reason: "event type not handled"}, nil
	}
}

func decodeSubscription(event *stripe.Event) (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}
	return &sub, nil
}

// invoiceSubscriptionRef reads the legacy top-level field first, then the
// parent details used by newer API versions.
func invoiceSubscriptionRef(event *stripe.Event) string {
	if ref := objectRef(lookup(event.Data.Object, "subscription")); ref != "" {
		return ref
	}
	return objectRef(lookup(event.Data.Object, "parent", "subscription_details", "subscription"))
}

func lookup(node map[string]any, keys ...string) any {
	var current any = node
	for _, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[key]
	}
	return current
}

// objectRef accepts either an id string or an expanded object.
func objectRef(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if id, ok := v["id"].(string); ok {
			return strings.TrimSpace(id)
		}
	}
	return ""
}

func priceID(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0] == nil {
		return ""
	}
	if sub.Items.Data[0].Price != nil {
		return sub.Items.Data[0].Price.ID
	}
	return ""
}

func unixPtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
