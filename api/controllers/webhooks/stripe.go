package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/expensa/invoice-genie/api/responses"
	pkgerrors "github.com/expensa/invoice-genie/pkg/errors"
	"github.com/expensa/invoice-genie/pkg/logger"
	"github.com/expensa/invoice-genie/pkg/types"
	"github.com/stripe/stripe-go/v84"
)

const maxWebhookBodyBytes = 1 << 20

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

// EventVerifier authenticates a raw delivery and decodes its event.
type EventVerifier interface {
	VerifyEvent(payload []byte, signatureHeader string) (stripe.Event, error)
}

// StripeWebhook verifies and applies Stripe subscription lifecycle events.
// Once the signature checks out the delivery is acknowledged, even when
// applying it failed, so Stripe does not retry a permanently failing event.
func StripeWebhook(svc StripeWebhookService, verifier EventVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe verifier unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read request body"))
			return
		}

		event, err := verifier.VerifyEvent(payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "reason", err.Error()), "stripe signature rejected")
			}
			responses.WriteJSON(w, http.StatusBadRequest, types.WebhookError{
				Error: pkgerrors.MetadataFor(pkgerrors.CodeSignature).PublicMessage,
			})
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			if logg != nil {
				logg.Error(logg.WithEvent(ctx, event.ID, string(event.Type)), "stripe event processing failed", err)
			}
		} else if logg != nil {
			logg.Info(logg.WithEvent(ctx, event.ID, string(event.Type)), "stripe event processed")
		}

		responses.WriteJSON(w, http.StatusOK, types.WebhookAck{Received: true})
	}
}
