package usage

import (
	"net/http"
	"time"

	"github.com/expensa/invoice-genie/api/middleware"
	"github.com/expensa/invoice-genie/api/responses"
	"github.com/expensa/invoice-genie/api/validators"
	usagesvc "github.com/expensa/invoice-genie/internal/usage"
	pkgerrors "github.com/expensa/invoice-genie/pkg/errors"
	"github.com/expensa/invoice-genie/pkg/logger"
	"github.com/expensa/invoice-genie/pkg/types"
	"github.com/google/uuid"
)

type pagesRequest struct {
	Pages int `json:"pages" validate:"min=1"`
}

type summaryResponse struct {
	Plan             string     `json:"plan"`
	PlanName         string     `json:"plan_name"`
	Status           string     `json:"status"`
	PageQuota        int        `json:"page_quota"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	MonthlyPrice     string     `json:"monthly_price"`
	Usage            usageBlock `json:"usage"`
}

type usageBlock struct {
	Year           int   `json:"year"`
	Month          int   `json:"month"`
	PagesProcessed int   `json:"pages_processed"`
	PagesLimit     int   `json:"pages_limit"`
	PagesRemaining int   `json:"pages_remaining"`
	StorageBytes   int64 `json:"storage_bytes"`
	APICalls       int   `json:"api_calls"`
}

// Check answers whether the caller can process the requested pages. A blocked
// request is still a 200 carrying success=false.
func Check(svc usagesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}

		accountID, ok := resolveAccount(w, r, logg)
		if !ok {
			return
		}

		var payload pagesRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result := svc.CheckQuota(r.Context(), accountID, payload.Pages)
		resp := types.UsageResult{
			Success:   result.Allowed,
			Remaining: &result.Remaining,
			Limit:     &result.Limit,
		}
		if !result.Allowed {
			resp.Error = pkgerrors.MetadataFor(pkgerrors.CodeQuotaExceeded).PublicMessage
		}
		responses.WriteJSON(w, http.StatusOK, resp)
	}
}

// Record adds consumed pages to the caller's current period.
func Record(svc usagesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}

		accountID, ok := resolveAccount(w, r, logg)
		if !ok {
			return
		}

		var payload pagesRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.RecordUsage(r.Context(), accountID, payload.Pages); err != nil {
			if logg != nil {
				logg.Error(r.Context(), "record usage failed", err)
			}
			responses.WriteJSON(w, http.StatusOK, types.UsageResult{Success: false, Error: "failed to record usage"})
			return
		}
		responses.WriteJSON(w, http.StatusOK, types.UsageResult{Success: true})
	}
}

func Summary(svc usagesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}

		accountID, ok := resolveAccount(w, r, logg)
		if !ok {
			return
		}

		summary, err := svc.Summary(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, summaryResponse{
			Plan:             string(summary.Plan),
			PlanName:         summary.PlanName,
			Status:           string(summary.Status),
			PageQuota:        summary.PageQuota,
			CurrentPeriodEnd: summary.CurrentPeriodEnd,
			MonthlyPrice:     summary.MonthlyPrice.StringFixed(2),
			Usage: usageBlock{
				Year:           summary.Period.Year,
				Month:          summary.Period.Month,
				PagesProcessed: summary.PagesProcessed,
				PagesLimit:     summary.PagesLimit,
				PagesRemaining: summary.PagesRemaining,
				StorageBytes:   summary.StorageBytes,
				APICalls:       summary.APICalls,
			},
		})
	}
}

func resolveAccount(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	accountID, ok := middleware.AccountUUIDFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
		return uuid.Nil, false
	}
	return accountID, true
}
