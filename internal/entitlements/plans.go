package entitlements

import (
	"strings"

	"github.com/expensa/invoice-genie/pkg/config"
	"github.com/expensa/invoice-genie/pkg/enums"
	"github.com/shopspring/decimal"
)

// Plan is one row of the price-to-quota table.
type Plan struct {
	Tier         enums.PlanTier
	Name         string
	PriceID      string
	PageQuota    int
	MonthlyPrice decimal.Decimal
}

var (
	freePlan = Plan{
		Tier:         enums.PlanTierFree,
		Name:         "Free",
		PageQuota:    enums.FreePageQuota,
		MonthlyPrice: decimal.Zero,
	}
	starterPlan = Plan{
		Tier:         enums.PlanTierStarter,
		Name:         "Starter",
		PageQuota:    300,
		MonthlyPrice: decimal.RequireFromString("19.00"),
	}
	professionalPlan = Plan{
		Tier:         enums.PlanTierProfessional,
		Name:         "Professional",
		PageQuota:    1000,
		MonthlyPrice: decimal.RequireFromString("49.00"),
	}
)

// PlanCatalog maps opaque processor price ids onto plans. Unknown ids
// resolve to the free plan.
type PlanCatalog struct {
	byPrice map[string]Plan
	byTier  map[enums.PlanTier]Plan
}

// NewPlanCatalog builds the catalog from the configured price ids.
func NewPlanCatalog(cfg config.StripeConfig) *PlanCatalog {
	starter := starterPlan
	starter.PriceID = strings.TrimSpace(cfg.StarterPriceID)
	professional := professionalPlan
	professional.PriceID = strings.TrimSpace(cfg.ProfessionalPriceID)

	catalog := &PlanCatalog{
		byPrice: map[string]Plan{},
		byTier: map[enums.PlanTier]Plan{
			enums.PlanTierFree:         freePlan,
			enums.PlanTierStarter:      starter,
			enums.PlanTierProfessional: professional,
		},
	}
	for _, plan := range []Plan{starter, professional} {
		if plan.PriceID != "" {
			catalog.byPrice[plan.PriceID] = plan
		}
	}
	return catalog
}

// Resolve returns the plan for priceID, falling back to free.
func (c *PlanCatalog) Resolve(priceID string) Plan {
	if c == nil {
		return freePlan
	}
	if plan, ok := c.byPrice[strings.TrimSpace(priceID)]; ok {
		return plan
	}
	return freePlan
}

// ForTier returns the catalog entry for tier, falling back to free.
func (c *PlanCatalog) ForTier(tier enums.PlanTier) Plan {
	if c == nil {
		return freePlan
	}
	if plan, ok := c.byTier[tier]; ok {
		return plan
	}
	return freePlan
}

// FreePlan returns the free tier definition.
func FreePlan() Plan {
	return freePlan
}
