package enums

// PlanTier is the closed set of plans an account can be entitled to.
type PlanTier string

const (
	PlanTierFree         PlanTier = "free"
	PlanTierStarter      PlanTier = "starter"
	PlanTierProfessional PlanTier = "professional"
	// PlanTierEnterprise is reserved; no price maps to it yet.
	PlanTierEnterprise PlanTier = "enterprise"
)

// FreePageQuota is the monthly page allowance of the free tier.
const FreePageQuota = 10

func (p PlanTier) String() string {
	return string(p)
}

func (p PlanTier) IsValid() bool {
	switch p {
	case PlanTierFree, PlanTierStarter, PlanTierProfessional, PlanTierEnterprise:
		return true
	}
	return false
}
