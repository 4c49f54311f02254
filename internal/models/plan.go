package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlanTier identifies a plan level
type PlanTier string

const (
	PlanTierFree       PlanTier = "free"
	PlanTierIndividual PlanTier = "individual"
	PlanTierTeam       PlanTier = "team"
)

// BillingCycle is the pricing period of a plan
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

// Months returns the number of months covered by one billing period
func (c BillingCycle) Months() int {
	if c == BillingCycleYearly {
		return 12
	}
	return 1
}

var monthsPerYear = decimal.NewFromInt(12)

// PlanPricing is the price of a tier for one billing cycle
type PlanPricing struct {
	Amount decimal.Decimal `json:"amount"`
	Cycle  BillingCycle    `json:"cycle"`
}

// MonthlyEquivalent returns the price spread over a single month
func (p PlanPricing) MonthlyEquivalent() decimal.Decimal {
	if p.Cycle == BillingCycleMonthly {
		return p.Amount
	}
	return p.Amount.Div(monthsPerYear)
}

// YearlyEquivalent returns the price of twelve months
func (p PlanPricing) YearlyEquivalent() decimal.Decimal {
	if p.Cycle == BillingCycleYearly {
		return p.Amount
	}
	return p.Amount.Mul(monthsPerYear)
}

// PlanType holds the policy of a single tier
type PlanType struct {
	Tier                 PlanTier
	Name                 string
	Description          string
	MonthlyRequestLimit  int
	MaxServers           int
	AllowsCustomServers  bool
	AllowsTeamManagement bool
	Pricing              []PlanPricing
}

// CanCreateServer reports whether a user holding currentServerCount servers may create another
func (p PlanType) CanCreateServer(currentServerCount int) bool {
	return currentServerCount < p.MaxServers
}

// CanMakeRequest reports whether one more billable request fits in the monthly quota
func (p PlanType) CanMakeRequest(currentMonthlyRequests int) bool {
	return currentMonthlyRequests < p.MonthlyRequestLimit
}

// GetPricing returns the price for the given cycle
func (p PlanType) GetPricing(cycle BillingCycle) (PlanPricing, error) {
	for _, pricing := range p.Pricing {
		if pricing.Cycle == cycle {
			return pricing, nil
		}
	}
	return PlanPricing{}, fmt.Errorf("%w: pricing for %s cycle not available for %s plan", ErrConfiguration, cycle, p.Name)
}

// Cycles lists the billing cycles the tier can be bought with
func (p PlanType) Cycles() []BillingCycle {
	cycles := make([]BillingCycle, 0, len(p.Pricing))
	for _, pricing := range p.Pricing {
		cycles = append(cycles, pricing.Cycle)
	}
	return cycles
}

// PlanCatalog is the fixed set of tiers offered
var PlanCatalog = map[PlanTier]PlanType{
	PlanTierFree: {
		Tier:                 PlanTierFree,
		Name:                 "Free",
		Description:          "Perfect for testing and small projects",
		MonthlyRequestLimit:  100,
		MaxServers:           1,
		AllowsCustomServers:  false,
		AllowsTeamManagement: false,
		Pricing: []PlanPricing{
			{Amount: decimal.Zero, Cycle: BillingCycleMonthly},
		},
	},
	PlanTierIndividual: {
		Tier:                 PlanTierIndividual,
		Name:                 "Individual",
		Description:          "For individual developers building production applications",
		MonthlyRequestLimit:  10_000,
		MaxServers:           10,
		AllowsCustomServers:  true,
		AllowsTeamManagement: false,
		Pricing: []PlanPricing{
			{Amount: decimal.NewFromInt(10), Cycle: BillingCycleMonthly},
			{Amount: decimal.NewFromInt(100), Cycle: BillingCycleYearly},
		},
	},
	PlanTierTeam: {
		Tier:                 PlanTierTeam,
		Name:                 "Team",
		Description:          "For teams building enterprise applications",
		MonthlyRequestLimit:  100_000,
		MaxServers:           50,
		AllowsCustomServers:  true,
		AllowsTeamManagement: true,
		Pricing: []PlanPricing{
			{Amount: decimal.NewFromInt(100), Cycle: BillingCycleMonthly},
			{Amount: decimal.NewFromInt(1000), Cycle: BillingCycleYearly},
		},
	},
}

// PlanTiers lists tiers in ascending order
var PlanTiers = []PlanTier{PlanTierFree, PlanTierIndividual, PlanTierTeam}

// LookupPlanType returns the policy for a tier
func LookupPlanType(tier PlanTier) (PlanType, error) {
	planType, ok := PlanCatalog[tier]
	if !ok {
		return PlanType{}, fmt.Errorf("%w: unknown plan tier %q", ErrConfiguration, tier)
	}
	return planType, nil
}

// Plan is a purchasable (tier, cycle) pair
type Plan struct {
	ID        uuid.UUID    `json:"id"`
	Tier      PlanTier     `json:"tier"`
	Cycle     BillingCycle `json:"cycle"`
	IsActive  bool         `json:"is_active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Type resolves the plan's policy entry
func (p *Plan) Type() (PlanType, error) {
	return LookupPlanType(p.Tier)
}

// Price returns the plan's price for its own cycle
func (p *Plan) Price() (decimal.Decimal, error) {
	planType, err := p.Type()
	if err != nil {
		return decimal.Zero, err
	}
	pricing, err := planType.GetPricing(p.Cycle)
	if err != nil {
		return decimal.Zero, err
	}
	return pricing.Amount, nil
}

// PlanResponse is the public view of a tier with all of its prices
type PlanResponse struct {
	Tier                 PlanTier      `json:"tier"`
	Name                 string        `json:"name"`
	Description          string        `json:"description"`
	MonthlyRequestLimit  int           `json:"monthly_request_limit"`
	MaxServers           int           `json:"max_servers"`
	AllowsCustomServers  bool          `json:"allows_custom_servers"`
	AllowsTeamManagement bool          `json:"allows_team_management"`
	Pricing              []PlanPricing `json:"pricing"`
}

// ToResponse converts the policy entry for the plans endpoint
func (p PlanType) ToResponse() PlanResponse {
	return PlanResponse{
		Tier:                 p.Tier,
		Name:                 p.Name,
		Description:          p.Description,
		MonthlyRequestLimit:  p.MonthlyRequestLimit,
		MaxServers:           p.MaxServers,
		AllowsCustomServers:  p.AllowsCustomServers,
		AllowsTeamManagement: p.AllowsTeamManagement,
		Pricing:              p.Pricing,
	}
}
