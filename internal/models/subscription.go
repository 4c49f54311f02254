package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the billing state of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCanceled  SubscriptionStatus = "canceled"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
)

// Valid reports whether s is a known status
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusCanceled,
		SubscriptionStatusPastDue, SubscriptionStatusSuspended:
		return true
	}
	return false
}

// Subscription binds a user to a plan for a period of time
type Subscription struct {
	ID                     uuid.UUID          `json:"id"`
	UserID                 uuid.UUID          `json:"user_id"`
	PlanID                 uuid.UUID          `json:"plan_id"`
	Plan                   Plan               `json:"plan"`
	Status                 SubscriptionStatus `json:"status"`
	StartDate              time.Time          `json:"start_date"`
	EndDate                *time.Time         `json:"end_date,omitempty"`
	NextBillingDate        time.Time          `json:"next_billing_date"`
	ExternalSubscriptionID *string            `json:"external_subscription_id,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// IsActive is evaluated against now on every call
func (s *Subscription) IsActive(now time.Time) bool {
	if s.Status != SubscriptionStatusActive {
		return false
	}
	if s.StartDate.After(now) {
		return false
	}
	return s.EndDate == nil || s.EndDate.After(now)
}

// CanMakeRequest checks the monthly request quota of an active subscription
func (s *Subscription) CanMakeRequest(currentMonthlyRequests int, now time.Time) bool {
	if !s.IsActive(now) {
		return false
	}
	planType, err := s.Plan.Type()
	if err != nil {
		return false
	}
	return planType.CanMakeRequest(currentMonthlyRequests)
}

// CanCreateServer checks the server count limit of an active subscription
func (s *Subscription) CanCreateServer(currentServerCount int, now time.Time) bool {
	if !s.IsActive(now) {
		return false
	}
	planType, err := s.Plan.Type()
	if err != nil {
		return false
	}
	return planType.CanCreateServer(currentServerCount)
}

// SubscriptionResponse is returned by the account endpoints
type SubscriptionResponse struct {
	ID                  uuid.UUID          `json:"id"`
	Tier                PlanTier           `json:"tier"`
	Cycle               BillingCycle       `json:"cycle"`
	PlanName            string             `json:"plan_name"`
	Status              SubscriptionStatus `json:"status"`
	IsActive            bool               `json:"is_active"`
	StartDate           time.Time          `json:"start_date"`
	EndDate             *time.Time         `json:"end_date,omitempty"`
	NextBillingDate     time.Time          `json:"next_billing_date"`
	MonthlyRequestLimit int                `json:"monthly_request_limit"`
	MaxServers          int                `json:"max_servers"`
}

// ToResponse converts the subscription evaluated at now
func (s *Subscription) ToResponse(now time.Time) *SubscriptionResponse {
	resp := &SubscriptionResponse{
		ID:              s.ID,
		Tier:            s.Plan.Tier,
		Cycle:           s.Plan.Cycle,
		Status:          s.Status,
		IsActive:        s.IsActive(now),
		StartDate:       s.StartDate,
		EndDate:         s.EndDate,
		NextBillingDate: s.NextBillingDate,
	}
	if planType, err := s.Plan.Type(); err == nil {
		resp.PlanName = planType.Name
		resp.MonthlyRequestLimit = planType.MonthlyRequestLimit
		resp.MaxServers = planType.MaxServers
	}
	return resp
}
