package models

import (
	"time"

	"github.com/google/uuid"
)

// UserUsage counts billable requests of a user in one calendar month
type UserUsage struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Year           int       `json:"year"`
	Month          int       `json:"month"`
	RequestCount   int       `json:"request_count"`
	LastUpdated    time.Time `json:"last_updated"`
	CreatedAt      time.Time `json:"created_at"`
}

// IncrementRequestCount adds one request. LastUpdated never moves backwards.
func (u *UserUsage) IncrementRequestCount(at time.Time) {
	u.RequestCount++
	if at.After(u.LastUpdated) {
		u.LastUpdated = at
	}
}

// HasExceededLimit reports whether the month's quota is used up
func (u *UserUsage) HasExceededLimit(monthlyLimit int) bool {
	return u.RequestCount >= monthlyLimit
}

// UsagePeriod returns the calendar year and month of t in UTC
func UsagePeriod(t time.Time) (year, month int) {
	utc := t.UTC()
	return utc.Year(), int(utc.Month())
}

// Billable endpoints recorded by the usage tracker
const (
	ServerCreationEndpoint = "/servers"
	ServerCreationMethod   = "POST"
)

// RequestLog is the audit entry written for every billable action
type RequestLog struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"user_id"`
	UserUsageID      uuid.UUID `json:"user_usage_id"`
	ServerInstanceID uuid.UUID `json:"server_instance_id"`
	Endpoint         string    `json:"endpoint"`
	Method           string    `json:"method"`
	ResponseCode     int       `json:"response_code"`
	ResponseTimeMs   int64     `json:"response_time_ms"`
	BillableWeight   int       `json:"billable_weight"`
	RequestTimestamp time.Time `json:"request_timestamp"`
}

// UsageResponse summarises the current month for the account endpoint
type UsageResponse struct {
	Year                int        `json:"year"`
	Month               int        `json:"month"`
	RequestCount        int        `json:"request_count"`
	MonthlyRequestLimit int        `json:"monthly_request_limit"`
	Remaining           int        `json:"remaining"`
	LastUpdated         *time.Time `json:"last_updated,omitempty"`
}
