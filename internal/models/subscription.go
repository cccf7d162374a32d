package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusExpired  = "expired"
)

// Plan defines a subscription product.
type Plan struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	CreditsPerPeriod int       `json:"credits_per_period"`
	PeriodDays       int       `json:"period_days"`
	PriceCents       int64     `json:"price_cents"`
	CreatedAt        time.Time `json:"created_at"`
}

// Subscription is a user's enrollment in a plan. One per user.
type Subscription struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	PlanID    uuid.UUID `json:"plan_id"`
	Status    string    `json:"status"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	AutoRenew bool      `json:"auto_renew"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CurrentPeriodStart returns the start of the billing period ending at
// EndDate. Used to build the period-scoped payment reference for
// idempotent renewal grants.
func (s *Subscription) CurrentPeriodStart(periodDays int) time.Time {
	return s.EndDate.AddDate(0, 0, -periodDays)
}
