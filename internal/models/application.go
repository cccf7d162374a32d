package models

import (
	"time"

	"github.com/google/uuid"
)

// Application statuses. Rejected and withdrawn are terminal.
const (
	ApplicationStatusPending     = "pending"
	ApplicationStatusViewed      = "viewed"
	ApplicationStatusShortlisted = "shortlisted"
	ApplicationStatusAccepted    = "accepted"
	ApplicationStatusRejected    = "rejected"
	ApplicationStatusWithdrawn   = "withdrawn"
)

// ApplicationTerminal reports whether a status permits no further
// transitions.
func ApplicationTerminal(status string) bool {
	switch status {
	case ApplicationStatusAccepted, ApplicationStatusRejected, ApplicationStatusWithdrawn:
		return true
	}
	return false
}

// Application is unique per (job, tradesperson) pair regardless of
// status. CreditCost snapshots the job's cost at submission time.
type Application struct {
	ID             uuid.UUID `json:"id"`
	JobID          uuid.UUID `json:"job_id"`
	TradespersonID uuid.UUID `json:"tradesperson_id"`
	Status         string    `json:"status"`
	CreditCost     int       `json:"credit_cost"`
	Message        string    `json:"message,omitempty"`
	QuoteCents     *int64    `json:"quote_cents,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
