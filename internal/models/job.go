package models

import (
	"time"

	"github.com/google/uuid"
)

// Job statuses. Completed, canceled and expired are terminal.
const (
	JobStatusDraft      = "draft"
	JobStatusOpen       = "open"
	JobStatusInProgress = "in-progress"
	JobStatusCompleted  = "completed"
	JobStatusCanceled   = "canceled"
	JobStatusExpired    = "expired"
)

// JobTerminal reports whether a status permits no further transitions.
func JobTerminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusCanceled, JobStatusExpired:
		return true
	}
	return false
}

// Completion is filled when the owner marks the job completed.
type Completion struct {
	CompletedAt      time.Time `json:"completed_at"`
	FinalAmountCents int64     `json:"final_amount_cents"`
	Feedback         string    `json:"feedback,omitempty"`
	Disputed         bool      `json:"disputed"`
}

type Job struct {
	ID          uuid.UUID `json:"id"`
	CustomerID  uuid.UUID `json:"customer_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Trade       string    `json:"trade"`
	Location    string    `json:"location,omitempty"`
	Status      string    `json:"status"`
	// CreditCost is what a tradesperson pays to apply. Assigned by an
	// admin when a draft job is approved.
	CreditCost             int         `json:"credit_cost"`
	SelectedTradespersonID *uuid.UUID  `json:"selected_tradesperson_id,omitempty"`
	StartDate              *time.Time  `json:"start_date,omitempty"`
	Completion             *Completion `json:"completion,omitempty"`
	ExpiresAt              *time.Time  `json:"expires_at,omitempty"`
	CreatedAt              time.Time   `json:"created_at"`
	UpdatedAt              time.Time   `json:"updated_at"`
}
