package models

import (
	"time"

	"github.com/google/uuid"
)

// Review is left by the customer after a job completes. One per job.
type Review struct {
	ID             uuid.UUID `json:"id"`
	JobID          uuid.UUID `json:"job_id"`
	CustomerID     uuid.UUID `json:"customer_id"`
	TradespersonID uuid.UUID `json:"tradesperson_id"`
	Rating         int       `json:"rating"`
	Comment        string    `json:"comment,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
