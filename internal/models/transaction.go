package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Transaction types mirror ledger entry types.
const (
	TransactionTypePurchase   = "purchase"
	TransactionTypeUsage      = "usage"
	TransactionTypeRefund     = "refund"
	TransactionTypeBonus      = "bonus"
	TransactionTypeExpiration = "expiration"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
	TransactionStatusCanceled  = "canceled"
)

// Transaction records an external payment event. PaymentRef is the
// processor's reference (payment-intent id, or a synthetic period
// reference for subscription grants) and is unique among completed
// transactions; that index is the idempotency guard for confirmation.
type Transaction struct {
	ID         uuid.UUID       `json:"id"`
	UserID     uuid.UUID       `json:"user_id"`
	Credits    int             `json:"credits"`
	PriceCents int64           `json:"price_cents"`
	Type       string          `json:"type"`
	Status     string          `json:"status"`
	PaymentRef string          `json:"payment_ref"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
