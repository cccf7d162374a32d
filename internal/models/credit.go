package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry types. The sign convention is carried on the entry
// itself: positive amounts add to the balance, negative amounts
// consume it.
const (
	EntryTypePurchase   = "purchase"
	EntryTypeUsage      = "usage"
	EntryTypeRefund     = "refund"
	EntryTypeBonus      = "bonus"
	EntryTypeExpiration = "expiration"
)

// Kinds a ledger entry can reference via RelatedType/RelatedID.
const (
	RelatedTransaction  = "transaction"
	RelatedSubscription = "subscription"
	RelatedApplication  = "application"
	RelatedJob          = "job"
)

// CreditAccount is the per-tradesperson balance row. Available never
// goes negative; Spent only grows.
type CreditAccount struct {
	UserID    uuid.UUID `json:"user_id"`
	Available int       `json:"available"`
	Spent     int       `json:"spent"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerEntry is immutable once written. Balance mutation and entry
// append happen inside the same database transaction.
type LedgerEntry struct {
	ID           uuid.UUID  `json:"id"`
	AccountID    uuid.UUID  `json:"account_id"`
	Amount       int        `json:"amount"`
	EntryType    string     `json:"entry_type"`
	RelatedType  *string    `json:"related_type,omitempty"`
	RelatedID    *uuid.UUID `json:"related_id,omitempty"`
	BalanceAfter int        `json:"balance_after"`
	Notes        string     `json:"notes,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// LedgerRef points an entry at the record that caused it.
type LedgerRef struct {
	Type string
	ID   uuid.UUID
}
