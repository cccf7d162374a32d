// Package ledger is the only sanctioned mutation path for credit
// balances. Every call appends exactly one immutable entry; the
// balance update and the entry append run in the caller's database
// transaction so partial application cannot be observed.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tradebridge/backend/internal/models"
)

// ErrInsufficientCredits is returned when a debit would drive the
// available balance negative. Debits fail closed.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrInvalidAmount is returned for zero or negative amounts.
var ErrInvalidAmount = errors.New("amount must be positive")

// AccountStore is the minimal balance store the ledger needs. Deduct
// must be a single conditional update (check-and-decrement in one
// statement) and signal an unmatched condition with pgx.ErrNoRows.
type AccountStore interface {
	Deduct(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int) (newAvailable int, err error)
	Add(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int) (newAvailable int, err error)
}

// EntryStore is the append-only ledger entry store.
type EntryStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
}

type Service struct {
	accounts AccountStore
	entries  EntryStore
}

func NewService(accounts AccountStore, entries EntryStore) *Service {
	return &Service{accounts: accounts, entries: entries}
}

// Credit grants amount to the account and appends a positive entry.
// Runs inside the caller's transaction.
func (s *Service) Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, entryType string, related *models.LedgerRef, notes string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	newBalance, err := s.accounts.Add(ctx, tx, accountID, amount)
	if err != nil {
		return nil, fmt.Errorf("add credits: %w", err)
	}
	return s.append(ctx, tx, accountID, amount, entryType, related, notes, newBalance)
}

// Debit spends amount from the account and appends a negative entry.
// Fails with ErrInsufficientCredits when the balance does not cover
// the amount; nothing is written in that case. Runs inside the
// caller's transaction.
func (s *Service) Debit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, entryType string, related *models.LedgerRef, notes string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	newBalance, err := s.accounts.Deduct(ctx, tx, accountID, amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInsufficientCredits
		}
		return nil, fmt.Errorf("deduct credits: %w", err)
	}
	return s.append(ctx, tx, accountID, -amount, entryType, related, notes, newBalance)
}

// History returns the most recent limit entries, newest first.
func (s *Service) History(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.entries.ListByAccount(ctx, accountID, limit)
}

func (s *Service) append(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, entryType string, related *models.LedgerRef, notes string, balanceAfter int) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{
		ID:           uuid.New(),
		AccountID:    accountID,
		Amount:       amount,
		EntryType:    entryType,
		BalanceAfter: balanceAfter,
		Notes:        notes,
	}
	if related != nil {
		entry.RelatedType = &related.Type
		id := related.ID
		entry.RelatedID = &id
	}
	if err := s.entries.CreateTx(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	return entry, nil
}
