package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tradebridge/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks for AccountStore and EntryStore. These let us test
// the real ledger logic without a database.
// ---------------------------------------------------------------------------

type mockAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.CreditAccount
}

func newMockAccounts(accs ...*models.CreditAccount) *mockAccounts {
	m := &mockAccounts{accounts: make(map[uuid.UUID]*models.CreditAccount)}
	for _, a := range accs {
		cp := *a
		m.accounts[a.UserID] = &cp
	}
	return m
}

func (m *mockAccounts) Deduct(_ context.Context, _ pgx.Tx, userID uuid.UUID, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok || a.Available < amount {
		// The real store's conditional update matches no row.
		return 0, pgx.ErrNoRows
	}
	a.Available -= amount
	a.Spent += amount
	return a.Available, nil
}

func (m *mockAccounts) Add(_ context.Context, _ pgx.Tx, userID uuid.UUID, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return 0, fmt.Errorf("account %s not found", userID)
	}
	a.Available += amount
	return a.Available, nil
}

func (m *mockAccounts) available(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[userID].Available
}

func (m *mockAccounts) spent(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[userID].Spent
}

// ---

type mockEntries struct {
	mu      sync.Mutex
	entries []*models.LedgerEntry
}

func (m *mockEntries) CreateTx(_ context.Context, _ pgx.Tx, e *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockEntries) ListByAccount(_ context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].AccountID == accountID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *mockEntries) forAccount(accountID uuid.UUID) []*models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range m.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out
}

func acct(id uuid.UUID, available int) *models.CreditAccount {
	return &models.CreditAccount{UserID: id, Available: available}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestCredit(t *testing.T) {
	user := uuid.New()
	accounts := newMockAccounts(acct(user, 5))
	entries := &mockEntries{}
	svc := NewService(accounts, entries)

	ctx := context.Background()
	entry, err := svc.Credit(ctx, nil, user, 10, models.EntryTypePurchase, nil, "credit package")
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}

	if got := accounts.available(user); got != 15 {
		t.Errorf("available after credit: got %d, want 15", got)
	}
	if entry.Amount != 10 {
		t.Errorf("entry amount: got %d, want 10", entry.Amount)
	}
	if entry.BalanceAfter != 15 {
		t.Errorf("entry balance_after: got %d, want 15", entry.BalanceAfter)
	}

	if _, err := svc.Credit(ctx, nil, user, 0, models.EntryTypePurchase, nil, ""); err != ErrInvalidAmount {
		t.Errorf("zero credit: expected ErrInvalidAmount, got %v", err)
	}
}

func TestDebit(t *testing.T) {
	user := uuid.New()
	job := uuid.New()
	accounts := newMockAccounts(acct(user, 5))
	entries := &mockEntries{}
	svc := NewService(accounts, entries)

	ctx := context.Background()
	entry, err := svc.Debit(ctx, nil, user, 1, models.EntryTypeUsage, &models.LedgerRef{Type: models.RelatedJob, ID: job}, "application")
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}

	if got := accounts.available(user); got != 4 {
		t.Errorf("available after debit: got %d, want 4", got)
	}
	if got := accounts.spent(user); got != 1 {
		t.Errorf("spent after debit: got %d, want 1", got)
	}
	if entry.Amount != -1 {
		t.Errorf("debit entry amount: got %d, want -1", entry.Amount)
	}
	if entry.RelatedID == nil || *entry.RelatedID != job {
		t.Error("debit entry should reference the job")
	}
}

func TestDebitInsufficient(t *testing.T) {
	user := uuid.New()
	accounts := newMockAccounts(acct(user, 0))
	entries := &mockEntries{}
	svc := NewService(accounts, entries)

	ctx := context.Background()
	if _, err := svc.Debit(ctx, nil, user, 1, models.EntryTypeUsage, nil, ""); err != ErrInsufficientCredits {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	// Nothing written, balance untouched.
	if got := accounts.available(user); got != 0 {
		t.Errorf("available changed on failed debit: got %d", got)
	}
	if n := len(entries.forAccount(user)); n != 0 {
		t.Errorf("expected 0 entries after failed debit, got %d", n)
	}
}

// TestConservation: after any sequence of credits and debits, the
// available balance equals initial plus the sum of signed entry
// amounts, and never goes negative.
func TestConservation(t *testing.T) {
	user := uuid.New()
	const initial = 3
	accounts := newMockAccounts(acct(user, initial))
	entries := &mockEntries{}
	svc := NewService(accounts, entries)

	ctx := context.Background()
	ops := []struct {
		credit bool
		amount int
	}{
		{true, 10}, {false, 4}, {false, 4}, {true, 2}, {false, 8}, {false, 8},
	}
	for _, op := range ops {
		if op.credit {
			if _, err := svc.Credit(ctx, nil, user, op.amount, models.EntryTypePurchase, nil, ""); err != nil {
				t.Fatalf("Credit(%d): %v", op.amount, err)
			}
			continue
		}
		// Debits may legitimately fail with insufficient credits; the
		// invariant is that failed debits write nothing.
		if _, err := svc.Debit(ctx, nil, user, op.amount, models.EntryTypeUsage, nil, ""); err != nil && err != ErrInsufficientCredits {
			t.Fatalf("Debit(%d): %v", op.amount, err)
		}
	}

	sum := 0
	for _, e := range entries.forAccount(user) {
		sum += e.Amount
	}
	if got, want := accounts.available(user), initial+sum; got != want {
		t.Errorf("conservation violated: initial(%d) + ledger_sum(%d) = %d, but available is %d", initial, sum, want, got)
	}
	if accounts.available(user) < 0 {
		t.Error("available went negative")
	}
}

// TestConcurrentDebits: many goroutines race to debit the same
// account; the total spent must never exceed the starting balance.
func TestConcurrentDebits(t *testing.T) {
	user := uuid.New()
	const initial = 10
	accounts := newMockAccounts(acct(user, initial))
	entries := &mockEntries{}
	svc := NewService(accounts, entries)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Debit(ctx, nil, user, 1, models.EntryTypeUsage, nil, "")
		}()
	}
	wg.Wait()

	if got := accounts.available(user); got != 0 {
		t.Errorf("available after racing debits: got %d, want 0", got)
	}
	if got := accounts.spent(user); got != initial {
		t.Errorf("spent after racing debits: got %d, want %d", got, initial)
	}
	if n := len(entries.forAccount(user)); n != initial {
		t.Errorf("entries after racing debits: got %d, want %d", n, initial)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	user := uuid.New()
	accounts := newMockAccounts(acct(user, 0))
	entries := &mockEntries{}
	svc := NewService(accounts, entries)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if _, err := svc.Credit(ctx, nil, user, i, models.EntryTypeBonus, nil, ""); err != nil {
			t.Fatalf("Credit: %v", err)
		}
	}

	history, err := svc.History(ctx, user, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length: got %d, want 2", len(history))
	}
	if history[0].Amount != 3 || history[1].Amount != 2 {
		t.Errorf("history not newest-first: got amounts %d, %d", history[0].Amount, history[1].Amount)
	}
}
