package billing

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tradebridge/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called.
type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type mockDB struct{}

func (mockDB) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

// mockTransactions emulates the storage uniqueness constraint: the
// existence check and the insert happen under one lock, and a
// duplicate completed payment_ref comes back as a 23505 error.
type mockTransactions struct {
	mu      sync.Mutex
	records map[string]*models.Transaction
}

func newMockTransactions() *mockTransactions {
	return &mockTransactions{records: make(map[string]*models.Transaction)}
}

func (m *mockTransactions) FindCompletedByPaymentRef(_ context.Context, ref string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.records[ref]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (m *mockTransactions) CreateTx(_ context.Context, _ pgx.Tx, t *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[t.PaymentRef]; exists {
		return &pgconn.PgError{Code: "23505", ConstraintName: "transactions_payment_ref_completed_key"}
	}
	cp := *t
	m.records[t.PaymentRef] = &cp
	return nil
}

func (m *mockTransactions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// mockLedger records credit grants.
type mockLedger struct {
	mu      sync.Mutex
	credits []int
}

func (m *mockLedger) Credit(_ context.Context, _ pgx.Tx, accountID uuid.UUID, amount int, entryType string, related *models.LedgerRef, notes string) (*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credits = append(m.credits, amount)
	return &models.LedgerEntry{ID: uuid.New(), AccountID: accountID, Amount: amount, EntryType: entryType}, nil
}

func (m *mockLedger) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := 0
	for _, c := range m.credits {
		sum += c
	}
	return sum
}

type mockProcessor struct {
	payments map[string]*Payment
}

func (m *mockProcessor) RetrievePayment(_ context.Context, ref string) (*Payment, error) {
	p, ok := m.payments[ref]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockProcessor) CreatePayment(_ context.Context, amountCents int64, currency string, metadata map[string]string) (*Intent, error) {
	return &Intent{Ref: "pi_test", ClientSecret: "cs_test"}, nil
}

func newGateway(processor *mockProcessor) (*Gateway, *mockTransactions, *mockLedger) {
	transactions := newMockTransactions()
	led := &mockLedger{}
	return NewGateway(mockDB{}, transactions, led, processor, nil), transactions, led
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestConfirm(t *testing.T) {
	user := uuid.New()
	processor := &mockProcessor{payments: map[string]*Payment{
		"pi_123": {Ref: "pi_123", Status: "succeeded", UserID: user, Credits: 30, AmountCents: 2499, PackageID: "standard"},
	}}
	gw, transactions, led := newGateway(processor)

	ctx := context.Background()
	res, err := gw.Confirm(ctx, "pi_123", user)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if res.AlreadyProcessed {
		t.Error("first confirmation flagged as already processed")
	}
	if res.Credits != 30 {
		t.Errorf("credits: got %d, want 30", res.Credits)
	}
	if transactions.count() != 1 {
		t.Errorf("transactions recorded: got %d, want 1", transactions.count())
	}
	if led.total() != 30 {
		t.Errorf("ledger credited: got %d, want 30", led.total())
	}
}

func TestConfirmIdempotent(t *testing.T) {
	user := uuid.New()
	processor := &mockProcessor{payments: map[string]*Payment{
		"pi_123": {Ref: "pi_123", Status: "succeeded", UserID: user, Credits: 30, AmountCents: 2499},
	}}
	gw, transactions, led := newGateway(processor)

	ctx := context.Background()
	first, err := gw.Confirm(ctx, "pi_123", user)
	if err != nil {
		t.Fatalf("first Confirm: %v", err)
	}
	second, err := gw.Confirm(ctx, "pi_123", user)
	if err != nil {
		t.Fatalf("second Confirm: %v", err)
	}

	if !second.AlreadyProcessed {
		t.Error("replay should report already_processed")
	}
	if second.Credits != first.Credits {
		t.Errorf("replay credits: got %d, want %d", second.Credits, first.Credits)
	}
	if transactions.count() != 1 {
		t.Errorf("transactions after replay: got %d, want 1", transactions.count())
	}
	if led.total() != 30 {
		t.Errorf("ledger credited twice: total %d, want 30", led.total())
	}
}

// TestConfirmConcurrent: two confirmations race past the existence
// check; the uniqueness constraint must ensure exactly one credit.
func TestConfirmConcurrent(t *testing.T) {
	user := uuid.New()
	processor := &mockProcessor{payments: map[string]*Payment{
		"pi_123": {Ref: "pi_123", Status: "succeeded", UserID: user, Credits: 30},
	}}
	gw, transactions, led := newGateway(processor)

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = gw.Confirm(ctx, "pi_123", user)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("confirmation %d failed: %v", i, err)
		}
	}
	if transactions.count() != 1 {
		t.Errorf("transactions after race: got %d, want 1", transactions.count())
	}
	if led.total() != 30 {
		t.Errorf("ledger after race: total %d, want 30", led.total())
	}
}

func TestConfirmRejections(t *testing.T) {
	owner := uuid.New()
	stranger := uuid.New()
	processor := &mockProcessor{payments: map[string]*Payment{
		"pi_ok":      {Ref: "pi_ok", Status: "succeeded", UserID: owner, Credits: 10},
		"pi_pending": {Ref: "pi_pending", Status: "processing", UserID: owner, Credits: 10},
	}}
	gw, transactions, led := newGateway(processor)

	ctx := context.Background()
	if _, err := gw.Confirm(ctx, "pi_missing", owner); err != ErrPaymentNotFound {
		t.Errorf("missing payment: got %v, want ErrPaymentNotFound", err)
	}
	if _, err := gw.Confirm(ctx, "pi_pending", owner); err != ErrPaymentNotSucceeded {
		t.Errorf("pending payment: got %v, want ErrPaymentNotSucceeded", err)
	}
	if _, err := gw.Confirm(ctx, "pi_ok", stranger); err != ErrOwnerMismatch {
		t.Errorf("wrong owner: got %v, want ErrOwnerMismatch", err)
	}

	if transactions.count() != 0 {
		t.Errorf("rejected confirmations wrote %d transactions", transactions.count())
	}
	if led.total() != 0 {
		t.Errorf("rejected confirmations credited %d", led.total())
	}
}
