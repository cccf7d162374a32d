package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tradebridge/backend/internal/models"
)

// TxBeginner abstracts transaction creation so tests don't need a
// pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TransactionStore is the payment-record store the gateway needs. The
// backing store carries a uniqueness constraint on the payment
// reference of completed transactions; CreateTx surfaces a violation
// as pgconn.PgError 23505.
type TransactionStore interface {
	FindCompletedByPaymentRef(ctx context.Context, ref string) (*models.Transaction, error)
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
}

// CreditLedger is the slice of the ledger the gateway uses.
type CreditLedger interface {
	Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, entryType string, related *models.LedgerRef, notes string) (*models.LedgerEntry, error)
}

// Gateway turns an externally verified payment into exactly one ledger
// credit, no matter how many times confirmation is invoked.
type Gateway struct {
	db           TxBeginner
	transactions TransactionStore
	ledger       CreditLedger
	processor    Processor
	log          *slog.Logger
}

func NewGateway(db TxBeginner, transactions TransactionStore, ledger CreditLedger, processor Processor, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{db: db, transactions: transactions, ledger: ledger, processor: processor, log: log}
}

// ConfirmResult reports the outcome of a confirmation. Replays succeed
// with AlreadyProcessed set and the originally granted credit amount.
type ConfirmResult struct {
	Transaction      *models.Transaction
	Credits          int
	AlreadyProcessed bool
}

// Confirm verifies the payment at the processor and applies its credit
// grant once. The existence check plus insert race is closed by the
// storage-level uniqueness constraint: a concurrent confirmation that
// loses the insert race lands on the already-processed path.
func (g *Gateway) Confirm(ctx context.Context, paymentRef string, expectedUserID uuid.UUID) (*ConfirmResult, error) {
	payment, err := g.processor.RetrievePayment(ctx, paymentRef)
	if err != nil {
		return nil, err
	}
	if payment.Status != "succeeded" {
		return nil, ErrPaymentNotSucceeded
	}
	if payment.UserID != expectedUserID {
		return nil, ErrOwnerMismatch
	}
	if payment.Credits <= 0 {
		return nil, fmt.Errorf("payment %s grants no credits", paymentRef)
	}

	if existing, err := g.transactions.FindCompletedByPaymentRef(ctx, paymentRef); err == nil {
		return &ConfirmResult{Transaction: existing, Credits: existing.Credits, AlreadyProcessed: true}, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup transaction: %w", err)
	}

	tx, err := g.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin confirm tx: %w", err)
	}
	defer tx.Rollback(ctx)

	record := &models.Transaction{
		ID:         uuid.New(),
		UserID:     expectedUserID,
		Credits:    payment.Credits,
		PriceCents: payment.AmountCents,
		Type:       models.TransactionTypePurchase,
		Status:     models.TransactionStatusCompleted,
		PaymentRef: paymentRef,
	}
	if err := g.transactions.CreateTx(ctx, tx, record); err != nil {
		if isUniqueViolation(err) {
			// A concurrent confirmation won the race; return its result.
			_ = tx.Rollback(ctx)
			existing, lookupErr := g.transactions.FindCompletedByPaymentRef(ctx, paymentRef)
			if lookupErr != nil {
				return nil, fmt.Errorf("lookup racing transaction: %w", lookupErr)
			}
			return &ConfirmResult{Transaction: existing, Credits: existing.Credits, AlreadyProcessed: true}, nil
		}
		return nil, fmt.Errorf("record transaction: %w", err)
	}

	notes := "Credit purchase"
	if payment.PackageID != "" {
		if pkg := PackageByID(payment.PackageID); pkg != nil {
			notes = fmt.Sprintf("Purchased %s package", pkg.Name)
		}
	}
	if _, err := g.ledger.Credit(ctx, tx, expectedUserID, payment.Credits, models.EntryTypePurchase,
		&models.LedgerRef{Type: models.RelatedTransaction, ID: record.ID}, notes); err != nil {
		return nil, fmt.Errorf("grant credits: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit confirm tx: %w", err)
	}

	g.log.Info("payment confirmed", "payment_ref", paymentRef, "user_id", expectedUserID, "credits", payment.Credits)
	return &ConfirmResult{Transaction: record, Credits: payment.Credits}, nil
}

// CreateIntent creates a processor payment for the given credit
// package on behalf of the user.
func (g *Gateway) CreateIntent(ctx context.Context, userID uuid.UUID, packageID string) (*Intent, *CreditPackage, error) {
	pkg := PackageByID(packageID)
	if pkg == nil {
		return nil, nil, fmt.Errorf("unknown credit package %q", packageID)
	}
	intent, err := g.processor.CreatePayment(ctx, pkg.PriceCents, "gbp", map[string]string{
		"user_id":    userID.String(),
		"package_id": pkg.ID,
		"credits":    fmt.Sprintf("%d", pkg.Credits),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create payment: %w", err)
	}
	return intent, pkg, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
