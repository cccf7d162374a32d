package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradebridge/backend/internal/models"
)

// TransactionRepo stores external payment records. A partial unique
// index on payment_ref WHERE status = 'completed' backs the
// idempotency guard; racing inserts surface as a 23505 unique
// violation.
type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func (r *TransactionRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// CreateTx inserts a transaction inside the given database transaction.
func (r *TransactionRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, credits, price_cents, type, status, payment_ref, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, t.ID, t.UserID, t.Credits, t.PriceCents, t.Type, t.Status, t.PaymentRef, t.Metadata).Scan(&t.CreatedAt, &t.UpdatedAt)
}

// FindCompletedByPaymentRef returns the completed transaction carrying
// the given payment reference, or pgx.ErrNoRows.
func (r *TransactionRepo) FindCompletedByPaymentRef(ctx context.Context, ref string) (*models.Transaction, error) {
	var t models.Transaction
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, credits, price_cents, type, status, payment_ref, metadata, created_at, updated_at
		FROM transactions WHERE payment_ref = $1 AND status = 'completed'
	`, ref).Scan(&t.ID, &t.UserID, &t.Credits, &t.PriceCents, &t.Type, &t.Status, &t.PaymentRef, &t.Metadata, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var t models.Transaction
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, credits, price_cents, type, status, payment_ref, metadata, created_at, updated_at
		FROM transactions WHERE id = $1
	`, id).Scan(&t.ID, &t.UserID, &t.Credits, &t.PriceCents, &t.Type, &t.Status, &t.PaymentRef, &t.Metadata, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, credits, price_cents, type, status, payment_ref, metadata, created_at, updated_at
		FROM transactions WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Credits, &t.PriceCents, &t.Type, &t.Status, &t.PaymentRef, &t.Metadata, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
