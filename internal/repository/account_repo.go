package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradebridge/backend/internal/models"
)

// AccountRepo manages credit_accounts, the per-tradesperson balance
// rows. All balance mutation goes through Deduct/Add so the
// availability check and the decrement are one atomic statement.
type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// CreateTx inserts a zero-balance account inside the given transaction.
func (r *AccountRepo) CreateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO credit_accounts (user_id, available, spent)
		VALUES ($1, 0, 0)
	`, userID)
	return err
}

func (r *AccountRepo) Get(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error) {
	var a models.CreditAccount
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, available, spent, created_at, updated_at
		FROM credit_accounts WHERE user_id = $1
	`, userID).Scan(&a.UserID, &a.Available, &a.Spent, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Deduct atomically spends amount if available covers it. Returns the
// new available balance, or pgx.ErrNoRows when the conditional update
// matched nothing (insufficient balance or unknown account).
func (r *AccountRepo) Deduct(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int) (newAvailable int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE credit_accounts
		SET available = available - $1, spent = spent + $1, updated_at = now()
		WHERE user_id = $2 AND available >= $1
		RETURNING available
	`, amount, userID).Scan(&newAvailable)
	return newAvailable, err
}

// Add grants amount to the account and returns the new available balance.
func (r *AccountRepo) Add(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int) (newAvailable int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE credit_accounts
		SET available = available + $1, updated_at = now()
		WHERE user_id = $2
		RETURNING available
	`, amount, userID).Scan(&newAvailable)
	return newAvailable, err
}
