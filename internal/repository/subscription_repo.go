package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradebridge/backend/internal/models"
)

type SubscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

func (r *SubscriptionRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *SubscriptionRepo) GetPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	var p models.Plan
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, credits_per_period, period_days, price_cents, created_at
		FROM plans WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.CreditsPerPeriod, &p.PeriodDays, &p.PriceCents, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *SubscriptionRepo) ListPlans(ctx context.Context) ([]*models.Plan, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, credits_per_period, period_days, price_cents, created_at
		FROM plans ORDER BY price_cents ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Plan
	for rows.Next() {
		var p models.Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.CreditsPerPeriod, &p.PeriodDays, &p.PriceCents, &p.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}

// CreateTx inserts the subscription inside the caller's transaction,
// so the row and its first-period grant commit together.
func (r *SubscriptionRepo) CreateTx(ctx context.Context, tx pgx.Tx, s *models.Subscription) error {
	return tx.QueryRow(ctx, `
		INSERT INTO subscriptions (id, user_id, plan_id, status, start_date, end_date, auto_renew)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, s.ID, s.UserID, s.PlanID, s.Status, s.StartDate, s.EndDate, s.AutoRenew).Scan(&s.CreatedAt, &s.UpdatedAt)
}

// GetByUser returns the user's subscription, or pgx.ErrNoRows.
func (r *SubscriptionRepo) GetByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var s models.Subscription
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, plan_id, status, start_date, end_date, auto_renew, created_at, updated_at
		FROM subscriptions WHERE user_id = $1
	`, userID).Scan(&s.ID, &s.UserID, &s.PlanID, &s.Status, &s.StartDate, &s.EndDate, &s.AutoRenew, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubscriptionRepo) Update(ctx context.Context, s *models.Subscription) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE subscriptions SET plan_id = $2, status = $3, start_date = $4, end_date = $5, auto_renew = $6, updated_at = now()
		WHERE id = $1
	`, s.ID, s.PlanID, s.Status, s.StartDate, s.EndDate, s.AutoRenew)
	return err
}

// UpdateTx is Update inside the caller's transaction, for
// reactivation flows that grant credits in the same commit.
func (r *SubscriptionRepo) UpdateTx(ctx context.Context, tx pgx.Tx, s *models.Subscription) error {
	_, err := tx.Exec(ctx, `
		UPDATE subscriptions SET plan_id = $2, status = $3, start_date = $4, end_date = $5, auto_renew = $6, updated_at = now()
		WHERE id = $1
	`, s.ID, s.PlanID, s.Status, s.StartDate, s.EndDate, s.AutoRenew)
	return err
}

// ExtendPeriodTx rolls the subscription forward one billing period
// inside the caller's transaction. A failed renewal must leave the
// end date untouched so the sweep picks the subscription up again.
func (r *SubscriptionRepo) ExtendPeriodTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, newEndDate time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE subscriptions SET end_date = $2, updated_at = now() WHERE id = $1
	`, id, newEndDate)
	return err
}

// ListRenewable returns active auto-renew subscriptions whose period
// has lapsed, for the renewal sweep.
func (r *SubscriptionRepo) ListRenewable(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, plan_id, status, start_date, end_date, auto_renew, created_at, updated_at
		FROM subscriptions
		WHERE status = 'active' AND auto_renew = TRUE AND end_date < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Subscription
	for rows.Next() {
		var s models.Subscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.PlanID, &s.Status, &s.StartDate, &s.EndDate, &s.AutoRenew, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &s)
	}
	return list, rows.Err()
}
