package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradebridge/backend/internal/models"
)

// ReviewRepo stores job reviews. A unique index on job_id enforces one
// review per job.
type ReviewRepo struct {
	pool *pgxpool.Pool
}

func NewReviewRepo(pool *pgxpool.Pool) *ReviewRepo {
	return &ReviewRepo{pool: pool}
}

func (r *ReviewRepo) Create(ctx context.Context, rv *models.Review) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO reviews (id, job_id, customer_id, tradesperson_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, rv.ID, rv.JobID, rv.CustomerID, rv.TradespersonID, rv.Rating, rv.Comment).Scan(&rv.CreatedAt)
}

func (r *ReviewRepo) ListByTradesperson(ctx context.Context, tradespersonID uuid.UUID) ([]*models.Review, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, customer_id, tradesperson_id, rating, comment, created_at
		FROM reviews WHERE tradesperson_id = $1 ORDER BY created_at DESC
	`, tradespersonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Review
	for rows.Next() {
		var rv models.Review
		if err := rows.Scan(&rv.ID, &rv.JobID, &rv.CustomerID, &rv.TradespersonID, &rv.Rating, &rv.Comment, &rv.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &rv)
	}
	return list, rows.Err()
}

// AverageForTradesperson recomputes the average rating from all
// reviews. Review volume is low enough that a full recompute on read
// beats maintaining an incremental counter.
func (r *ReviewRepo) AverageForTradesperson(ctx context.Context, tradespersonID uuid.UUID) (avg float64, count int, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(rating), 0), COUNT(*)
		FROM reviews WHERE tradesperson_id = $1
	`, tradespersonID).Scan(&avg, &count)
	return avg, count, err
}
