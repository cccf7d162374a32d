package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradebridge/backend/internal/models"
)

// ApplicationRepo stores job applications. A unique index on
// (job_id, tradesperson_id) enforces one application per pair; racing
// inserts surface as a 23505 unique violation.
type ApplicationRepo struct {
	pool *pgxpool.Pool
}

func NewApplicationRepo(pool *pgxpool.Pool) *ApplicationRepo {
	return &ApplicationRepo{pool: pool}
}

func (r *ApplicationRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const applicationColumns = `id, job_id, tradesperson_id, status, credit_cost, message, quote_cents, created_at, updated_at`

func scanApplication(row pgx.Row) (*models.Application, error) {
	var a models.Application
	err := row.Scan(&a.ID, &a.JobID, &a.TradespersonID, &a.Status, &a.CreditCost, &a.Message, &a.QuoteCents, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateTx inserts an application inside the given transaction, so the
// credit debit and the application row commit or roll back together.
func (r *ApplicationRepo) CreateTx(ctx context.Context, tx pgx.Tx, a *models.Application) error {
	return tx.QueryRow(ctx, `
		INSERT INTO applications (id, job_id, tradesperson_id, status, credit_cost, message, quote_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, a.ID, a.JobID, a.TradespersonID, a.Status, a.CreditCost, a.Message, a.QuoteCents).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *ApplicationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	return scanApplication(r.pool.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
}

// GetByIDForUpdate locks the application row. Call within a transaction.
func (r *ApplicationRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Application, error) {
	return scanApplication(tx.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1 FOR UPDATE`, id))
}

// TransitionStatus moves the application from one of the expected
// statuses to the target. Returns false when the guard failed.
func (r *ApplicationRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE applications SET status = $3, updated_at = now()
		WHERE id = $1 AND status = ANY($2)
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AcceptTx marks the application accepted inside the compound
// accept-one transaction.
func (r *ApplicationRepo) AcceptTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, from []string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE applications SET status = 'accepted', updated_at = now()
		WHERE id = $1 AND status = ANY($2)
	`, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RejectOthersTx rejects every still-live application on the job other
// than the accepted one. Part of the compound accept transaction.
func (r *ApplicationRepo) RejectOthersTx(ctx context.Context, tx pgx.Tx, jobID, acceptedID uuid.UUID) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE applications SET status = 'rejected', updated_at = now()
		WHERE job_id = $1 AND id <> $2 AND status IN ('pending', 'viewed', 'shortlisted')
	`, jobID, acceptedID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkViewed flips pending applications on the job to viewed. Called
// when the owner first lists them.
func (r *ApplicationRepo) MarkViewed(ctx context.Context, jobID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE applications SET status = 'viewed', updated_at = now()
		WHERE job_id = $1 AND status = 'pending'
	`, jobID)
	return err
}

func (r *ApplicationRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Application, error) {
	return r.list(ctx, `SELECT `+applicationColumns+` FROM applications WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
}

func (r *ApplicationRepo) ListByTradesperson(ctx context.Context, tradespersonID uuid.UUID) ([]*models.Application, error) {
	return r.list(ctx, `SELECT `+applicationColumns+` FROM applications WHERE tradesperson_id = $1 ORDER BY created_at DESC`, tradespersonID)
}

func (r *ApplicationRepo) list(ctx context.Context, query string, args ...any) ([]*models.Application, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
