package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradebridge/backend/internal/models"
)

type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

func (r *JobRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const jobColumns = `id, customer_id, title, description, trade, location, status, credit_cost,
	selected_tradesperson_id, start_date, completed_at, final_amount_cents, feedback, disputed,
	expires_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var completedAt *time.Time
	var finalAmountCents *int64
	var feedback *string
	var disputed *bool
	err := row.Scan(&j.ID, &j.CustomerID, &j.Title, &j.Description, &j.Trade, &j.Location, &j.Status,
		&j.CreditCost, &j.SelectedTradespersonID, &j.StartDate, &completedAt, &finalAmountCents,
		&feedback, &disputed, &j.ExpiresAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if completedAt != nil {
		j.Completion = &models.Completion{CompletedAt: *completedAt}
		if finalAmountCents != nil {
			j.Completion.FinalAmountCents = *finalAmountCents
		}
		if feedback != nil {
			j.Completion.Feedback = *feedback
		}
		if disputed != nil {
			j.Completion.Disputed = *disputed
		}
	}
	return &j, nil
}

func (r *JobRepo) Create(ctx context.Context, j *models.Job) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, customer_id, title, description, trade, location, status, credit_cost, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, j.ID, j.CustomerID, j.Title, j.Description, j.Trade, j.Location, j.Status, j.CreditCost, j.ExpiresAt).Scan(&j.CreatedAt, &j.UpdatedAt)
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

// GetByIDForUpdate locks the job row. Call within a transaction.
func (r *JobRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	return scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
}

// TransitionStatus moves the job from one of the expected statuses to
// the target status. Returns false when the job was not in an expected
// status (the guard of the state machine).
func (r *JobRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = $3, updated_at = now()
		WHERE id = $1 AND status = ANY($2)
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Approve moves a draft job to open with its finalized credit cost.
func (r *JobRepo) Approve(ctx context.Context, id uuid.UUID, creditCost int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'open', credit_cost = $2, updated_at = now()
		WHERE id = $1 AND status = 'draft'
	`, id, creditCost)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// StartTx moves an open job to in-progress with the selected
// tradesperson. Runs inside the accept-application transaction.
func (r *JobRepo) StartTx(ctx context.Context, tx pgx.Tx, id, tradespersonID uuid.UUID, startDate time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'in-progress', selected_tradesperson_id = $2, start_date = $3, updated_at = now()
		WHERE id = $1 AND status = 'open'
	`, id, tradespersonID, startDate)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Complete moves an in-progress job to completed and records the
// completion details.
func (r *JobRepo) Complete(ctx context.Context, id uuid.UUID, finalAmountCents int64, feedback string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'completed', completed_at = now(), final_amount_cents = $2, feedback = $3, updated_at = now()
		WHERE id = $1 AND status = 'in-progress'
	`, id, finalAmountCents, feedback)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ExpireDue bulk-expires draft and open jobs whose expiry has passed.
// Jobs already handed to a tradesperson are left alone.
func (r *JobRepo) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'expired', updated_at = now()
		WHERE expires_at IS NOT NULL AND expires_at < $1
		  AND status IN ('draft', 'open')
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes a job unless it is in progress.
func (r *JobRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM jobs WHERE id = $1 AND status <> 'in-progress'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *JobRepo) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Job, error) {
	return r.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE customer_id = $1 ORDER BY created_at DESC`, customerID)
}

func (r *JobRepo) ListOpen(ctx context.Context, trade string) ([]*models.Job, error) {
	if trade != "" {
		return r.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = 'open' AND trade = $1 ORDER BY created_at DESC`, trade)
	}
	return r.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = 'open' ORDER BY created_at DESC`)
}

func (r *JobRepo) list(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}
