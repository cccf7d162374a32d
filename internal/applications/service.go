// Package applications handles tradesperson applications to jobs. An
// application costs credits: the debit and the application row are
// written in one database transaction, so a rejected insert (duplicate
// application) or an insufficient balance leaves both untouched.
package applications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tradebridge/backend/internal/models"
)

var (
	ErrNotFound             = errors.New("application not found")
	ErrJobNotFound          = errors.New("job not found")
	ErrJobNotOpen           = errors.New("job is not open for applications")
	ErrDuplicateApplication = errors.New("already applied to this job")
	ErrForbidden            = errors.New("not allowed")
	// ErrInvalidStatus is returned when an application transition guard
	// fails.
	ErrInvalidStatus = errors.New("invalid application status")
)

// liveStatuses are the application statuses an owner decision or a
// withdrawal can still act on.
var liveStatuses = []string{
	models.ApplicationStatusPending,
	models.ApplicationStatusViewed,
	models.ApplicationStatusShortlisted,
}

type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, a *models.Application) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Application, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error)
	AcceptTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, from []string) (bool, error)
	RejectOthersTx(ctx context.Context, tx pgx.Tx, jobID, acceptedID uuid.UUID) (int64, error)
	MarkViewed(ctx context.Context, jobID uuid.UUID) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Application, error)
	ListByTradesperson(ctx context.Context, tradespersonID uuid.UUID) ([]*models.Application, error)
}

type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error)
	StartTx(ctx context.Context, tx pgx.Tx, id, tradespersonID uuid.UUID, startDate time.Time) (bool, error)
}

// CreditLedger debits the applicant inside the application transaction.
type CreditLedger interface {
	Debit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, entryType string, related *models.LedgerRef, notes string) (*models.LedgerEntry, error)
}

type Service struct {
	store  Store
	jobs   JobStore
	ledger CreditLedger
	log    *slog.Logger
}

func NewService(store Store, jobs JobStore, ledger CreditLedger, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, jobs: jobs, ledger: ledger, log: log}
}

type ApplyInput struct {
	JobID      uuid.UUID
	Message    string
	QuoteCents *int64
}

// Apply submits an application and spends the job's credit cost. The
// cost is snapshotted on the application so later job edits do not
// change what was charged. Credits are not refunded if the application
// is later rejected or withdrawn.
func (s *Service) Apply(ctx context.Context, tradespersonID uuid.UUID, in ApplyInput) (*models.Application, error) {
	job, err := s.jobs.GetByID(ctx, in.JobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if job.Status != models.JobStatusOpen {
		return nil, fmt.Errorf("%w: job is %s", ErrJobNotOpen, job.Status)
	}
	if job.CustomerID == tradespersonID {
		return nil, fmt.Errorf("%w: cannot apply to your own job", ErrForbidden)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	app := &models.Application{
		ID:             uuid.New(),
		JobID:          job.ID,
		TradespersonID: tradespersonID,
		Status:         models.ApplicationStatusPending,
		CreditCost:     job.CreditCost,
		Message:        in.Message,
		QuoteCents:     in.QuoteCents,
	}
	if err := s.store.CreateTx(ctx, tx, app); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateApplication
		}
		return nil, fmt.Errorf("create application: %w", err)
	}

	ref := &models.LedgerRef{Type: models.RelatedApplication, ID: app.ID}
	notes := fmt.Sprintf("application to job %s", job.ID)
	if _, err := s.ledger.Debit(ctx, tx, tradespersonID, job.CreditCost, models.EntryTypeUsage, ref, notes); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	s.log.Info("application submitted",
		"application_id", app.ID, "job_id", job.ID,
		"tradesperson_id", tradespersonID, "credits", job.CreditCost)
	return app, nil
}

// Shortlist marks a live application shortlisted. Owner or admin.
func (s *Service) Shortlist(ctx context.Context, actorID uuid.UUID, actorRole string, applicationID uuid.UUID) (*models.Application, error) {
	return s.ownerTransition(ctx, actorID, actorRole, applicationID, models.ApplicationStatusShortlisted)
}

// Reject marks a live application rejected. Owner or admin. The
// applicant's credits are not returned.
func (s *Service) Reject(ctx context.Context, actorID uuid.UUID, actorRole string, applicationID uuid.UUID) (*models.Application, error) {
	return s.ownerTransition(ctx, actorID, actorRole, applicationID, models.ApplicationStatusRejected)
}

func (s *Service) ownerTransition(ctx context.Context, actorID uuid.UUID, actorRole string, applicationID uuid.UUID, to string) (*models.Application, error) {
	app, err := s.get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner(ctx, actorID, actorRole, app.JobID); err != nil {
		return nil, err
	}
	ok, err := s.store.TransitionStatus(ctx, applicationID, liveStatuses, to)
	if err != nil {
		return nil, fmt.Errorf("update application: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot move a %s application to %s", ErrInvalidStatus, app.Status, to)
	}
	return s.get(ctx, applicationID)
}

// Withdraw lets the applicant pull a live application. No refund.
func (s *Service) Withdraw(ctx context.Context, tradespersonID, applicationID uuid.UUID) (*models.Application, error) {
	app, err := s.get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.TradespersonID != tradespersonID {
		return nil, ErrForbidden
	}
	ok, err := s.store.TransitionStatus(ctx, applicationID, liveStatuses, models.ApplicationStatusWithdrawn)
	if err != nil {
		return nil, fmt.Errorf("withdraw application: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot withdraw a %s application", ErrInvalidStatus, app.Status)
	}
	return s.get(ctx, applicationID)
}

// Accept picks the winner. In one transaction: the chosen application
// becomes accepted, every other live application on the job becomes
// rejected, and the job moves to in-progress with the winner selected.
// Row locks on both the application and the job make concurrent
// accepts serialize; the loser of the race sees a non-open job.
func (s *Service) Accept(ctx context.Context, actorID uuid.UUID, actorRole string, applicationID uuid.UUID, startDate time.Time) (*models.Application, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.store.GetByIDForUpdate(ctx, tx, applicationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	job, err := s.jobs.GetByIDForUpdate(ctx, tx, app.JobID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if job.CustomerID != actorID && actorRole != models.RoleAdmin {
		return nil, ErrForbidden
	}
	if job.Status != models.JobStatusOpen {
		return nil, fmt.Errorf("%w: job is %s", ErrJobNotOpen, job.Status)
	}

	ok, err := s.store.AcceptTx(ctx, tx, applicationID, liveStatuses)
	if err != nil {
		return nil, fmt.Errorf("accept application: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot accept a %s application", ErrInvalidStatus, app.Status)
	}

	rejected, err := s.store.RejectOthersTx(ctx, tx, job.ID, applicationID)
	if err != nil {
		return nil, fmt.Errorf("reject other applications: %w", err)
	}

	if startDate.IsZero() {
		startDate = time.Now()
	}
	ok, err = s.jobs.StartTx(ctx, tx, job.ID, app.TradespersonID, startDate)
	if err != nil {
		return nil, fmt.Errorf("start job: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: job is no longer open", ErrJobNotOpen)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	s.log.Info("application accepted",
		"application_id", applicationID, "job_id", job.ID,
		"tradesperson_id", app.TradespersonID, "rejected_others", rejected)
	return s.get(ctx, applicationID)
}

// ListForJob returns a job's applications to its owner and flips any
// still-pending ones to viewed first.
func (s *Service) ListForJob(ctx context.Context, actorID uuid.UUID, actorRole string, jobID uuid.UUID) ([]*models.Application, error) {
	if err := s.authorizeOwner(ctx, actorID, actorRole, jobID); err != nil {
		return nil, err
	}
	if err := s.store.MarkViewed(ctx, jobID); err != nil {
		return nil, fmt.Errorf("mark viewed: %w", err)
	}
	return s.store.ListByJob(ctx, jobID)
}

func (s *Service) ListMine(ctx context.Context, tradespersonID uuid.UUID) ([]*models.Application, error) {
	return s.store.ListByTradesperson(ctx, tradespersonID)
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	app, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return app, nil
}

func (s *Service) authorizeOwner(ctx context.Context, actorID uuid.UUID, actorRole string, jobID uuid.UUID) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrJobNotFound
		}
		return err
	}
	if job.CustomerID != actorID && actorRole != models.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
