// Package jobs enforces the job lifecycle:
//
//	draft -> open -> in-progress -> completed
//	           \         \
//	            +----------+--> canceled
//	draft/open --> expired (time-based)
//
// Guards live in the storage layer as conditional updates so a stale
// read can never race a transition past a terminal state.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tradebridge/backend/internal/models"
)

var (
	// ErrInvalidStatus is returned when a transition guard fails.
	ErrInvalidStatus = errors.New("invalid job status")
	// ErrForbidden is returned when the caller is neither the job
	// owner nor an admin.
	ErrForbidden = errors.New("not allowed")
	// ErrNotFound is returned for an unknown job id.
	ErrNotFound = errors.New("job not found")
)

// Store is the job persistence the service needs. Transition methods
// return false when the job was not in an eligible status.
type Store interface {
	Create(ctx context.Context, j *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Approve(ctx context.Context, id uuid.UUID, creditCost int) (bool, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, finalAmountCents int64, feedback string) (bool, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Job, error)
	ListOpen(ctx context.Context, trade string) ([]*models.Job, error)
}

// Config controls the approval gate.
type Config struct {
	// ApprovalRequired makes new jobs start in draft; an admin moves
	// them to open and fixes their credit cost. When false, jobs open
	// immediately at DefaultCreditCost.
	ApprovalRequired  bool
	DefaultCreditCost int
	ExpiryDays        int
}

type Service struct {
	store Store
	cfg   Config
	log   *slog.Logger
}

func NewService(store Store, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.DefaultCreditCost < 1 {
		cfg.DefaultCreditCost = 1
	}
	return &Service{store: store, cfg: cfg, log: log}
}

type CreateInput struct {
	Title       string
	Description string
	Trade       string
	Location    string
}

func (s *Service) Create(ctx context.Context, customerID uuid.UUID, in CreateInput) (*models.Job, error) {
	if in.Title == "" || in.Description == "" || in.Trade == "" {
		return nil, errors.New("title, description and trade are required")
	}
	job := &models.Job{
		ID:          uuid.New(),
		CustomerID:  customerID,
		Title:       in.Title,
		Description: in.Description,
		Trade:       in.Trade,
		Location:    in.Location,
		Status:      models.JobStatusOpen,
		CreditCost:  s.cfg.DefaultCreditCost,
	}
	if s.cfg.ApprovalRequired {
		job.Status = models.JobStatusDraft
	}
	if s.cfg.ExpiryDays > 0 {
		t := time.Now().AddDate(0, 0, s.cfg.ExpiryDays)
		job.ExpiresAt = &t
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Approve moves a draft job to open with its final credit cost. Admin
// only; the route layer enforces the role.
func (s *Service) Approve(ctx context.Context, jobID uuid.UUID, creditCost int) (*models.Job, error) {
	if creditCost < 1 {
		return nil, fmt.Errorf("%w: credit cost must be at least 1", ErrInvalidStatus)
	}
	ok, err := s.store.Approve(ctx, jobID, creditCost)
	if err != nil {
		return nil, fmt.Errorf("approve job: %w", err)
	}
	if !ok {
		return nil, s.transitionFailure(ctx, jobID, models.JobStatusDraft)
	}
	return s.store.GetByID(ctx, jobID)
}

// Cancel is available to the owner or an admin on any non-terminal
// job that is not yet handed to a tradesperson's completed flow.
func (s *Service) Cancel(ctx context.Context, actorID uuid.UUID, actorRole string, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.CustomerID != actorID && actorRole != models.RoleAdmin {
		return nil, ErrForbidden
	}
	from := []string{models.JobStatusDraft, models.JobStatusOpen, models.JobStatusInProgress}
	ok, err := s.store.TransitionStatus(ctx, jobID, from, models.JobStatusCanceled)
	if err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot cancel a %s job", ErrInvalidStatus, job.Status)
	}
	return s.store.GetByID(ctx, jobID)
}

// Complete is owner-only and requires a selected tradesperson, i.e.
// the job must have passed through in-progress.
func (s *Service) Complete(ctx context.Context, actorID, jobID uuid.UUID, finalAmountCents int64, feedback string) (*models.Job, error) {
	job, err := s.get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.CustomerID != actorID {
		return nil, ErrForbidden
	}
	if job.SelectedTradespersonID == nil {
		return nil, fmt.Errorf("%w: no tradesperson selected", ErrInvalidStatus)
	}
	ok, err := s.store.Complete(ctx, jobID, finalAmountCents, feedback)
	if err != nil {
		return nil, fmt.Errorf("complete job: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: expected in-progress, got %s", ErrInvalidStatus, job.Status)
	}
	return s.store.GetByID(ctx, jobID)
}

// Delete removes a job. In-progress jobs cannot be deleted.
func (s *Service) Delete(ctx context.Context, actorID uuid.UUID, actorRole string, jobID uuid.UUID) error {
	job, err := s.get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.CustomerID != actorID && actorRole != models.RoleAdmin {
		return ErrForbidden
	}
	ok, err := s.store.Delete(ctx, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: cannot delete an in-progress job", ErrInvalidStatus)
	}
	return nil
}

// ExpireDue sweeps past-expiry jobs into the expired state. Called by
// the background sweep.
func (s *Service) ExpireDue(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireDue(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("expire jobs: %w", err)
	}
	if n > 0 {
		s.log.Info("expired jobs", "count", n)
	}
	return n, nil
}

func (s *Service) Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return s.get(ctx, jobID)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Job, error) {
	return s.store.ListByCustomer(ctx, customerID)
}

func (s *Service) ListOpen(ctx context.Context, trade string) ([]*models.Job, error) {
	return s.store.ListOpen(ctx, trade)
}

func (s *Service) get(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// transitionFailure distinguishes a missing job from a guard failure
// after a conditional update matched nothing.
func (s *Service) transitionFailure(ctx context.Context, jobID uuid.UUID, expected string) error {
	job, err := s.get(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: expected %s, got %s", ErrInvalidStatus, expected, job.Status)
}
