// Package reviews lets a customer rate the tradesperson who completed
// their job. One review per job; ratings feed the tradesperson's
// public average.
package reviews

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

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job is not completed")
	ErrForbidden       = errors.New("not allowed")
	ErrDuplicateReview = errors.New("job already reviewed")
	ErrInvalidRating   = errors.New("rating must be between 1 and 5")
)

type Store interface {
	Create(ctx context.Context, rv *models.Review) error
	ListByTradesperson(ctx context.Context, tradespersonID uuid.UUID) ([]*models.Review, error)
	AverageForTradesperson(ctx context.Context, tradespersonID uuid.UUID) (avg float64, count int, err error)
}

type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type Service struct {
	store Store
	jobs  JobStore
	log   *slog.Logger
}

func NewService(store Store, jobs JobStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, jobs: jobs, log: log}
}

// Create records the customer's review of a completed job. Only the
// job's owner may review, and only the selected tradesperson can be
// the subject.
func (s *Service) Create(ctx context.Context, customerID, jobID uuid.UUID, rating int, comment string) (*models.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if job.CustomerID != customerID {
		return nil, ErrForbidden
	}
	if job.Status != models.JobStatusCompleted || job.SelectedTradespersonID == nil {
		return nil, fmt.Errorf("%w: job is %s", ErrJobNotCompleted, job.Status)
	}

	rv := &models.Review{
		ID:             uuid.New(),
		JobID:          jobID,
		CustomerID:     customerID,
		TradespersonID: *job.SelectedTradespersonID,
		Rating:         rating,
		Comment:        comment,
	}
	if err := s.store.Create(ctx, rv); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateReview
		}
		return nil, fmt.Errorf("create review: %w", err)
	}
	s.log.Info("review created", "job_id", jobID, "tradesperson_id", rv.TradespersonID, "rating", rating)
	return rv, nil
}

func (s *Service) ListForTradesperson(ctx context.Context, tradespersonID uuid.UUID) ([]*models.Review, error) {
	return s.store.ListByTradesperson(ctx, tradespersonID)
}

// Rating summarizes a tradesperson's reviews.
type Rating struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

func (s *Service) RatingFor(ctx context.Context, tradespersonID uuid.UUID) (*Rating, error) {
	avg, count, err := s.store.AverageForTradesperson(ctx, tradespersonID)
	if err != nil {
		return nil, fmt.Errorf("average rating: %w", err)
	}
	return &Rating{Average: avg, Count: count}, nil
}
