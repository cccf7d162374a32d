// Package subscriptions manages plan enrollment and the per-period
// credit grant. A renewal grant is keyed by a synthetic payment
// reference scoped to the billing period, so the sweep, a retried
// sweep and a manual accrual all produce at most one grant per period.
package subscriptions

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
	ErrPlanNotFound       = errors.New("plan not found")
	ErrNoSubscription     = errors.New("no subscription")
	ErrAlreadySubscribed  = errors.New("already subscribed")
	ErrSubscriptionClosed = errors.New("subscription is not active")
)

type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	ListPlans(ctx context.Context) ([]*models.Plan, error)
	CreateTx(ctx context.Context, tx pgx.Tx, s *models.Subscription) error
	GetByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	Update(ctx context.Context, s *models.Subscription) error
	UpdateTx(ctx context.Context, tx pgx.Tx, s *models.Subscription) error
	ExtendPeriodTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, newEndDate time.Time) error
	ListRenewable(ctx context.Context, now time.Time) ([]*models.Subscription, error)
}

// TransactionStore records each period grant as a completed
// transaction. Its uniqueness constraint on completed payment refs is
// what makes accrual idempotent.
type TransactionStore interface {
	FindCompletedByPaymentRef(ctx context.Context, ref string) (*models.Transaction, error)
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
}

type CreditLedger interface {
	Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, entryType string, related *models.LedgerRef, notes string) (*models.LedgerEntry, error)
}

type Service struct {
	store        Store
	transactions TransactionStore
	ledger       CreditLedger
	log          *slog.Logger
}

func NewService(store Store, transactions TransactionStore, ledger CreditLedger, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, transactions: transactions, ledger: ledger, log: log}
}

func (s *Service) ListPlans(ctx context.Context) ([]*models.Plan, error) {
	return s.store.ListPlans(ctx)
}

// Enroll starts a subscription on the plan and grants the first
// period's credits. The subscription row and the grant commit in one
// transaction: if the grant fails, no row is left behind blocking a
// retry.
func (s *Service) Enroll(ctx context.Context, userID, planID uuid.UUID) (*models.Subscription, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	now := time.Now()

	if existing, err := s.store.GetByUser(ctx, userID); err == nil {
		if existing.Status == models.SubscriptionStatusActive {
			return nil, ErrAlreadySubscribed
		}
		// A canceled or lapsed subscription is reused rather than
		// duplicated: one subscription row per user.
		existing.PlanID = plan.ID
		existing.Status = models.SubscriptionStatusActive
		existing.StartDate = now
		existing.EndDate = now.AddDate(0, 0, plan.PeriodDays)
		existing.AutoRenew = true

		tx, err := s.store.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("begin enroll tx: %w", err)
		}
		defer tx.Rollback(ctx)
		if err := s.store.UpdateTx(ctx, tx, existing); err != nil {
			return nil, fmt.Errorf("reactivate subscription: %w", err)
		}
		if err := s.grantPeriodTx(ctx, tx, existing, plan); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit enroll tx: %w", err)
		}
		return existing, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	sub := &models.Subscription{
		ID:        uuid.New(),
		UserID:    userID,
		PlanID:    plan.ID,
		Status:    models.SubscriptionStatusActive,
		StartDate: now,
		EndDate:   now.AddDate(0, 0, plan.PeriodDays),
		AutoRenew: true,
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin enroll tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := s.store.CreateTx(ctx, tx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	if err := s.grantPeriodTx(ctx, tx, sub, plan); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit enroll tx: %w", err)
	}
	s.log.Info("subscription started", "subscription_id", sub.ID, "user_id", userID, "plan", plan.Name)
	return sub, nil
}

// Cancel turns off auto-renew. The current period stays usable until
// its end date.
func (s *Service) Cancel(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.getByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusActive {
		return nil, ErrSubscriptionClosed
	}
	sub.Status = models.SubscriptionStatusCanceled
	sub.AutoRenew = false
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}
	return sub, nil
}

func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return s.getByUser(ctx, userID)
}

// RenewDue rolls every lapsed auto-renew subscription forward one
// period and grants its credits. Safe to run repeatedly: each period
// grant is idempotent, and a subscription several periods behind is
// caught up one period per pass.
func (s *Service) RenewDue(ctx context.Context) (int, error) {
	subs, err := s.store.ListRenewable(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("list renewable: %w", err)
	}
	var renewed int
	for _, sub := range subs {
		plan, err := s.store.GetPlan(ctx, sub.PlanID)
		if err != nil {
			s.log.Error("renewal skipped, plan lookup failed", "subscription_id", sub.ID, "error", err)
			continue
		}
		sub.EndDate = sub.EndDate.AddDate(0, 0, plan.PeriodDays)
		if err := s.renewPeriod(ctx, sub, plan); err != nil {
			s.log.Error("renewal failed", "subscription_id", sub.ID, "error", err)
			continue
		}
		renewed++
	}
	if renewed > 0 {
		s.log.Info("subscriptions renewed", "count", renewed)
	}
	return renewed, nil
}

// renewPeriod commits the extension and the credit grant together. A
// failure rolls both back, leaving end_date lapsed so the next sweep
// retries the whole renewal; extending first and granting later would
// strand the period if the grant failed.
func (s *Service) renewPeriod(ctx context.Context, sub *models.Subscription, plan *models.Plan) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin renewal tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.ExtendPeriodTx(ctx, tx, sub.ID, sub.EndDate); err != nil {
		return fmt.Errorf("extend period: %w", err)
	}
	if err := s.grantPeriodTx(ctx, tx, sub, plan); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit renewal tx: %w", err)
	}
	return nil
}

// periodRef identifies one billing period of one subscription. Reusing
// the completed-payment-ref uniqueness means a duplicate accrual
// attempt simply finds the existing grant.
func periodRef(sub *models.Subscription, periodDays int) string {
	return fmt.Sprintf("sub_%s_%s", sub.ID, sub.CurrentPeriodStart(periodDays).Format("2006-01-02"))
}

// grantPeriodTx records the period's transaction and credits the user
// inside the caller's transaction. If the period's grant already
// exists from an earlier attempt it is a no-op; a concurrent grant
// that loses the insert race fails the whole transaction, and the
// next sweep lands on the already-granted path.
func (s *Service) grantPeriodTx(ctx context.Context, tx pgx.Tx, sub *models.Subscription, plan *models.Plan) error {
	ref := periodRef(sub, plan.PeriodDays)

	if _, err := s.transactions.FindCompletedByPaymentRef(ctx, ref); err == nil {
		return nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("lookup period grant: %w", err)
	}

	record := &models.Transaction{
		ID:         uuid.New(),
		UserID:     sub.UserID,
		Credits:    plan.CreditsPerPeriod,
		PriceCents: plan.PriceCents,
		Type:       models.TransactionTypePurchase,
		Status:     models.TransactionStatusCompleted,
		PaymentRef: ref,
	}
	if err := s.transactions.CreateTx(ctx, tx, record); err != nil {
		return fmt.Errorf("record period grant: %w", err)
	}

	notes := fmt.Sprintf("%s plan renewal", plan.Name)
	if _, err := s.ledger.Credit(ctx, tx, sub.UserID, plan.CreditsPerPeriod, models.EntryTypePurchase,
		&models.LedgerRef{Type: models.RelatedSubscription, ID: sub.ID}, notes); err != nil {
		return fmt.Errorf("grant period credits: %w", err)
	}
	s.log.Info("period credits granted",
		"subscription_id", sub.ID, "user_id", sub.UserID,
		"credits", plan.CreditsPerPeriod, "period_ref", ref)
	return nil
}

func (s *Service) getByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSubscription
		}
		return nil, err
	}
	return sub, nil
}
