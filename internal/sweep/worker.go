// Package sweep holds the periodic maintenance workers: expiring
// lapsed jobs and renewing subscriptions. Both run through the river
// job queue so a crashed pass is retried and only one instance runs a
// sweep at a time.
package sweep

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
)

type ExpireJobsArgs struct{}

func (ExpireJobsArgs) Kind() string { return "expire_jobs" }

type RenewSubscriptionsArgs struct{}

func (RenewSubscriptionsArgs) Kind() string { return "renew_subscriptions" }

// JobExpirer is the slice of the jobs service the sweep uses.
type JobExpirer interface {
	ExpireDue(ctx context.Context) (int64, error)
}

// SubscriptionRenewer is the slice of the subscriptions service the
// sweep uses.
type SubscriptionRenewer interface {
	RenewDue(ctx context.Context) (int, error)
}

type ExpireJobsWorker struct {
	river.WorkerDefaults[ExpireJobsArgs]
	jobs JobExpirer
	log  *slog.Logger
}

func NewExpireJobsWorker(jobs JobExpirer, log *slog.Logger) *ExpireJobsWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ExpireJobsWorker{jobs: jobs, log: log}
}

func (w *ExpireJobsWorker) Work(ctx context.Context, _ *river.Job[ExpireJobsArgs]) error {
	n, err := w.jobs.ExpireDue(ctx)
	if err != nil {
		return fmt.Errorf("expire sweep: %w", err)
	}
	w.log.Debug("expire sweep finished", "expired", n)
	return nil
}

type RenewSubscriptionsWorker struct {
	river.WorkerDefaults[RenewSubscriptionsArgs]
	subscriptions SubscriptionRenewer
	log           *slog.Logger
}

func NewRenewSubscriptionsWorker(subscriptions SubscriptionRenewer, log *slog.Logger) *RenewSubscriptionsWorker {
	if log == nil {
		log = slog.Default()
	}
	return &RenewSubscriptionsWorker{subscriptions: subscriptions, log: log}
}

func (w *RenewSubscriptionsWorker) Work(ctx context.Context, _ *river.Job[RenewSubscriptionsArgs]) error {
	n, err := w.subscriptions.RenewDue(ctx)
	if err != nil {
		return fmt.Errorf("renewal sweep: %w", err)
	}
	w.log.Debug("renewal sweep finished", "renewed", n)
	return nil
}
