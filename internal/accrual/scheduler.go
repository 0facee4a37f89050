// Package accrual credits the periodic return of every active subscription
// once per calendar period and expires completed subscriptions. The pass is
// safely re-triggerable: idempotence rests on the period-equality test plus
// the ledger's per-account credit serialization, never on run scheduling.
package accrual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/upline/internal/plans"
	"github.com/MarkoPoloResearchLab/upline/pkg/ledger"
)

// DefaultCronSpec runs the pass at midnight on the first day of each month.
const DefaultCronSpec = "0 0 1 * *"

// ErrInvalidSchedulerConfig reports bad constructor input.
var ErrInvalidSchedulerConfig = errors.New("invalid accrual scheduler config")

// Store is the subset of subscription persistence the scheduler needs.
type Store interface {
	ListActiveSubscriptions(ctx context.Context) ([]plans.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, subscriptionID string, from, to plans.SubscriptionStatus) error
	RecordAccrual(ctx context.Context, subscriptionID string, paidDeltaCents ledger.AmountCents, accruedUnixUTC int64) error
}

// PassReport summarizes one accrual pass.
type PassReport struct {
	Processed int
	Credited  int
	Expired   int
	Skipped   int
	Failed    int
}

// Scheduler runs the periodic accrual pass.
type Scheduler struct {
	ledger *ledger.Service
	store  Store
	nowFn  func() time.Time
	logger *zap.Logger
	cron   *cron.Cron
}

// NewScheduler wires a Scheduler.
func NewScheduler(ledgerService *ledger.Service, store Store, now func() time.Time, logger *zap.Logger) (*Scheduler, error) {
	if ledgerService == nil || store == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidSchedulerConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidSchedulerConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		ledger: ledgerService,
		store:  store,
		nowFn:  now,
		logger: logger,
		cron:   cron.New(),
	}, nil
}

// Start registers the pass on the given cron spec and starts the timer.
func (scheduler *Scheduler) Start(cronSpec string) error {
	if cronSpec == "" {
		cronSpec = DefaultCronSpec
	}
	if _, err := scheduler.cron.AddFunc(cronSpec, func() {
		report, err := scheduler.RunAccrualPass(context.Background())
		if err != nil {
			scheduler.logger.Error("accrual pass failed", zap.Error(err))
			return
		}
		scheduler.logger.Info("accrual pass completed",
			zap.Int("processed", report.Processed),
			zap.Int("credited", report.Credited),
			zap.Int("expired", report.Expired),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed))
	}); err != nil {
		return fmt.Errorf("register accrual task: %w", err)
	}
	scheduler.cron.Start()
	return nil
}

// Stop stops the timer, waiting for a running pass to finish.
func (scheduler *Scheduler) Stop() {
	if scheduler.cron != nil {
		<-scheduler.cron.Stop().Done()
	}
}

// RunAccrualPass walks every ACTIVE subscription once. Expiry takes priority
// over accrual in the same pass. A subscription already credited in the
// current calendar period is skipped; at most one accrual per period, never
// catch-up for missed periods. Per-subscription failures are logged and do
// not abort the batch.
func (scheduler *Scheduler) RunAccrualPass(ctx context.Context) (PassReport, error) {
	subscriptions, err := scheduler.store.ListActiveSubscriptions(ctx)
	if err != nil {
		return PassReport{}, fmt.Errorf("list active subscriptions: %w", err)
	}

	report := PassReport{Processed: len(subscriptions)}
	now := scheduler.nowFn().UTC()
	for _, subscription := range subscriptions {
		outcome, err := scheduler.processSubscription(ctx, subscription, now)
		if err != nil {
			report.Failed++
			scheduler.logger.Error("subscription accrual failed",
				zap.String("subscription_id", subscription.SubscriptionID),
				zap.String("account_id", subscription.AccountID),
				zap.Error(err))
			continue
		}
		switch outcome {
		case outcomeCredited:
			report.Credited++
		case outcomeExpired:
			report.Expired++
		case outcomeSkipped:
			report.Skipped++
		}
	}
	return report, nil
}

type passOutcome int

const (
	outcomeSkipped passOutcome = iota
	outcomeCredited
	outcomeExpired
)

func (scheduler *Scheduler) processSubscription(ctx context.Context, subscription plans.Subscription, now time.Time) (passOutcome, error) {
	if now.Unix() > subscription.ExpiryUnixUTC {
		if err := scheduler.store.UpdateSubscriptionStatus(ctx, subscription.SubscriptionID, plans.StatusActive, plans.StatusExpired); err != nil {
			return outcomeSkipped, fmt.Errorf("expire subscription: %w", err)
		}
		return outcomeExpired, nil
	}

	if subscription.LastAccrualUnixUTC != 0 {
		lastAccrual := time.Unix(subscription.LastAccrualUnixUTC, 0).UTC()
		if samePeriod(lastAccrual, now) {
			return outcomeSkipped, nil
		}
	}

	amount := subscription.PeriodReturnCents
	if amount <= 0 {
		return outcomeSkipped, nil
	}
	metadata, err := ledger.MarshalMetadata(map[string]any{
		"plan_id": subscription.PlanID,
		"period":  now.Format("2006-01"),
	})
	if err != nil {
		return outcomeSkipped, err
	}
	if _, err := scheduler.ledger.Credit(ctx, ledger.MutationRequest{
		AccountID:     subscription.AccountID,
		Amount:        amount,
		Category:      ledger.CategoryReturn,
		Description:   fmt.Sprintf("Monthly return for plan %s", subscription.PlanID),
		ReferenceID:   subscription.SubscriptionID,
		ReferenceKind: ledger.ReferenceSubscription,
		Metadata:      metadata,
	}); err != nil {
		return outcomeSkipped, err
	}
	if err := scheduler.store.RecordAccrual(ctx, subscription.SubscriptionID, amount, now.Unix()); err != nil {
		return outcomeSkipped, fmt.Errorf("record accrual: %w", err)
	}
	return outcomeCredited, nil
}

// samePeriod compares the calendar period (UTC year and month) of two
// instants. Elapsed duration is deliberately not considered.
func samePeriod(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
