// Package plans manages investment plan templates and the subscriptions
// accounts purchase. A purchase always succeeds or fails atomically from the
// purchaser's perspective; commission distribution runs after the purchase is
// committed and its failures are an audit concern, never a purchaser-visible
// one.
package plans

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/upline/internal/commission"
	"github.com/MarkoPoloResearchLab/upline/internal/events"
	"github.com/MarkoPoloResearchLab/upline/pkg/ledger"
)

var oneHundred = decimal.NewFromInt(100)

// Service wires plan management and purchases.
type Service struct {
	store        Store
	ledger       *ledger.Service
	engine       *commission.Engine
	publisher    events.Publisher
	nowFn        func() time.Time
	logger       *zap.Logger
	walletFunded bool
}

// Option configures a Service.
type Option func(*Service)

// WithWalletFundedPurchases makes purchases debit the buyer's wallet
// (category PURCHASE) instead of assuming an external payment rail.
func WithWalletFundedPurchases() Option {
	return func(service *Service) {
		service.walletFunded = true
	}
}

// NewService wires a Service.
func NewService(store Store, ledgerService *ledger.Service, engine *commission.Engine, publisher events.Publisher, now func() time.Time, logger *zap.Logger, options ...Option) (*Service, error) {
	if store == nil || ledgerService == nil || engine == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &Service{
		store:     store,
		ledger:    ledgerService,
		engine:    engine,
		publisher: publisher,
		nowFn:     now,
		logger:    logger,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// PlanInput describes a plan to create.
type PlanInput struct {
	Name           string
	Description    string
	PrincipalCents ledger.AmountCents
	ReturnPercent  decimal.Decimal
	TermMonths     int
}

// CreatePlan validates and persists a plan template, deriving the
// period-return amount from principal and rate.
func (service *Service) CreatePlan(ctx context.Context, input PlanInput) (Plan, error) {
	if input.Name == "" {
		return Plan{}, fmt.Errorf("%w: name is required", ErrInvalidPlan)
	}
	if input.PrincipalCents <= 0 {
		return Plan{}, fmt.Errorf("%w: principal must be positive", ErrInvalidPlan)
	}
	if !input.ReturnPercent.IsPositive() || input.ReturnPercent.GreaterThan(oneHundred) {
		return Plan{}, fmt.Errorf("%w: return percentage %s out of range", ErrInvalidPlan, input.ReturnPercent)
	}
	if input.TermMonths <= 0 {
		return Plan{}, fmt.Errorf("%w: term must be at least one period", ErrInvalidPlan)
	}
	plan := Plan{
		PlanID:            uuid.NewString(),
		Name:              input.Name,
		Description:       input.Description,
		PrincipalCents:    input.PrincipalCents,
		ReturnPercent:     input.ReturnPercent,
		TermMonths:        input.TermMonths,
		PeriodReturnCents: periodReturnCents(input.PrincipalCents, input.ReturnPercent),
		Active:            true,
		CreatedUnixUTC:    service.nowFn().UTC().Unix(),
	}
	if err := service.store.CreatePlan(ctx, plan); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// ListActivePlans lists the purchasable plans.
func (service *Service) ListActivePlans(ctx context.Context) ([]Plan, error) {
	return service.store.ListActivePlans(ctx)
}

// DeactivatePlan soft-deletes a plan. Existing subscriptions keep their
// snapshots and continue to accrue.
func (service *Service) DeactivatePlan(ctx context.Context, planID string) error {
	return service.store.SetPlanActive(ctx, planID, false)
}

// Purchase buys a plan for an account: it snapshots the plan terms into a new
// subscription, bumps the invested total, then distributes commissions and
// publishes the purchase event. Only errors before the subscription is
// committed abort the purchase.
func (service *Service) Purchase(ctx context.Context, accountID string, planID string) (Subscription, error) {
	plan, err := service.store.GetPlan(ctx, planID)
	if err != nil {
		return Subscription{}, err
	}
	if !plan.Active {
		return Subscription{}, fmt.Errorf("%w: %s", ErrPlanInactive, planID)
	}
	if _, err := service.ledger.Account(ctx, accountID); err != nil {
		return Subscription{}, err
	}

	subscriptionID := uuid.NewString()
	if service.walletFunded {
		metadata, err := ledger.MarshalMetadata(map[string]any{"plan_name": plan.Name})
		if err != nil {
			return Subscription{}, err
		}
		if _, err := service.ledger.Debit(ctx, ledger.MutationRequest{
			AccountID:     accountID,
			Amount:        plan.PrincipalCents,
			Category:      ledger.CategoryPurchase,
			Description:   fmt.Sprintf("Purchase of plan %s", plan.Name),
			ReferenceID:   planID,
			ReferenceKind: ledger.ReferencePlan,
			Metadata:      metadata,
		}); err != nil {
			return Subscription{}, err
		}
	}

	startAt := service.nowFn().UTC()
	subscription := Subscription{
		SubscriptionID:    subscriptionID,
		AccountID:         accountID,
		PlanID:            plan.PlanID,
		PrincipalCents:    plan.PrincipalCents,
		ReturnPercent:     plan.ReturnPercent,
		TermMonths:        plan.TermMonths,
		PeriodReturnCents: plan.PeriodReturnCents,
		StartUnixUTC:      startAt.Unix(),
		ExpiryUnixUTC:     startAt.AddDate(0, plan.TermMonths, 0).Unix(),
		Status:            StatusActive,
	}
	if err := service.store.CreateSubscription(ctx, subscription); err != nil {
		if service.walletFunded {
			service.reverseCharge(ctx, accountID, plan)
		}
		return Subscription{}, err
	}

	result, err := service.engine.Distribute(ctx, commission.Purchase{
		AccountID:      accountID,
		PrincipalCents: plan.PrincipalCents,
		SubscriptionID: subscriptionID,
	})
	if err != nil {
		service.logger.Error("commission distribution failed",
			zap.String("account_id", accountID),
			zap.String("subscription_id", subscriptionID),
			zap.Error(err))
	} else if result.Failed > 0 {
		service.logger.Warn("commission distribution partially failed",
			zap.String("subscription_id", subscriptionID),
			zap.Int("paid", len(result.Payouts)),
			zap.Int("failed", result.Failed))
	}

	if err := service.publisher.PublishPurchaseCompleted(ctx, events.PurchaseCompleted{
		SubscriptionID:   subscriptionID,
		AccountID:        accountID,
		PlanID:           plan.PlanID,
		PrincipalCents:   plan.PrincipalCents.Int64(),
		PurchasedUnixUTC: subscription.StartUnixUTC,
	}); err != nil {
		service.logger.Warn("purchase event publish failed",
			zap.String("subscription_id", subscriptionID),
			zap.Error(err))
	}

	return subscription, nil
}

// reverseCharge returns a wallet charge that committed before the
// subscription insert failed. A failed reversal leaves the charge stuck and
// is logged at error level for manual reconciliation.
func (service *Service) reverseCharge(ctx context.Context, accountID string, plan Plan) {
	metadata, err := ledger.MarshalMetadata(map[string]any{
		"plan_name": plan.Name,
		"reason":    "purchase reversal",
	})
	if err == nil {
		_, err = service.ledger.Credit(ctx, ledger.MutationRequest{
			AccountID:     accountID,
			Amount:        plan.PrincipalCents,
			Category:      ledger.CategoryAdminCredit,
			Description:   fmt.Sprintf("Reversal of failed purchase of plan %s", plan.Name),
			ReferenceID:   plan.PlanID,
			ReferenceKind: ledger.ReferencePlan,
			Metadata:      metadata,
		})
	}
	if err != nil {
		service.logger.Error("purchase reversal failed",
			zap.String("account_id", accountID),
			zap.String("plan_id", plan.PlanID),
			zap.Error(err))
	}
}

// Subscriptions lists an account's subscriptions.
func (service *Service) Subscriptions(ctx context.Context, accountID string) ([]Subscription, error) {
	return service.store.ListSubscriptionsByAccount(ctx, accountID)
}

// Cancel moves an active subscription to CANCELLED. No refund is issued.
func (service *Service) Cancel(ctx context.Context, subscriptionID string) error {
	return service.store.UpdateSubscriptionStatus(ctx, subscriptionID, StatusActive, StatusCancelled)
}

func periodReturnCents(principal ledger.AmountCents, percent decimal.Decimal) ledger.AmountCents {
	amount := decimal.NewFromInt(principal.Int64()).Mul(percent).Div(oneHundred)
	return ledger.AmountCents(amount.IntPart())
}
