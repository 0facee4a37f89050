package plans

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/MarkoPoloResearchLab/upline/pkg/ledger"
)

var (
	// ErrPlanNotFound reports a missing plan.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrPlanInactive reports a purchase against a deactivated plan.
	ErrPlanInactive = errors.New("plan is not active")
	// ErrSubscriptionNotFound reports a missing subscription.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrInvalidPlan reports malformed plan input.
	ErrInvalidPlan = errors.New("invalid plan")
	// ErrInvalidServiceConfig reports bad constructor input.
	ErrInvalidServiceConfig = errors.New("invalid plans service config")
)

// Plan is an investment plan template. Immutable once created except for the
// active flag.
type Plan struct {
	PlanID            string
	Name              string
	Description       string
	PrincipalCents    ledger.AmountCents
	ReturnPercent     decimal.Decimal
	TermMonths        int
	PeriodReturnCents ledger.AmountCents
	Active            bool
	CreatedUnixUTC    int64
}

// SubscriptionStatus is the lifecycle state of a purchased plan.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "ACTIVE"
	StatusExpired   SubscriptionStatus = "EXPIRED"
	StatusCancelled SubscriptionStatus = "CANCELLED"
)

// Subscription is one account's instance of a Plan. Principal, rate, and
// period return are snapshots taken at purchase time; later plan edits never
// change what an existing subscription pays.
type Subscription struct {
	SubscriptionID     string
	AccountID          string
	PlanID             string
	PrincipalCents     ledger.AmountCents
	ReturnPercent      decimal.Decimal
	TermMonths         int
	PeriodReturnCents  ledger.AmountCents
	StartUnixUTC       int64
	ExpiryUnixUTC      int64
	Status             SubscriptionStatus
	TotalPaidCents     ledger.AmountCents
	LastAccrualUnixUTC int64
}

// Store is the persistence contract for plans and subscriptions.
type Store interface {
	CreatePlan(ctx context.Context, plan Plan) error
	GetPlan(ctx context.Context, planID string) (Plan, error)
	ListActivePlans(ctx context.Context) ([]Plan, error)
	SetPlanActive(ctx context.Context, planID string, active bool) error

	// CreateSubscription inserts the subscription and bumps the account's
	// cumulative invested total in one transaction.
	CreateSubscription(ctx context.Context, subscription Subscription) error
	GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error)
	ListSubscriptionsByAccount(ctx context.Context, accountID string) ([]Subscription, error)
	ListActiveSubscriptions(ctx context.Context) ([]Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, subscriptionID string, from, to SubscriptionStatus) error
	// RecordAccrual bumps the subscription's paid total and stamps the
	// accrual time.
	RecordAccrual(ctx context.Context, subscriptionID string, paidDeltaCents ledger.AmountCents, accruedUnixUTC int64) error
}
