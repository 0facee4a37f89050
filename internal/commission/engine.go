// Package commission distributes referral payouts up the sponsor chain on
// every completed purchase. Distribution is synchronous, but each level's
// credit is independently atomic: a failed payout is logged and never rolls
// back the purchase or the other levels.
package commission

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/upline/pkg/ledger"
	"github.com/MarkoPoloResearchLab/upline/pkg/tree"
)

// ErrInvalidEngineConfig reports bad constructor input.
var ErrInvalidEngineConfig = errors.New("invalid commission engine config")

// Purchase is the completed-purchase event the engine consumes.
type Purchase struct {
	AccountID      string
	PrincipalCents ledger.AmountCents
	SubscriptionID string
}

// Payout records one successful credit made during distribution. Level 0 is
// the direct-referral payout to the immediate sponsor.
type Payout struct {
	AccountID   string
	Level       int
	Category    ledger.EntryCategory
	AmountCents ledger.AmountCents
}

// Result summarizes a distribution pass.
type Result struct {
	Payouts []Payout
	Failed  int
}

// Engine walks the sponsor hierarchy and writes payouts through the ledger.
type Engine struct {
	ledger    *ledger.Service
	tree      *tree.Service
	schedules ScheduleStore
	logger    *zap.Logger
}

// NewEngine wires an Engine.
func NewEngine(ledgerService *ledger.Service, treeService *tree.Service, schedules ScheduleStore, logger *zap.Logger) (*Engine, error) {
	if ledgerService == nil || treeService == nil || schedules == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidEngineConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{ledger: ledgerService, tree: treeService, schedules: schedules, logger: logger}, nil
}

// Distribute pays the upline of a completed purchase under the active
// schedule. A purchaser without a sponsor is a no-op, not an error. Only a
// missing purchasing account or an unreadable schedule store fails the call;
// individual payout failures are logged and counted in the result.
func (engine *Engine) Distribute(ctx context.Context, purchase Purchase) (Result, error) {
	purchaser, err := engine.ledger.Account(ctx, purchase.AccountID)
	if err != nil {
		return Result{}, fmt.Errorf("load purchaser %s: %w", purchase.AccountID, err)
	}

	schedule, err := engine.schedules.ActiveSchedule(ctx)
	if errors.Is(err, ErrNoActiveSchedule) {
		// Bootstrap normally runs at startup; fall back to the documented
		// defaults without persisting rather than racing a write here.
		engine.logger.Warn("no active commission schedule, using defaults")
		schedule = DefaultSchedule()
	} else if err != nil {
		return Result{}, fmt.Errorf("load schedule: %w", err)
	}

	if purchaser.SponsorID == "" {
		engine.logger.Debug("purchaser has no sponsor, nothing to distribute",
			zap.String("account_id", purchase.AccountID))
		return Result{}, nil
	}

	result := Result{}
	engine.payDirectReferral(ctx, &result, schedule, purchaser, purchase)
	engine.payLevels(ctx, &result, schedule, purchaser, purchase)
	return result, nil
}

func (engine *Engine) payDirectReferral(ctx context.Context, result *Result, schedule Schedule, purchaser ledger.Account, purchase Purchase) {
	amount := payoutCents(purchase.PrincipalCents, schedule.DirectReferralPercent)
	if amount <= 0 {
		return
	}
	metadata, err := ledger.MarshalMetadata(map[string]any{
		"percentage":          schedule.DirectReferralPercent.String(),
		"plan_amount_cents":   purchase.PrincipalCents.Int64(),
		"referred_account_id": purchase.AccountID,
	})
	if err != nil {
		engine.recordFailure(result, purchaser.SponsorID, 0, err)
		return
	}
	_, err = engine.ledger.Credit(ctx, ledger.MutationRequest{
		AccountID:     purchaser.SponsorID,
		Amount:        amount,
		Category:      ledger.CategoryDirectReferral,
		Description:   fmt.Sprintf("Direct referral commission from %s", purchaser.Name),
		ReferenceID:   purchase.SubscriptionID,
		ReferenceKind: ledger.ReferenceSubscription,
		Metadata:      metadata,
	})
	if err != nil {
		engine.recordFailure(result, purchaser.SponsorID, 0, err)
		return
	}
	result.Payouts = append(result.Payouts, Payout{
		AccountID:   purchaser.SponsorID,
		Level:       0,
		Category:    ledger.CategoryDirectReferral,
		AmountCents: amount,
	})
}

func (engine *Engine) payLevels(ctx context.Context, result *Result, schedule Schedule, purchaser ledger.Account, purchase Purchase) {
	if len(schedule.Levels) == 0 {
		return
	}
	chain, err := engine.tree.UplineChain(ctx, purchaser.SponsorID, len(schedule.Levels))
	if err != nil {
		engine.logger.Error("upline chain walk failed, skipping level payouts",
			zap.String("sponsor_id", purchaser.SponsorID), zap.Error(err))
		result.Failed += len(schedule.Levels)
		return
	}
	for _, levelConfig := range schedule.Levels {
		if levelConfig.Level > len(chain) {
			// Chain exhausted: fewer payouts, not an error.
			break
		}
		ancestorID := chain[levelConfig.Level-1]
		amount := payoutCents(purchase.PrincipalCents, levelConfig.Percent)
		if amount <= 0 {
			continue
		}
		metadata, err := ledger.MarshalMetadata(map[string]any{
			"level":              levelConfig.Level,
			"percentage":         levelConfig.Percent.String(),
			"plan_amount_cents":  purchase.PrincipalCents.Int64(),
			"origin_account_id":  purchase.AccountID,
			"origin_member_name": purchaser.Name,
		})
		if err != nil {
			engine.recordFailure(result, ancestorID, levelConfig.Level, err)
			continue
		}
		_, err = engine.ledger.Credit(ctx, ledger.MutationRequest{
			AccountID:     ancestorID,
			Amount:        amount,
			Category:      ledger.CategoryLevelIncome,
			Description:   fmt.Sprintf("Level %d commission from %s", levelConfig.Level, purchaser.Name),
			ReferenceID:   purchase.SubscriptionID,
			ReferenceKind: ledger.ReferenceSubscription,
			Metadata:      metadata,
		})
		if err != nil {
			engine.recordFailure(result, ancestorID, levelConfig.Level, err)
			continue
		}
		result.Payouts = append(result.Payouts, Payout{
			AccountID:   ancestorID,
			Level:       levelConfig.Level,
			Category:    ledger.CategoryLevelIncome,
			AmountCents: amount,
		})
	}
}

func (engine *Engine) recordFailure(result *Result, accountID string, level int, err error) {
	result.Failed++
	engine.logger.Error("commission payout failed",
		zap.String("account_id", accountID),
		zap.Int("level", level),
		zap.Error(err))
}

// payoutCents applies a percentage to a principal, rounding down to whole cents.
func payoutCents(principal ledger.AmountCents, percent decimal.Decimal) ledger.AmountCents {
	amount := decimal.NewFromInt(principal.Int64()).Mul(percent).Div(oneHundred)
	return ledger.AmountCents(amount.IntPart())
}
