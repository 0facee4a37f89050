package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/upline/internal/commission"
	"github.com/MarkoPoloResearchLab/upline/internal/plans"
	"github.com/MarkoPoloResearchLab/upline/pkg/ledger"
)

// CreatePlan inserts a plan template.
func (store *Store) CreatePlan(ctx context.Context, plan plans.Plan) error {
	model := Plan{
		PlanID:            plan.PlanID,
		Name:              plan.Name,
		Description:       plan.Description,
		PrincipalCents:    plan.PrincipalCents.Int64(),
		ReturnPercent:     plan.ReturnPercent,
		TermMonths:        plan.TermMonths,
		PeriodReturnCents: plan.PeriodReturnCents.Int64(),
		Active:            plan.Active,
		CreatedAt:         time.Unix(plan.CreatedUnixUTC, 0).UTC(),
	}
	if plan.CreatedUnixUTC == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectPlan, errorCodeCreate, err)
	}
	return nil
}

// GetPlan loads one plan.
func (store *Store) GetPlan(ctx context.Context, planID string) (plans.Plan, error) {
	var model Plan
	err := store.db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return plans.Plan{}, wrapStoreError(errorSubjectPlan, errorCodeGet, plans.ErrPlanNotFound)
		}
		return plans.Plan{}, wrapStoreError(errorSubjectPlan, errorCodeGet, err)
	}
	return mapPlan(model), nil
}

// ListActivePlans lists purchasable plans.
func (store *Store) ListActivePlans(ctx context.Context) ([]plans.Plan, error) {
	var rows []Plan
	err := store.db.WithContext(ctx).
		Where("active = ?", true).
		Order("principal_cents ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPlan, errorCodeList, err)
	}
	result := make([]plans.Plan, 0, len(rows))
	for _, row := range rows {
		result = append(result, mapPlan(row))
	}
	return result, nil
}

// SetPlanActive flips the soft-deactivation flag.
func (store *Store) SetPlanActive(ctx context.Context, planID string, active bool) error {
	result := store.db.WithContext(ctx).
		Model(&Plan{}).
		Where("plan_id = ?", planID).
		Update("active", active)
	if result.Error != nil {
		return wrapStoreError(errorSubjectPlan, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPlan, errorCodeUpdate, plans.ErrPlanNotFound)
	}
	return nil
}

// CreateSubscription inserts the subscription and bumps the account's
// invested total inside one transaction.
func (store *Store) CreateSubscription(ctx context.Context, subscription plans.Subscription) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		model := Subscription{
			SubscriptionID:    subscription.SubscriptionID,
			AccountID:         subscription.AccountID,
			PlanID:            subscription.PlanID,
			PrincipalCents:    subscription.PrincipalCents.Int64(),
			ReturnPercent:     subscription.ReturnPercent,
			TermMonths:        subscription.TermMonths,
			PeriodReturnCents: subscription.PeriodReturnCents.Int64(),
			StartAt:           time.Unix(subscription.StartUnixUTC, 0).UTC(),
			ExpiryAt:          time.Unix(subscription.ExpiryUnixUTC, 0).UTC(),
			Status:            string(subscription.Status),
			TotalPaidCents:    subscription.TotalPaidCents.Int64(),
		}
		if err := transaction.Create(&model).Error; err != nil {
			return wrapStoreError(errorSubjectSubscription, errorCodeCreate, err)
		}
		result := transaction.
			Model(&Account{}).
			Where("account_id = ?", subscription.AccountID).
			Update("total_invested_cents", gorm.Expr("total_invested_cents + ?", subscription.PrincipalCents.Int64()))
		if result.Error != nil {
			return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
		}
		if result.RowsAffected == 0 {
			return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrAccountNotFound)
		}
		return nil
	})
}

// GetSubscription loads one subscription.
func (store *Store) GetSubscription(ctx context.Context, subscriptionID string) (plans.Subscription, error) {
	var model Subscription
	err := store.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return plans.Subscription{}, wrapStoreError(errorSubjectSubscription, errorCodeGet, plans.ErrSubscriptionNotFound)
		}
		return plans.Subscription{}, wrapStoreError(errorSubjectSubscription, errorCodeGet, err)
	}
	return mapSubscription(model), nil
}

// ListSubscriptionsByAccount lists an account's subscriptions, newest first.
func (store *Store) ListSubscriptionsByAccount(ctx context.Context, accountID string) ([]plans.Subscription, error) {
	var rows []Subscription
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("start_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSubscription, errorCodeList, err)
	}
	return mapSubscriptions(rows), nil
}

// ListActiveSubscriptions lists every ACTIVE subscription for the accrual pass.
func (store *Store) ListActiveSubscriptions(ctx context.Context) ([]plans.Subscription, error) {
	var rows []Subscription
	err := store.db.WithContext(ctx).
		Where("status = ?", string(plans.StatusActive)).
		Order("start_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSubscription, errorCodeList, err)
	}
	return mapSubscriptions(rows), nil
}

// UpdateSubscriptionStatus transitions a subscription, guarded by the
// expected current status.
func (store *Store) UpdateSubscriptionStatus(ctx context.Context, subscriptionID string, from, to plans.SubscriptionStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Subscription{}).
		Where("subscription_id = ? AND status = ?", subscriptionID, string(from)).
		Update("status", string(to))
	if result.Error != nil {
		return wrapStoreError(errorSubjectSubscription, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectSubscription, errorCodeUpdate, plans.ErrSubscriptionNotFound)
	}
	return nil
}

// RecordAccrual bumps the paid total and stamps the accrual time.
func (store *Store) RecordAccrual(ctx context.Context, subscriptionID string, paidDeltaCents ledger.AmountCents, accruedUnixUTC int64) error {
	accruedAt := time.Unix(accruedUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&Subscription{}).
		Where("subscription_id = ?", subscriptionID).
		Updates(map[string]any{
			"total_paid_cents": gorm.Expr("total_paid_cents + ?", paidDeltaCents.Int64()),
			"last_accrual_at":  accruedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectSubscription, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectSubscription, errorCodeUpdate, plans.ErrSubscriptionNotFound)
	}
	return nil
}

// scheduleLevelRecord is the JSON shape level percentages are stored in.
type scheduleLevelRecord struct {
	Level   int             `json:"level"`
	Percent decimal.Decimal `json:"percentage"`
}

// ActiveSchedule loads the single active commission schedule.
func (store *Store) ActiveSchedule(ctx context.Context) (commission.Schedule, error) {
	var model CommissionSchedule
	err := store.db.WithContext(ctx).
		Where("active = ?", true).
		Order("created_at DESC").
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return commission.Schedule{}, commission.ErrNoActiveSchedule
		}
		return commission.Schedule{}, wrapStoreError(errorSubjectSchedule, errorCodeGet, err)
	}
	return mapSchedule(model)
}

// ReplaceActiveSchedule deactivates the current schedule and inserts the new
// one in a single transaction, keeping at most one active.
func (store *Store) ReplaceActiveSchedule(ctx context.Context, schedule commission.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	levels := make([]scheduleLevelRecord, 0, len(schedule.Levels))
	for _, level := range schedule.Levels {
		levels = append(levels, scheduleLevelRecord{Level: level.Level, Percent: level.Percent})
	}
	encodedLevels, err := json.Marshal(levels)
	if err != nil {
		return wrapStoreError(errorSubjectSchedule, errorCodeCreate, err)
	}
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transaction.
			Model(&CommissionSchedule{}).
			Where("active = ?", true).
			Update("active", false).Error; err != nil {
			return wrapStoreError(errorSubjectSchedule, errorCodeUpdate, err)
		}
		model := CommissionSchedule{
			ScheduleID:            schedule.ScheduleID,
			DirectReferralPercent: schedule.DirectReferralPercent,
			Levels:                datatypes.JSON(encodedLevels),
			MatchingBonusPercent:  schedule.MatchingBonusPercent,
			Active:                true,
			CreatedAt:             time.Now().UTC(),
		}
		if err := transaction.Create(&model).Error; err != nil {
			return wrapStoreError(errorSubjectSchedule, errorCodeCreate, err)
		}
		return nil
	})
}

func mapPlan(model Plan) plans.Plan {
	return plans.Plan{
		PlanID:            model.PlanID,
		Name:              model.Name,
		Description:       model.Description,
		PrincipalCents:    ledger.AmountCents(model.PrincipalCents),
		ReturnPercent:     model.ReturnPercent,
		TermMonths:        model.TermMonths,
		PeriodReturnCents: ledger.AmountCents(model.PeriodReturnCents),
		Active:            model.Active,
		CreatedUnixUTC:    model.CreatedAt.Unix(),
	}
}

func mapSubscription(model Subscription) plans.Subscription {
	lastAccrual := int64(0)
	if model.LastAccrualAt != nil {
		lastAccrual = model.LastAccrualAt.Unix()
	}
	return plans.Subscription{
		SubscriptionID:     model.SubscriptionID,
		AccountID:          model.AccountID,
		PlanID:             model.PlanID,
		PrincipalCents:     ledger.AmountCents(model.PrincipalCents),
		ReturnPercent:      model.ReturnPercent,
		TermMonths:         model.TermMonths,
		PeriodReturnCents:  ledger.AmountCents(model.PeriodReturnCents),
		StartUnixUTC:       model.StartAt.Unix(),
		ExpiryUnixUTC:      model.ExpiryAt.Unix(),
		Status:             plans.SubscriptionStatus(model.Status),
		TotalPaidCents:     ledger.AmountCents(model.TotalPaidCents),
		LastAccrualUnixUTC: lastAccrual,
	}
}

func mapSubscriptions(rows []Subscription) []plans.Subscription {
	result := make([]plans.Subscription, 0, len(rows))
	for _, row := range rows {
		result = append(result, mapSubscription(row))
	}
	return result
}

func mapSchedule(model CommissionSchedule) (commission.Schedule, error) {
	var levels []scheduleLevelRecord
	if len(model.Levels) > 0 {
		if err := json.Unmarshal(model.Levels, &levels); err != nil {
			return commission.Schedule{}, wrapStoreError(errorSubjectSchedule, errorCodeGet, err)
		}
	}
	schedule := commission.Schedule{
		ScheduleID:            model.ScheduleID,
		DirectReferralPercent: model.DirectReferralPercent,
		MatchingBonusPercent:  model.MatchingBonusPercent,
		Active:                model.Active,
		CreatedUnixUTC:        model.CreatedAt.Unix(),
	}
	for _, level := range levels {
		schedule.Levels = append(schedule.Levels, commission.LevelPercent{Level: level.Level, Percent: level.Percent})
	}
	return schedule, nil
}
