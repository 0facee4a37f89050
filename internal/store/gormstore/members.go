package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/upline/pkg/ledger"
	"github.com/MarkoPoloResearchLab/upline/pkg/tree"
)

// CreateAccount inserts a new account with its immutable sponsor link.
func (store *Store) CreateAccount(ctx context.Context, account ledger.Account) error {
	var sponsorID *string
	if account.SponsorID != "" {
		value := account.SponsorID
		sponsorID = &value
	}
	model := Account{
		AccountID:            account.AccountID,
		Name:                 account.Name,
		Email:                account.Email,
		Phone:                account.Phone,
		ReferralCode:         account.ReferralCode,
		SponsorID:            sponsorID,
		BalanceCents:         account.BalanceCents.Int64(),
		TotalInvestedCents:   account.TotalInvestedCents.Int64(),
		TotalReturnCents:     account.TotalReturnCents.Int64(),
		TotalCommissionCents: account.TotalCommissionCents.Int64(),
		Active:               account.Active,
		CreatedAt:            time.Unix(account.CreatedUnixUTC, 0).UTC(),
	}
	if account.CreatedUnixUTC == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

// AccountByEmail looks an account up by normalized email.
func (store *Store) AccountByEmail(ctx context.Context, email string) (ledger.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Where("email = ?", email).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model), nil
}

// AccountByReferralCode looks an account up by its referral code.
func (store *Store) AccountByReferralCode(ctx context.Context, code string) (ledger.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Where("referral_code = ?", code).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model), nil
}

// SponsorOf returns the sponsor of an account, "" for roots.
func (store *Store) SponsorOf(ctx context.Context, accountID string) (string, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Select("account_id", "sponsor_id").
		Where("account_id = ?", accountID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", tree.ErrAccountNotFound
		}
		return "", wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	if model.SponsorID == nil {
		return "", nil
	}
	return *model.SponsorID, nil
}

// ChildrenOf lists the direct referrals of an account.
func (store *Store) ChildrenOf(ctx context.Context, accountID string) ([]tree.Member, error) {
	var rows []Account
	err := store.db.WithContext(ctx).
		Where("sponsor_id = ?", accountID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	members := make([]tree.Member, 0, len(rows))
	for _, row := range rows {
		members = append(members, mapMember(row))
	}
	return members, nil
}

// GetMember loads the public profile of one account.
func (store *Store) GetMember(ctx context.Context, accountID string) (tree.Member, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tree.Member{}, tree.ErrAccountNotFound
		}
		return tree.Member{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapMember(model), nil
}

func mapMember(model Account) tree.Member {
	return tree.Member{
		AccountID:          model.AccountID,
		Name:               model.Name,
		ReferralCode:       model.ReferralCode,
		TotalInvestedCents: model.TotalInvestedCents,
		JoinedUnixUTC:      model.CreatedAt.Unix(),
	}
}
