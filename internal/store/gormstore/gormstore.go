// Package gormstore persists the referral engine's state through GORM,
// backed by sqlite or postgres. It implements the store contracts of the
// ledger, tree, accounts, plans, and commission packages on one type so a
// single database owns every invariant.
package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/upline/pkg/ledger"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19

	errorOperationStore      = "store"
	errorSubjectAccount      = "account"
	errorSubjectEntry        = "entry"
	errorSubjectPlan         = "plan"
	errorSubjectSubscription = "subscription"
	errorSubjectSchedule     = "schedule"
	errorCodeCreate          = "create"
	errorCodeDuplicate       = "duplicate"
	errorCodeGet             = "get"
	errorCodeInsert          = "insert"
	errorCodeList            = "list"
	errorCodeUpdate          = "update"
)

// Store implements the persistence contracts using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// GetAccount loads an account snapshot.
func (store *Store) GetAccount(ctx context.Context, accountID string) (ledger.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model), nil
}

// GetAccountForUpdate loads an account under a row lock so concurrent credits
// to the same account serialize at the database.
func (store *Store) GetAccountForUpdate(ctx context.Context, accountID string) (ledger.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model), nil
}

// UpdateBalance writes the new balance and cumulative-total deltas.
func (store *Store) UpdateBalance(ctx context.Context, mutation ledger.BalanceMutation) error {
	updates := map[string]any{
		"balance_cents": mutation.BalanceCents.Int64(),
	}
	if mutation.TotalReturnDeltaCents != 0 {
		updates["total_return_cents"] = gorm.Expr("total_return_cents + ?", mutation.TotalReturnDeltaCents.Int64())
	}
	if mutation.TotalCommissionDeltaCents != 0 {
		updates["total_commission_cents"] = gorm.Expr("total_commission_cents + ?", mutation.TotalCommissionDeltaCents.Int64())
	}
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", mutation.AccountID).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrAccountNotFound)
	}
	return nil
}

// InsertEntry appends one immutable ledger entry.
func (store *Store) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	var referenceID *string
	if entry.ReferenceID != "" {
		value := entry.ReferenceID
		referenceID = &value
	}
	model := LedgerEntry{
		EntryID:            entry.EntryID,
		AccountID:          entry.AccountID,
		Direction:          string(entry.Direction),
		Category:           string(entry.Category),
		AmountCents:        entry.AmountCents.Int64(),
		BalanceBeforeCents: entry.BalanceBeforeCents.Int64(),
		BalanceAfterCents:  entry.BalanceAfterCents.Int64(),
		Description:        entry.Description,
		ReferenceID:        referenceID,
		ReferenceKind:      string(entry.ReferenceKind),
		Metadata:           datatypesJSON(entry.MetadataJSON),
		CreatedAt:          time.Unix(entry.CreatedUnixUTC, 0).UTC(),
	}
	if entry.CreatedUnixUTC == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

// ListEntries lists entries for an account before a cutoff time, newest first.
func (store *Store) ListEntries(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]ledger.Entry, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND created_at < ?", accountID, before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, mapLedgerEntry(row))
	}
	return entries, nil
}

func mapAccount(model Account) ledger.Account {
	sponsorID := ""
	if model.SponsorID != nil {
		sponsorID = *model.SponsorID
	}
	return ledger.Account{
		AccountID:            model.AccountID,
		Name:                 model.Name,
		Email:                model.Email,
		Phone:                model.Phone,
		ReferralCode:         model.ReferralCode,
		SponsorID:            sponsorID,
		BalanceCents:         ledger.AmountCents(model.BalanceCents),
		TotalInvestedCents:   ledger.AmountCents(model.TotalInvestedCents),
		TotalReturnCents:     ledger.AmountCents(model.TotalReturnCents),
		TotalCommissionCents: ledger.AmountCents(model.TotalCommissionCents),
		Active:               model.Active,
		CreatedUnixUTC:       model.CreatedAt.Unix(),
	}
}

func mapLedgerEntry(row LedgerEntry) ledger.Entry {
	referenceID := ""
	if row.ReferenceID != nil {
		referenceID = *row.ReferenceID
	}
	return ledger.Entry{
		EntryID:            row.EntryID,
		AccountID:          row.AccountID,
		Direction:          ledger.EntryDirection(row.Direction),
		Category:           ledger.EntryCategory(row.Category),
		AmountCents:        ledger.AmountCents(row.AmountCents),
		BalanceBeforeCents: ledger.AmountCents(row.BalanceBeforeCents),
		BalanceAfterCents:  ledger.AmountCents(row.BalanceAfterCents),
		Description:        row.Description,
		ReferenceID:        referenceID,
		ReferenceKind:      ledger.ReferenceKind(row.ReferenceKind),
		MetadataJSON:       string(row.Metadata),
		CreatedUnixUTC:     row.CreatedAt.Unix(),
	}
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
