package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AmountCents is an integer currency in cents.
type AmountCents int64

// Int64 returns the raw cent value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// NewAmountCents validates an amount and ensures it is strictly positive.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// EntryDirection tells whether an entry raises or lowers the balance.
type EntryDirection string

const (
	DirectionCredit EntryDirection = "CREDIT"
	DirectionDebit  EntryDirection = "DEBIT"
)

// EntryCategory classifies the business reason for a balance mutation.
// Every category maps to exactly one direction.
type EntryCategory string

const (
	CategoryReturn         EntryCategory = "RETURN"
	CategoryDirectReferral EntryCategory = "DIRECT_REFERRAL"
	CategoryLevelIncome    EntryCategory = "LEVEL_INCOME"
	CategoryPurchase       EntryCategory = "PURCHASE"
	CategoryWithdrawal     EntryCategory = "WITHDRAWAL"
	CategoryAdminCredit    EntryCategory = "ADMIN_CREDIT"
	CategoryAdminDebit     EntryCategory = "ADMIN_DEBIT"
)

var categoryDirections = map[EntryCategory]EntryDirection{
	CategoryReturn:         DirectionCredit,
	CategoryDirectReferral: DirectionCredit,
	CategoryLevelIncome:    DirectionCredit,
	CategoryAdminCredit:    DirectionCredit,
	CategoryPurchase:       DirectionDebit,
	CategoryWithdrawal:     DirectionDebit,
	CategoryAdminDebit:     DirectionDebit,
}

// DirectionForCategory resolves the fixed direction of a category.
func DirectionForCategory(category EntryCategory) (EntryDirection, error) {
	direction, known := categoryDirections[category]
	if !known {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	return direction, nil
}

// ReferenceKind names the entity type a ledger entry points back to.
type ReferenceKind string

const (
	ReferencePlan         ReferenceKind = "plan"
	ReferenceSubscription ReferenceKind = "subscription"
	ReferenceAccount      ReferenceKind = "account"
)

// MetadataJSON stores structured entry metadata (percentage applied,
// counterpart account, level number).
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates a metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// MarshalMetadata encodes arbitrary fields as entry metadata.
func MarshalMetadata(fields map[string]any) (MetadataJSON, error) {
	if len(fields) == 0 {
		return MetadataJSON{value: "{}"}, nil
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return MetadataJSON{}, fmt.Errorf("%w: %v", ErrInvalidMetadataJSON, err)
	}
	return MetadataJSON{value: string(encoded)}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// Entry is a single immutable line in the ledger. The before/after pair is
// the audit trail for the account's balance chain.
type Entry struct {
	EntryID            string
	AccountID          string
	Direction          EntryDirection
	Category           EntryCategory
	AmountCents        AmountCents
	BalanceBeforeCents AmountCents
	BalanceAfterCents  AmountCents
	Description        string
	ReferenceID        string
	ReferenceKind      ReferenceKind
	MetadataJSON       string
	CreatedUnixUTC     int64
}

// Account is the balance-holding identity in the ledger. Balances and
// cumulative totals are mutated only through Service operations.
type Account struct {
	AccountID            string
	Name                 string
	Email                string
	Phone                string
	ReferralCode         string
	SponsorID            string
	BalanceCents         AmountCents
	TotalInvestedCents   AmountCents
	TotalReturnCents     AmountCents
	TotalCommissionCents AmountCents
	Active               bool
	CreatedUnixUTC       int64
}

// BalanceMutation carries the new balance and cumulative-total deltas written
// together with an entry inside one transaction.
type BalanceMutation struct {
	AccountID                 string
	BalanceCents              AmountCents
	TotalReturnDeltaCents     AmountCents
	TotalCommissionDeltaCents AmountCents
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetAccount(ctx context.Context, accountID string) (Account, error)
	GetAccountForUpdate(ctx context.Context, accountID string) (Account, error)
	UpdateBalance(ctx context.Context, mutation BalanceMutation) error
	InsertEntry(ctx context.Context, entry Entry) error
	ListEntries(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]Entry, error)
}
