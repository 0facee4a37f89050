package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table.
type Account struct {
	AccountID            string    `gorm:"type:uuid;primaryKey"`
	Name                 string    `gorm:"not null"`
	Email                string    `gorm:"not null;uniqueIndex"`
	Phone                string    `gorm:""`
	ReferralCode         string    `gorm:"not null;uniqueIndex"`
	SponsorID            *string   `gorm:"type:uuid;index"`
	BalanceCents         int64     `gorm:"not null;default:0"`
	TotalInvestedCents   int64     `gorm:"not null;default:0"`
	TotalReturnCents     int64     `gorm:"not null;default:0"`
	TotalCommissionCents int64     `gorm:"not null;default:0"`
	Active               bool      `gorm:"not null;default:true"`
	CreatedAt            time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// LedgerEntry mirrors the ledger_entries table.
type LedgerEntry struct {
	EntryID            string         `gorm:"type:uuid;primaryKey"`
	AccountID          string         `gorm:"type:uuid;not null;index:idx_entries_account_created,priority:1"`
	Direction          string         `gorm:"not null"`
	Category           string         `gorm:"not null;index"`
	AmountCents        int64          `gorm:"not null"`
	BalanceBeforeCents int64          `gorm:"not null"`
	BalanceAfterCents  int64          `gorm:"not null"`
	Description        string         `gorm:""`
	ReferenceID        *string        `gorm:"index"`
	ReferenceKind      string         `gorm:""`
	Metadata           datatypes.JSON `gorm:"not null"`
	CreatedAt          time.Time      `gorm:"not null;index:idx_entries_account_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Plan mirrors the plans table.
type Plan struct {
	PlanID            string          `gorm:"type:uuid;primaryKey"`
	Name              string          `gorm:"not null"`
	Description       string          `gorm:""`
	PrincipalCents    int64           `gorm:"not null"`
	ReturnPercent     decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	TermMonths        int             `gorm:"not null"`
	PeriodReturnCents int64           `gorm:"not null"`
	Active            bool            `gorm:"not null;default:true;index"`
	CreatedAt         time.Time       `gorm:"not null"`
}

func (Plan) TableName() string { return "plans" }

// Subscription mirrors the subscriptions table.
type Subscription struct {
	SubscriptionID    string          `gorm:"type:uuid;primaryKey"`
	AccountID         string          `gorm:"type:uuid;not null;index"`
	PlanID            string          `gorm:"type:uuid;not null;index"`
	PrincipalCents    int64           `gorm:"not null"`
	ReturnPercent     decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	TermMonths        int             `gorm:"not null"`
	PeriodReturnCents int64           `gorm:"not null"`
	StartAt           time.Time       `gorm:"not null"`
	ExpiryAt          time.Time       `gorm:"not null"`
	Status            string          `gorm:"not null;index"`
	TotalPaidCents    int64           `gorm:"not null;default:0"`
	LastAccrualAt     *time.Time      `gorm:""`
	CreatedAt         time.Time       `gorm:"not null"`
	UpdatedAt         time.Time       `gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

// CommissionSchedule mirrors the commission_schedules table. Level
// percentages are stored as a JSON document on the row.
type CommissionSchedule struct {
	ScheduleID            string          `gorm:"type:uuid;primaryKey"`
	DirectReferralPercent decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	Levels                datatypes.JSON  `gorm:"not null"`
	MatchingBonusPercent  decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	Active                bool            `gorm:"not null;default:false;index"`
	CreatedAt             time.Time       `gorm:"not null"`
}

func (CommissionSchedule) TableName() string { return "commission_schedules" }

func (schedule *CommissionSchedule) BeforeCreate(tx *gorm.DB) error {
	if schedule.ScheduleID == "" {
		schedule.ScheduleID = uuid.NewString()
	}
	return nil
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&Account{}, &LedgerEntry{}, &Plan{}, &Subscription{}, &CommissionSchedule{}}
}
