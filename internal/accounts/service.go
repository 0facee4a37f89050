// Package accounts handles registration into the sponsorship forest and the
// wallet operations that are not driven by purchases or accruals. Sponsor
// links are set exactly once at creation and never mutated afterwards.
package accounts

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/upline/pkg/ledger"
	"github.com/MarkoPoloResearchLab/upline/pkg/tree"
)

const (
	referralCodePrefix       = "MLM"
	referralCodeRandomBytes  = 4
	referralCodeMaxAttempts  = 5
	minWithdrawalCents       = ledger.AmountCents(10000)
	defaultSponsorDepthLimit = tree.DefaultDepthCeiling
)

var (
	// ErrUnknownSponsorCode reports a sponsor code that resolves to nothing.
	ErrUnknownSponsorCode = errors.New("unknown sponsor code")
	// ErrEmailTaken reports a duplicate registration email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidRegistration reports malformed registration input.
	ErrInvalidRegistration = errors.New("invalid registration")
	// ErrWithdrawalBelowMinimum reports a withdrawal under the floor.
	ErrWithdrawalBelowMinimum = errors.New("withdrawal below minimum amount")
	// ErrReferralCodeExhausted reports repeated referral code collisions.
	ErrReferralCodeExhausted = errors.New("could not generate unique referral code")
	// ErrInvalidServiceConfig reports bad constructor input.
	ErrInvalidServiceConfig = errors.New("invalid accounts service config")
)

// Store is the persistence contract for account creation and lookup.
type Store interface {
	CreateAccount(ctx context.Context, account ledger.Account) error
	AccountByEmail(ctx context.Context, email string) (ledger.Account, error)
	AccountByReferralCode(ctx context.Context, code string) (ledger.Account, error)
}

// Service wires registration and wallet administration.
type Service struct {
	store  Store
	ledger *ledger.Service
	tree   *tree.Service
	nowFn  func() time.Time
	logger *zap.Logger
	codeFn func() string
}

// Option configures a Service.
type Option func(*Service)

// WithReferralCodeFn overrides referral code generation (tests).
func WithReferralCodeFn(fn func() string) Option {
	return func(service *Service) {
		service.codeFn = fn
	}
}

// NewService wires a Service.
func NewService(store Store, ledgerService *ledger.Service, treeService *tree.Service, now func() time.Time, logger *zap.Logger, options ...Option) (*Service, error) {
	if store == nil || ledgerService == nil || treeService == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &Service{
		store:  store,
		ledger: ledgerService,
		tree:   treeService,
		nowFn:  now,
		logger: logger,
		codeFn: generateReferralCode,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// RegisterRequest describes a new account.
type RegisterRequest struct {
	Name        string
	Email       string
	Phone       string
	SponsorCode string
}

// Register creates an account, resolving the optional sponsor code to a
// sponsor link. An unknown code rejects the registration; a sponsor whose own
// upline already sits at the depth ceiling is rejected to keep every chain
// bounded.
func (service *Service) Register(ctx context.Context, request RegisterRequest) (ledger.Account, error) {
	name := strings.TrimSpace(request.Name)
	email := strings.ToLower(strings.TrimSpace(request.Email))
	if name == "" || email == "" {
		return ledger.Account{}, fmt.Errorf("%w: name and email are required", ErrInvalidRegistration)
	}
	if _, err := service.store.AccountByEmail(ctx, email); err == nil {
		return ledger.Account{}, ErrEmailTaken
	} else if !errors.Is(err, ledger.ErrAccountNotFound) {
		return ledger.Account{}, err
	}

	sponsorID := ""
	if code := strings.TrimSpace(request.SponsorCode); code != "" {
		sponsor, err := service.store.AccountByReferralCode(ctx, code)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return ledger.Account{}, fmt.Errorf("%w: %s", ErrUnknownSponsorCode, code)
		}
		if err != nil {
			return ledger.Account{}, err
		}
		// A fresh account has no descendants, so the new link cannot close a
		// cycle; the chain above the sponsor still has to stay bounded.
		chain, err := service.tree.UplineChain(ctx, sponsor.AccountID, defaultSponsorDepthLimit)
		if err != nil {
			return ledger.Account{}, err
		}
		if len(chain) >= defaultSponsorDepthLimit-1 {
			return ledger.Account{}, tree.ErrTreeTooDeep
		}
		sponsorID = sponsor.AccountID
	}

	referralCode, err := service.uniqueReferralCode(ctx)
	if err != nil {
		return ledger.Account{}, err
	}

	account := ledger.Account{
		AccountID:      uuid.NewString(),
		Name:           name,
		Email:          email,
		Phone:          strings.TrimSpace(request.Phone),
		ReferralCode:   referralCode,
		SponsorID:      sponsorID,
		Active:         true,
		CreatedUnixUTC: service.nowFn().UTC().Unix(),
	}
	if err := service.store.CreateAccount(ctx, account); err != nil {
		return ledger.Account{}, err
	}
	service.logger.Info("account registered",
		zap.String("account_id", account.AccountID),
		zap.String("referral_code", account.ReferralCode),
		zap.Bool("sponsored", sponsorID != ""))
	return account, nil
}

// Withdraw debits the wallet immediately. The approval workflow around
// withdrawals lives outside this module.
func (service *Service) Withdraw(ctx context.Context, accountID string, amount ledger.AmountCents) (ledger.Entry, error) {
	if amount < minWithdrawalCents {
		return ledger.Entry{}, fmt.Errorf("%w: minimum is %d cents", ErrWithdrawalBelowMinimum, minWithdrawalCents)
	}
	return service.ledger.Debit(ctx, ledger.MutationRequest{
		AccountID:     accountID,
		Amount:        amount,
		Category:      ledger.CategoryWithdrawal,
		Description:   "Wallet withdrawal",
		ReferenceID:   accountID,
		ReferenceKind: ledger.ReferenceAccount,
	})
}

// AdminCredit adjusts a wallet upward on behalf of an administrator.
func (service *Service) AdminCredit(ctx context.Context, accountID string, amount ledger.AmountCents, reason string) (ledger.Entry, error) {
	return service.ledger.Credit(ctx, ledger.MutationRequest{
		AccountID:   accountID,
		Amount:      amount,
		Category:    ledger.CategoryAdminCredit,
		Description: reason,
	})
}

// AdminDebit adjusts a wallet downward on behalf of an administrator.
func (service *Service) AdminDebit(ctx context.Context, accountID string, amount ledger.AmountCents, reason string) (ledger.Entry, error) {
	return service.ledger.Debit(ctx, ledger.MutationRequest{
		AccountID:   accountID,
		Amount:      amount,
		Category:    ledger.CategoryAdminDebit,
		Description: reason,
	})
}

func (service *Service) uniqueReferralCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < referralCodeMaxAttempts; attempt++ {
		code := service.codeFn()
		_, err := service.store.AccountByReferralCode(ctx, code)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", ErrReferralCodeExhausted
}

func generateReferralCode() string {
	buffer := make([]byte, referralCodeRandomBytes)
	if _, err := rand.Read(buffer); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a uuid
		// fragment rather than panicking in the registration path.
		return referralCodePrefix + strings.ToUpper(uuid.NewString()[:8])
	}
	return referralCodePrefix + strings.ToUpper(hex.EncodeToString(buffer))
}
