package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/upline/pkg/ledger"
	"github.com/MarkoPoloResearchLab/upline/pkg/tree"
)

const (
	sponsorCode    = "MLMAAAA"
	sponsorAccount = "acct-sponsor"
)

// memberStore is an in-memory implementation of both the accounts Store and
// the ledger/tree stores, so one fixture backs the whole registration path.
type memberStore struct {
	mutex    sync.Mutex
	accounts map[string]ledger.Account
	entries  []ledger.Entry
}

func newMemberStore(accounts ...ledger.Account) *memberStore {
	store := &memberStore{accounts: make(map[string]ledger.Account)}
	for _, account := range accounts {
		store.accounts[account.AccountID] = account
	}
	return store
}

func (store *memberStore) CreateAccount(_ context.Context, account ledger.Account) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.accounts[account.AccountID] = account
	return nil
}

func (store *memberStore) AccountByEmail(_ context.Context, email string) (ledger.Account, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, account := range store.accounts {
		if account.Email == email {
			return account, nil
		}
	}
	return ledger.Account{}, ledger.ErrAccountNotFound
}

func (store *memberStore) AccountByReferralCode(_ context.Context, code string) (ledger.Account, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, account := range store.accounts {
		if account.ReferralCode == code {
			return account, nil
		}
	}
	return ledger.Account{}, ledger.ErrAccountNotFound
}

func (store *memberStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (store *memberStore) GetAccount(_ context.Context, accountID string) (ledger.Account, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	account, found := store.accounts[accountID]
	if !found {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return account, nil
}

func (store *memberStore) GetAccountForUpdate(ctx context.Context, accountID string) (ledger.Account, error) {
	return store.GetAccount(ctx, accountID)
}

func (store *memberStore) UpdateBalance(_ context.Context, mutation ledger.BalanceMutation) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	account, found := store.accounts[mutation.AccountID]
	if !found {
		return ledger.ErrAccountNotFound
	}
	account.BalanceCents = mutation.BalanceCents
	account.TotalReturnCents += mutation.TotalReturnDeltaCents
	account.TotalCommissionCents += mutation.TotalCommissionDeltaCents
	store.accounts[mutation.AccountID] = account
	return nil
}

func (store *memberStore) InsertEntry(_ context.Context, entry ledger.Entry) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.entries = append(store.entries, entry)
	return nil
}

func (store *memberStore) ListEntries(_ context.Context, accountID string, _ int64, _ int) ([]ledger.Entry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var matched []ledger.Entry
	for _, entry := range store.entries {
		if entry.AccountID == accountID {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func (store *memberStore) SponsorOf(_ context.Context, accountID string) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	account, found := store.accounts[accountID]
	if !found {
		return "", tree.ErrAccountNotFound
	}
	return account.SponsorID, nil
}

func (store *memberStore) ChildrenOf(_ context.Context, accountID string) ([]tree.Member, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var children []tree.Member
	for _, account := range store.accounts {
		if account.SponsorID == accountID {
			children = append(children, tree.Member{AccountID: account.AccountID})
		}
	}
	return children, nil
}

func (store *memberStore) GetMember(_ context.Context, accountID string) (tree.Member, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	account, found := store.accounts[accountID]
	if !found {
		return tree.Member{}, tree.ErrAccountNotFound
	}
	return tree.Member{AccountID: account.AccountID, Name: account.Name}, nil
}

func sponsorSeed() ledger.Account {
	return ledger.Account{
		AccountID:    sponsorAccount,
		Name:         "Sponsor",
		Email:        "sponsor@example.com",
		ReferralCode: sponsorCode,
		Active:       true,
	}
}

func newTestService(test *testing.T, store *memberStore, options ...Option) *Service {
	test.Helper()
	ledgerService, err := ledger.NewService(store, func() int64 { return 1_700_000_000 })
	if err != nil {
		test.Fatalf("ledger service: %v", err)
	}
	treeService, err := tree.NewService(store)
	if err != nil {
		test.Fatalf("tree service: %v", err)
	}
	service, err := NewService(store, ledgerService, treeService, func() time.Time { return time.Unix(1_700_000_000, 0) }, nil, options...)
	if err != nil {
		test.Fatalf("accounts service: %v", err)
	}
	return service
}

func TestRegisterWithSponsorCode(test *testing.T) {
	test.Parallel()
	store := newMemberStore(sponsorSeed())
	service := newTestService(test, store)

	account, err := service.Register(context.Background(), RegisterRequest{
		Name:        "Alice",
		Email:       " ALICE@Example.com ",
		SponsorCode: sponsorCode,
	})
	if err != nil {
		test.Fatalf("register: %v", err)
	}
	if account.Email != "alice@example.com" {
		test.Fatalf("email must be normalized, got %q", account.Email)
	}
	if account.SponsorID != sponsorAccount {
		test.Fatalf("expected sponsor %s, got %q", sponsorAccount, account.SponsorID)
	}
	if !strings.HasPrefix(account.ReferralCode, "MLM") {
		test.Fatalf("referral code must carry the MLM prefix, got %q", account.ReferralCode)
	}
	if !account.Active {
		test.Fatal("new accounts start active")
	}
}

func TestRegisterWithoutSponsorCreatesRoot(test *testing.T) {
	test.Parallel()
	store := newMemberStore()
	service := newTestService(test, store)

	account, err := service.Register(context.Background(), RegisterRequest{Name: "Root", Email: "root@example.com"})
	if err != nil {
		test.Fatalf("register: %v", err)
	}
	if account.SponsorID != "" {
		test.Fatalf("expected no sponsor, got %q", account.SponsorID)
	}
}

func TestRegisterValidation(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		request RegisterRequest
		wantErr error
	}{
		{
			name:    "missing name",
			request: RegisterRequest{Email: "a@example.com"},
			wantErr: ErrInvalidRegistration,
		},
		{
			name:    "missing email",
			request: RegisterRequest{Name: "A"},
			wantErr: ErrInvalidRegistration,
		},
		{
			name:    "unknown sponsor code",
			request: RegisterRequest{Name: "A", Email: "a@example.com", SponsorCode: "MLMDEAD"},
			wantErr: ErrUnknownSponsorCode,
		},
		{
			name:    "duplicate email",
			request: RegisterRequest{Name: "A", Email: "sponsor@example.com"},
			wantErr: ErrEmailTaken,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newMemberStore(sponsorSeed())
			service := newTestService(test, store)
			if _, err := service.Register(context.Background(), testCase.request); !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestRegisterRejectsSponsorAtDepthCeiling(test *testing.T) {
	test.Parallel()
	const (
		interiorCode = "MLMDEEP0"
		ceilingCode  = "MLMDEEP1"
	)
	seeds := make([]ledger.Account, 0, tree.DefaultDepthCeiling)
	previousID := ""
	for depth := 0; depth < tree.DefaultDepthCeiling; depth++ {
		account := ledger.Account{
			AccountID: fmt.Sprintf("acct-depth-%d", depth),
			Name:      fmt.Sprintf("Member %d", depth),
			SponsorID: previousID,
			Active:    true,
		}
		switch depth {
		case tree.DefaultDepthCeiling - 2:
			account.ReferralCode = interiorCode
		case tree.DefaultDepthCeiling - 1:
			account.ReferralCode = ceilingCode
		}
		seeds = append(seeds, account)
		previousID = account.AccountID
	}
	store := newMemberStore(seeds...)
	service := newTestService(test, store)

	_, err := service.Register(context.Background(), RegisterRequest{
		Name:        "Deep",
		Email:       "deep@example.com",
		SponsorCode: ceilingCode,
	})
	if !errors.Is(err, tree.ErrTreeTooDeep) {
		test.Fatalf("expected %v, got %v", tree.ErrTreeTooDeep, err)
	}

	account, err := service.Register(context.Background(), RegisterRequest{
		Name:        "Near",
		Email:       "near@example.com",
		SponsorCode: interiorCode,
	})
	if err != nil {
		test.Fatalf("register one level under the ceiling: %v", err)
	}
	if account.SponsorID != fmt.Sprintf("acct-depth-%d", tree.DefaultDepthCeiling-2) {
		test.Fatalf("unexpected sponsor %q", account.SponsorID)
	}
}

func TestRegisterRetriesReferralCodeCollisions(test *testing.T) {
	test.Parallel()
	store := newMemberStore(sponsorSeed())
	codes := []string{sponsorCode, sponsorCode, "MLMBBBB"}
	index := 0
	service := newTestService(test, store, WithReferralCodeFn(func() string {
		code := codes[index%len(codes)]
		index++
		return code
	}))

	account, err := service.Register(context.Background(), RegisterRequest{Name: "Bob", Email: "bob@example.com"})
	if err != nil {
		test.Fatalf("register: %v", err)
	}
	if account.ReferralCode != "MLMBBBB" {
		test.Fatalf("expected collision retry to land on MLMBBBB, got %q", account.ReferralCode)
	}
}

func TestRegisterGivesUpAfterRepeatedCollisions(test *testing.T) {
	test.Parallel()
	store := newMemberStore(sponsorSeed())
	service := newTestService(test, store, WithReferralCodeFn(func() string { return sponsorCode }))

	_, err := service.Register(context.Background(), RegisterRequest{Name: "Bob", Email: "bob@example.com"})
	if !errors.Is(err, ErrReferralCodeExhausted) {
		test.Fatalf("expected %v, got %v", ErrReferralCodeExhausted, err)
	}
}

func TestWithdrawEnforcesMinimum(test *testing.T) {
	test.Parallel()
	seeded := sponsorSeed()
	seeded.BalanceCents = 50_000
	store := newMemberStore(seeded)
	service := newTestService(test, store)

	if _, err := service.Withdraw(context.Background(), sponsorAccount, 9_999); !errors.Is(err, ErrWithdrawalBelowMinimum) {
		test.Fatalf("expected %v, got %v", ErrWithdrawalBelowMinimum, err)
	}

	entry, err := service.Withdraw(context.Background(), sponsorAccount, 10_000)
	if err != nil {
		test.Fatalf("withdraw: %v", err)
	}
	if entry.Category != ledger.CategoryWithdrawal || entry.BalanceAfterCents != 40_000 {
		test.Fatalf("unexpected withdrawal entry: %+v", entry)
	}
}

func TestWithdrawRequiresFunds(test *testing.T) {
	test.Parallel()
	seeded := sponsorSeed()
	seeded.BalanceCents = 5_000
	store := newMemberStore(seeded)
	service := newTestService(test, store)

	if _, err := service.Withdraw(context.Background(), sponsorAccount, 10_000); !errors.Is(err, ledger.ErrInsufficientFunds) {
		test.Fatalf("expected %v, got %v", ledger.ErrInsufficientFunds, err)
	}
}

func TestAdminAdjustments(test *testing.T) {
	test.Parallel()
	seeded := sponsorSeed()
	seeded.BalanceCents = 1_000
	store := newMemberStore(seeded)
	service := newTestService(test, store)

	credit, err := service.AdminCredit(context.Background(), sponsorAccount, 500, "correction")
	if err != nil {
		test.Fatalf("admin credit: %v", err)
	}
	if credit.Category != ledger.CategoryAdminCredit || credit.BalanceAfterCents != 1_500 {
		test.Fatalf("unexpected credit entry: %+v", credit)
	}

	debit, err := service.AdminDebit(context.Background(), sponsorAccount, 300, "chargeback")
	if err != nil {
		test.Fatalf("admin debit: %v", err)
	}
	if debit.Category != ledger.CategoryAdminDebit || debit.BalanceAfterCents != 1_200 {
		test.Fatalf("unexpected debit entry: %+v", debit)
	}
}

func TestGenerateReferralCodeShape(test *testing.T) {
	test.Parallel()
	seen := make(map[string]struct{})
	for index := 0; index < 50; index++ {
		code := generateReferralCode()
		if !strings.HasPrefix(code, referralCodePrefix) {
			test.Fatalf("missing prefix: %q", code)
		}
		if len(code) != len(referralCodePrefix)+2*referralCodeRandomBytes {
			test.Fatalf("unexpected length: %q", code)
		}
		if code != strings.ToUpper(code) {
			test.Fatalf("code must be uppercase: %q", code)
		}
		seen[code] = struct{}{}
	}
	if len(seen) < 2 {
		test.Fatal("codes must vary")
	}
}
