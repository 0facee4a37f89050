package ledger

import (
	"context"
	"sync"
	"testing"
)

// stubStore is an in-memory Store with injectable per-method failures.
type stubStore struct {
	mutex    sync.Mutex
	accounts map[string]Account
	entries  []Entry

	withTxError              error
	getAccountError          error
	getAccountForUpdateError error
	updateBalanceError       error
	insertEntryError         error
	listEntriesError         error
}

func newStubStore(test *testing.T, accounts ...Account) *stubStore {
	test.Helper()
	store := &stubStore{accounts: make(map[string]Account)}
	for _, account := range accounts {
		store.accounts[account.AccountID] = account
	}
	return store
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.withTxError != nil {
		return store.withTxError
	}
	return fn(ctx, store)
}

func (store *stubStore) GetAccount(_ context.Context, accountID string) (Account, error) {
	if store.getAccountError != nil {
		return Account{}, store.getAccountError
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	account, found := store.accounts[accountID]
	if !found {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (store *stubStore) GetAccountForUpdate(_ context.Context, accountID string) (Account, error) {
	if store.getAccountForUpdateError != nil {
		return Account{}, store.getAccountForUpdateError
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	account, found := store.accounts[accountID]
	if !found {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (store *stubStore) UpdateBalance(_ context.Context, mutation BalanceMutation) error {
	if store.updateBalanceError != nil {
		return store.updateBalanceError
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	account, found := store.accounts[mutation.AccountID]
	if !found {
		return ErrAccountNotFound
	}
	account.BalanceCents = mutation.BalanceCents
	account.TotalReturnCents += mutation.TotalReturnDeltaCents
	account.TotalCommissionCents += mutation.TotalCommissionDeltaCents
	store.accounts[mutation.AccountID] = account
	return nil
}

func (store *stubStore) InsertEntry(_ context.Context, entry Entry) error {
	if store.insertEntryError != nil {
		return store.insertEntryError
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.entries = append(store.entries, entry)
	return nil
}

func (store *stubStore) ListEntries(_ context.Context, accountID string, beforeUnixUTC int64, limit int) ([]Entry, error) {
	if store.listEntriesError != nil {
		return nil, store.listEntriesError
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var matched []Entry
	for index := len(store.entries) - 1; index >= 0; index-- {
		entry := store.entries[index]
		if entry.AccountID != accountID {
			continue
		}
		if beforeUnixUTC > 0 && entry.CreatedUnixUTC >= beforeUnixUTC {
			continue
		}
		matched = append(matched, entry)
		if limit > 0 && len(matched) == limit {
			break
		}
	}
	return matched, nil
}

func (store *stubStore) accountSnapshot(test *testing.T, accountID string) Account {
	test.Helper()
	store.mutex.Lock()
	defer store.mutex.Unlock()
	account, found := store.accounts[accountID]
	if !found {
		test.Fatalf("account %s not present in stub store", accountID)
	}
	return account
}

func (store *stubStore) entriesFor(accountID string) []Entry {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var matched []Entry
	for _, entry := range store.entries {
		if entry.AccountID == accountID {
			matched = append(matched, entry)
		}
	}
	return matched
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 1_700_000_000 }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}
