package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Service is the sole mutator of account balances. Every mutation appends
// exactly one entry in the same transaction that writes the new balance.
type Service struct {
	store  Store
	nowFn  func() int64
	locks  *accountLocks
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, locks: newAccountLocks()}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// MutationRequest describes one credit or debit against a single account.
type MutationRequest struct {
	AccountID     string
	Amount        AmountCents
	Category      EntryCategory
	Description   string
	ReferenceID   string
	ReferenceKind ReferenceKind
	Metadata      MetadataJSON
}

// Credit raises the account balance and appends the matching entry.
// The category must be a credit category.
func (service *Service) Credit(ctx context.Context, request MutationRequest) (Entry, error) {
	entry, operationError := service.mutate(ctx, request, DirectionCredit)
	service.logOperation(ctx, OperationLog{
		Operation: operationCredit,
		AccountID: request.AccountID,
		Category:  request.Category,
		Amount:    request.Amount,
		Reference: request.ReferenceID,
		Error:     operationError,
	})
	return entry, operationError
}

// Debit lowers the account balance and appends the matching entry. It fails
// with ErrInsufficientFunds when the balance would go negative.
func (service *Service) Debit(ctx context.Context, request MutationRequest) (Entry, error) {
	entry, operationError := service.mutate(ctx, request, DirectionDebit)
	service.logOperation(ctx, OperationLog{
		Operation: operationDebit,
		AccountID: request.AccountID,
		Category:  request.Category,
		Amount:    request.Amount,
		Reference: request.ReferenceID,
		Error:     operationError,
	})
	return entry, operationError
}

// Account returns the current account snapshot.
func (service *Service) Account(ctx context.Context, accountID string) (Account, error) {
	return service.store.GetAccount(ctx, accountID)
}

// ListEntries lists ledger entries for an account before a cutoff time.
func (service *Service) ListEntries(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]Entry, error) {
	return service.store.ListEntries(ctx, accountID, beforeUnixUTC, limit)
}

func (service *Service) mutate(ctx context.Context, request MutationRequest, wantDirection EntryDirection) (Entry, error) {
	if _, err := NewAmountCents(request.Amount.Int64()); err != nil {
		return Entry{}, err
	}
	direction, err := DirectionForCategory(request.Category)
	if err != nil {
		return Entry{}, err
	}
	if direction != wantDirection {
		return Entry{}, fmt.Errorf("%w: category %s is %s-only", ErrCategoryDirection, request.Category, direction)
	}

	accountMutex := service.locks.lockFor(request.AccountID)
	accountMutex.Lock()
	defer accountMutex.Unlock()

	var written Entry
	transactionError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetAccountForUpdate(ctx, request.AccountID)
		if err != nil {
			return err
		}
		balanceBefore := account.BalanceCents
		var balanceAfter AmountCents
		switch direction {
		case DirectionCredit:
			balanceAfter = balanceBefore + request.Amount
		case DirectionDebit:
			if balanceBefore < request.Amount {
				return ErrInsufficientFunds
			}
			balanceAfter = balanceBefore - request.Amount
		}

		mutation := BalanceMutation{
			AccountID:    request.AccountID,
			BalanceCents: balanceAfter,
		}
		switch request.Category {
		case CategoryReturn:
			mutation.TotalReturnDeltaCents = request.Amount
		case CategoryDirectReferral, CategoryLevelIncome:
			mutation.TotalCommissionDeltaCents = request.Amount
		}
		if err := transactionStore.UpdateBalance(ctx, mutation); err != nil {
			return err
		}

		written = Entry{
			EntryID:            uuid.NewString(),
			AccountID:          request.AccountID,
			Direction:          direction,
			Category:           request.Category,
			AmountCents:        request.Amount,
			BalanceBeforeCents: balanceBefore,
			BalanceAfterCents:  balanceAfter,
			Description:        request.Description,
			ReferenceID:        request.ReferenceID,
			ReferenceKind:      request.ReferenceKind,
			MetadataJSON:       request.Metadata.String(),
			CreatedUnixUTC:     service.nowFn(),
		}
		return transactionStore.InsertEntry(ctx, written)
	})
	if transactionError != nil {
		return Entry{}, transactionError
	}
	return written, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
