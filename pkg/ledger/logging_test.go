package ledger

import (
	"context"
	"sync"
	"testing"
)

type recordingLogger struct {
	mutex   sync.Mutex
	records []OperationLog
}

func (logger *recordingLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.records = append(logger.records, entry)
}

func (logger *recordingLogger) recorded() []OperationLog {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	return append([]OperationLog(nil), logger.records...)
}

func TestOperationLoggerReceivesOutcomes(test *testing.T) {
	test.Parallel()
	logger := &recordingLogger{}
	store := newStubStore(test, baseAccount(100))
	service := mustNewService(test, store, WithOperationLogger(logger))

	if _, err := service.Credit(context.Background(), MutationRequest{
		AccountID: accountIDValue,
		Amount:    50,
		Category:  CategoryAdminCredit,
	}); err != nil {
		test.Fatalf("credit failed: %v", err)
	}
	if _, err := service.Debit(context.Background(), MutationRequest{
		AccountID: accountIDValue,
		Amount:    500,
		Category:  CategoryWithdrawal,
	}); err == nil {
		test.Fatal("expected insufficient funds")
	}

	records := logger.recorded()
	if len(records) != 2 {
		test.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Status != operationStatusOK || records[0].Operation != operationCredit {
		test.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].Status != operationStatusError || records[1].Error == nil {
		test.Fatalf("unexpected second record: %+v", records[1])
	}
}
