package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the domain logic over a Store.
type Service struct {
	store   Store
	nowFn   func() int64
	loggers OperationLoggers
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// DebitRequest describes a single paid action's charge.
type DebitRequest struct {
	UserID         UserID
	Amount         PositiveCredits
	IdempotencyKey IdempotencyKey
	Reference      string
	Description    string
	Metadata       MetadataJSON
}

// DebitResult reports the outcome of a debit attempt. Approved is false only for
// insufficient funds; every other failure is returned as an error.
type DebitResult struct {
	Approved  bool
	Replayed  bool
	Balance   Credits
	Shortfall Credits
	Entry     Entry
}

// CreditRequest describes an additive balance change.
type CreditRequest struct {
	UserID         UserID
	Type           EntryType
	Amount         PositiveCredits
	IdempotencyKey IdempotencyKey
	Reference      string
	Description    string
	Metadata       MetadataJSON
}

// Balance returns the caller's current credits. Unauthenticated callers and callers without an
// account read as zero; store failures are returned as errors and never as zero.
func (service *Service) Balance(ctx context.Context, caller Caller) (Credits, error) {
	if !caller.Authenticated() {
		return 0, nil
	}
	account, err := service.store.FindAccount(ctx, caller.UserID())
	if errors.Is(err, ErrUnknownAccount) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return account.Credits, nil
}

// Debit atomically takes request.Amount from the user's balance if the balance covers it.
// A repeated idempotency key replays the first result instead of debiting again.
func (service *Service) Debit(ctx context.Context, request DebitRequest) (DebitResult, error) {
	var result DebitResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.FindAccount(ctx, request.UserID)
		if errors.Is(err, ErrUnknownAccount) {
			result = declinedResult(0, request.Amount)
			return nil
		}
		if err != nil {
			return err
		}
		replayed, found, err := replayDebit(ctx, transactionStore, account.AccountID, request)
		if err != nil {
			return err
		}
		if found {
			result = replayed
			return nil
		}
		balance, ok, err := transactionStore.ConditionalDebit(ctx, account.AccountID, request.Amount)
		if err != nil {
			return err
		}
		if !ok {
			result = declinedResult(balance, request.Amount)
			return nil
		}
		entryInput, err := NewEntryInput(
			account.AccountID,
			EntrySpend,
			request.Amount.Debit(),
			balance,
			request.Reference,
			request.IdempotencyKey,
			request.Description,
			request.Metadata,
			service.nowFn(),
		)
		if err != nil {
			return err
		}
		entry, err := transactionStore.InsertEntry(ctx, entryInput)
		if err != nil {
			return err
		}
		result = DebitResult{Approved: true, Balance: balance, Entry: entry}
		return nil
	})
	if errors.Is(operationError, ErrDuplicateIdempotencyKey) {
		// A concurrent attempt with the same key committed first; this one rolled back.
		result, operationError = service.replayCommittedDebit(ctx, request)
	}
	operationError = classifyMutationError(ctx, errorSubjectDebit, operationError)
	service.logOperation(ctx, OperationLog{
		Operation:      operationDebit,
		UserID:         request.UserID,
		EntryType:      EntrySpend,
		Amount:         request.Amount.Int64(),
		BalanceAfter:   result.Balance,
		Reference:      request.Reference,
		IdempotencyKey: request.IdempotencyKey,
		Status:         debitStatus(result, operationError),
		Error:          operationError,
	})
	if operationError != nil {
		return DebitResult{}, operationError
	}
	return result, nil
}

// Credit adds request.Amount to the user's balance as a purchase, bonus, or refund entry.
// A repeated idempotency key returns the entry written by the first call.
func (service *Service) Credit(ctx context.Context, request CreditRequest) (Entry, error) {
	var entry Entry
	replayed := false
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if !request.Type.IsCredit() {
			return fmt.Errorf("%w: %s cannot add credits", ErrInvalidEntryType, request.Type)
		}
		account, err := transactionStore.GetOrCreateAccount(ctx, request.UserID)
		if err != nil {
			return err
		}
		existing, err := transactionStore.FindEntryByIdempotencyKey(ctx, account.AccountID, request.IdempotencyKey)
		if err == nil {
			if existing.Type() != request.Type || existing.Amount() != request.Amount.Credit() {
				return WrapError(errorOperationService, errorSubjectCredit, errorCodeMismatch, ErrIdempotencyMismatch)
			}
			entry = existing
			replayed = true
			return nil
		}
		if !errors.Is(err, ErrUnknownEntry) {
			return err
		}
		balance, err := transactionStore.AddCredits(ctx, account.AccountID, request.Amount)
		if err != nil {
			return err
		}
		entryInput, err := NewEntryInput(
			account.AccountID,
			request.Type,
			request.Amount.Credit(),
			balance,
			request.Reference,
			request.IdempotencyKey,
			request.Description,
			request.Metadata,
			service.nowFn(),
		)
		if err != nil {
			return err
		}
		entry, err = transactionStore.InsertEntry(ctx, entryInput)
		return err
	})
	if errors.Is(operationError, ErrDuplicateIdempotencyKey) {
		entry, operationError = service.findCommittedEntry(ctx, request.UserID, request.IdempotencyKey)
		replayed = operationError == nil
	}
	operationError = classifyMutationError(ctx, errorSubjectCredit, operationError)
	status := ""
	if replayed {
		status = operationStatusReplayed
	}
	service.logOperation(ctx, OperationLog{
		Operation:      operationCredit,
		UserID:         request.UserID,
		EntryType:      request.Type,
		Amount:         request.Amount.Int64(),
		BalanceAfter:   entry.BalanceAfter(),
		Reference:      request.Reference,
		IdempotencyKey: request.IdempotencyKey,
		Status:         status,
		Error:          operationError,
	})
	if operationError != nil {
		return Entry{}, operationError
	}
	return entry, nil
}

func replayDebit(ctx context.Context, transactionStore Store, accountID AccountID, request DebitRequest) (DebitResult, bool, error) {
	existing, err := transactionStore.FindEntryByIdempotencyKey(ctx, accountID, request.IdempotencyKey)
	if errors.Is(err, ErrUnknownEntry) {
		return DebitResult{}, false, nil
	}
	if err != nil {
		return DebitResult{}, false, err
	}
	if existing.Type() != EntrySpend || existing.Amount() != request.Amount.Debit() {
		return DebitResult{}, false, WrapError(errorOperationService, errorSubjectDebit, errorCodeMismatch, ErrIdempotencyMismatch)
	}
	return DebitResult{Approved: true, Replayed: true, Balance: existing.BalanceAfter(), Entry: existing}, true, nil
}

func (service *Service) replayCommittedDebit(ctx context.Context, request DebitRequest) (DebitResult, error) {
	var result DebitResult
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.FindAccount(ctx, request.UserID)
		if err != nil {
			return err
		}
		replayed, found, err := replayDebit(ctx, transactionStore, account.AccountID, request)
		if err != nil {
			return err
		}
		if !found {
			return ErrDuplicateIdempotencyKey
		}
		result = replayed
		return nil
	})
	return result, err
}

func (service *Service) findCommittedEntry(ctx context.Context, userID UserID, idempotencyKey IdempotencyKey) (Entry, error) {
	account, err := service.store.FindAccount(ctx, userID)
	if err != nil {
		return Entry{}, err
	}
	return service.store.FindEntryByIdempotencyKey(ctx, account.AccountID, idempotencyKey)
}

func declinedResult(balance Credits, amount PositiveCredits) DebitResult {
	return DebitResult{
		Approved:  false,
		Balance:   balance,
		Shortfall: Credits(amount.Int64() - balance.Int64()),
	}
}

func debitStatus(result DebitResult, err error) string {
	switch {
	case err != nil:
		return operationStatusError
	case result.Replayed:
		return operationStatusReplayed
	case !result.Approved:
		return operationStatusDeclined
	default:
		return operationStatusOK
	}
}

// classifyMutationError marks cancelled or timed-out mutations as having an unknown outcome:
// the store may have committed before the caller stopped waiting.
func classifyMutationError(ctx context.Context, subject string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return WrapError(errorOperationService, subject, errorCodeTimeout, fmt.Errorf("%w: %w", ErrOutcomeUnknown, err))
	}
	return err
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if len(service.loggers) == 0 {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.loggers.LogOperation(ctx, entry)
}
