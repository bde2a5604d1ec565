package ledger

import (
	"context"
	"errors"
)

// TryDebit is the boolean form of Debit for callers that only branch on success.
// Insufficient funds is (false, nil); an error means the outcome was not determined.
func (service *Service) TryDebit(ctx context.Context, request DebitRequest) (bool, error) {
	result, err := service.Debit(ctx, request)
	if err != nil {
		return false, err
	}
	return result.Approved, nil
}

// History lists the caller's entries created before beforeUnixUTC, newest first.
// A zero cutoff means "now"; the limit is clamped to a sane page size.
func (service *Service) History(ctx context.Context, caller Caller, beforeUnixUTC int64, limit int) ([]Entry, error) {
	if !caller.Authenticated() {
		return nil, ErrUnauthenticated
	}
	if beforeUnixUTC <= 0 {
		beforeUnixUTC = service.nowFn() + 1
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	account, err := service.store.FindAccount(ctx, caller.UserID())
	if errors.Is(err, ErrUnknownAccount) {
		return []Entry{}, nil
	}
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationHistory, UserID: caller.UserID(), Error: err})
		return nil, err
	}
	entries, err := service.store.ListEntries(ctx, account.AccountID, beforeUnixUTC, limit)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationHistory, UserID: caller.UserID(), Error: err})
		return nil, err
	}
	return entries, nil
}

// RoleAdmin is the identity-provider role allowed to grant bonus credits.
const RoleAdmin = "admin"

// GrantBonus credits userID with a bonus entry on behalf of an admin caller.
func (service *Service) GrantBonus(ctx context.Context, caller Caller, userID UserID, amount PositiveCredits, idempotencyKey IdempotencyKey, description string) (Entry, error) {
	if !caller.Authenticated() {
		return Entry{}, ErrUnauthenticated
	}
	if !caller.HasRole(RoleAdmin) {
		return Entry{}, ErrForbidden
	}
	return service.Credit(ctx, CreditRequest{
		UserID:         userID,
		Type:           EntryBonus,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
		Reference:      "grant:" + caller.UserID().String(),
		Description:    description,
	})
}

// LookupEntry returns the committed entry written under idempotencyKey for userID.
func (service *Service) LookupEntry(ctx context.Context, userID UserID, idempotencyKey IdempotencyKey) (Entry, error) {
	entry, err := service.findCommittedEntry(ctx, userID, idempotencyKey)
	if errors.Is(err, ErrUnknownAccount) {
		return Entry{}, ErrUnknownEntry
	}
	return entry, err
}
