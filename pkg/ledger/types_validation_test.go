package ledger

import (
	"errors"
	"testing"
)

func TestNewEntryInputValidation(test *testing.T) {
	test.Parallel()
	validAccountID := mustAccountID(test, accountIDValue)
	validKey := mustIdempotencyKey(test, idempotencyValue)
	metadata := mustMetadata(test, metadataValue)

	testCases := []struct {
		name         string
		accountID    AccountID
		entryType    EntryType
		amount       SignedCredits
		balanceAfter Credits
		key          IdempotencyKey
		wantErr      error
	}{
		{name: "valid spend", accountID: validAccountID, entryType: EntrySpend, amount: -5, balanceAfter: 42, key: validKey},
		{name: "valid purchase", accountID: validAccountID, entryType: EntryPurchase, amount: 65, balanceAfter: 65, key: validKey},
		{name: "missing account", accountID: AccountID{}, entryType: EntrySpend, amount: -5, key: validKey, wantErr: ErrInvalidAccountID},
		{name: "unknown type", accountID: validAccountID, entryType: EntryType("grant"), amount: 5, key: validKey, wantErr: ErrInvalidEntryType},
		{name: "zero amount", accountID: validAccountID, entryType: EntryBonus, amount: 0, key: validKey, wantErr: ErrInvalidEntryAmount},
		{name: "positive spend", accountID: validAccountID, entryType: EntrySpend, amount: 5, key: validKey, wantErr: ErrInvalidEntryAmount},
		{name: "negative refund", accountID: validAccountID, entryType: EntryRefund, amount: -5, key: validKey, wantErr: ErrInvalidEntryAmount},
		{name: "negative balance", accountID: validAccountID, entryType: EntrySpend, amount: -5, balanceAfter: -1, key: validKey, wantErr: ErrInvalidCredits},
		{name: "missing key", accountID: validAccountID, entryType: EntrySpend, amount: -5, key: IdempotencyKey{}, wantErr: ErrInvalidIdempotencyKey},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			input, err := NewEntryInput(testCase.accountID, testCase.entryType, testCase.amount, testCase.balanceAfter, " ref ", testCase.key, " note ", metadata, 100)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if input.Reference() != "ref" || input.Description() != "note" || input.CreatedUnixUTC() != 100 {
				test.Fatalf("unexpected normalized input: %+v", input)
			}
		})
	}
}

func TestNewEntryRequiresID(test *testing.T) {
	test.Parallel()
	input, err := NewEntryInput(mustAccountID(test, accountIDValue), EntryBonus, 5, 5, "", mustIdempotencyKey(test, idempotencyValue), "", MetadataJSON{}, 1)
	if err != nil {
		test.Fatalf("input: %v", err)
	}
	if _, err := NewEntry(EntryID{}, input); !errors.Is(err, ErrInvalidEntryID) {
		test.Fatalf("expected ErrInvalidEntryID, got %v", err)
	}
	entry, err := NewEntry(mustEntryID(test, entryIDValue), input)
	if err != nil {
		test.Fatalf("entry: %v", err)
	}
	if entry.EntryID().String() != entryIDValue || entry.MetadataJSON().String() != "{}" {
		test.Fatalf("unexpected entry: %+v", entry)
	}
}
