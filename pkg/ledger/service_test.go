package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
)

const errorMismatchMessage = "expected %v, got %v"

var errStoreFailure = errors.New("store error")

func TestNewServiceRejectsMissingDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, func() int64 { return 0 }); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf(errorMismatchMessage, ErrInvalidServiceConfig, err)
	}
	if _, err := NewService(newStubStore(test), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf(errorMismatchMessage, ErrInvalidServiceConfig, err)
	}
}

func TestBalance(test *testing.T) {
	test.Parallel()
	userID := mustUserID(test, userIDValue)
	testCases := []struct {
		name        string
		caller      Caller
		configure   func(store *stubStore)
		wantBalance Credits
		wantErr     error
	}{
		{
			name:        "anonymous reads zero",
			caller:      Anonymous(),
			wantBalance: 0,
		},
		{
			name:        "new user reads zero",
			caller:      NewCaller(mustUserID(test, "user-new")),
			wantBalance: 0,
		},
		{
			name:        "existing account",
			caller:      NewCaller(userID),
			wantBalance: 47,
		},
		{
			name:   "store failure is not zero",
			caller: NewCaller(userID),
			configure: func(store *stubStore) {
				store.findAccountError = errStoreFailure
			},
			wantErr: errStoreFailure,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test).withAccount(test, userID, 47)
			if testCase.configure != nil {
				testCase.configure(store)
			}
			service := mustNewService(test, store)
			balance, err := service.Balance(context.Background(), testCase.caller)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf(errorMismatchMessage, testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("balance: %v", err)
			}
			if balance != testCase.wantBalance {
				test.Fatalf(errorMismatchMessage, testCase.wantBalance, balance)
			}
		})
	}
}

func TestDebitApprovedWritesOneSpendEntry(test *testing.T) {
	test.Parallel()
	userID := mustUserID(test, userIDValue)
	store := newStubStore(test).withAccount(test, userID, 47)
	service := mustNewService(test, store)

	result, err := service.Debit(context.Background(), debitRequest(test, userID, 5, "listing-1"))
	if err != nil {
		test.Fatalf("debit: %v", err)
	}
	if !result.Approved || result.Replayed || result.Balance != 42 {
		test.Fatalf("unexpected result: %+v", result)
	}
	if store.balanceOf(test, userID) != 42 {
		test.Fatalf("expected stored balance 42, got %d", store.balanceOf(test, userID))
	}
	entries := store.entriesFor(userID)
	if len(entries) != 1 {
		test.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Type() != EntrySpend || entry.Amount() != -5 || entry.BalanceAfter() != 42 {
		test.Fatalf("unexpected entry: type=%s amount=%d after=%d", entry.Type(), entry.Amount(), entry.BalanceAfter())
	}
	if entry.CreatedUnixUTC() != testNowUnixUTC || entry.Reference() != "listing-draft" {
		test.Fatalf("unexpected entry attributes: %+v", entry)
	}
}

func TestDebitDeclinedLeavesBalanceUntouched(test *testing.T) {
	test.Parallel()
	userID := mustUserID(test, userIDValue)
	store := newStubStore(test).withAccount(test, userID, 12)
	service := mustNewService(test, store)

	result, err := service.Debit(context.Background(), debitRequest(test, userID, 15, "listing-premium"))
	if err != nil {
		test.Fatalf("declined debit must not be an error: %v", err)
	}
	if result.Approved || result.Balance != 12 || result.Shortfall != 3 {
		test.Fatalf("unexpected result: %+v", result)
	}
	if store.balanceOf(test, userID) != 12 {
		test.Fatalf("balance changed on decline")
	}
	if len(store.entriesFor(userID)) != 0 {
		test.Fatalf("declined debit wrote an entry")
	}
}

func TestDebitExactBalanceReachesZero(test *testing.T) {
	test.Parallel()
	userID := mustUserID(test, userIDValue)
	store := newStubStore(test).withAccount(test, userID, 5)
	service := mustNewService(test, store)

	result, err := service.Debit(context.Background(), debitRequest(test, userID, 5, "exact"))
	if err != nil || !result.Approved || result.Balance != 0 {
		test.Fatalf("unexpected result %+v err %v", result, err)
	}
}

func TestDebitWithoutAccountDeclinesAndCreatesNothing(test *testing.T) {
	test.Parallel()
	userID := mustUserID(test, "ghost")
	store := newStubStore(test)
	service := mustNewService(test, store)

	result, err := service.Debit(context.Background(), debitRequest(test, userID, 5, "ghost-1"))
	if err != nil {
		test.Fatalf("debit: %v", err)
	}
	if result.Approved || result.Balance != 0 || result.Shortfall != 5 {
		test.Fatalf("unexpected result: %+v", result)
	}
	if len(store.accounts) != 0 {
		test.Fatalf("debit created an account")
	}
}

func TestDebitReplaysSameIdempotencyKey(test *testing.T) {
	test.Parallel()
	userID := mustUserID(test, userIDValue)
	store := newStubStore(test).withAccount(test, userID, 47)
	service := mustNewService(test, store)
	request := debitRequest(test, userID, 5, "listing-1")

	first, err := service.Debit(context.Background(), request)
	if err != nil {
		test.Fatalf("first debit: %v", err)
	}
	second, err := service.Debit(context.Background(), request)
	if err != nil {
		test.Fatalf("second debit: %v", err)
	}
	if !second.Approved || !second.Replayed || second.Balance != first.Balance {
		test.Fatalf("expected replay of %+v, got %+v", first, second)
	}
	if second.Entry.EntryID() != first.Entry.EntryID() {
		test.Fatalf("replay returned a different entry")
	}
	if store.balanceOf(test, userID) != 42 || len(store.entriesFor(userID)) != 1 {
		test.Fatalf("replay changed state")
	}
}

func TestDebitRejectsReusedKeyWithDifferentAmount(test *testing.T) {
	test.Parallel()
	userID := mustUserID(test, userIDValue)
	store := newStubStore(test).withAccount(test, userID, 47)
	service := mustNewService(test, store)

	if _, err := service.Debit(context.Background(), debitRequest(test, userID, 5, "listing-1")); err != nil {
		test.Fatalf("first debit: %v", err)
	}
	_, err := service.Debit(context.Background(), debitRequest(test, userID, 10, "listing-1"))
	if !errors.Is(err, ErrIdempotencyMismatch) {
		test.Fatalf(errorMismatchMessage, ErrIdempotencyMismatch, err)
	}
	var operationError OperationError
	if !errors.As(err, &operationError) || operationError.Code() != errorCodeMismatch {
		test.Fatalf("expected mismatch operation error, got %v", err)
	}
}

func TestDebitLosingConcurrentRaceReplaysWinner(test *testing.T) {
	test.Parallel()
	userID := mustUserID(test, userIDValue)
	store := newStubStore(test).withAccount(test, userID, 47)
	store.concurrentWinner = true
	service := mustNewService(test, store)

	result, err := service.Debit(context.Background(), debitRequest(test, userID, 5, "listing-1"))
	if err != nil {
		test.Fatalf("debit: %v", err)
	}
	if !result.Approved || !result.Replayed || result.Balance != 42 {
		test.Fatalf("unexpected result: %+v", result)
	}
	if store.balanceOf(test, userID) != 42 || len(store.entriesFor(userID)) != 1 {
		test.Fatalf("expected exactly one committed debit")
	}
}

func TestDebitStoreErrorsRollBack(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *stubStore)
	}{
		{name: "account lookup error", configure: func(store *stubStore) { store.findAccountError = errStoreFailure }},
		{name: "idempotency lookup error", configure: func(store *stubStore) { store.findEntryError = errStoreFailure }},
		{name: "conditional debit error", configure: func(store *stubStore) { store.conditionalDebitError = errStoreFailure }},
		{name: "insert entry error", configure: func(store *stubStore) { store.insertEntryError = errStoreFailure }},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			userID := mustUserID(test, userIDValue)
			store := newStubStore(test).withAccount(test, userID, 47)
			testCase.configure(store)
			service := mustNewService(test, store)

			_, err := service.Debit(context.Background(), debitRequest(test, userID, 5, "listing-1"))
			if !errors.Is(err, errStoreFailure) {
				test.Fatalf(errorMismatchMessage, errStoreFailure, err)
			}
			if errors.Is(err, ErrOutcomeUnknown) {
				test.Fatalf("plain store failure reported as unknown outcome")
			}
			if store.balanceOf(test, userID) != 47 {
				test.Fatalf("failed debit changed the balance")
			}
		})
	}
}

func TestDebitCancelledContextReportsUnknownOutcome(test *testing.T) {
	test.Parallel()
	userID := mustUserID(test, userIDValue)
	store := newStubStore(test).withAccount(test, userID, 47)
	service := mustNewService(test, store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := service.Debit(ctx, debitRequest(test, userID, 5, "listing-1"))
	if !errors.Is(err, ErrOutcomeUnknown) {
		test.Fatalf(errorMismatchMessage, ErrOutcomeUnknown, err)
	}
	if !errors.Is(err, context.Canceled) {
		test.Fatalf("expected the context cause to be preserved, got %v", err)
	}
	var operationError OperationError
	if !errors.As(err, &operationError) || operationError.Code() != errorCodeTimeout {
		test.Fatalf("expected timeout operation error, got %v", err)
	}
}

func TestConcurrentDebitsNeverOverdraw(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		balance   int64
		amount    int64
		attempts  int
		successes int
	}{
		{name: "double click on exact balance", balance: 5, amount: 5, attempts: 2, successes: 1},
		{name: "ten attempts on three debits worth", balance: 30, amount: 10, attempts: 10, successes: 3},
		{name: "enough for everyone", balance: 100, amount: 4, attempts: 20, successes: 20},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			userID := mustUserID(test, userIDValue)
			store := newStubStore(test).withAccount(test, userID, mustCredits(test, testCase.balance))
			service := mustNewService(test, store)

			var waitGroup sync.WaitGroup
			results := make(chan bool, testCase.attempts)
			for attempt := 0; attempt < testCase.attempts; attempt++ {
				request := debitRequest(test, userID, testCase.amount, "attempt-"+string(rune('a'+attempt)))
				waitGroup.Add(1)
				go func() {
					defer waitGroup.Done()
					approved, err := service.TryDebit(context.Background(), request)
					if err != nil {
						test.Errorf("debit: %v", err)
					}
					results <- approved
				}()
			}
			waitGroup.Wait()
			close(results)

			successes := 0
			for approved := range results {
				if approved {
					successes++
				}
			}
			if successes != testCase.successes {
				test.Fatalf("expected %d successes, got %d", testCase.successes, successes)
			}
			wantBalance := Credits(testCase.balance - int64(successes)*testCase.amount)
			if store.balanceOf(test, userID) != wantBalance {
				test.Fatalf("expected balance %d, got %d", wantBalance, store.balanceOf(test, userID))
			}
			if len(store.entriesFor(userID)) != successes {
				test.Fatalf("expected %d entries, got %d", successes, len(store.entriesFor(userID)))
			}
		})
	}
}

func TestCreditPurchaseAddsSingleEntry(test *testing.T) {
	test.Parallel()
	userID := mustUserID(test, userIDValue)
	store := newStubStore(test)
	service := mustNewService(test, store)

	entry, err := service.Credit(context.Background(), CreditRequest{
		UserID:         userID,
		Type:           EntryPurchase,
		Amount:         mustPositiveCredits(test, 65),
		IdempotencyKey: mustIdempotencyKey(test, "purchase:pay-1"),
		Reference:      "popular",
		Description:    "Popular Pack (60 + 5 bonus)",
	})
	if err != nil {
		test.Fatalf("credit: %v", err)
	}
	if entry.Type() != EntryPurchase || entry.Amount() != 65 || entry.BalanceAfter() != 65 {
		test.Fatalf("unexpected entry: %+v", entry)
	}
	if len(store.entriesFor(userID)) != 1 || store.balanceOf(test, userID) != 65 {
		test.Fatalf("expected one entry and balance 65")
	}
}

func TestCreditReplaysSameKey(test *testing.T) {
	test.Parallel()
	userID := mustUserID(test, userIDValue)
	store := newStubStore(test).withAccount(test, userID, 10)
	service := mustNewService(test, store)
	request := CreditRequest{
		UserID:         userID,
		Type:           EntryBonus,
		Amount:         mustPositiveCredits(test, 5),
		IdempotencyKey: mustIdempotencyKey(test, "referral:friend-1"),
	}
	first, err := service.Credit(context.Background(), request)
	if err != nil {
		test.Fatalf("first credit: %v", err)
	}
	second, err := service.Credit(context.Background(), request)
	if err != nil {
		test.Fatalf("second credit: %v", err)
	}
	if first.EntryID() != second.EntryID() || store.balanceOf(test, userID) != 15 {
		test.Fatalf("replay credited twice")
	}
	request.Amount = mustPositiveCredits(test, 6)
	if _, err := service.Credit(context.Background(), request); !errors.Is(err, ErrIdempotencyMismatch) {
		test.Fatalf(errorMismatchMessage, ErrIdempotencyMismatch, err)
	}
}

func TestCreditRejectsSpendType(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newStubStore(test))
	_, err := service.Credit(context.Background(), CreditRequest{
		UserID:         mustUserID(test, userIDValue),
		Type:           EntrySpend,
		Amount:         mustPositiveCredits(test, 5),
		IdempotencyKey: mustIdempotencyKey(test, idempotencyValue),
	})
	if !errors.Is(err, ErrInvalidEntryType) {
		test.Fatalf(errorMismatchMessage, ErrInvalidEntryType, err)
	}
}

func TestCreditStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *stubStore)
	}{
		{name: "account error", configure: func(store *stubStore) { store.getAccountError = errStoreFailure }},
		{name: "add credits error", configure: func(store *stubStore) { store.addCreditsError = errStoreFailure }},
		{name: "insert entry error", configure: func(store *stubStore) { store.insertEntryError = errStoreFailure }},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			userID := mustUserID(test, userIDValue)
			store := newStubStore(test).withAccount(test, userID, 10)
			testCase.configure(store)
			service := mustNewService(test, store)
			_, err := service.Credit(context.Background(), CreditRequest{
				UserID:         userID,
				Type:           EntryRefund,
				Amount:         mustPositiveCredits(test, 5),
				IdempotencyKey: mustIdempotencyKey(test, "token:refund"),
			})
			if !errors.Is(err, errStoreFailure) {
				test.Fatalf(errorMismatchMessage, errStoreFailure, err)
			}
			if store.balanceOf(test, userID) != 10 {
				test.Fatalf("failed credit changed the balance")
			}
		})
	}
}

func TestHistory(test *testing.T) {
	test.Parallel()
	userID := mustUserID(test, userIDValue)
	store := newStubStore(test).withAccount(test, userID, 0)
	service := mustNewService(test, store)
	ctx := context.Background()
	if _, err := service.Credit(ctx, CreditRequest{UserID: userID, Type: EntryPurchase, Amount: 25, IdempotencyKey: mustIdempotencyKey(test, "purchase:1")}); err != nil {
		test.Fatalf("credit: %v", err)
	}
	if _, err := service.Debit(ctx, debitRequest(test, userID, 5, "listing-1")); err != nil {
		test.Fatalf("debit: %v", err)
	}

	entries, err := service.History(ctx, NewCaller(userID), 0, 0)
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		test.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Type() != EntrySpend || entries[1].Type() != EntryPurchase {
		test.Fatalf("expected newest first, got %s then %s", entries[0].Type(), entries[1].Type())
	}

	if _, err := service.History(ctx, Anonymous(), 0, 0); !errors.Is(err, ErrUnauthenticated) {
		test.Fatalf(errorMismatchMessage, ErrUnauthenticated, err)
	}
	empty, err := service.History(ctx, NewCaller(mustUserID(test, "nobody")), 0, 0)
	if err != nil || len(empty) != 0 {
		test.Fatalf("expected empty history for unknown account, got %v %v", empty, err)
	}
	store.listEntriesError = errStoreFailure
	if _, err := service.History(ctx, NewCaller(userID), 0, 10); !errors.Is(err, errStoreFailure) {
		test.Fatalf(errorMismatchMessage, errStoreFailure, err)
	}
}

func TestGrantBonusRequiresAdmin(test *testing.T) {
	test.Parallel()
	recipient := mustUserID(test, userIDValue)
	admin := mustUserID(test, "admin-1")
	key := mustIdempotencyKey(test, "grant:referral-1")

	testCases := []struct {
		name    string
		caller  Caller
		wantErr error
	}{
		{name: "anonymous", caller: Anonymous(), wantErr: ErrUnauthenticated},
		{name: "regular user", caller: NewCaller(admin), wantErr: ErrForbidden},
		{name: "admin", caller: NewCaller(admin, "Admin")},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			service := mustNewService(test, store)
			entry, err := service.GrantBonus(context.Background(), testCase.caller, recipient, mustPositiveCredits(test, 10), key, "Referral bonus")
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf(errorMismatchMessage, testCase.wantErr, err)
			}
			if testCase.wantErr != nil {
				if len(store.entriesFor(recipient)) != 0 {
					test.Fatalf("rejected grant must not write entries")
				}
				return
			}
			if entry.Type() != EntryBonus || entry.Amount() != 10 || entry.Reference() != "grant:admin-1" {
				test.Fatalf("unexpected grant entry: %+v", entry)
			}
		})
	}
}

func TestLookupEntry(test *testing.T) {
	test.Parallel()
	userID := mustUserID(test, userIDValue)
	store := newStubStore(test).withAccount(test, userID, 20)
	service := mustNewService(test, store)
	request := debitRequest(test, userID, 5, idempotencyValue)
	result, err := service.Debit(context.Background(), request)
	if err != nil || !result.Approved {
		test.Fatalf("debit: %+v %v", result, err)
	}

	entry, err := service.LookupEntry(context.Background(), userID, request.IdempotencyKey)
	if err != nil || entry.EntryID() != result.Entry.EntryID() {
		test.Fatalf("unexpected lookup %+v err %v", entry, err)
	}
	if _, err := service.LookupEntry(context.Background(), userID, mustIdempotencyKey(test, "other")); !errors.Is(err, ErrUnknownEntry) {
		test.Fatalf(errorMismatchMessage, ErrUnknownEntry, err)
	}
	if _, err := service.LookupEntry(context.Background(), mustUserID(test, "stranger"), request.IdempotencyKey); !errors.Is(err, ErrUnknownEntry) {
		test.Fatalf(errorMismatchMessage, ErrUnknownEntry, err)
	}
}
