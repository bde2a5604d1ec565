package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestGate(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name          string
		balance       Credits
		price         PositiveCredits
		authenticated bool
		wantVerdict   Verdict
		wantShortfall Credits
		wantBalance   Credits
	}{
		{name: "covers", balance: 47, price: 5, authenticated: true, wantVerdict: VerdictProceed, wantBalance: 47},
		{name: "exact", balance: 5, price: 5, authenticated: true, wantVerdict: VerdictProceed, wantBalance: 5},
		{name: "short", balance: 12, price: 15, authenticated: true, wantVerdict: VerdictOfferTopUp, wantShortfall: 3, wantBalance: 12},
		{name: "empty", balance: 0, price: 2, authenticated: true, wantVerdict: VerdictOfferTopUp, wantShortfall: 2},
		{name: "anonymous", balance: 99, price: 2, authenticated: false, wantVerdict: VerdictBlocked},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			decision := Gate(testCase.balance, testCase.price, testCase.authenticated)
			if decision.Verdict != testCase.wantVerdict || decision.Shortfall != testCase.wantShortfall || decision.Balance != testCase.wantBalance {
				test.Fatalf("unexpected decision: %+v", decision)
			}
			if decision.Price != testCase.price {
				test.Fatalf("expected price %d, got %d", testCase.price, decision.Price)
			}
		})
	}
}

func TestEvaluateGateReadsFreshBalance(test *testing.T) {
	test.Parallel()
	userID := mustUserID(test, userIDValue)
	store := newStubStore(test).withAccount(test, userID, 12)
	service := mustNewService(test, store)
	caller := NewCaller(userID)

	decision, err := service.EvaluateGate(context.Background(), caller, 10)
	if err != nil || decision.Verdict != VerdictProceed {
		test.Fatalf("unexpected decision %+v err %v", decision, err)
	}
	if _, err := service.Debit(context.Background(), debitRequest(test, userID, 10, "listing-1")); err != nil {
		test.Fatalf("debit: %v", err)
	}
	decision, err = service.EvaluateGate(context.Background(), caller, 10)
	if err != nil || decision.Verdict != VerdictOfferTopUp || decision.Shortfall != 8 {
		test.Fatalf("unexpected decision %+v err %v", decision, err)
	}

	store.findAccountError = errStoreFailure
	if _, err := service.EvaluateGate(context.Background(), caller, 10); !errors.Is(err, errStoreFailure) {
		test.Fatalf("expected store failure, got %v", err)
	}
	decision, err = service.EvaluateGate(context.Background(), Anonymous(), 10)
	if err != nil || decision.Verdict != VerdictBlocked {
		test.Fatalf("unexpected anonymous decision %+v err %v", decision, err)
	}
}
