package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/MarkoPoloResearchLab/roomledger/internal/store/migrations"
	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const postgresDSNEnv = "CREDITD_TEST_POSTGRES_DSN"

func newTestStore(test *testing.T) *Store {
	test.Helper()
	dsn := os.Getenv(postgresDSNEnv)
	if dsn == "" {
		test.Skipf("%s not set", postgresDSNEnv)
	}
	ctx := context.Background()
	if err := migrations.Run(ctx, dsn, "up"); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	pool, err := Open(ctx, dsn)
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	test.Cleanup(pool.Close)
	return New(pool)
}

func TestUniqueConflictMatchesConstraint(test *testing.T) {
	test.Parallel()
	conflict := fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintEntryIdempotency})
	if !isUniqueConflict(conflict, constraintEntryIdempotency) {
		test.Fatalf("expected idempotency conflict")
	}
	if isUniqueConflict(conflict, constraintListingToken) {
		test.Fatalf("different constraint must not match")
	}
	if isUniqueConflict(errors.New("boom"), constraintEntryIdempotency) {
		test.Fatalf("plain error must not match")
	}
}

func TestConcurrentDebitsAgainstPostgres(test *testing.T) {
	store := newTestStore(test)
	service, err := ledger.NewService(store, func() int64 { return 1_700_000_000 })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	ctx := context.Background()
	userID, err := ledger.NewUserID("pg-" + uuid.NewString())
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	seedKey, _ := ledger.NewIdempotencyKey("seed")
	if _, err := service.Credit(ctx, ledger.CreditRequest{UserID: userID, Type: ledger.EntryPurchase, Amount: 47, IdempotencyKey: seedKey}); err != nil {
		test.Fatalf("seed: %v", err)
	}

	const attempts = 20
	var waitGroup sync.WaitGroup
	var mutex sync.Mutex
	successes := 0
	for attempt := 0; attempt < attempts; attempt++ {
		key, _ := ledger.NewIdempotencyKey(fmt.Sprintf("attempt-%d", attempt))
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			approved, err := service.TryDebit(ctx, ledger.DebitRequest{UserID: userID, Amount: 5, IdempotencyKey: key})
			if err != nil {
				test.Errorf("debit: %v", err)
				return
			}
			if approved {
				mutex.Lock()
				successes++
				mutex.Unlock()
			}
		}()
	}
	waitGroup.Wait()

	if successes != 9 {
		test.Fatalf("expected 9 successes, got %d", successes)
	}
	balance, err := service.Balance(ctx, ledger.NewCaller(userID))
	if err != nil || balance != 2 {
		test.Fatalf("expected balance 2, got %d (%v)", balance, err)
	}
}

func TestListingRoundTripAgainstPostgres(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	userID, _ := ledger.NewUserID("pg-" + uuid.NewString())
	token, _ := ledger.NewIdempotencyKey(uuid.NewString())
	entryID, _ := ledger.NewEntryID(uuid.NewString())
	listing := ledger.NewListing(userID, token, ledger.TierPremium, ledger.ListingDraft{Title: "Room", City: "York", RentAmount: 600, RentPeriod: "monthly"}, entryID, 1_700_000_000)

	stored, err := store.InsertListing(ctx, listing)
	if err != nil {
		test.Fatalf("insert: %v", err)
	}
	if _, err := store.InsertListing(ctx, listing); !errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		test.Fatalf("expected duplicate, got %v", err)
	}
	found, err := store.FindListingByToken(ctx, userID, token)
	if err != nil || found.ListingID != stored.ListingID || found.VisibleUntilUnixUTC != listing.VisibleUntilUnixUTC {
		test.Fatalf("unexpected listing %+v err %v", found, err)
	}
}
