package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
)

const (
	userIDValue      = "user-1"
	accountIDValue   = "acct-1"
	entryIDValue     = "entry-1"
	idempotencyValue = "idem-1"
	metadataValue    = "{\"source\":\"test\"}"
	testNowUnixUTC   = int64(1_700_000_000)
)

// stubStore is an in-memory Store. WithTx holds the store mutex for the whole callback and
// restores the previous state when the callback fails, mirroring a rolled-back transaction.
type stubStore struct {
	mutex    sync.Mutex
	accounts map[UserID]Account
	entries  []Entry
	nextID   int

	findAccountError      error
	getAccountError       error
	conditionalDebitError error
	addCreditsError       error
	insertEntryError      error
	findEntryError        error
	listEntriesError      error

	// concurrentWinner makes the next InsertEntry behave as if another transaction committed the
	// same idempotency key first: this transaction fails and the other one's entry appears.
	concurrentWinner bool
	pendingWinner    *Entry

	insertCount int
	debitCalls  int
}

type stubSnapshot struct {
	accounts map[UserID]Account
	entries  []Entry
	nextID   int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{accounts: make(map[UserID]Account)}
}

func (store *stubStore) withAccount(test *testing.T, userID UserID, credits Credits) *stubStore {
	test.Helper()
	store.accounts[userID] = Account{
		AccountID: mustAccountID(test, "acct-"+userID.String()),
		UserID:    userID,
		Credits:   credits,
	}
	return store
}

func (store *stubStore) snapshot() stubSnapshot {
	accounts := make(map[UserID]Account, len(store.accounts))
	for key, value := range store.accounts {
		accounts[key] = value
	}
	return stubSnapshot{accounts: accounts, entries: append([]Entry(nil), store.entries...), nextID: store.nextID}
}

func (store *stubStore) restore(snapshot stubSnapshot) {
	store.accounts = snapshot.accounts
	store.entries = snapshot.entries
	store.nextID = snapshot.nextID
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	snapshot := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(snapshot)
		if store.pendingWinner != nil {
			store.commitWinner(*store.pendingWinner)
			store.pendingWinner = nil
		}
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreateAccount(ctx context.Context, userID UserID) (Account, error) {
	if store.getAccountError != nil {
		return Account{}, store.getAccountError
	}
	if account, ok := store.accounts[userID]; ok {
		return account, nil
	}
	accountID, err := NewAccountID("acct-" + userID.String())
	if err != nil {
		return Account{}, err
	}
	account := Account{AccountID: accountID, UserID: userID}
	store.accounts[userID] = account
	return account, nil
}

func (store *stubStore) FindAccount(ctx context.Context, userID UserID) (Account, error) {
	if store.findAccountError != nil {
		return Account{}, store.findAccountError
	}
	account, ok := store.accounts[userID]
	if !ok {
		return Account{}, ErrUnknownAccount
	}
	return account, nil
}

func (store *stubStore) accountByID(accountID AccountID) (UserID, Account, bool) {
	for userID, account := range store.accounts {
		if account.AccountID == accountID {
			return userID, account, true
		}
	}
	return UserID{}, Account{}, false
}

func (store *stubStore) ConditionalDebit(ctx context.Context, accountID AccountID, amount PositiveCredits) (Credits, bool, error) {
	store.debitCalls++
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if store.conditionalDebitError != nil {
		return 0, false, store.conditionalDebitError
	}
	userID, account, ok := store.accountByID(accountID)
	if !ok {
		return 0, false, ErrUnknownAccount
	}
	if !account.Credits.Covers(amount) {
		return account.Credits, false, nil
	}
	account.Credits = Credits(account.Credits.Int64() - amount.Int64())
	store.accounts[userID] = account
	return account.Credits, true, nil
}

func (store *stubStore) AddCredits(ctx context.Context, accountID AccountID, amount PositiveCredits) (Credits, error) {
	if store.addCreditsError != nil {
		return 0, store.addCreditsError
	}
	userID, account, ok := store.accountByID(accountID)
	if !ok {
		return 0, ErrUnknownAccount
	}
	account.Credits = Credits(account.Credits.Int64() + amount.Int64())
	store.accounts[userID] = account
	return account.Credits, nil
}

func (store *stubStore) InsertEntry(ctx context.Context, input EntryInput) (Entry, error) {
	if store.insertEntryError != nil {
		return Entry{}, store.insertEntryError
	}
	if store.concurrentWinner {
		store.concurrentWinner = false
		store.nextID++
		winner := Entry{EntryInput: input, entryID: EntryID{value: fmt.Sprintf("entry-%d", store.nextID)}}
		store.pendingWinner = &winner
		return Entry{}, ErrDuplicateIdempotencyKey
	}
	for _, existing := range store.entries {
		if existing.AccountID() == input.AccountID() && existing.IdempotencyKey() == input.IdempotencyKey() {
			return Entry{}, ErrDuplicateIdempotencyKey
		}
	}
	store.nextID++
	store.insertCount++
	entry := Entry{EntryInput: input, entryID: EntryID{value: fmt.Sprintf("entry-%d", store.nextID)}}
	store.entries = append(store.entries, entry)
	return entry, nil
}

func (store *stubStore) commitWinner(entry Entry) {
	userID, account, ok := store.accountByID(entry.AccountID())
	if !ok {
		return
	}
	account.Credits = entry.BalanceAfter()
	store.accounts[userID] = account
	store.entries = append(store.entries, entry)
}

func (store *stubStore) FindEntryByIdempotencyKey(ctx context.Context, accountID AccountID, idempotencyKey IdempotencyKey) (Entry, error) {
	if store.findEntryError != nil {
		return Entry{}, store.findEntryError
	}
	for _, entry := range store.entries {
		if entry.AccountID() == accountID && entry.IdempotencyKey() == idempotencyKey {
			return entry, nil
		}
	}
	return Entry{}, ErrUnknownEntry
}

func (store *stubStore) ListEntries(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	if store.listEntriesError != nil {
		return nil, store.listEntriesError
	}
	matched := make([]Entry, 0)
	for index := len(store.entries) - 1; index >= 0; index-- {
		entry := store.entries[index]
		if entry.AccountID() == accountID && entry.CreatedUnixUTC() < beforeUnixUTC {
			matched = append(matched, entry)
		}
	}
	sort.SliceStable(matched, func(left, right int) bool {
		return matched[left].CreatedUnixUTC() > matched[right].CreatedUnixUTC()
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (store *stubStore) balanceOf(test *testing.T, userID UserID) Credits {
	test.Helper()
	store.mutex.Lock()
	defer store.mutex.Unlock()
	account, ok := store.accounts[userID]
	if !ok {
		test.Fatalf("account for %s not found", userID.String())
	}
	return account.Credits
}

func (store *stubStore) entriesFor(userID UserID) []Entry {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	account, ok := store.accounts[userID]
	if !ok {
		return nil
	}
	result := make([]Entry, 0)
	for _, entry := range store.entries {
		if entry.AccountID() == account.AccountID {
			result = append(result, entry)
		}
	}
	return result
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return testNowUnixUTC }, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	accountID, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return accountID
}

func mustEntryID(test *testing.T, raw string) EntryID {
	test.Helper()
	entryID, err := NewEntryID(raw)
	if err != nil {
		test.Fatalf("entry id: %v", err)
	}
	return entryID
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	key, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return key
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return metadata
}

func mustPositiveCredits(test *testing.T, raw int64) PositiveCredits {
	test.Helper()
	amount, err := NewPositiveCredits(raw)
	if err != nil {
		test.Fatalf("positive credits: %v", err)
	}
	return amount
}

func mustCredits(test *testing.T, raw int64) Credits {
	test.Helper()
	credits, err := NewCredits(raw)
	if err != nil {
		test.Fatalf("credits: %v", err)
	}
	return credits
}

func debitRequest(test *testing.T, userID UserID, amount int64, key string) DebitRequest {
	test.Helper()
	return DebitRequest{
		UserID:         userID,
		Amount:         mustPositiveCredits(test, amount),
		IdempotencyKey: mustIdempotencyKey(test, key),
		Reference:      "listing-draft",
		Metadata:       mustMetadata(test, metadataValue),
	}
}
