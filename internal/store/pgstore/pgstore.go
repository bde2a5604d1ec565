package pgstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintEntryIdempotency = "uniq_entry_account_idem"
	constraintListingToken     = "uniq_listing_user_token"
	constraintActionToken      = "uniq_action_user_token"
	pgUniqueViolationCode      = "23505"
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectBalance        = "balance"
	errorSubjectEntry          = "entry"
	errorSubjectTransaction    = "transaction"
	errorCodeBegin             = "begin"
	errorCodeCommit            = "commit"
	errorCodeCreate            = "create"
	errorCodeCredit            = "credit"
	errorCodeDebit             = "debit"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"

	sqlInsertOrGetAccount = `
		insert into accounts(user_id) values($1)
		on conflict (user_id) do update set user_id = excluded.user_id
		returning account_id::text, user_id, credits
	`

	sqlSelectAccount = `
		select account_id::text, user_id, credits from accounts where user_id = $1
	`

	sqlConditionalDebit = `
		update accounts
		set credits = credits - $2, updated_at = now()
		where account_id = $1 and credits >= $2
		returning credits
	`

	sqlSelectCredits = `
		select credits from accounts where account_id = $1
	`

	sqlAddCredits = `
		update accounts
		set credits = credits + $2, updated_at = now()
		where account_id = $1
		returning credits
	`

	sqlInsertEntry = `
		insert into ledger_entries(
			entry_id, account_id, type, amount, balance_after, reference, idempotency_key, description, metadata, created_at
		)
		values(
			$1, $2, $3, $4, $5, $6, $7, $8,
			coalesce(nullif($9,''),'{}')::jsonb,
			to_timestamp($10)
		)
	`

	sqlEntryColumns = `
		entry_id::text,
		account_id::text,
		type,
		amount,
		balance_after,
		reference,
		idempotency_key,
		description,
		coalesce(metadata::text,'{}'),
		extract(epoch from created_at)::bigint
	`

	sqlSelectEntryByKey = `select ` + sqlEntryColumns + `
		from ledger_entries
		where account_id = $1 and idempotency_key = $2
	`

	sqlListEntriesBefore = `select ` + sqlEntryColumns + `
		from ledger_entries
		where account_id = $1 and created_at < to_timestamp($2)
		order by created_at desc, entry_id desc
		limit $3
	`
)

// querier is the subset of pgx shared by the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool. A Store handed to a WithTx callback
// runs every statement on that transaction.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// Open creates a pool for dsn and verifies connectivity.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &Store{db: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetOrCreateAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	account, err := scanAccount(store.db.QueryRow(ctx, sqlInsertOrGetAccount, userID.String()))
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return account, nil
}

func (store *Store) FindAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	account, err := scanAccount(store.db.QueryRow(ctx, sqlSelectAccount, userID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrUnknownAccount)
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return account, nil
}

// ConditionalDebit runs the guarded decrement; no returned row means the balance did not cover
// amount, and the current balance is read back for the caller.
func (store *Store) ConditionalDebit(ctx context.Context, accountID ledger.AccountID, amount ledger.PositiveCredits) (ledger.Credits, bool, error) {
	var credits int64
	err := store.db.QueryRow(ctx, sqlConditionalDebit, accountID.String(), amount.Int64()).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := store.readCredits(ctx, accountID)
		if err != nil {
			return 0, false, err
		}
		return current, false, nil
	}
	if err != nil {
		return 0, false, wrapStoreError(errorSubjectBalance, errorCodeDebit, err)
	}
	balance, err := ledger.NewCredits(credits)
	if err != nil {
		return 0, false, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, true, nil
}

func (store *Store) readCredits(ctx context.Context, accountID ledger.AccountID) (ledger.Credits, error) {
	var credits int64
	err := store.db.QueryRow(ctx, sqlSelectCredits, accountID.String()).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, ledger.ErrUnknownAccount)
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	balance, err := ledger.NewCredits(credits)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

func (store *Store) AddCredits(ctx context.Context, accountID ledger.AccountID, amount ledger.PositiveCredits) (ledger.Credits, error) {
	var credits int64
	err := store.db.QueryRow(ctx, sqlAddCredits, accountID.String(), amount.Int64()).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeCredit, ledger.ErrUnknownAccount)
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeCredit, err)
	}
	balance, err := ledger.NewCredits(credits)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

func (store *Store) InsertEntry(ctx context.Context, entryInput ledger.EntryInput) (ledger.Entry, error) {
	entryUUID, err := uuid.NewV7()
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	_, err = store.db.Exec(ctx, sqlInsertEntry,
		entryUUID.String(),
		entryInput.AccountID().String(),
		entryInput.Type().String(),
		entryInput.Amount().Int64(),
		entryInput.BalanceAfter().Int64(),
		entryInput.Reference(),
		entryInput.IdempotencyKey().String(),
		entryInput.Description(),
		entryInput.MetadataJSON().String(),
		entryInput.CreatedUnixUTC(),
	)
	if isUniqueConflict(err, constraintEntryIdempotency) {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	entryID, err := ledger.NewEntryID(entryUUID.String())
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	entry, err := ledger.NewEntry(entryID, entryInput)
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

func (store *Store) FindEntryByIdempotencyKey(ctx context.Context, accountID ledger.AccountID, idempotencyKey ledger.IdempotencyKey) (ledger.Entry, error) {
	entry, err := scanEntry(store.db.QueryRow(ctx, sqlSelectEntryByKey, accountID.String(), idempotencyKey.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, ledger.ErrUnknownEntry)
	}
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	return entry, nil
}

func (store *Store) ListEntries(ctx context.Context, accountID ledger.AccountID, beforeUnixUTC int64, limit int) ([]ledger.Entry, error) {
	rows, err := store.db.Query(ctx, sqlListEntriesBefore, accountID.String(), beforeUnixUTC, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()

	entries := make([]ledger.Entry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return entries, nil
}

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		accountIDValue string
		userIDValue    string
		credits        int64
	)
	if err := row.Scan(&accountIDValue, &userIDValue, &credits); err != nil {
		return ledger.Account{}, err
	}
	accountID, err := ledger.NewAccountID(accountIDValue)
	if err != nil {
		return ledger.Account{}, err
	}
	userID, err := ledger.NewUserID(userIDValue)
	if err != nil {
		return ledger.Account{}, err
	}
	balance, err := ledger.NewCredits(credits)
	if err != nil {
		return ledger.Account{}, err
	}
	return ledger.Account{AccountID: accountID, UserID: userID, Credits: balance}, nil
}

func scanEntry(row pgx.Row) (ledger.Entry, error) {
	var (
		entryIDValue     string
		accountIDValue   string
		entryTypeValue   string
		amountValue      int64
		balanceValue     int64
		reference        string
		idempotencyValue string
		description      string
		metadataValue    string
		createdAtUnixUTC int64
	)
	if err := row.Scan(
		&entryIDValue,
		&accountIDValue,
		&entryTypeValue,
		&amountValue,
		&balanceValue,
		&reference,
		&idempotencyValue,
		&description,
		&metadataValue,
		&createdAtUnixUTC,
	); err != nil {
		return ledger.Entry{}, err
	}
	entryID, err := ledger.NewEntryID(entryIDValue)
	if err != nil {
		return ledger.Entry{}, err
	}
	accountID, err := ledger.NewAccountID(accountIDValue)
	if err != nil {
		return ledger.Entry{}, err
	}
	entryType, err := ledger.ParseEntryType(entryTypeValue)
	if err != nil {
		return ledger.Entry{}, err
	}
	amount, err := ledger.NewSignedCredits(amountValue)
	if err != nil {
		return ledger.Entry{}, err
	}
	balanceAfter, err := ledger.NewCredits(balanceValue)
	if err != nil {
		return ledger.Entry{}, err
	}
	idempotencyKey, err := ledger.NewIdempotencyKey(idempotencyValue)
	if err != nil {
		return ledger.Entry{}, err
	}
	metadata, err := ledger.NewMetadataJSON(metadataValue)
	if err != nil {
		return ledger.Entry{}, err
	}
	input, err := ledger.NewEntryInput(accountID, entryType, amount, balanceAfter, reference, idempotencyKey, description, metadata, createdAtUnixUTC)
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.NewEntry(entryID, input)
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueConflict(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}
