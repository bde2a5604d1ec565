package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Credits is a non-negative credit balance.
type Credits int64

// PositiveCredits is a strictly positive credit amount (prices, debits, grants).
type PositiveCredits int64

// SignedCredits is the signed delta recorded on a ledger entry.
type SignedCredits int64

// UserID identifies the owner of an account as reported by the identity provider.
type UserID struct {
	value string
}

// AccountID identifies a stored account row.
type AccountID struct {
	value string
}

// EntryID identifies a ledger entry.
type EntryID struct {
	value string
}

// IdempotencyKey scopes duplicate detection for a single logical balance change.
type IdempotencyKey struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewCredits validates a balance value.
func NewCredits(raw int64) (Credits, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidCredits)
	}
	return Credits(raw), nil
}

// Int64 returns the raw value.
func (credits Credits) Int64() int64 {
	return int64(credits)
}

// Covers reports whether the balance is enough to pay amount.
func (credits Credits) Covers(amount PositiveCredits) bool {
	return credits.Int64() >= amount.Int64()
}

// NewPositiveCredits validates an amount and ensures it is strictly positive.
func NewPositiveCredits(raw int64) (PositiveCredits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCredits)
	}
	return PositiveCredits(raw), nil
}

// Int64 returns the raw value.
func (amount PositiveCredits) Int64() int64 {
	return int64(amount)
}

// Debit returns the negative entry delta for the amount.
func (amount PositiveCredits) Debit() SignedCredits {
	return SignedCredits(-amount.Int64())
}

// Credit returns the positive entry delta for the amount.
func (amount PositiveCredits) Credit() SignedCredits {
	return SignedCredits(amount.Int64())
}

// NewSignedCredits validates a non-zero entry delta.
func NewSignedCredits(raw int64) (SignedCredits, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: must not be zero", ErrInvalidEntryAmount)
	}
	return SignedCredits(raw), nil
}

// Int64 returns the raw value.
func (amount SignedCredits) Int64() int64 {
	return int64(amount)
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// NewEntryID validates and normalizes an entry id.
func NewEntryID(raw string) (EntryID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EntryID{}, fmt.Errorf("%w: empty value", ErrInvalidEntryID)
	}
	return EntryID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id EntryID) String() string {
	return id.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// Derive returns a new key scoped under this one.
func (key IdempotencyKey) Derive(suffix string) (IdempotencyKey, error) {
	return NewIdempotencyKey(key.value + idempotencyKeyDelimiter + suffix)
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = defaultMetadataJSON
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return defaultMetadataJSON
	}
	return metadata.value
}

// EntryType enumerates ledger entry kinds.
type EntryType string

const (
	EntryPurchase EntryType = "purchase"
	EntrySpend    EntryType = "spend"
	EntryBonus    EntryType = "bonus"
	EntryRefund   EntryType = "refund"
)

// ParseEntryType validates a stored entry type.
func ParseEntryType(raw string) (EntryType, error) {
	switch EntryType(strings.TrimSpace(raw)) {
	case EntryPurchase:
		return EntryPurchase, nil
	case EntrySpend:
		return EntrySpend, nil
	case EntryBonus:
		return EntryBonus, nil
	case EntryRefund:
		return EntryRefund, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, raw)
	}
}

// String returns the stored representation.
func (entryType EntryType) String() string {
	return string(entryType)
}

// IsCredit reports whether entries of this type add to the balance.
func (entryType EntryType) IsCredit() bool {
	return entryType == EntryPurchase || entryType == EntryBonus || entryType == EntryRefund
}

// EntryInput is the validated payload for appending a ledger entry.
type EntryInput struct {
	accountID      AccountID
	entryType      EntryType
	amount         SignedCredits
	balanceAfter   Credits
	reference      string
	idempotencyKey IdempotencyKey
	description    string
	metadata       MetadataJSON
	createdUnixUTC int64
}

// NewEntryInput validates the sign of amount against the entry type.
func NewEntryInput(accountID AccountID, entryType EntryType, amount SignedCredits, balanceAfter Credits, reference string, idempotencyKey IdempotencyKey, description string, metadata MetadataJSON, createdUnixUTC int64) (EntryInput, error) {
	if accountID.String() == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if _, err := ParseEntryType(entryType.String()); err != nil {
		return EntryInput{}, err
	}
	if amount == 0 {
		return EntryInput{}, fmt.Errorf("%w: must not be zero", ErrInvalidEntryAmount)
	}
	if entryType.IsCredit() != (amount > 0) {
		return EntryInput{}, fmt.Errorf("%w: sign does not match %s", ErrInvalidEntryAmount, entryType)
	}
	if balanceAfter < 0 {
		return EntryInput{}, fmt.Errorf("%w: resulting balance is negative", ErrInvalidCredits)
	}
	if idempotencyKey.String() == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return EntryInput{
		accountID:      accountID,
		entryType:      entryType,
		amount:         amount,
		balanceAfter:   balanceAfter,
		reference:      strings.TrimSpace(reference),
		idempotencyKey: idempotencyKey,
		description:    strings.TrimSpace(description),
		metadata:       metadata,
		createdUnixUTC: createdUnixUTC,
	}, nil
}

func (input EntryInput) AccountID() AccountID           { return input.accountID }
func (input EntryInput) Type() EntryType                { return input.entryType }
func (input EntryInput) Amount() SignedCredits          { return input.amount }
func (input EntryInput) BalanceAfter() Credits          { return input.balanceAfter }
func (input EntryInput) Reference() string              { return input.reference }
func (input EntryInput) IdempotencyKey() IdempotencyKey { return input.idempotencyKey }
func (input EntryInput) Description() string            { return input.description }
func (input EntryInput) MetadataJSON() MetadataJSON     { return input.metadata }
func (input EntryInput) CreatedUnixUTC() int64          { return input.createdUnixUTC }

// Entry is a single immutable line in the ledger.
type Entry struct {
	EntryInput
	entryID EntryID
}

// NewEntry attaches a stored id to a validated input.
func NewEntry(entryID EntryID, input EntryInput) (Entry, error) {
	if entryID.String() == "" {
		return Entry{}, fmt.Errorf("%w: empty value", ErrInvalidEntryID)
	}
	return Entry{EntryInput: input, entryID: entryID}, nil
}

// EntryID returns the stored identifier.
func (entry Entry) EntryID() EntryID {
	return entry.entryID
}

// Account is the stored balance row for a user.
type Account struct {
	AccountID AccountID
	UserID    UserID
	Credits   Credits
}

// Caller is the identity behind a request. The zero value is unauthenticated.
type Caller struct {
	userID UserID
	roles  []string
}

// NewCaller builds an authenticated caller.
func NewCaller(userID UserID, roles ...string) Caller {
	return Caller{userID: userID, roles: roles}
}

// Anonymous returns an unauthenticated caller.
func Anonymous() Caller {
	return Caller{}
}

// Authenticated reports whether the caller carries a valid identity.
func (caller Caller) Authenticated() bool {
	return !caller.userID.IsZero()
}

// UserID returns the caller identity; zero when unauthenticated.
func (caller Caller) UserID() UserID {
	return caller.userID
}

// HasRole reports whether the identity provider granted role to the caller.
func (caller Caller) HasRole(role string) bool {
	for _, candidate := range caller.roles {
		if strings.EqualFold(candidate, role) {
			return true
		}
	}
	return false
}

// Store is the persistence contract used by Service.
//
// ConditionalDebit is the load-bearing primitive: it must decrement the balance only when the
// stored balance covers amount, in a single statement, and report ok=false otherwise.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateAccount(ctx context.Context, userID UserID) (Account, error)
	FindAccount(ctx context.Context, userID UserID) (Account, error)
	ConditionalDebit(ctx context.Context, accountID AccountID, amount PositiveCredits) (Credits, bool, error)
	AddCredits(ctx context.Context, accountID AccountID, amount PositiveCredits) (Credits, error)
	InsertEntry(ctx context.Context, entry EntryInput) (Entry, error)
	FindEntryByIdempotencyKey(ctx context.Context, accountID AccountID, idempotencyKey IdempotencyKey) (Entry, error)
	ListEntries(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error)
}
