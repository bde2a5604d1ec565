package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidListing  = errors.New("invalid listing")
	ErrUnknownListing  = errors.New("unknown listing")
	ErrUnknownActionID = errors.New("unknown action record")
	ErrInvalidProfile  = errors.New("invalid profile")
)

const (
	ListingStatusActive = "active"
	secondsPerDay       = int64(24 * 60 * 60)
)

// ListingDraft is the caller-supplied content of a room listing.
type ListingDraft struct {
	Title         string
	Description   string
	Address       string
	City          string
	Postcode      string
	RentAmount    int64
	RentPeriod    string
	DepositAmount int64
	BillsIncluded bool
	AvailableFrom string
	PropertyType  string
	Furnished     bool
	Parking       bool
}

// Normalize trims text fields and checks the fields a listing cannot be published without.
func (draft ListingDraft) Normalize() (ListingDraft, error) {
	draft.Title = strings.TrimSpace(draft.Title)
	draft.Description = strings.TrimSpace(draft.Description)
	draft.Address = strings.TrimSpace(draft.Address)
	draft.City = strings.TrimSpace(draft.City)
	draft.Postcode = strings.ToUpper(strings.TrimSpace(draft.Postcode))
	draft.RentPeriod = strings.ToLower(strings.TrimSpace(draft.RentPeriod))
	draft.AvailableFrom = strings.TrimSpace(draft.AvailableFrom)
	draft.PropertyType = strings.ToLower(strings.TrimSpace(draft.PropertyType))
	switch {
	case draft.Title == "":
		return ListingDraft{}, fmt.Errorf("%w: title is required", ErrInvalidListing)
	case draft.City == "":
		return ListingDraft{}, fmt.Errorf("%w: city is required", ErrInvalidListing)
	case draft.RentAmount <= 0:
		return ListingDraft{}, fmt.Errorf("%w: rent amount must be positive", ErrInvalidListing)
	case draft.DepositAmount < 0:
		return ListingDraft{}, fmt.Errorf("%w: deposit must not be negative", ErrInvalidListing)
	}
	if draft.RentPeriod == "" {
		draft.RentPeriod = "monthly"
	}
	return draft, nil
}

// Listing is a published listing. Token is the client attempt token that paid for it.
type Listing struct {
	ListingID           string
	UserID              UserID
	Token               IdempotencyKey
	Tier                Tier
	Draft               ListingDraft
	Status              string
	SpendEntryID        EntryID
	VisibleUntilUnixUTC int64
	CreatedUnixUTC      int64
}

// NewListing builds an active listing visible for the tier's window starting at nowUnixUTC.
func NewListing(userID UserID, token IdempotencyKey, tier Tier, draft ListingDraft, spendEntryID EntryID, nowUnixUTC int64) Listing {
	return Listing{
		UserID:              userID,
		Token:               token,
		Tier:                tier,
		Draft:               draft,
		Status:              ListingStatusActive,
		SpendEntryID:        spendEntryID,
		VisibleUntilUnixUTC: nowUnixUTC + int64(tier.VisibilityDays())*secondsPerDay,
		CreatedUnixUTC:      nowUnixUTC,
	}
}

// ActionRecord is the stored side effect of a generic paid action such as a contact request.
type ActionRecord struct {
	RecordID       string
	UserID         UserID
	Token          IdempotencyKey
	Action         Action
	Target         string
	SpendEntryID   EntryID
	CreatedUnixUTC int64
}

// Inconsistency records a paid action that failed after its debit and whose refund also failed.
type Inconsistency struct {
	InconsistencyID string
	UserID          UserID
	Token           IdempotencyKey
	Amount          PositiveCredits
	SpendEntryID    EntryID
	ActionError     string
	RefundError     string
	CreatedUnixUTC  int64
}

// ListingStore persists published listings.
type ListingStore interface {
	InsertListing(ctx context.Context, listing Listing) (Listing, error)
	FindListingByToken(ctx context.Context, userID UserID, token IdempotencyKey) (Listing, error)
}

// ActionRecordStore persists side effects of generic paid actions.
type ActionRecordStore interface {
	InsertActionRecord(ctx context.Context, record ActionRecord) (ActionRecord, error)
	FindActionRecordByToken(ctx context.Context, userID UserID, token IdempotencyKey) (ActionRecord, error)
}

// InconsistencyStore durably records failed compensations for manual resolution.
type InconsistencyStore interface {
	RecordInconsistency(ctx context.Context, inconsistency Inconsistency) (Inconsistency, error)
}
