package httpapi

import (
	"encoding/json"

	"github.com/MarkoPoloResearchLab/roomledger/internal/orchestrator"
	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
)

type gateRequest struct {
	Tier   string `json:"tier"`
	Action string `json:"action"`
}

type listingRequest struct {
	Tier          string `json:"tier"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Address       string `json:"address"`
	City          string `json:"city"`
	Postcode      string `json:"postcode"`
	RentAmount    int64  `json:"rent_amount"`
	RentPeriod    string `json:"rent_period"`
	DepositAmount int64  `json:"deposit_amount"`
	BillsIncluded bool   `json:"bills_included"`
	AvailableFrom string `json:"available_from"`
	PropertyType  string `json:"property_type"`
	Furnished     bool   `json:"furnished"`
	Parking       bool   `json:"parking"`
}

func (request listingRequest) draft() ledger.ListingDraft {
	return ledger.ListingDraft{
		Title:         request.Title,
		Description:   request.Description,
		Address:       request.Address,
		City:          request.City,
		Postcode:      request.Postcode,
		RentAmount:    request.RentAmount,
		RentPeriod:    request.RentPeriod,
		DepositAmount: request.DepositAmount,
		BillsIncluded: request.BillsIncluded,
		AvailableFrom: request.AvailableFrom,
		PropertyType:  request.PropertyType,
		Furnished:     request.Furnished,
		Parking:       request.Parking,
	}
}

type actionRequest struct {
	Target string `json:"target"`
}

type profileRequest struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Phone       string `json:"phone"`
	Gender      string `json:"gender"`
	Occupation  string `json:"occupation"`
	Bio         string `json:"bio"`
	DateOfBirth string `json:"date_of_birth"`
	UserType    string `json:"user_type"`
}

type grantRequest struct {
	UserID         string `json:"user_id"`
	Amount         int64  `json:"amount"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotency_key"`
}

type entryPayload struct {
	EntryID        string          `json:"entry_id"`
	Type           string          `json:"type"`
	Amount         int64           `json:"amount"`
	BalanceAfter   int64           `json:"balance_after"`
	Reference      string          `json:"reference,omitempty"`
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

func newEntryPayload(entry ledger.Entry) entryPayload {
	metadata := entry.MetadataJSON().String()
	if metadata == "" {
		metadata = "{}"
	}
	return entryPayload{
		EntryID:        entry.EntryID().String(),
		Type:           entry.Type().String(),
		Amount:         entry.Amount().Int64(),
		BalanceAfter:   entry.BalanceAfter().Int64(),
		Reference:      entry.Reference(),
		Description:    entry.Description(),
		IdempotencyKey: entry.IdempotencyKey().String(),
		Metadata:       json.RawMessage(metadata),
		CreatedUnixUTC: entry.CreatedUnixUTC(),
	}
}

type historyResponse struct {
	Entries    []entryPayload `json:"entries"`
	NextBefore int64          `json:"next_before,omitempty"`
}

type packagePayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Base       int64  `json:"base"`
	Bonus      int64  `json:"bonus"`
	Total      int64  `json:"total"`
	PricePence int64  `json:"price_pence"`
}

type gatePayload struct {
	Verdict   string `json:"verdict"`
	Balance   int64  `json:"balance"`
	Price     int64  `json:"price"`
	Shortfall int64  `json:"shortfall"`
}

func newGatePayload(decision ledger.GateDecision) gatePayload {
	return gatePayload{
		Verdict:   string(decision.Verdict),
		Balance:   decision.Balance.Int64(),
		Price:     decision.Price.Int64(),
		Shortfall: decision.Shortfall.Int64(),
	}
}

type listingPayload struct {
	ListingID           string `json:"listing_id"`
	Tier                string `json:"tier"`
	Title               string `json:"title"`
	City                string `json:"city"`
	Postcode            string `json:"postcode"`
	RentAmount          int64  `json:"rent_amount"`
	RentPeriod          string `json:"rent_period"`
	Status              string `json:"status"`
	VisibleUntilUnixUTC int64  `json:"visible_until_unix_utc"`
	CreatedUnixUTC      int64  `json:"created_unix_utc"`
}

type actionRecordPayload struct {
	RecordID       string `json:"record_id"`
	Action         string `json:"action"`
	Target         string `json:"target"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

type outcomePayload struct {
	Outcome       string               `json:"outcome"`
	Replayed      bool                 `json:"replayed"`
	Price         int64                `json:"price"`
	Balance       int64                `json:"balance"`
	SpendEntryID  string               `json:"spend_entry_id,omitempty"`
	RefundEntryID string               `json:"refund_entry_id,omitempty"`
	TopUp         *gatePayload         `json:"top_up,omitempty"`
	Listing       *listingPayload      `json:"listing,omitempty"`
	Record        *actionRecordPayload `json:"record,omitempty"`
}

func newOutcomePayload(outcome orchestrator.Outcome) outcomePayload {
	payload := outcomePayload{
		Outcome:       string(outcome.Kind),
		Replayed:      outcome.Replayed,
		Price:         outcome.Price.Int64(),
		Balance:       outcome.Balance.Int64(),
		SpendEntryID:  outcome.SpendEntryID.String(),
		RefundEntryID: outcome.RefundEntryID.String(),
	}
	if outcome.Kind == orchestrator.OutcomeDeclined {
		topUp := newGatePayload(outcome.Gate)
		payload.TopUp = &topUp
	}
	if listing := outcome.Listing; listing != nil {
		payload.Listing = &listingPayload{
			ListingID:           listing.ListingID,
			Tier:                listing.Tier.String(),
			Title:               listing.Draft.Title,
			City:                listing.Draft.City,
			Postcode:            listing.Draft.Postcode,
			RentAmount:          listing.Draft.RentAmount,
			RentPeriod:          listing.Draft.RentPeriod,
			Status:              listing.Status,
			VisibleUntilUnixUTC: listing.VisibleUntilUnixUTC,
			CreatedUnixUTC:      listing.CreatedUnixUTC,
		}
	}
	if record := outcome.Record; record != nil {
		payload.Record = &actionRecordPayload{
			RecordID:       record.RecordID,
			Action:         record.Action.String(),
			Target:         record.Target,
			CreatedUnixUTC: record.CreatedUnixUTC,
		}
	}
	return payload
}

type profilePayload struct {
	FullName    string `json:"full_name"`
	Phone       string `json:"phone,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Occupation  string `json:"occupation,omitempty"`
	Bio         string `json:"bio,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	UserType    string `json:"user_type"`
}

func newProfilePayload(profile ledger.Profile) profilePayload {
	return profilePayload{
		FullName:    profile.FullName,
		Phone:       profile.Phone,
		Gender:      profile.Gender,
		Occupation:  profile.Occupation,
		Bio:         profile.Bio,
		DateOfBirth: profile.DateOfBirth,
		UserType:    profile.UserType,
	}
}
