package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
)

const actionNameListing = "listing"

// ActionPerformer carries out a generic priced action such as delivering a contact request.
type ActionPerformer interface {
	Perform(ctx context.Context, userID ledger.UserID, action ledger.Action, target string) error
}

// ActionPerformerFunc adapts a function to ActionPerformer.
type ActionPerformerFunc func(ctx context.Context, userID ledger.UserID, action ledger.Action, target string) error

func (fn ActionPerformerFunc) Perform(ctx context.Context, userID ledger.UserID, action ledger.Action, target string) error {
	return fn(ctx, userID, action, target)
}

type noopPerformer struct{}

func (noopPerformer) Perform(context.Context, ledger.UserID, ledger.Action, string) error {
	return nil
}

// PublishListing charges the tier price and inserts the listing. A token that already
// published a listing returns it without charging again.
func (orchestrator *Orchestrator) PublishListing(ctx context.Context, caller ledger.Caller, tier ledger.Tier, draft ledger.ListingDraft, token ledger.IdempotencyKey) (Outcome, error) {
	normalized, err := draft.Normalize()
	if err != nil {
		return Outcome{}, err
	}
	price, err := orchestrator.prices.TierPrice(tier)
	if err != nil {
		return Outcome{}, err
	}
	var listing *ledger.Listing
	outcome, err := orchestrator.Run(ctx, PaidAction{
		Caller:    caller,
		Token:     token,
		Name:      actionNameListing,
		Price:     price,
		Reference: "listing:" + tier.String(),
		Completed: func(ctx context.Context) (bool, error) {
			existing, err := orchestrator.stores.Listings.FindListingByToken(ctx, caller.UserID(), token)
			if errors.Is(err, ledger.ErrUnknownListing) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			listing = &existing
			return true, nil
		},
		Perform: func(ctx context.Context, spend ledger.Entry) error {
			ctx = context.WithoutCancel(ctx)
			stored, err := orchestrator.stores.Listings.InsertListing(ctx, ledger.NewListing(caller.UserID(), token, tier, normalized, spend.EntryID(), orchestrator.nowFn().UTC().Unix()))
			if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
				stored, err = orchestrator.stores.Listings.FindListingByToken(ctx, caller.UserID(), token)
			}
			if err != nil {
				return err
			}
			listing = &stored
			return nil
		},
	})
	outcome.Listing = listing
	return outcome, err
}

// PerformAction charges the action price, runs the configured performer against target, and
// records the side effect under token.
func (orchestrator *Orchestrator) PerformAction(ctx context.Context, caller ledger.Caller, action ledger.Action, target string, token ledger.IdempotencyKey) (Outcome, error) {
	price, err := orchestrator.prices.ActionPrice(action)
	if err != nil {
		return Outcome{}, err
	}
	target = strings.TrimSpace(target)
	var record *ledger.ActionRecord
	outcome, err := orchestrator.Run(ctx, PaidAction{
		Caller:    caller,
		Token:     token,
		Name:      action.String(),
		Price:     price,
		Reference: action.String() + ":" + target,
		Completed: func(ctx context.Context) (bool, error) {
			existing, err := orchestrator.stores.Actions.FindActionRecordByToken(ctx, caller.UserID(), token)
			if errors.Is(err, ledger.ErrUnknownActionID) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			record = &existing
			return true, nil
		},
		Perform: func(ctx context.Context, spend ledger.Entry) error {
			if err := orchestrator.performer.Perform(ctx, caller.UserID(), action, target); err != nil {
				return err
			}
			ctx = context.WithoutCancel(ctx)
			stored, err := orchestrator.stores.Actions.InsertActionRecord(ctx, ledger.ActionRecord{
				UserID:         caller.UserID(),
				Token:          token,
				Action:         action,
				Target:         target,
				SpendEntryID:   spend.EntryID(),
				CreatedUnixUTC: orchestrator.nowFn().UTC().Unix(),
			})
			if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
				stored, err = orchestrator.stores.Actions.FindActionRecordByToken(ctx, caller.UserID(), token)
			}
			if err != nil {
				return err
			}
			record = &stored
			return nil
		},
	})
	outcome.Record = record
	return outcome, err
}
