package pgstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
	"github.com/jackc/pgx/v5"
)

const (
	errorSubjectListing       = "listing"
	errorSubjectActionRecord  = "action_record"
	errorSubjectInconsistency = "inconsistency"
	errorSubjectProfile       = "profile"
	errorCodeUpsert           = "upsert"

	sqlListingColumns = `
		listing_id::text, user_id, token, tier, title, description, address, city, postcode,
		rent_amount, rent_period, deposit_amount, bills_included, available_from, property_type,
		furnished, parking, status, spend_entry_id::text,
		extract(epoch from visible_until)::bigint, extract(epoch from created_at)::bigint
	`

	sqlInsertListing = `
		insert into listings(
			user_id, token, tier, title, description, address, city, postcode,
			rent_amount, rent_period, deposit_amount, bills_included, available_from, property_type,
			furnished, parking, status, spend_entry_id, visible_until, created_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, to_timestamp($19), to_timestamp($20))
		returning ` + sqlListingColumns

	sqlSelectListingByToken = `select ` + sqlListingColumns + ` from listings where user_id = $1 and token = $2`

	sqlActionColumns = `
		record_id::text, user_id, token, action, target, spend_entry_id::text, extract(epoch from created_at)::bigint
	`

	sqlInsertActionRecord = `
		insert into action_records(user_id, token, action, target, spend_entry_id, created_at)
		values($1, $2, $3, $4, $5, to_timestamp($6))
		returning ` + sqlActionColumns

	sqlSelectActionByToken = `select ` + sqlActionColumns + ` from action_records where user_id = $1 and token = $2`

	sqlInsertInconsistency = `
		insert into inconsistencies(user_id, token, amount, spend_entry_id, action_error, refund_error)
		values($1, $2, $3, $4, $5, $6)
		returning inconsistency_id::text, extract(epoch from created_at)::bigint
	`

	sqlUpsertProfile = `
		insert into accounts(user_id, full_name, phone, gender, occupation, bio, date_of_birth, user_type)
		values($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (user_id) do update set
			full_name = excluded.full_name,
			phone = excluded.phone,
			gender = excluded.gender,
			occupation = excluded.occupation,
			bio = excluded.bio,
			date_of_birth = excluded.date_of_birth,
			user_type = excluded.user_type,
			updated_at = now()
	`
)

func (store *Store) InsertListing(ctx context.Context, listing ledger.Listing) (ledger.Listing, error) {
	draft := listing.Draft
	stored, err := scanListing(store.db.QueryRow(ctx, sqlInsertListing,
		listing.UserID.String(),
		listing.Token.String(),
		listing.Tier.String(),
		draft.Title,
		draft.Description,
		draft.Address,
		draft.City,
		draft.Postcode,
		draft.RentAmount,
		draft.RentPeriod,
		draft.DepositAmount,
		draft.BillsIncluded,
		draft.AvailableFrom,
		draft.PropertyType,
		draft.Furnished,
		draft.Parking,
		listing.Status,
		listing.SpendEntryID.String(),
		listing.VisibleUntilUnixUTC,
		listing.CreatedUnixUTC,
	))
	if isUniqueConflict(err, constraintListingToken) {
		return ledger.Listing{}, wrapStoreError(errorSubjectListing, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return ledger.Listing{}, wrapStoreError(errorSubjectListing, errorCodeInsert, err)
	}
	return stored, nil
}

func (store *Store) FindListingByToken(ctx context.Context, userID ledger.UserID, token ledger.IdempotencyKey) (ledger.Listing, error) {
	listing, err := scanListing(store.db.QueryRow(ctx, sqlSelectListingByToken, userID.String(), token.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Listing{}, wrapStoreError(errorSubjectListing, errorCodeGet, ledger.ErrUnknownListing)
	}
	if err != nil {
		return ledger.Listing{}, wrapStoreError(errorSubjectListing, errorCodeGet, err)
	}
	return listing, nil
}

func (store *Store) InsertActionRecord(ctx context.Context, record ledger.ActionRecord) (ledger.ActionRecord, error) {
	stored, err := scanActionRecord(store.db.QueryRow(ctx, sqlInsertActionRecord,
		record.UserID.String(),
		record.Token.String(),
		record.Action.String(),
		record.Target,
		record.SpendEntryID.String(),
		record.CreatedUnixUTC,
	))
	if isUniqueConflict(err, constraintActionToken) {
		return ledger.ActionRecord{}, wrapStoreError(errorSubjectActionRecord, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return ledger.ActionRecord{}, wrapStoreError(errorSubjectActionRecord, errorCodeInsert, err)
	}
	return stored, nil
}

func (store *Store) FindActionRecordByToken(ctx context.Context, userID ledger.UserID, token ledger.IdempotencyKey) (ledger.ActionRecord, error) {
	record, err := scanActionRecord(store.db.QueryRow(ctx, sqlSelectActionByToken, userID.String(), token.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ActionRecord{}, wrapStoreError(errorSubjectActionRecord, errorCodeGet, ledger.ErrUnknownActionID)
	}
	if err != nil {
		return ledger.ActionRecord{}, wrapStoreError(errorSubjectActionRecord, errorCodeGet, err)
	}
	return record, nil
}

func (store *Store) RecordInconsistency(ctx context.Context, inconsistency ledger.Inconsistency) (ledger.Inconsistency, error) {
	err := store.db.QueryRow(ctx, sqlInsertInconsistency,
		inconsistency.UserID.String(),
		inconsistency.Token.String(),
		inconsistency.Amount.Int64(),
		inconsistency.SpendEntryID.String(),
		inconsistency.ActionError,
		inconsistency.RefundError,
	).Scan(&inconsistency.InconsistencyID, &inconsistency.CreatedUnixUTC)
	if err != nil {
		return ledger.Inconsistency{}, wrapStoreError(errorSubjectInconsistency, errorCodeInsert, err)
	}
	return inconsistency, nil
}

func (store *Store) UpsertProfile(ctx context.Context, profile ledger.Profile) error {
	_, err := store.db.Exec(ctx, sqlUpsertProfile,
		profile.UserID.String(),
		profile.FullName,
		profile.Phone,
		profile.Gender,
		profile.Occupation,
		profile.Bio,
		profile.DateOfBirth,
		profile.UserType,
	)
	if err != nil {
		return wrapStoreError(errorSubjectProfile, errorCodeUpsert, err)
	}
	return nil
}

func scanListing(row pgx.Row) (ledger.Listing, error) {
	var (
		listing      ledger.Listing
		userIDValue  string
		tokenValue   string
		tierValue    string
		spendEntryID string
	)
	draft := &listing.Draft
	if err := row.Scan(
		&listing.ListingID,
		&userIDValue,
		&tokenValue,
		&tierValue,
		&draft.Title,
		&draft.Description,
		&draft.Address,
		&draft.City,
		&draft.Postcode,
		&draft.RentAmount,
		&draft.RentPeriod,
		&draft.DepositAmount,
		&draft.BillsIncluded,
		&draft.AvailableFrom,
		&draft.PropertyType,
		&draft.Furnished,
		&draft.Parking,
		&listing.Status,
		&spendEntryID,
		&listing.VisibleUntilUnixUTC,
		&listing.CreatedUnixUTC,
	); err != nil {
		return ledger.Listing{}, err
	}
	var err error
	if listing.UserID, err = ledger.NewUserID(userIDValue); err != nil {
		return ledger.Listing{}, err
	}
	if listing.Token, err = ledger.NewIdempotencyKey(tokenValue); err != nil {
		return ledger.Listing{}, err
	}
	if listing.Tier, err = ledger.ParseTier(tierValue); err != nil {
		return ledger.Listing{}, err
	}
	if listing.SpendEntryID, err = ledger.NewEntryID(spendEntryID); err != nil {
		return ledger.Listing{}, err
	}
	return listing, nil
}

func scanActionRecord(row pgx.Row) (ledger.ActionRecord, error) {
	var (
		record       ledger.ActionRecord
		userIDValue  string
		tokenValue   string
		actionValue  string
		spendEntryID string
	)
	if err := row.Scan(&record.RecordID, &userIDValue, &tokenValue, &actionValue, &record.Target, &spendEntryID, &record.CreatedUnixUTC); err != nil {
		return ledger.ActionRecord{}, err
	}
	var err error
	if record.UserID, err = ledger.NewUserID(userIDValue); err != nil {
		return ledger.ActionRecord{}, err
	}
	if record.Token, err = ledger.NewIdempotencyKey(tokenValue); err != nil {
		return ledger.ActionRecord{}, err
	}
	if record.Action, err = ledger.ParseAction(actionValue); err != nil {
		return ledger.ActionRecord{}, err
	}
	if record.SpendEntryID, err = ledger.NewEntryID(spendEntryID); err != nil {
		return ledger.ActionRecord{}, err
	}
	return record, nil
}
