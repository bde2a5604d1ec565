package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (store *Store) InsertListing(ctx context.Context, listing ledger.Listing) (ledger.Listing, error) {
	row := Listing{
		UserID:        listing.UserID.String(),
		Token:         listing.Token.String(),
		Tier:          listing.Tier.String(),
		Title:         listing.Draft.Title,
		Description:   listing.Draft.Description,
		Address:       listing.Draft.Address,
		City:          listing.Draft.City,
		Postcode:      listing.Draft.Postcode,
		RentAmount:    listing.Draft.RentAmount,
		RentPeriod:    listing.Draft.RentPeriod,
		DepositAmount: listing.Draft.DepositAmount,
		BillsIncluded: listing.Draft.BillsIncluded,
		AvailableFrom: listing.Draft.AvailableFrom,
		PropertyType:  listing.Draft.PropertyType,
		Furnished:     listing.Draft.Furnished,
		Parking:       listing.Draft.Parking,
		Status:        listing.Status,
		SpendEntryID:  listing.SpendEntryID.String(),
		VisibleUntil:  time.Unix(listing.VisibleUntilUnixUTC, 0).UTC(),
		CreatedAt:     unixOrNow(listing.CreatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueConflict(err, constraintListingToken) {
		return ledger.Listing{}, wrapStoreError(errorSubjectListing, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return ledger.Listing{}, wrapStoreError(errorSubjectListing, errorCodeInsert, err)
	}
	return mapListing(row)
}

func (store *Store) FindListingByToken(ctx context.Context, userID ledger.UserID, token ledger.IdempotencyKey) (ledger.Listing, error) {
	var row Listing
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND token = ?", userID.String(), token.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Listing{}, wrapStoreError(errorSubjectListing, errorCodeGet, ledger.ErrUnknownListing)
	}
	if err != nil {
		return ledger.Listing{}, wrapStoreError(errorSubjectListing, errorCodeGet, err)
	}
	return mapListing(row)
}

func (store *Store) InsertActionRecord(ctx context.Context, record ledger.ActionRecord) (ledger.ActionRecord, error) {
	row := ActionRecord{
		UserID:       record.UserID.String(),
		Token:        record.Token.String(),
		Action:       record.Action.String(),
		Target:       record.Target,
		SpendEntryID: record.SpendEntryID.String(),
		CreatedAt:    unixOrNow(record.CreatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueConflict(err, constraintActionToken) {
		return ledger.ActionRecord{}, wrapStoreError(errorSubjectActionRecord, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return ledger.ActionRecord{}, wrapStoreError(errorSubjectActionRecord, errorCodeInsert, err)
	}
	return mapActionRecord(row)
}

func (store *Store) FindActionRecordByToken(ctx context.Context, userID ledger.UserID, token ledger.IdempotencyKey) (ledger.ActionRecord, error) {
	var row ActionRecord
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND token = ?", userID.String(), token.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.ActionRecord{}, wrapStoreError(errorSubjectActionRecord, errorCodeGet, ledger.ErrUnknownActionID)
	}
	if err != nil {
		return ledger.ActionRecord{}, wrapStoreError(errorSubjectActionRecord, errorCodeGet, err)
	}
	return mapActionRecord(row)
}

func (store *Store) RecordInconsistency(ctx context.Context, inconsistency ledger.Inconsistency) (ledger.Inconsistency, error) {
	row := Inconsistency{
		UserID:       inconsistency.UserID.String(),
		Token:        inconsistency.Token.String(),
		Amount:       inconsistency.Amount.Int64(),
		SpendEntryID: inconsistency.SpendEntryID.String(),
		ActionError:  inconsistency.ActionError,
		RefundError:  inconsistency.RefundError,
		CreatedAt:    unixOrNow(inconsistency.CreatedUnixUTC),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return ledger.Inconsistency{}, wrapStoreError(errorSubjectInconsistency, errorCodeInsert, err)
	}
	inconsistency.InconsistencyID = row.InconsistencyID
	inconsistency.CreatedUnixUTC = row.CreatedAt.Unix()
	return inconsistency, nil
}

// UpsertProfile writes profile details onto the user's account row, creating it with a zero
// balance when needed. The balance column is never touched.
func (store *Store) UpsertProfile(ctx context.Context, profile ledger.Profile) error {
	row := Account{
		UserID:      profile.UserID.String(),
		FullName:    profile.FullName,
		Phone:       profile.Phone,
		Gender:      profile.Gender,
		Occupation:  profile.Occupation,
		Bio:         profile.Bio,
		DateOfBirth: profile.DateOfBirth,
		UserType:    profile.UserType,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"full_name", "phone", "gender", "occupation", "bio", "date_of_birth", "user_type", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectProfile, errorCodeUpsert, err)
	}
	return nil
}

// FindProfile returns the profile stored on the user's account.
func (store *Store) FindProfile(ctx context.Context, userID ledger.UserID) (ledger.Profile, error) {
	var row Account
	err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeGet, ledger.ErrUnknownAccount)
	}
	if err != nil {
		return ledger.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeGet, err)
	}
	return ledger.Profile{
		UserID:      userID,
		FullName:    row.FullName,
		Phone:       row.Phone,
		Gender:      row.Gender,
		Occupation:  row.Occupation,
		Bio:         row.Bio,
		DateOfBirth: row.DateOfBirth,
		UserType:    row.UserType,
	}, nil
}

func mapListing(row Listing) (ledger.Listing, error) {
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Listing{}, wrapStoreError(errorSubjectListing, errorCodeInvalid, err)
	}
	token, err := ledger.NewIdempotencyKey(row.Token)
	if err != nil {
		return ledger.Listing{}, wrapStoreError(errorSubjectListing, errorCodeInvalid, err)
	}
	tier, err := ledger.ParseTier(row.Tier)
	if err != nil {
		return ledger.Listing{}, wrapStoreError(errorSubjectListing, errorCodeInvalid, err)
	}
	spendEntryID, err := ledger.NewEntryID(row.SpendEntryID)
	if err != nil {
		return ledger.Listing{}, wrapStoreError(errorSubjectListing, errorCodeInvalid, err)
	}
	return ledger.Listing{
		ListingID: row.ListingID,
		UserID:    userID,
		Token:     token,
		Tier:      tier,
		Draft: ledger.ListingDraft{
			Title:         row.Title,
			Description:   row.Description,
			Address:       row.Address,
			City:          row.City,
			Postcode:      row.Postcode,
			RentAmount:    row.RentAmount,
			RentPeriod:    row.RentPeriod,
			DepositAmount: row.DepositAmount,
			BillsIncluded: row.BillsIncluded,
			AvailableFrom: row.AvailableFrom,
			PropertyType:  row.PropertyType,
			Furnished:     row.Furnished,
			Parking:       row.Parking,
		},
		Status:              row.Status,
		SpendEntryID:        spendEntryID,
		VisibleUntilUnixUTC: row.VisibleUntil.Unix(),
		CreatedUnixUTC:      row.CreatedAt.Unix(),
	}, nil
}

func mapActionRecord(row ActionRecord) (ledger.ActionRecord, error) {
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.ActionRecord{}, wrapStoreError(errorSubjectActionRecord, errorCodeInvalid, err)
	}
	token, err := ledger.NewIdempotencyKey(row.Token)
	if err != nil {
		return ledger.ActionRecord{}, wrapStoreError(errorSubjectActionRecord, errorCodeInvalid, err)
	}
	action, err := ledger.ParseAction(row.Action)
	if err != nil {
		return ledger.ActionRecord{}, wrapStoreError(errorSubjectActionRecord, errorCodeInvalid, err)
	}
	spendEntryID, err := ledger.NewEntryID(row.SpendEntryID)
	if err != nil {
		return ledger.ActionRecord{}, wrapStoreError(errorSubjectActionRecord, errorCodeInvalid, err)
	}
	return ledger.ActionRecord{
		RecordID:       row.RecordID,
		UserID:         userID,
		Token:          token,
		Action:         action,
		Target:         row.Target,
		SpendEntryID:   spendEntryID,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}
