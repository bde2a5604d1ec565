package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table: one balance row per user plus profile details.
type Account struct {
	AccountID   string    `gorm:"size:36;primaryKey"`
	UserID      string    `gorm:"not null;uniqueIndex:uniq_accounts_user"`
	Credits     int64     `gorm:"not null;default:0;check:chk_accounts_credits_non_negative,credits >= 0"`
	FullName    string    `gorm:"not null;default:''"`
	Phone       string    `gorm:"not null;default:''"`
	Gender      string    `gorm:"not null;default:''"`
	Occupation  string    `gorm:"not null;default:''"`
	Bio         string    `gorm:"not null;default:''"`
	DateOfBirth string    `gorm:"not null;default:''"`
	UserType    string    `gorm:"not null;default:''"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// LedgerEntry mirrors the append-only ledger_entries table.
type LedgerEntry struct {
	EntryID        string         `gorm:"size:36;primaryKey"`
	AccountID      string         `gorm:"size:36;not null;index:idx_ledger_account_created,priority:1;uniqueIndex:uniq_entry_account_idem,priority:1"`
	Type           string         `gorm:"size:16;not null"`
	Amount         int64          `gorm:"not null"`
	BalanceAfter   int64          `gorm:"not null"`
	Reference      string         `gorm:"not null;default:''"`
	IdempotencyKey string         `gorm:"not null;uniqueIndex:uniq_entry_account_idem,priority:2"`
	Description    string         `gorm:"not null;default:''"`
	Metadata       datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_ledger_account_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// BeforeCreate assigns a time-ordered id so entries sharing a timestamp still sort by insertion.
func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entryID, err := uuid.NewV7()
		if err != nil {
			return err
		}
		entry.EntryID = entryID.String()
	}
	return nil
}

// Listing mirrors the listings table.
type Listing struct {
	ListingID     string    `gorm:"size:36;primaryKey"`
	UserID        string    `gorm:"not null;uniqueIndex:uniq_listing_user_token,priority:1"`
	Token         string    `gorm:"not null;uniqueIndex:uniq_listing_user_token,priority:2"`
	Tier          string    `gorm:"size:16;not null"`
	Title         string    `gorm:"not null"`
	Description   string    `gorm:"not null;default:''"`
	Address       string    `gorm:"not null;default:''"`
	City          string    `gorm:"not null"`
	Postcode      string    `gorm:"not null;default:''"`
	RentAmount    int64     `gorm:"not null"`
	RentPeriod    string    `gorm:"not null"`
	DepositAmount int64     `gorm:"not null;default:0"`
	BillsIncluded bool      `gorm:"not null;default:false"`
	AvailableFrom string    `gorm:"not null;default:''"`
	PropertyType  string    `gorm:"not null;default:''"`
	Furnished     bool      `gorm:"not null;default:false"`
	Parking       bool      `gorm:"not null;default:false"`
	Status        string    `gorm:"size:16;not null"`
	SpendEntryID  string    `gorm:"size:36;not null"`
	VisibleUntil  time.Time `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (Listing) TableName() string { return "listings" }

func (listing *Listing) BeforeCreate(tx *gorm.DB) error {
	if listing.ListingID == "" {
		listing.ListingID = uuid.NewString()
	}
	return nil
}

// ActionRecord mirrors the action_records table (contact requests and other paid actions).
type ActionRecord struct {
	RecordID     string    `gorm:"size:36;primaryKey"`
	UserID       string    `gorm:"not null;uniqueIndex:uniq_action_user_token,priority:1"`
	Token        string    `gorm:"not null;uniqueIndex:uniq_action_user_token,priority:2"`
	Action       string    `gorm:"size:32;not null"`
	Target       string    `gorm:"not null;default:''"`
	SpendEntryID string    `gorm:"size:36;not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (ActionRecord) TableName() string { return "action_records" }

func (record *ActionRecord) BeforeCreate(tx *gorm.DB) error {
	if record.RecordID == "" {
		record.RecordID = uuid.NewString()
	}
	return nil
}

// Inconsistency mirrors the inconsistencies table.
type Inconsistency struct {
	InconsistencyID string    `gorm:"size:36;primaryKey"`
	UserID          string    `gorm:"not null;index"`
	Token           string    `gorm:"not null"`
	Amount          int64     `gorm:"not null"`
	SpendEntryID    string    `gorm:"size:36;not null;default:''"`
	ActionError     string    `gorm:"not null;default:''"`
	RefundError     string    `gorm:"not null;default:''"`
	Resolved        bool      `gorm:"not null;default:false"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (Inconsistency) TableName() string { return "inconsistencies" }

func (inconsistency *Inconsistency) BeforeCreate(tx *gorm.DB) error {
	if inconsistency.InconsistencyID == "" {
		inconsistency.InconsistencyID = uuid.NewString()
	}
	return nil
}

// Models lists every table managed by the store, in dependency order.
func Models() []interface{} {
	return []interface{}{&Account{}, &LedgerEntry{}, &Listing{}, &ActionRecord{}, &Inconsistency{}}
}
