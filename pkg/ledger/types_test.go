package ledger

import (
	"errors"
	"testing"
)

func TestNewUserID(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		input   string
		wantErr error
		wantVal string
	}{
		{name: "valid", input: " user-123 ", wantVal: "user-123"},
		{name: "empty", input: "   ", wantErr: ErrInvalidUserID},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result, err := NewUserID(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.String() != tc.wantVal {
				t.Fatalf("expected %q, got %q", tc.wantVal, result.String())
			}
		})
	}
}

func TestIdempotencyKeyDerive(t *testing.T) {
	t.Parallel()
	_, err := NewIdempotencyKey("   ")
	if !errors.Is(err, ErrInvalidIdempotencyKey) {
		t.Fatalf("expected ErrInvalidIdempotencyKey, got %v", err)
	}
	key, err := NewIdempotencyKey("tok-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	refund, err := key.Derive("refund")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refund.String() != "tok-1:refund" {
		t.Fatalf("expected tok-1:refund, got %q", refund.String())
	}
}

func TestCreditAmounts(t *testing.T) {
	t.Parallel()
	if _, err := NewCredits(-1); !errors.Is(err, ErrInvalidCredits) {
		t.Fatalf("expected ErrInvalidCredits, got %v", err)
	}
	if _, err := NewPositiveCredits(0); !errors.Is(err, ErrInvalidCredits) {
		t.Fatalf("expected ErrInvalidCredits, got %v", err)
	}
	if _, err := NewSignedCredits(0); !errors.Is(err, ErrInvalidEntryAmount) {
		t.Fatalf("expected ErrInvalidEntryAmount, got %v", err)
	}
	amount, err := NewPositiveCredits(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount.Debit() != -5 || amount.Credit() != 5 {
		t.Fatalf("unexpected deltas %d %d", amount.Debit(), amount.Credit())
	}
	if !Credits(5).Covers(amount) || Credits(4).Covers(amount) {
		t.Fatalf("covers is wrong at the boundary")
	}
}

func TestNewMetadataJSON(t *testing.T) {
	t.Parallel()
	meta, err := NewMetadataJSON("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.String() != "{}" {
		t.Fatalf("expected default metadata to be '{}', got %q", meta.String())
	}
	if (MetadataJSON{}).String() != "{}" {
		t.Fatalf("expected zero metadata to render as '{}'")
	}
	_, err = NewMetadataJSON("not-json")
	if !errors.Is(err, ErrInvalidMetadataJSON) {
		t.Fatalf("expected ErrInvalidMetadataJSON, got %v", err)
	}
}

func TestParseEntryType(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"purchase", "spend", "bonus", "refund"} {
		entryType, err := ParseEntryType(raw)
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if entryType.IsCredit() == (entryType == EntrySpend) {
			t.Fatalf("unexpected credit direction for %s", raw)
		}
	}
	if _, err := ParseEntryType("grant"); !errors.Is(err, ErrInvalidEntryType) {
		t.Fatalf("expected ErrInvalidEntryType, got %v", err)
	}
}

func TestCallerRoles(t *testing.T) {
	t.Parallel()
	if Anonymous().Authenticated() {
		t.Fatalf("anonymous caller reported authenticated")
	}
	userID, err := NewUserID("user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	caller := NewCaller(userID, "Admin")
	if !caller.Authenticated() || !caller.HasRole("admin") || caller.HasRole("support") {
		t.Fatalf("unexpected caller: %+v", caller)
	}
}
