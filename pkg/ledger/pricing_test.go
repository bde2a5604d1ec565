package ledger

import (
	"errors"
	"testing"
)

func TestDefaultPriceTable(test *testing.T) {
	test.Parallel()
	table := DefaultPriceTable()
	wantTiers := map[Tier]PositiveCredits{TierBasic: 5, TierFeatured: 10, TierPremium: 15}
	for tier, want := range wantTiers {
		price, err := table.TierPrice(tier)
		if err != nil || price != want {
			test.Fatalf("tier %s: expected %d, got %d (%v)", tier, want, price, err)
		}
	}
	if TierBasic.VisibilityDays() != 7 || TierFeatured.VisibilityDays() != 14 || TierPremium.VisibilityDays() != 30 {
		test.Fatalf("unexpected visibility days")
	}
	lines := table.ActionLines()
	if len(lines) != 4 || lines[0].Name != ActionContact.String() || lines[3].Name != ActionBulkMessaging.String() {
		test.Fatalf("unexpected action lines: %+v", lines)
	}
	if _, err := table.TierPrice(Tier("gold")); !errors.Is(err, ErrUnknownTier) {
		test.Fatalf("expected ErrUnknownTier, got %v", err)
	}
}

func TestNewPriceTableOverrides(test *testing.T) {
	test.Parallel()
	table, err := NewPriceTable(map[string]int64{"Premium": 20}, map[string]int64{"contact": 1})
	if err != nil {
		test.Fatalf("price table: %v", err)
	}
	if price, _ := table.TierPrice(TierPremium); price != 20 {
		test.Fatalf("expected override 20, got %d", price)
	}
	if price, _ := table.ActionPrice(ActionContact); price != 1 {
		test.Fatalf("expected override 1, got %d", price)
	}
	if _, err := NewPriceTable(map[string]int64{"basic": 0}, nil); !errors.Is(err, ErrInvalidCredits) {
		test.Fatalf("expected ErrInvalidCredits, got %v", err)
	}
	if _, err := NewPriceTable(nil, map[string]int64{"teleport": 3}); !errors.Is(err, ErrUnknownAction) {
		test.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestPackageCatalog(test *testing.T) {
	test.Parallel()
	catalog := DefaultPackageCatalog()
	popular, err := catalog.Lookup(" Popular ")
	if err != nil {
		test.Fatalf("lookup: %v", err)
	}
	if popular.Total() != 65 || popular.PricePence != 1000 {
		test.Fatalf("unexpected popular package: %+v", popular)
	}
	if _, err := catalog.Lookup("mega"); !errors.Is(err, ErrUnknownPackage) {
		test.Fatalf("expected ErrUnknownPackage, got %v", err)
	}
	if len(catalog.All()) != 4 {
		test.Fatalf("expected four packages")
	}
	if _, err := NewPackageCatalog([]CreditPackage{{ID: "a", Base: 1, PricePence: 1}, {ID: "A", Base: 2, PricePence: 2}}); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected duplicate rejection, got %v", err)
	}
	if _, err := NewPackageCatalog(nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected empty rejection, got %v", err)
	}
}
