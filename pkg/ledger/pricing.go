package ledger

import (
	"fmt"
	"sort"
	"strings"
)

// Tier is a listing publication level.
type Tier string

const (
	TierBasic    Tier = "basic"
	TierFeatured Tier = "featured"
	TierPremium  Tier = "premium"
)

// Action is a priced action other than publishing a listing.
type Action string

const (
	ActionContact             Action = "contact"
	ActionProfileVerification Action = "profile_verification"
	ActionSearchAlert         Action = "search_alert"
	ActionBulkMessaging       Action = "bulk_messaging"
)

var (
	tierVisibilityDays = map[Tier]int{
		TierBasic:    7,
		TierFeatured: 14,
		TierPremium:  30,
	}
	defaultTierPrices = map[Tier]PositiveCredits{
		TierBasic:    5,
		TierFeatured: 10,
		TierPremium:  15,
	}
	defaultActionPrices = map[Action]PositiveCredits{
		ActionContact:             2,
		ActionProfileVerification: 8,
		ActionSearchAlert:         3,
		ActionBulkMessaging:       12,
	}
)

// ParseTier validates a tier name.
func ParseTier(raw string) (Tier, error) {
	tier := Tier(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := tierVisibilityDays[tier]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, raw)
	}
	return tier, nil
}

// String returns the stored representation.
func (tier Tier) String() string {
	return string(tier)
}

// VisibilityDays returns how long a listing of this tier stays visible.
func (tier Tier) VisibilityDays() int {
	return tierVisibilityDays[tier]
}

// ParseAction validates an action name.
func ParseAction(raw string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := defaultActionPrices[action]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, raw)
	}
	return action, nil
}

// String returns the stored representation.
func (action Action) String() string {
	return string(action)
}

// PriceTable maps tiers and actions to credit prices.
type PriceTable struct {
	tiers   map[Tier]PositiveCredits
	actions map[Action]PositiveCredits
}

// DefaultPriceTable returns the reference prices.
func DefaultPriceTable() PriceTable {
	table := PriceTable{
		tiers:   make(map[Tier]PositiveCredits, len(defaultTierPrices)),
		actions: make(map[Action]PositiveCredits, len(defaultActionPrices)),
	}
	for tier, price := range defaultTierPrices {
		table.tiers[tier] = price
	}
	for action, price := range defaultActionPrices {
		table.actions[action] = price
	}
	return table
}

// NewPriceTable overlays configured prices on top of the reference table.
func NewPriceTable(tierOverrides map[string]int64, actionOverrides map[string]int64) (PriceTable, error) {
	table := DefaultPriceTable()
	for rawTier, rawPrice := range tierOverrides {
		tier, err := ParseTier(rawTier)
		if err != nil {
			return PriceTable{}, err
		}
		price, err := NewPositiveCredits(rawPrice)
		if err != nil {
			return PriceTable{}, fmt.Errorf("tier %s: %w", tier, err)
		}
		table.tiers[tier] = price
	}
	for rawAction, rawPrice := range actionOverrides {
		action, err := ParseAction(rawAction)
		if err != nil {
			return PriceTable{}, err
		}
		price, err := NewPositiveCredits(rawPrice)
		if err != nil {
			return PriceTable{}, fmt.Errorf("action %s: %w", action, err)
		}
		table.actions[action] = price
	}
	return table, nil
}

// TierPrice returns the price for publishing a listing at tier.
func (table PriceTable) TierPrice(tier Tier) (PositiveCredits, error) {
	price, ok := table.tiers[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return price, nil
}

// ActionPrice returns the price for a priced action.
func (table PriceTable) ActionPrice(action Action) (PositiveCredits, error) {
	price, ok := table.actions[action]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return price, nil
}

// PriceLine is one row of a rendered price table.
type PriceLine struct {
	Name  string
	Price PositiveCredits
}

// TierLines lists tier prices, cheapest first.
func (table PriceTable) TierLines() []PriceLine {
	lines := make([]PriceLine, 0, len(table.tiers))
	for tier, price := range table.tiers {
		lines = append(lines, PriceLine{Name: tier.String(), Price: price})
	}
	sortPriceLines(lines)
	return lines
}

// ActionLines lists action prices, cheapest first.
func (table PriceTable) ActionLines() []PriceLine {
	lines := make([]PriceLine, 0, len(table.actions))
	for action, price := range table.actions {
		lines = append(lines, PriceLine{Name: action.String(), Price: price})
	}
	sortPriceLines(lines)
	return lines
}

func sortPriceLines(lines []PriceLine) {
	sort.Slice(lines, func(left, right int) bool {
		if lines[left].Price == lines[right].Price {
			return lines[left].Name < lines[right].Name
		}
		return lines[left].Price < lines[right].Price
	})
}

// CreditPackage is a purchasable bundle of credits.
type CreditPackage struct {
	ID         string
	Name       string
	Base       PositiveCredits
	Bonus      Credits
	PricePence int64
}

// Total returns base plus bonus credits.
func (creditPackage CreditPackage) Total() PositiveCredits {
	return PositiveCredits(creditPackage.Base.Int64() + creditPackage.Bonus.Int64())
}

// PackageCatalog holds the purchasable packages in display order.
type PackageCatalog struct {
	packages []CreditPackage
}

// DefaultPackageCatalog returns the reference packages.
func DefaultPackageCatalog() PackageCatalog {
	return PackageCatalog{packages: []CreditPackage{
		{ID: "starter", Name: "Starter Pack", Base: 25, Bonus: 0, PricePence: 500},
		{ID: "popular", Name: "Popular Pack", Base: 60, Bonus: 5, PricePence: 1000},
		{ID: "power", Name: "Power Pack", Base: 150, Bonus: 15, PricePence: 2000},
		{ID: "pro", Name: "Pro Pack", Base: 400, Bonus: 50, PricePence: 4500},
	}}
}

// NewPackageCatalog validates a configured set of packages.
func NewPackageCatalog(packages []CreditPackage) (PackageCatalog, error) {
	seen := make(map[string]struct{}, len(packages))
	normalized := make([]CreditPackage, 0, len(packages))
	for _, creditPackage := range packages {
		creditPackage.ID = strings.ToLower(strings.TrimSpace(creditPackage.ID))
		if creditPackage.ID == "" {
			return PackageCatalog{}, fmt.Errorf("%w: empty id", ErrUnknownPackage)
		}
		if _, exists := seen[creditPackage.ID]; exists {
			return PackageCatalog{}, fmt.Errorf("%w: duplicate id %q", ErrInvalidServiceConfig, creditPackage.ID)
		}
		if creditPackage.Base <= 0 || creditPackage.Bonus < 0 || creditPackage.PricePence <= 0 {
			return PackageCatalog{}, fmt.Errorf("%w: package %q has invalid amounts", ErrInvalidServiceConfig, creditPackage.ID)
		}
		seen[creditPackage.ID] = struct{}{}
		normalized = append(normalized, creditPackage)
	}
	if len(normalized) == 0 {
		return PackageCatalog{}, fmt.Errorf("%w: no packages", ErrInvalidServiceConfig)
	}
	return PackageCatalog{packages: normalized}, nil
}

// Lookup returns the package with id.
func (catalog PackageCatalog) Lookup(id string) (CreditPackage, error) {
	normalized := strings.ToLower(strings.TrimSpace(id))
	for _, creditPackage := range catalog.packages {
		if creditPackage.ID == normalized {
			return creditPackage, nil
		}
	}
	return CreditPackage{}, fmt.Errorf("%w: %q", ErrUnknownPackage, id)
}

// All returns a copy of the packages in display order.
func (catalog PackageCatalog) All() []CreditPackage {
	return append([]CreditPackage(nil), catalog.packages...)
}
