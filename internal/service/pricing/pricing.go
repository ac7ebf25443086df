package pricing

import (
	"fmt"
	"sort"

	"github.com/nkiryanov/essaypay/internal/apperrors"
)

const DefaultUnitPrice int64 = 1000

// Tier is a fixed price bundle sold with a discount
type Tier struct {
	Amount  int64
	Credits int64
}

// DefaultTiers are the bundles offered in the chat menu
var DefaultTiers = []Tier{
	{Amount: 5000, Credits: 5},
	{Amount: 10000, Credits: 10},
	{Amount: 16000, Credits: 20},
}

// Table converts paid amounts (minor units) to credits and back
type Table struct {
	unitPrice int64
	byAmount  map[int64]int64
	tiers     []Tier
}

func New(unitPrice int64, tiers []Tier) (*Table, error) {
	if unitPrice <= 0 {
		return nil, fmt.Errorf("unit price must be positive, got %d", unitPrice)
	}

	t := &Table{
		unitPrice: unitPrice,
		byAmount:  make(map[int64]int64, len(tiers)),
		tiers:     make([]Tier, 0, len(tiers)),
	}

	for _, tier := range tiers {
		if tier.Amount <= 0 || tier.Credits <= 0 {
			return nil, fmt.Errorf("tier must have positive amount and credits, got %+v", tier)
		}
		if _, ok := t.byAmount[tier.Amount]; ok {
			return nil, fmt.Errorf("duplicate tier amount %d", tier.Amount)
		}
		t.byAmount[tier.Amount] = tier.Credits
		t.tiers = append(t.tiers, tier)
	}

	sort.Slice(t.tiers, func(i, j int) bool { return t.tiers[i].Amount < t.tiers[j].Amount })

	return t, nil
}

// Default table, never fails
func Default() *Table {
	t, err := New(DefaultUnitPrice, DefaultTiers)
	if err != nil {
		panic(err)
	}
	return t
}

// Credits granted for the paid amount
// Must return apperrors.ErrInvalidAmount if the amount buys nothing
func (t *Table) Credits(amount int64) (int64, error) {
	if credits, ok := t.byAmount[amount]; ok {
		return credits, nil
	}

	credits := amount / t.unitPrice
	if credits <= 0 {
		return 0, apperrors.ErrInvalidAmount
	}

	return credits, nil
}

// Amount to charge for the credits
// A tier granting exactly that many credits wins over the unit price
func (t *Table) AmountFor(credits int64) (int64, error) {
	if credits <= 0 {
		return 0, apperrors.ErrInvalidAmount
	}

	for _, tier := range t.tiers {
		if tier.Credits == credits {
			return tier.Amount, nil
		}
	}

	return credits * t.unitPrice, nil
}

// Tiers ordered by amount ascending
func (t *Table) Tiers() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}
