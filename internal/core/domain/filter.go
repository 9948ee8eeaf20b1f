package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ItemFilter narrows an availability search. All criteria are optional and
// combine with AND; the keyword matches name OR description. Price bounds are
// inclusive. MinSellerRating is checked against the owner's current rating.
type ItemFilter struct {
	MinPrice        *decimal.Decimal
	MaxPrice        *decimal.Decimal
	Keyword         string
	MinSellerRating *decimal.Decimal
}

// Matches applies the price and keyword predicates to a single item. The
// seller-rating predicate needs the owner record and is applied by the
// storage backend after these cheaper checks pass. Both backends rely on
// this helper or mirror it exactly so result sets are identical.
func (f ItemFilter) Matches(it Item) bool {
	if f.MinPrice != nil && it.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && it.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.Keyword != "" {
		kw := strings.ToLower(f.Keyword)
		if !strings.Contains(strings.ToLower(it.Name), kw) &&
			!strings.Contains(strings.ToLower(it.Description), kw) {
			return false
		}
	}
	return true
}
