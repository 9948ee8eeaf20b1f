package domain

import "github.com/shopspring/decimal"

type ItemStatus string

const (
	StatusAvailable ItemStatus = "Available"
	StatusSold      ItemStatus = "Sold"
	StatusRemoved   ItemStatus = "Removed"
)

// Valid reports whether s is a known lifecycle state.
func (s ItemStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusSold, StatusRemoved:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s ItemStatus) Terminal() bool {
	return s == StatusSold || s == StatusRemoved
}

// CanTransition reports whether the lifecycle permits moving from s to next.
// Only Available items can change state: a sale moves them to Sold, a
// withdrawal to Removed. Sold and Removed are terminal.
func (s ItemStatus) CanTransition(next ItemStatus) bool {
	return s == StatusAvailable && (next == StatusSold || next == StatusRemoved)
}

// Item is a listing owned by a user. Price is fixed-point with 2 decimal
// places; the owner never changes once the item is created.
type Item struct {
	ID          int64
	Name        string
	Description string
	Price       decimal.Decimal
	Status      ItemStatus
	OwnerID     int64
}

// ItemPatch carries a partial update. Nil fields are left untouched.
// Status transitions are not patchable; they go through the purchase and
// withdraw workflows so the lifecycle rules always apply.
type ItemPatch struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
}

// Empty reports whether the patch changes nothing.
func (p ItemPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Price == nil
}
