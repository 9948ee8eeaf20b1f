package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction records a closed sale. Price is captured at purchase time and
// stays fixed even if the item is later repriced. Never mutated after creation.
type Transaction struct {
	ID       int64
	SellerID int64
	BuyerID  int64
	ItemID   int64
	Price    decimal.Decimal
	Date     time.Time
}

// Rating is a buyer's score for the seller of one transaction. At most one
// rating may exist per transaction; the storage layer enforces this.
type Rating struct {
	ID            int64
	TransactionID int64
	RaterID       int64
	RatedID       int64
	Score         int
}

const (
	MinScore = 1
	MaxScore = 5
)

// ValidScore reports whether score is inside the accepted [1,5] range.
func ValidScore(score int) bool {
	return score >= MinScore && score <= MaxScore
}
