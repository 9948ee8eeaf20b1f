package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a marketplace account. Rating is the denormalized average of the
// scores the user has received as a seller, kept at 2 decimal places.
type User struct {
	ID           int64
	FullName     string
	Username     string
	Email        string
	PasswordHash string
	Rating       decimal.Decimal
	CreatedAt    time.Time
}

// UserPatch carries a partial update. Nil fields are left untouched.
type UserPatch struct {
	FullName     *string
	Username     *string
	Email        *string
	PasswordHash *string
	Rating       *decimal.Decimal
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.FullName == nil && p.Username == nil && p.Email == nil &&
		p.PasswordHash == nil && p.Rating == nil
}
