package port

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/rl1809/marketplace/internal/core/domain"
)

var (
	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict means a uniqueness constraint was violated (username,
	// email, or a second rating for the same transaction).
	ErrConflict = errors.New("uniqueness conflict")

	// ErrUnavailable means the backend could not be reached. Workflows do
	// not retry; a prior attempt may already have committed.
	ErrUnavailable = errors.New("storage unavailable")
)

// Store is the capability set both storage backends expose to the workflows.
// Implementations must behave identically to callers: ids are unique and
// never reused, uniqueness constraints are enforced atomically at write time,
// and UpdateItemStatus is a compare-and-swap that exactly one concurrent
// competitor wins.
type Store interface {
	// CreateUser assigns a new id and persists the user. Returns
	// ErrConflict when the username or email is already taken.
	CreateUser(ctx context.Context, u *domain.User) error
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	// UpdateUser applies a partial update and returns the updated record.
	// Fields absent from the patch are left untouched.
	UpdateUser(ctx context.Context, id int64, patch domain.UserPatch) (*domain.User, error)
	DeleteUser(ctx context.Context, id int64) error

	// CreateItem assigns a new id and persists the item.
	CreateItem(ctx context.Context, it *domain.Item) error
	GetItemByID(ctx context.Context, id int64) (*domain.Item, error)
	ListItemsByOwner(ctx context.Context, ownerID int64) ([]domain.Item, error)
	UpdateItem(ctx context.Context, id int64, patch domain.ItemPatch) (*domain.Item, error)
	// UpdateItemStatus atomically sets the item's status to next only if it
	// still equals expect at the moment of the write. Returns (false, nil)
	// when the predicate did not hold.
	UpdateItemStatus(ctx context.Context, id int64, expect, next domain.ItemStatus) (bool, error)
	// SearchItems returns Available items matching the filter, ordered by id.
	SearchItems(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error)

	CreateTransaction(ctx context.Context, t *domain.Transaction) error
	GetTransactionByID(ctx context.Context, id int64) (*domain.Transaction, error)

	// CreateRating assigns a new id and persists the rating. Returns
	// ErrConflict when the transaction has already been rated; the
	// constraint is checked atomically with the write.
	CreateRating(ctx context.Context, r *domain.Rating) error
	// AverageSellerScore returns the unrounded average of all scores
	// received by sellerID. The bool is false when no ratings exist.
	AverageSellerScore(ctx context.Context, sellerID int64) (decimal.Decimal, bool, error)
}
