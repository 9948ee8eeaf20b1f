package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port/porttest"
)

type fixture struct {
	store     *porttest.Store
	users     *UserService
	items     *ItemService
	purchases *PurchaseService
	ratings   *RatingService
}

func newFixture() *fixture {
	store := porttest.NewStore()
	return &fixture{
		store:     store,
		users:     NewUserService(store),
		items:     NewItemService(store),
		purchases: NewPurchaseService(store),
		ratings:   NewRatingService(store),
	}
}

func (f *fixture) seedUser(t *testing.T, username string) *domain.User {
	t.Helper()
	u, err := f.users.Register(context.Background(), "Test User", username, username+"@example.com", "hash")
	if err != nil {
		t.Fatalf("failed to seed user %s: %v", username, err)
	}
	return u
}

func (f *fixture) seedItem(t *testing.T, ownerID int64, name, price string) *domain.Item {
	t.Helper()
	it, err := f.items.Create(context.Background(), ownerID, name, "", decimal.RequireFromString(price))
	if err != nil {
		t.Fatalf("failed to seed item %s: %v", name, err)
	}
	return it
}

// seedSale creates a seller, a buyer and a completed purchase.
func (f *fixture) seedSale(t *testing.T) (seller, buyer *domain.User, txn *domain.Transaction) {
	t.Helper()
	seller = f.seedUser(t, "seller")
	buyer = f.seedUser(t, "buyer")
	item := f.seedItem(t, seller.ID, "Vintage Camera", "100.00")

	txn, err := f.purchases.Purchase(context.Background(), buyer.ID, item.ID)
	if err != nil {
		t.Fatalf("failed to seed sale: %v", err)
	}
	return seller, buyer, txn
}
