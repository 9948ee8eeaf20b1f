package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

func TestPurchase_Success(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	seller := f.seedUser(t, "seller")
	buyer := f.seedUser(t, "buyer")
	item := f.seedItem(t, seller.ID, "Vintage Camera", "100.00")

	txn, err := f.purchases.Purchase(ctx, buyer.ID, item.ID)
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}

	if txn.SellerID != seller.ID {
		t.Errorf("expected seller %d, got %d", seller.ID, txn.SellerID)
	}
	if txn.BuyerID != buyer.ID {
		t.Errorf("expected buyer %d, got %d", buyer.ID, txn.BuyerID)
	}
	if txn.ItemID != item.ID {
		t.Errorf("expected item %d, got %d", item.ID, txn.ItemID)
	}
	if !txn.Price.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("expected price 100.00, got %s", txn.Price)
	}

	got, err := f.items.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get item failed: %v", err)
	}
	if got.Status != domain.StatusSold {
		t.Errorf("expected status Sold, got %s", got.Status)
	}
}

func TestPurchase_ItemNotFound(t *testing.T) {
	f := newFixture()
	buyer := f.seedUser(t, "buyer")

	_, err := f.purchases.Purchase(context.Background(), buyer.ID, 9999)
	if !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestPurchase_SelfPurchase(t *testing.T) {
	f := newFixture()
	seller := f.seedUser(t, "seller")
	item := f.seedItem(t, seller.ID, "Vintage Camera", "100.00")

	_, err := f.purchases.Purchase(context.Background(), seller.ID, item.ID)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got: %v", err)
	}

	// The item must still be on the market.
	got, _ := f.items.Get(context.Background(), item.ID)
	if got.Status != domain.StatusAvailable {
		t.Errorf("expected status Available, got %s", got.Status)
	}
}

func TestPurchase_AlreadySold(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	seller := f.seedUser(t, "seller")
	first := f.seedUser(t, "first")
	second := f.seedUser(t, "second")
	item := f.seedItem(t, seller.ID, "Vintage Camera", "100.00")

	if _, err := f.purchases.Purchase(ctx, first.ID, item.ID); err != nil {
		t.Fatalf("first purchase failed: %v", err)
	}

	_, err := f.purchases.Purchase(ctx, second.ID, item.ID)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got: %v", err)
	}
}

func TestPurchase_WithdrawnItem(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	seller := f.seedUser(t, "seller")
	buyer := f.seedUser(t, "buyer")
	item := f.seedItem(t, seller.ID, "Vintage Camera", "100.00")

	if _, err := f.items.Withdraw(ctx, seller.ID, item.ID); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	_, err := f.purchases.Purchase(ctx, buyer.ID, item.ID)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got: %v", err)
	}
}

func TestPurchase_PriceCapturedAtSale(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	seller := f.seedUser(t, "seller")
	buyer := f.seedUser(t, "buyer")
	item := f.seedItem(t, seller.ID, "Vintage Camera", "100.00")

	txn, err := f.purchases.Purchase(ctx, buyer.ID, item.ID)
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}

	newPrice := decimal.RequireFromString("150.00")
	if _, err := f.items.Update(ctx, item.ID, domain.ItemPatch{Price: &newPrice}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := f.purchases.Get(ctx, txn.ID)
	if err != nil {
		t.Fatalf("Get transaction failed: %v", err)
	}
	if !got.Price.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("expected recorded price 100.00, got %s", got.Price)
	}
}

func TestPurchase_Concurrent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	seller := f.seedUser(t, "seller")
	item := f.seedItem(t, seller.ID, "Vintage Camera", "100.00")

	totalBuyers := 50
	buyerIDs := make([]int64, totalBuyers)
	for i := 0; i < totalBuyers; i++ {
		buyerIDs[i] = f.seedUser(t, "buyer-"+string(rune('a'+i%26))+string(rune('a'+i/26))).ID
	}

	var successCount, invalidCount atomic.Int32
	var wg sync.WaitGroup

	for _, buyerID := range buyerIDs {
		wg.Add(1)
		go func(buyerID int64) {
			defer wg.Done()
			_, err := f.purchases.Purchase(ctx, buyerID, item.ID)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, ErrInvalidState):
				invalidCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(buyerID)
	}

	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
	if invalidCount.Load() != int32(totalBuyers-1) {
		t.Errorf("expected %d invalid-state failures, got %d", totalBuyers-1, invalidCount.Load())
	}
}
