// Stress harness for the purchase race: one Available item, many concurrent
// buyers, exactly one winner expected. Runs against whichever backend
// STORAGE_KIND selects.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/marketplace/internal/adapter/storage"
	"github.com/rl1809/marketplace/internal/config"
	"github.com/rl1809/marketplace/internal/core/service"
)

const totalBuyers = 50

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, closeStore, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer closeStore()

	users := service.NewUserService(store)
	items := service.NewItemService(store)
	purchases := service.NewPurchaseService(store)

	// Seed a seller, buyers, and one item to fight over.
	run := uuid.New().String()[:8]
	seller, err := users.Register(ctx, "Stress Seller", "seller-"+run, "seller-"+run+"@stress.local", "x")
	if err != nil {
		log.Fatalf("failed to seed seller: %v", err)
	}

	buyerIDs := make([]int64, totalBuyers)
	for i := range buyerIDs {
		name := fmt.Sprintf("buyer-%s-%d", run, i)
		buyer, err := users.Register(ctx, "Stress Buyer", name, name+"@stress.local", "x")
		if err != nil {
			log.Fatalf("failed to seed buyer: %v", err)
		}
		buyerIDs[i] = buyer.ID
	}

	item, err := items.Create(ctx, seller.ID, "Stress Item "+run, "", decimal.RequireFromString("99.99"))
	if err != nil {
		log.Fatalf("failed to seed item: %v", err)
	}

	var successCount, invalidCount, otherCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for _, buyerID := range buyerIDs {
		wg.Add(1)
		go func(buyerID int64) {
			defer wg.Done()

			_, err := purchases.Purchase(ctx, buyerID, item.ID)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, service.ErrInvalidState):
				invalidCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("unexpected purchase error: %v", err)
			}
		}(buyerID)
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Backend:          %s\n", cfg.StorageKind)
	fmt.Printf("Concurrent buyers: %d\n", totalBuyers)
	fmt.Printf("Successful:       %d\n", successCount.Load())
	fmt.Printf("Not available:    %d\n", invalidCount.Load())
	fmt.Printf("Other errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if successCount.Load() == 1 && invalidCount.Load() == totalBuyers-1 {
		fmt.Println("PASS: exactly one purchase won the race")
	} else {
		fmt.Printf("FAIL: expected 1 success/%d not-available, got %d/%d\n",
			totalBuyers-1, successCount.Load(), invalidCount.Load())
	}
}
