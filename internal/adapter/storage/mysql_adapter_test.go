package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

func getMySQLAdapter(t *testing.T) (*MySQLAdapter, *sql.DB) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/marketplace?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	adapter := NewMySQLAdapter(db)
	if err := adapter.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	return adapter, db
}

func mysqlTestUser(t *testing.T, adapter *MySQLAdapter) *domain.User {
	t.Helper()
	tag := uuid.NewString()[:8]
	u := &domain.User{
		FullName:     "Test User",
		Username:     "u-" + tag,
		Email:        "u-" + tag + "@example.com",
		PasswordHash: "hash",
		Rating:       decimal.Zero,
		CreatedAt:    time.Now().UTC(),
	}
	if err := adapter.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return u
}

func mysqlTestItem(t *testing.T, adapter *MySQLAdapter, ownerID int64, name, price string) *domain.Item {
	t.Helper()
	it := &domain.Item{
		Name:    name,
		Price:   decimal.RequireFromString(price),
		Status:  domain.StatusAvailable,
		OwnerID: ownerID,
	}
	if err := adapter.CreateItem(context.Background(), it); err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}
	return it
}

func TestMySQLCreateUser_DuplicateUsername(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()
	ctx := context.Background()

	u := mysqlTestUser(t, adapter)

	dup := &domain.User{
		Username:     u.Username,
		Email:        "other-" + uuid.NewString()[:8] + "@example.com",
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC(),
	}
	err := adapter.CreateUser(ctx, dup)
	if !errors.Is(err, port.ErrConflict) {
		t.Errorf("expected ErrConflict, got: %v", err)
	}
}

func TestMySQLGetUser_NotFound(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	_, err := adapter.GetUserByID(context.Background(), -1)
	if !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestMySQLUpdateUser_Partial(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()
	ctx := context.Background()

	u := mysqlTestUser(t, adapter)

	rating := decimal.RequireFromString("4.50")
	got, err := adapter.UpdateUser(ctx, u.ID, domain.UserPatch{Rating: &rating})
	if err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if !got.Rating.Equal(rating) {
		t.Errorf("expected rating 4.50, got %s", got.Rating)
	}
	if got.Username != u.Username {
		t.Errorf("untouched field changed: %s", got.Username)
	}
}

func TestMySQLIDAllocation_Concurrent(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()
	ctx := context.Background()

	owner := mysqlTestUser(t, adapter)
	workers := 20

	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			it := &domain.Item{
				Name:    "alloc-test",
				Price:   decimal.RequireFromString("1.00"),
				Status:  domain.StatusAvailable,
				OwnerID: owner.ID,
			}
			if err := adapter.CreateItem(ctx, it); err != nil {
				t.Errorf("CreateItem failed: %v", err)
				return
			}
			ids[i] = it.ID
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if seen[id] {
			t.Fatalf("duplicate id allocated: %d", id)
		}
		seen[id] = true
	}
}

func TestMySQLUpdateItemStatus(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()
	ctx := context.Background()

	owner := mysqlTestUser(t, adapter)
	it := mysqlTestItem(t, adapter, owner.ID, "CAS Item", "10.00")

	ok, err := adapter.UpdateItemStatus(ctx, it.ID, domain.StatusAvailable, domain.StatusSold)
	if err != nil {
		t.Fatalf("UpdateItemStatus failed: %v", err)
	}
	if !ok {
		t.Fatal("expected transition to succeed")
	}

	// Predicate no longer holds.
	ok, err = adapter.UpdateItemStatus(ctx, it.ID, domain.StatusAvailable, domain.StatusRemoved)
	if err != nil {
		t.Fatalf("UpdateItemStatus failed: %v", err)
	}
	if ok {
		t.Error("expected lost race, not success")
	}

	got, err := adapter.GetItemByID(ctx, it.ID)
	if err != nil {
		t.Fatalf("GetItemByID failed: %v", err)
	}
	if got.Status != domain.StatusSold {
		t.Errorf("expected status Sold, got %s", got.Status)
	}
}

func TestMySQLUpdateItemStatus_NotFound(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	_, err := adapter.UpdateItemStatus(context.Background(), -1, domain.StatusAvailable, domain.StatusSold)
	if !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestMySQLUpdateItemStatus_Concurrent(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()
	ctx := context.Background()

	owner := mysqlTestUser(t, adapter)
	it := mysqlTestItem(t, adapter, owner.ID, "Race Item", "10.00")

	var successCount atomic.Int32
	var wg sync.WaitGroup
	attempts := 30

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.UpdateItemStatus(ctx, it.ID, domain.StatusAvailable, domain.StatusSold)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 winner, got %d", successCount.Load())
	}
}

func TestMySQLCreateRating_DuplicateTransaction(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()
	ctx := context.Background()

	seller := mysqlTestUser(t, adapter)
	buyer := mysqlTestUser(t, adapter)
	it := mysqlTestItem(t, adapter, seller.ID, "Rated Item", "10.00")

	txn := &domain.Transaction{
		SellerID: seller.ID,
		BuyerID:  buyer.ID,
		ItemID:   it.ID,
		Price:    it.Price,
		Date:     time.Now().UTC(),
	}
	if err := adapter.CreateTransaction(ctx, txn); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}

	first := &domain.Rating{TransactionID: txn.ID, RaterID: buyer.ID, RatedID: seller.ID, Score: 5}
	if err := adapter.CreateRating(ctx, first); err != nil {
		t.Fatalf("CreateRating failed: %v", err)
	}

	second := &domain.Rating{TransactionID: txn.ID, RaterID: buyer.ID, RatedID: seller.ID, Score: 1}
	err := adapter.CreateRating(ctx, second)
	if !errors.Is(err, port.ErrConflict) {
		t.Errorf("expected ErrConflict, got: %v", err)
	}
}

func TestMySQLAverageSellerScore(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()
	ctx := context.Background()

	seller := mysqlTestUser(t, adapter)
	buyer := mysqlTestUser(t, adapter)

	_, present, err := adapter.AverageSellerScore(ctx, seller.ID)
	if err != nil {
		t.Fatalf("AverageSellerScore failed: %v", err)
	}
	if present {
		t.Error("expected no average for unrated seller")
	}

	for _, score := range []int{5, 4} {
		it := mysqlTestItem(t, adapter, seller.ID, "Avg Item", "10.00")
		txn := &domain.Transaction{
			SellerID: seller.ID, BuyerID: buyer.ID, ItemID: it.ID,
			Price: it.Price, Date: time.Now().UTC(),
		}
		if err := adapter.CreateTransaction(ctx, txn); err != nil {
			t.Fatalf("CreateTransaction failed: %v", err)
		}
		r := &domain.Rating{TransactionID: txn.ID, RaterID: buyer.ID, RatedID: seller.ID, Score: score}
		if err := adapter.CreateRating(ctx, r); err != nil {
			t.Fatalf("CreateRating failed: %v", err)
		}
	}

	avg, present, err := adapter.AverageSellerScore(ctx, seller.ID)
	if err != nil {
		t.Fatalf("AverageSellerScore failed: %v", err)
	}
	if !present {
		t.Fatal("expected an average")
	}
	if !avg.Round(2).Equal(decimal.RequireFromString("4.50")) {
		t.Errorf("expected average 4.50, got %s", avg)
	}
}

func TestMySQLSearchItems(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()
	ctx := context.Background()

	owner := mysqlTestUser(t, adapter)
	tag := uuid.NewString()[:8]

	cheap := mysqlTestItem(t, adapter, owner.ID, "Widget "+tag, "10.00")
	pricey := mysqlTestItem(t, adapter, owner.ID, "Widget "+tag, "500.00")
	sold := mysqlTestItem(t, adapter, owner.ID, "Widget "+tag, "20.00")
	if ok, err := adapter.UpdateItemStatus(ctx, sold.ID, domain.StatusAvailable, domain.StatusSold); err != nil || !ok {
		t.Fatalf("marking item sold failed: ok=%v err=%v", ok, err)
	}

	max := decimal.RequireFromString("100.00")
	got, err := adapter.SearchItems(ctx, domain.ItemFilter{Keyword: tag, MaxPrice: &max})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}

	ids := make(map[int64]bool)
	for _, it := range got {
		ids[it.ID] = true
	}
	if !ids[cheap.ID] {
		t.Error("expected the in-range item in results")
	}
	if ids[pricey.ID] {
		t.Error("item above max price must be excluded")
	}
	if ids[sold.ID] {
		t.Error("sold item must be excluded")
	}
}

func TestMySQLDeleteUser_NotFound(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	err := adapter.DeleteUser(context.Background(), -1)
	if !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}
