package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/metrics"
	"github.com/rl1809/marketplace/internal/port"
)

type PurchaseService struct {
	store port.Store
}

func NewPurchaseService(store port.Store) *PurchaseService {
	return &PurchaseService{store: store}
}

// Purchase converts an Available item into a Sold one and records the sale.
//
// Two buyers can both read the item as Available before either writes; the
// compare-and-swap on the status is the only thing that decides the winner.
// No transaction record is created unless the swap succeeds, and the seller
// and price come from the pre-swap read (the owner never changes, and the
// sale price must not move with later repricing).
func (s *PurchaseService) Purchase(ctx context.Context, buyerID, itemID int64) (t *domain.Transaction, err error) {
	defer func() { metrics.IncPurchase(resultLabel(err)) }()

	it, err := s.store.GetItemByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", itemID, err)
	}
	if it.OwnerID == buyerID {
		return nil, fmt.Errorf("%w: cannot purchase your own item", ErrForbidden)
	}
	if _, err := s.store.GetUserByID(ctx, buyerID); err != nil {
		return nil, fmt.Errorf("buyer %d: %w", buyerID, err)
	}

	ok, err := s.store.UpdateItemStatus(ctx, itemID, domain.StatusAvailable, domain.StatusSold)
	if err != nil {
		return nil, fmt.Errorf("mark item %d sold: %w", itemID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: item %d", ErrInvalidState, itemID)
	}

	txn := &domain.Transaction{
		SellerID: it.OwnerID,
		BuyerID:  buyerID,
		ItemID:   itemID,
		Price:    it.Price,
		Date:     time.Now().UTC(),
	}
	if err := s.store.CreateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("record transaction for item %d: %w", itemID, err)
	}
	return txn, nil
}

func (s *PurchaseService) Get(ctx context.Context, id int64) (*domain.Transaction, error) {
	return s.store.GetTransactionByID(ctx, id)
}
