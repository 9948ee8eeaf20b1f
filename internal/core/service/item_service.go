package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

type ItemService struct {
	store port.Store
}

func NewItemService(store port.Store) *ItemService {
	return &ItemService{store: store}
}

// Create lists a new item for sale. New items always start Available.
func (s *ItemService) Create(ctx context.Context, ownerID int64, name, description string, price decimal.Decimal) (*domain.Item, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: item name is required", ErrValidation)
	}
	if price.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", ErrValidation)
	}
	if _, err := s.store.GetUserByID(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("owner %d: %w", ownerID, err)
	}

	it := &domain.Item{
		Name:        name,
		Description: description,
		Price:       price.Round(2),
		Status:      domain.StatusAvailable,
		OwnerID:     ownerID,
	}
	if err := s.store.CreateItem(ctx, it); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	return it, nil
}

func (s *ItemService) Get(ctx context.Context, id int64) (*domain.Item, error) {
	return s.store.GetItemByID(ctx, id)
}

func (s *ItemService) BySeller(ctx context.Context, sellerID int64) ([]domain.Item, error) {
	return s.store.ListItemsByOwner(ctx, sellerID)
}

// Update patches name, description or price. Lifecycle transitions are not
// expressible through a patch; they go through Purchase and Withdraw.
func (s *ItemService) Update(ctx context.Context, id int64, patch domain.ItemPatch) (*domain.Item, error) {
	if patch.Price != nil && patch.Price.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", ErrValidation)
	}
	if patch.Price != nil {
		rounded := patch.Price.Round(2)
		patch.Price = &rounded
	}
	if patch.Empty() {
		return s.store.GetItemByID(ctx, id)
	}
	it, err := s.store.UpdateItem(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update item %d: %w", id, err)
	}
	return it, nil
}

// Search returns Available items matching the filter.
func (s *ItemService) Search(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error) {
	if filter.MinPrice != nil && filter.MaxPrice != nil && filter.MinPrice.GreaterThan(*filter.MaxPrice) {
		return nil, fmt.Errorf("%w: min price exceeds max price", ErrValidation)
	}
	return s.store.SearchItems(ctx, filter)
}

// Withdraw takes a listing off the market. Only the owner may withdraw, and
// only while the item is still Available; Removed is terminal like Sold.
func (s *ItemService) Withdraw(ctx context.Context, ownerID, itemID int64) (*domain.Item, error) {
	it, err := s.store.GetItemByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", itemID, err)
	}
	if it.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: only the owner can withdraw a listing", ErrForbidden)
	}

	ok, err := s.store.UpdateItemStatus(ctx, itemID, domain.StatusAvailable, domain.StatusRemoved)
	if err != nil {
		return nil, fmt.Errorf("withdraw item %d: %w", itemID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: item %d", ErrInvalidState, itemID)
	}

	it.Status = domain.StatusRemoved
	return it, nil
}
