// Package porttest provides a mutex-guarded in-memory Store for tests. It
// enforces the same uniqueness and compare-and-swap semantics as the real
// backends so workflow tests can exercise concurrent behavior without
// external infrastructure.
package porttest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

type Store struct {
	mu sync.Mutex

	users        map[int64]*domain.User
	items        map[int64]*domain.Item
	transactions map[int64]*domain.Transaction
	ratings      map[int64]*domain.Rating

	ratedTxns map[int64]bool // transaction ids that already carry a rating

	nextUserID   int64
	nextItemID   int64
	nextTxnID    int64
	nextRatingID int64

	// FailNext, when set, makes the next call return ErrUnavailable.
	FailNext bool
}

var _ port.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		users:        make(map[int64]*domain.User),
		items:        make(map[int64]*domain.Item),
		transactions: make(map[int64]*domain.Transaction),
		ratings:      make(map[int64]*domain.Rating),
		ratedTxns:    make(map[int64]bool),
	}
}

func (s *Store) failNext() error {
	if s.FailNext {
		s.FailNext = false
		return port.ErrUnavailable
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	for _, existing := range s.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return port.ErrConflict
		}
	}
	s.nextUserID++
	u.ID = s.nextUserID
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, port.ErrNotFound
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, port.ErrNotFound
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateUser(ctx context.Context, id int64, patch domain.UserPatch) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	if patch.Username != nil && *patch.Username != u.Username {
		for _, other := range s.users {
			if other.ID != id && other.Username == *patch.Username {
				return nil, port.ErrConflict
			}
		}
		u.Username = *patch.Username
	}
	if patch.Email != nil && *patch.Email != u.Email {
		for _, other := range s.users {
			if other.ID != id && other.Email == *patch.Email {
				return nil, port.ErrConflict
			}
		}
		u.Email = *patch.Email
	}
	if patch.FullName != nil {
		u.FullName = *patch.FullName
	}
	if patch.PasswordHash != nil {
		u.PasswordHash = *patch.PasswordHash
	}
	if patch.Rating != nil {
		u.Rating = *patch.Rating
	}
	cp := *u
	return &cp, nil
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return port.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *Store) CreateItem(ctx context.Context, it *domain.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	s.nextItemID++
	it.ID = s.nextItemID
	cp := *it
	s.items[it.ID] = &cp
	return nil
}

func (s *Store) GetItemByID(ctx context.Context, id int64) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (s *Store) ListItemsByOwner(ctx context.Context, ownerID int64) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Item
	for _, it := range s.items {
		if it.OwnerID == ownerID {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateItem(ctx context.Context, id int64, patch domain.ItemPatch) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	if patch.Name != nil {
		it.Name = *patch.Name
	}
	if patch.Description != nil {
		it.Description = *patch.Description
	}
	if patch.Price != nil {
		it.Price = *patch.Price
	}
	cp := *it
	return &cp, nil
}

func (s *Store) UpdateItemStatus(ctx context.Context, id int64, expect, next domain.ItemStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return false, err
	}
	it, ok := s.items[id]
	if !ok {
		return false, port.ErrNotFound
	}
	if it.Status != expect {
		return false, nil
	}
	it.Status = next
	return true, nil
}

func (s *Store) SearchItems(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Item
	for _, it := range s.items {
		if it.Status != domain.StatusAvailable || !filter.Matches(*it) {
			continue
		}
		if filter.MinSellerRating != nil {
			owner, ok := s.users[it.OwnerID]
			if !ok || owner.Rating.LessThan(*filter.MinSellerRating) {
				continue
			}
		}
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	s.nextTxnID++
	t.ID = s.nextTxnID
	cp := *t
	s.transactions[t.ID] = &cp
	return nil
}

func (s *Store) GetTransactionByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) CreateRating(ctx context.Context, r *domain.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	if s.ratedTxns[r.TransactionID] {
		return fmt.Errorf("transaction %d already rated: %w", r.TransactionID, port.ErrConflict)
	}
	s.ratedTxns[r.TransactionID] = true
	s.nextRatingID++
	r.ID = s.nextRatingID
	cp := *r
	s.ratings[r.ID] = &cp
	return nil
}

func (s *Store) AverageSellerScore(ctx context.Context, sellerID int64) (decimal.Decimal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum, n int64
	for _, r := range s.ratings {
		if r.RatedID == sellerID {
			sum += int64(r.Score)
			n++
		}
	}
	if n == 0 {
		return decimal.Zero, false, nil
	}
	return decimal.NewFromInt(sum).Div(decimal.NewFromInt(n)), true, nil
}
