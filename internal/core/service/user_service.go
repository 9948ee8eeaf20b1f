package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

type UserService struct {
	store port.Store
}

func NewUserService(store port.Store) *UserService {
	return &UserService{store: store}
}

// Register creates a new account. The password hash is opaque here; hashing
// belongs to the caller layer.
func (s *UserService) Register(ctx context.Context, fullName, username, email, passwordHash string) (*domain.User, error) {
	if username == "" || email == "" || passwordHash == "" {
		return nil, fmt.Errorf("%w: username, email and password are required", ErrValidation)
	}

	u := &domain.User{
		FullName:     fullName,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Rating:       decimal.Zero,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *UserService) Get(ctx context.Context, id int64) (*domain.User, error) {
	return s.store.GetUserByID(ctx, id)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.store.GetUserByUsername(ctx, username)
}

func (s *UserService) List(ctx context.Context) ([]domain.User, error) {
	return s.store.ListUsers(ctx)
}

// Update applies a partial profile update. The rating field is owned by the
// rating workflow and cannot be patched from here.
func (s *UserService) Update(ctx context.Context, id int64, patch domain.UserPatch) (*domain.User, error) {
	if patch.Rating != nil {
		return nil, fmt.Errorf("%w: rating is derived from received ratings", ErrValidation)
	}
	if patch.Empty() {
		return s.store.GetUserByID(ctx, id)
	}
	u, err := s.store.UpdateUser(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update user %d: %w", id, err)
	}
	return u, nil
}

// Delete removes the account record. Items and transactions referencing the
// user are left in place so sale history stays intact.
func (s *UserService) Delete(ctx context.Context, id int64) error {
	return s.store.DeleteUser(ctx, id)
}
