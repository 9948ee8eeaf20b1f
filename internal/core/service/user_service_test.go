package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

func TestRegister(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	u, err := f.users.Register(ctx, "Alice A", "alice", "alice@example.com", "hash")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if u.ID == 0 {
		t.Error("expected assigned id")
	}
	if !u.Rating.Equal(decimal.Zero) {
		t.Errorf("expected zero initial rating, got %s", u.Rating)
	}

	got, err := f.users.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetByUsername failed: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("expected id %d, got %d", u.ID, got.ID)
	}
}

func TestRegister_MissingFields(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	cases := []struct {
		name     string
		username string
		email    string
		hash     string
	}{
		{"no username", "", "a@example.com", "hash"},
		{"no email", "a", "", "hash"},
		{"no hash", "a", "a@example.com", ""},
	}
	for _, tc := range cases {
		if _, err := f.users.Register(ctx, "X", tc.username, tc.email, tc.hash); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got: %v", tc.name, err)
		}
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.seedUser(t, "alice")
	_, err := f.users.Register(ctx, "Other", "alice", "other@example.com", "hash")
	if !errors.Is(err, port.ErrConflict) {
		t.Errorf("expected ErrConflict, got: %v", err)
	}
}

func TestRegister_StorageUnavailable(t *testing.T) {
	f := newFixture()
	f.store.FailNext = true

	_, err := f.users.Register(context.Background(), "Alice", "alice", "alice@example.com", "hash")
	if !errors.Is(err, port.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got: %v", err)
	}
}

func TestUpdateUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	u := f.seedUser(t, "alice")
	name := "Alice Updated"
	got, err := f.users.Update(ctx, u.ID, domain.UserPatch{FullName: &name})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.FullName != "Alice Updated" {
		t.Errorf("expected updated full name, got %s", got.FullName)
	}
	if got.Username != "alice" {
		t.Errorf("untouched field changed: %s", got.Username)
	}
}

func TestUpdateUser_RatingNotPatchable(t *testing.T) {
	f := newFixture()
	u := f.seedUser(t, "alice")

	r := decimal.RequireFromString("5.00")
	_, err := f.users.Update(context.Background(), u.ID, domain.UserPatch{Rating: &r})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got: %v", err)
	}
}

func TestDeleteUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	u := f.seedUser(t, "alice")
	if err := f.users.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := f.users.Get(ctx, u.ID); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got: %v", err)
	}
	if err := f.users.Delete(ctx, u.ID); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got: %v", err)
	}
}

func TestListUsers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a := f.seedUser(t, "alice")
	b := f.seedUser(t, "bob")

	got, err := f.users.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != a.ID || got[1].ID != b.ID {
		t.Errorf("expected [%d %d] ordered by id, got %v", a.ID, b.ID, got)
	}
}
