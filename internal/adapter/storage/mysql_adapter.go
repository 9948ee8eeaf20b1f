package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

const mysqlDuplicateEntry = 1062

// MySQLAdapter implements port.Store over a relational schema. Ids come from
// AUTO_INCREMENT keys, uniqueness from UNIQUE indexes, and the status
// compare-and-swap from a single conditional UPDATE checked via RowsAffected.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		full_name VARCHAR(255) NOT NULL DEFAULT '',
		username VARCHAR(64) NOT NULL,
		email VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		rating DECIMAL(3,2) NOT NULL DEFAULT 0.00,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_users_username (username),
		UNIQUE KEY uq_users_email (email)
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT,
		price DECIMAL(10,2) NOT NULL,
		status VARCHAR(16) NOT NULL,
		owner_id BIGINT NOT NULL,
		KEY idx_items_owner (owner_id),
		KEY idx_items_status (status)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		seller_id BIGINT NOT NULL,
		buyer_id BIGINT NOT NULL,
		item_id BIGINT NOT NULL,
		transaction_price DECIMAL(10,2) NOT NULL,
		transaction_date DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ratings (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		transaction_id BIGINT NOT NULL,
		rater_id BIGINT NOT NULL,
		rated_id BIGINT NOT NULL,
		score INT NOT NULL,
		UNIQUE KEY uq_ratings_transaction (transaction_id),
		KEY idx_ratings_rated (rated_id)
	)`,
}

// EnsureSchema creates the tables when they do not exist yet.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return m.mapErr("ensure schema", err)
		}
	}
	return nil
}

// mapErr translates driver errors into the port taxonomy. Duplicate-entry is
// the authoritative source of conflicts; connection-level failures become
// ErrUnavailable so callers know the write may or may not have committed.
func (m *MySQLAdapter) mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, port.ErrNotFound)
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		if me.Number == mysqlDuplicateEntry {
			return fmt.Errorf("%s: %w", op, port.ErrConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var ne net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.As(err, &ne) {
		return fmt.Errorf("%s: %v: %w", op, err, port.ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// --- users ---

const userColumns = `id, full_name, username, email, password_hash, rating, created_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	var rating string
	if err := row.Scan(&u.ID, &u.FullName, &u.Username, &u.Email, &u.PasswordHash, &rating, &u.CreatedAt); err != nil {
		return nil, err
	}
	r, err := decimal.NewFromString(rating)
	if err != nil {
		return nil, fmt.Errorf("parse rating %q: %w", rating, err)
	}
	u.Rating = r
	return &u, nil
}

func (m *MySQLAdapter) CreateUser(ctx context.Context, u *domain.User) error {
	res, err := m.db.ExecContext(ctx, `
		INSERT INTO users (full_name, username, email, password_hash, rating, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.FullName, u.Username, u.Email, u.PasswordHash, u.Rating.StringFixed(2), u.CreatedAt,
	)
	if err != nil {
		return m.mapErr("insert user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return m.mapErr("insert user", err)
	}
	u.ID = id
	return nil
}

func (m *MySQLAdapter) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(m.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, m.mapErr("get user", err)
	}
	return u, nil
}

func (m *MySQLAdapter) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	u, err := scanUser(m.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err != nil {
		return nil, m.mapErr("get user by username", err)
	}
	return u, nil
}

func (m *MySQLAdapter) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := scanUser(m.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		return nil, m.mapErr("get user by email", err)
	}
	return u, nil
}

func (m *MySQLAdapter) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, m.mapErr("list users", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, m.mapErr("list users", err)
		}
		out = append(out, *u)
	}
	return out, m.mapErr("list users", rows.Err())
}

func (m *MySQLAdapter) UpdateUser(ctx context.Context, id int64, patch domain.UserPatch) (*domain.User, error) {
	var sets []string
	var args []any
	if patch.FullName != nil {
		sets, args = append(sets, "full_name = ?"), append(args, *patch.FullName)
	}
	if patch.Username != nil {
		sets, args = append(sets, "username = ?"), append(args, *patch.Username)
	}
	if patch.Email != nil {
		sets, args = append(sets, "email = ?"), append(args, *patch.Email)
	}
	if patch.PasswordHash != nil {
		sets, args = append(sets, "password_hash = ?"), append(args, *patch.PasswordHash)
	}
	if patch.Rating != nil {
		sets, args = append(sets, "rating = ?"), append(args, patch.Rating.StringFixed(2))
	}
	if len(sets) > 0 {
		args = append(args, id)
		_, err := m.db.ExecContext(ctx,
			`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return nil, m.mapErr("update user", err)
		}
	}
	return m.GetUserByID(ctx, id)
}

func (m *MySQLAdapter) DeleteUser(ctx context.Context, id int64) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return m.mapErr("delete user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return m.mapErr("delete user", err)
	}
	if n == 0 {
		return fmt.Errorf("delete user: %w", port.ErrNotFound)
	}
	return nil
}

// --- items ---

const itemColumns = `id, name, description, price, status, owner_id`

func scanItem(row interface{ Scan(...any) error }) (*domain.Item, error) {
	var it domain.Item
	var desc sql.NullString
	var price, status string
	if err := row.Scan(&it.ID, &it.Name, &desc, &price, &status, &it.OwnerID); err != nil {
		return nil, err
	}
	it.Description = desc.String
	it.Status = domain.ItemStatus(status)
	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	it.Price = p
	return &it, nil
}

func (m *MySQLAdapter) CreateItem(ctx context.Context, it *domain.Item) error {
	res, err := m.db.ExecContext(ctx, `
		INSERT INTO items (name, description, price, status, owner_id)
		VALUES (?, ?, ?, ?, ?)`,
		it.Name, it.Description, it.Price.StringFixed(2), string(it.Status), it.OwnerID,
	)
	if err != nil {
		return m.mapErr("insert item", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return m.mapErr("insert item", err)
	}
	it.ID = id
	return nil
}

func (m *MySQLAdapter) GetItemByID(ctx context.Context, id int64) (*domain.Item, error) {
	it, err := scanItem(m.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if err != nil {
		return nil, m.mapErr("get item", err)
	}
	return it, nil
}

func (m *MySQLAdapter) ListItemsByOwner(ctx context.Context, ownerID int64) ([]domain.Item, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, m.mapErr("list items by owner", err)
	}
	defer rows.Close()

	var out []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, m.mapErr("list items by owner", err)
		}
		out = append(out, *it)
	}
	return out, m.mapErr("list items by owner", rows.Err())
}

func (m *MySQLAdapter) UpdateItem(ctx context.Context, id int64, patch domain.ItemPatch) (*domain.Item, error) {
	var sets []string
	var args []any
	if patch.Name != nil {
		sets, args = append(sets, "name = ?"), append(args, *patch.Name)
	}
	if patch.Description != nil {
		sets, args = append(sets, "description = ?"), append(args, *patch.Description)
	}
	if patch.Price != nil {
		sets, args = append(sets, "price = ?"), append(args, patch.Price.StringFixed(2))
	}
	if len(sets) > 0 {
		args = append(args, id)
		_, err := m.db.ExecContext(ctx,
			`UPDATE items SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return nil, m.mapErr("update item", err)
		}
	}
	return m.GetItemByID(ctx, id)
}

// UpdateItemStatus is the conditional write every lifecycle transition goes
// through. The predicate lives in the WHERE clause, so the check and the
// write are one atomic statement; RowsAffected tells us whether this caller
// won the race.
func (m *MySQLAdapter) UpdateItemStatus(ctx context.Context, id int64, expect, next domain.ItemStatus) (bool, error) {
	res, err := m.db.ExecContext(ctx,
		`UPDATE items SET status = ? WHERE id = ? AND status = ?`,
		string(next), id, string(expect),
	)
	if err != nil {
		return false, m.mapErr("update item status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, m.mapErr("update item status", err)
	}
	if n == 0 {
		// Distinguish a lost race from a missing item.
		var exists int
		err := m.db.QueryRowContext(ctx, `SELECT 1 FROM items WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("update item status: %w", port.ErrNotFound)
		}
		if err != nil {
			return false, m.mapErr("update item status", err)
		}
		return false, nil
	}
	return true, nil
}

func (m *MySQLAdapter) SearchItems(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error) {
	query := `SELECT i.id, i.name, i.description, i.price, i.status, i.owner_id FROM items i`
	where := []string{`i.status = ?`}
	args := []any{string(domain.StatusAvailable)}

	if filter.MinSellerRating != nil {
		query += ` JOIN users u ON u.id = i.owner_id`
		where = append(where, `u.rating >= ?`)
		args = append(args, filter.MinSellerRating.StringFixed(2))
	}
	if filter.MinPrice != nil {
		where = append(where, `i.price >= ?`)
		args = append(args, filter.MinPrice.StringFixed(2))
	}
	if filter.MaxPrice != nil {
		where = append(where, `i.price <= ?`)
		args = append(args, filter.MaxPrice.StringFixed(2))
	}
	if filter.Keyword != "" {
		where = append(where, `(LOWER(i.name) LIKE ? OR LOWER(COALESCE(i.description, '')) LIKE ?)`)
		kw := "%" + strings.ToLower(filter.Keyword) + "%"
		args = append(args, kw, kw)
	}

	query += ` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY i.id`
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, m.mapErr("search items", err)
	}
	defer rows.Close()

	var out []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, m.mapErr("search items", err)
		}
		out = append(out, *it)
	}
	return out, m.mapErr("search items", rows.Err())
}

// --- transactions ---

func (m *MySQLAdapter) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	res, err := m.db.ExecContext(ctx, `
		INSERT INTO transactions (seller_id, buyer_id, item_id, transaction_price, transaction_date)
		VALUES (?, ?, ?, ?, ?)`,
		t.SellerID, t.BuyerID, t.ItemID, t.Price.StringFixed(2), t.Date,
	)
	if err != nil {
		return m.mapErr("insert transaction", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return m.mapErr("insert transaction", err)
	}
	t.ID = id
	return nil
}

func (m *MySQLAdapter) GetTransactionByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	var t domain.Transaction
	var price string
	err := m.db.QueryRowContext(ctx, `
		SELECT id, seller_id, buyer_id, item_id, transaction_price, transaction_date
		FROM transactions WHERE id = ?`, id,
	).Scan(&t.ID, &t.SellerID, &t.BuyerID, &t.ItemID, &price, &t.Date)
	if err != nil {
		return nil, m.mapErr("get transaction", err)
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse transaction price %q: %w", price, err)
	}
	t.Price = p
	return &t, nil
}

// --- ratings ---

func (m *MySQLAdapter) CreateRating(ctx context.Context, r *domain.Rating) error {
	res, err := m.db.ExecContext(ctx, `
		INSERT INTO ratings (transaction_id, rater_id, rated_id, score)
		VALUES (?, ?, ?, ?)`,
		r.TransactionID, r.RaterID, r.RatedID, r.Score,
	)
	if err != nil {
		return m.mapErr("insert rating", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return m.mapErr("insert rating", err)
	}
	r.ID = id
	return nil
}

func (m *MySQLAdapter) AverageSellerScore(ctx context.Context, sellerID int64) (decimal.Decimal, bool, error) {
	var avg sql.NullString
	err := m.db.QueryRowContext(ctx,
		`SELECT AVG(score) FROM ratings WHERE rated_id = ?`, sellerID,
	).Scan(&avg)
	if err != nil {
		return decimal.Zero, false, m.mapErr("average seller score", err)
	}
	if !avg.Valid {
		return decimal.Zero, false, nil
	}
	d, err := decimal.NewFromString(avg.String)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("parse average %q: %w", avg.String, err)
	}
	return d, true, nil
}
