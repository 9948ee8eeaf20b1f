package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

// Key layout: one hash per entity document, a membership set per collection,
// plain string keys for uniqueness indexes, and one durable counter per
// collection for id allocation.
const (
	seqUsersKey        = "seq:users"
	seqItemsKey        = "seq:items"
	seqTransactionsKey = "seq:transactions"
	seqRatingsKey      = "seq:ratings"

	usersSetKey        = "users"
	itemsSetKey        = "items"
	transactionsSetKey = "transactions"
	ratingsSetKey      = "ratings"
)

func userKey(id int64) string         { return "user:" + strconv.FormatInt(id, 10) }
func usernameKey(v string) string     { return "user:username:" + v }
func emailKey(v string) string        { return "user:email:" + v }
func itemKey(id int64) string         { return "item:" + strconv.FormatInt(id, 10) }
func ownerItemsKey(id int64) string   { return "items:owner:" + strconv.FormatInt(id, 10) }
func transactionKey(id int64) string  { return "transaction:" + strconv.FormatInt(id, 10) }
func ratingKey(id int64) string       { return "rating:" + strconv.FormatInt(id, 10) }
func ratingTxnKey(txnID int64) string { return "rating:txn:" + strconv.FormatInt(txnID, 10) }
func sellerRatingsKey(id int64) string {
	return "ratings:rated:" + strconv.FormatInt(id, 10)
}

// reserveUserKeysScript claims the username and email index keys for a new
// user id, both or neither, in one atomic evaluation.
var reserveUserKeysScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[1])
return 1
`)

// casStatusScript compares the item's status to the expected value and swaps
// it in the same evaluation. Returns 1 on success, 0 when the predicate did
// not hold, -1 when the document does not exist.
var casStatusScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[1], 'status') == ARGV[1] then
	redis.call('HSET', KEYS[1], 'status', ARGV[2])
	return 1
end
return 0
`)

// RedisAdapter implements port.Store over per-document atomic operations. Ids
// come from INCR on durable counter keys, uniqueness from atomically reserved
// index keys, and the status compare-and-swap from a Lua script.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

// wrapErr translates client errors. redis.Nil means the record is absent;
// anything else is treated as connectivity trouble, so callers know a prior
// write may or may not have landed.
func (r *RedisAdapter) wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w", op, port.ErrNotFound)
	}
	return fmt.Errorf("%s: %v: %w", op, err, port.ErrUnavailable)
}

// nextID is the allocator: an atomic increment-and-fetch against a durable
// counter key. Never read-then-write; concurrent inserts from any number of
// processes get distinct, monotonically increasing ids.
func (r *RedisAdapter) nextID(ctx context.Context, seqKey string) (int64, error) {
	id, err := r.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return 0, r.wrapErr("allocate id", err)
	}
	return id, nil
}

// --- users ---

func userToMap(u *domain.User) map[string]any {
	return map[string]any{
		"id":            u.ID,
		"full_name":     u.FullName,
		"username":      u.Username,
		"email":         u.Email,
		"password_hash": u.PasswordHash,
		"rating":        u.Rating.StringFixed(2),
		"created_at":    u.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func userFromMap(m map[string]string) (*domain.User, error) {
	id, err := strconv.ParseInt(m["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse user id %q: %w", m["id"], err)
	}
	rating, err := decimal.NewFromString(m["rating"])
	if err != nil {
		return nil, fmt.Errorf("parse rating %q: %w", m["rating"], err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, m["created_at"])
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", m["created_at"], err)
	}
	return &domain.User{
		ID:           id,
		FullName:     m["full_name"],
		Username:     m["username"],
		Email:        m["email"],
		PasswordHash: m["password_hash"],
		Rating:       rating,
		CreatedAt:    createdAt,
	}, nil
}

func (r *RedisAdapter) CreateUser(ctx context.Context, u *domain.User) error {
	id, err := r.nextID(ctx, seqUsersKey)
	if err != nil {
		return err
	}

	reserved, err := reserveUserKeysScript.Run(ctx, r.client,
		[]string{usernameKey(u.Username), emailKey(u.Email)}, id).Int()
	if err != nil {
		return r.wrapErr("reserve user keys", err)
	}
	if reserved == 0 {
		return fmt.Errorf("username or email taken: %w", port.ErrConflict)
	}

	u.ID = id
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, userKey(id), userToMap(u))
	pipe.SAdd(ctx, usersSetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return r.wrapErr("insert user", err)
	}
	return nil
}

func (r *RedisAdapter) getUser(ctx context.Context, id int64) (*domain.User, error) {
	m, err := r.client.HGetAll(ctx, userKey(id)).Result()
	if err != nil {
		return nil, r.wrapErr("get user", err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("get user %d: %w", id, port.ErrNotFound)
	}
	return userFromMap(m)
}

func (r *RedisAdapter) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.getUser(ctx, id)
}

func (r *RedisAdapter) getUserByIndex(ctx context.Context, idxKey string) (*domain.User, error) {
	raw, err := r.client.Get(ctx, idxKey).Result()
	if err != nil {
		return nil, r.wrapErr("resolve user index", err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse indexed id %q: %w", raw, err)
	}
	return r.getUser(ctx, id)
}

func (r *RedisAdapter) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getUserByIndex(ctx, usernameKey(username))
}

func (r *RedisAdapter) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getUserByIndex(ctx, emailKey(email))
}

func (r *RedisAdapter) collectionIDs(ctx context.Context, setKey string) ([]int64, error) {
	raw, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, r.wrapErr("list collection", err)
	}
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse member id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *RedisAdapter) ListUsers(ctx context.Context) ([]domain.User, error) {
	ids, err := r.collectionIDs(ctx, usersSetKey)
	if err != nil {
		return nil, err
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, userKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, r.wrapErr("list users", err)
	}

	out := make([]domain.User, 0, len(ids))
	for _, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		u, err := userFromMap(m)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, nil
}

func (r *RedisAdapter) UpdateUser(ctx context.Context, id int64, patch domain.UserPatch) (*domain.User, error) {
	cur, err := r.getUser(ctx, id)
	if err != nil {
		return nil, err
	}

	// Moving a unique field reserves the new index key first so a duplicate
	// never wins, then releases the old one.
	if patch.Username != nil && *patch.Username != cur.Username {
		ok, err := r.client.SetNX(ctx, usernameKey(*patch.Username), id, 0).Result()
		if err != nil {
			return nil, r.wrapErr("reserve username", err)
		}
		if !ok {
			return nil, fmt.Errorf("username taken: %w", port.ErrConflict)
		}
		if err := r.client.Del(ctx, usernameKey(cur.Username)).Err(); err != nil {
			return nil, r.wrapErr("release username", err)
		}
	}
	if patch.Email != nil && *patch.Email != cur.Email {
		ok, err := r.client.SetNX(ctx, emailKey(*patch.Email), id, 0).Result()
		if err != nil {
			return nil, r.wrapErr("reserve email", err)
		}
		if !ok {
			return nil, fmt.Errorf("email taken: %w", port.ErrConflict)
		}
		if err := r.client.Del(ctx, emailKey(cur.Email)).Err(); err != nil {
			return nil, r.wrapErr("release email", err)
		}
	}

	fields := map[string]any{}
	if patch.FullName != nil {
		fields["full_name"] = *patch.FullName
	}
	if patch.Username != nil {
		fields["username"] = *patch.Username
	}
	if patch.Email != nil {
		fields["email"] = *patch.Email
	}
	if patch.PasswordHash != nil {
		fields["password_hash"] = *patch.PasswordHash
	}
	if patch.Rating != nil {
		fields["rating"] = patch.Rating.StringFixed(2)
	}
	if len(fields) > 0 {
		if err := r.client.HSet(ctx, userKey(id), fields).Err(); err != nil {
			return nil, r.wrapErr("update user", err)
		}
	}
	return r.getUser(ctx, id)
}

func (r *RedisAdapter) DeleteUser(ctx context.Context, id int64) error {
	u, err := r.getUser(ctx, id)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Del(ctx, userKey(id), usernameKey(u.Username), emailKey(u.Email))
	pipe.SRem(ctx, usersSetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return r.wrapErr("delete user", err)
	}
	return nil
}

// --- items ---

func itemToMap(it *domain.Item) map[string]any {
	return map[string]any{
		"id":          it.ID,
		"name":        it.Name,
		"description": it.Description,
		"price":       it.Price.StringFixed(2),
		"status":      string(it.Status),
		"owner_id":    it.OwnerID,
	}
}

func itemFromMap(m map[string]string) (*domain.Item, error) {
	id, err := strconv.ParseInt(m["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse item id %q: %w", m["id"], err)
	}
	ownerID, err := strconv.ParseInt(m["owner_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse owner id %q: %w", m["owner_id"], err)
	}
	price, err := decimal.NewFromString(m["price"])
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", m["price"], err)
	}
	return &domain.Item{
		ID:          id,
		Name:        m["name"],
		Description: m["description"],
		Price:       price,
		Status:      domain.ItemStatus(m["status"]),
		OwnerID:     ownerID,
	}, nil
}

func (r *RedisAdapter) CreateItem(ctx context.Context, it *domain.Item) error {
	id, err := r.nextID(ctx, seqItemsKey)
	if err != nil {
		return err
	}
	it.ID = id

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, itemKey(id), itemToMap(it))
	pipe.SAdd(ctx, itemsSetKey, id)
	pipe.SAdd(ctx, ownerItemsKey(it.OwnerID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return r.wrapErr("insert item", err)
	}
	return nil
}

func (r *RedisAdapter) getItem(ctx context.Context, id int64) (*domain.Item, error) {
	m, err := r.client.HGetAll(ctx, itemKey(id)).Result()
	if err != nil {
		return nil, r.wrapErr("get item", err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("get item %d: %w", id, port.ErrNotFound)
	}
	return itemFromMap(m)
}

func (r *RedisAdapter) GetItemByID(ctx context.Context, id int64) (*domain.Item, error) {
	return r.getItem(ctx, id)
}

func (r *RedisAdapter) itemsByIDs(ctx context.Context, ids []int64) ([]domain.Item, error) {
	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, itemKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, r.wrapErr("fetch items", err)
	}

	out := make([]domain.Item, 0, len(ids))
	for _, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		it, err := itemFromMap(m)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, nil
}

func (r *RedisAdapter) ListItemsByOwner(ctx context.Context, ownerID int64) ([]domain.Item, error) {
	ids, err := r.collectionIDs(ctx, ownerItemsKey(ownerID))
	if err != nil {
		return nil, err
	}
	return r.itemsByIDs(ctx, ids)
}

func (r *RedisAdapter) UpdateItem(ctx context.Context, id int64, patch domain.ItemPatch) (*domain.Item, error) {
	if _, err := r.getItem(ctx, id); err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if patch.Name != nil {
		fields["name"] = *patch.Name
	}
	if patch.Description != nil {
		fields["description"] = *patch.Description
	}
	if patch.Price != nil {
		fields["price"] = patch.Price.StringFixed(2)
	}
	if len(fields) > 0 {
		if err := r.client.HSet(ctx, itemKey(id), fields).Err(); err != nil {
			return nil, r.wrapErr("update item", err)
		}
	}
	return r.getItem(ctx, id)
}

// UpdateItemStatus runs the predicate and the write inside one Lua
// evaluation, the document-store equivalent of a conditional UPDATE: exactly
// one concurrent competitor sees the swap succeed.
func (r *RedisAdapter) UpdateItemStatus(ctx context.Context, id int64, expect, next domain.ItemStatus) (bool, error) {
	res, err := casStatusScript.Run(ctx, r.client,
		[]string{itemKey(id)}, string(expect), string(next)).Int()
	if err != nil {
		return false, r.wrapErr("update item status", err)
	}
	switch res {
	case 1:
		return true, nil
	case -1:
		return false, fmt.Errorf("update item status: %w", port.ErrNotFound)
	default:
		return false, nil
	}
}

func (r *RedisAdapter) SearchItems(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error) {
	ids, err := r.collectionIDs(ctx, itemsSetKey)
	if err != nil {
		return nil, err
	}
	all, err := r.itemsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var candidates []domain.Item
	for _, it := range all {
		if it.Status == domain.StatusAvailable && filter.Matches(it) {
			candidates = append(candidates, it)
		}
	}

	// Seller reputation needs an owner lookup per candidate, so it runs
	// last, over the already price/keyword-narrowed set.
	if filter.MinSellerRating != nil {
		candidates, err = r.filterBySellerRating(ctx, candidates, *filter.MinSellerRating)
		if err != nil {
			return nil, err
		}
	}
	return candidates, nil
}

func (r *RedisAdapter) filterBySellerRating(ctx context.Context, items []domain.Item, min decimal.Decimal) ([]domain.Item, error) {
	owners := make(map[int64]bool)
	for _, it := range items {
		owners[it.OwnerID] = true
	}

	var mu sync.Mutex
	ratings := make(map[int64]decimal.Decimal, len(owners))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for ownerID := range owners {
		ownerID := ownerID
		g.Go(func() error {
			u, err := r.getUser(gctx, ownerID)
			if errors.Is(err, port.ErrNotFound) {
				return nil // orphaned item, excluded below
			}
			if err != nil {
				return err
			}
			mu.Lock()
			ratings[ownerID] = u.Rating
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []domain.Item
	for _, it := range items {
		rating, ok := ratings[it.OwnerID]
		if ok && rating.GreaterThanOrEqual(min) {
			out = append(out, it)
		}
	}
	return out, nil
}

// --- transactions ---

func transactionToMap(t *domain.Transaction) map[string]any {
	return map[string]any{
		"id":                t.ID,
		"seller_id":         t.SellerID,
		"buyer_id":          t.BuyerID,
		"item_id":           t.ItemID,
		"transaction_price": t.Price.StringFixed(2),
		"transaction_date":  t.Date.UTC().Format(time.RFC3339Nano),
	}
}

func transactionFromMap(m map[string]string) (*domain.Transaction, error) {
	id, err := strconv.ParseInt(m["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse transaction id %q: %w", m["id"], err)
	}
	sellerID, err := strconv.ParseInt(m["seller_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse seller id %q: %w", m["seller_id"], err)
	}
	buyerID, err := strconv.ParseInt(m["buyer_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse buyer id %q: %w", m["buyer_id"], err)
	}
	itemID, err := strconv.ParseInt(m["item_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse item id %q: %w", m["item_id"], err)
	}
	price, err := decimal.NewFromString(m["transaction_price"])
	if err != nil {
		return nil, fmt.Errorf("parse transaction price %q: %w", m["transaction_price"], err)
	}
	date, err := time.Parse(time.RFC3339Nano, m["transaction_date"])
	if err != nil {
		return nil, fmt.Errorf("parse transaction date %q: %w", m["transaction_date"], err)
	}
	return &domain.Transaction{
		ID:       id,
		SellerID: sellerID,
		BuyerID:  buyerID,
		ItemID:   itemID,
		Price:    price,
		Date:     date,
	}, nil
}

func (r *RedisAdapter) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	id, err := r.nextID(ctx, seqTransactionsKey)
	if err != nil {
		return err
	}
	t.ID = id

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, transactionKey(id), transactionToMap(t))
	pipe.SAdd(ctx, transactionsSetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return r.wrapErr("insert transaction", err)
	}
	return nil
}

func (r *RedisAdapter) GetTransactionByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	m, err := r.client.HGetAll(ctx, transactionKey(id)).Result()
	if err != nil {
		return nil, r.wrapErr("get transaction", err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("get transaction %d: %w", id, port.ErrNotFound)
	}
	return transactionFromMap(m)
}

// --- ratings ---

func (r *RedisAdapter) CreateRating(ctx context.Context, rating *domain.Rating) error {
	id, err := r.nextID(ctx, seqRatingsKey)
	if err != nil {
		return err
	}

	// SETNX on the transaction index is the uniqueness constraint: the
	// first writer claims it, every later attempt sees a conflict. The
	// allocated id is simply discarded on conflict; ids are never reused.
	ok, err := r.client.SetNX(ctx, ratingTxnKey(rating.TransactionID), id, 0).Result()
	if err != nil {
		return r.wrapErr("claim transaction rating", err)
	}
	if !ok {
		return fmt.Errorf("transaction %d already rated: %w", rating.TransactionID, port.ErrConflict)
	}

	rating.ID = id
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, ratingKey(id), map[string]any{
		"id":             id,
		"transaction_id": rating.TransactionID,
		"rater_id":       rating.RaterID,
		"rated_id":       rating.RatedID,
		"score":          rating.Score,
	})
	pipe.SAdd(ctx, ratingsSetKey, id)
	pipe.SAdd(ctx, sellerRatingsKey(rating.RatedID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return r.wrapErr("insert rating", err)
	}
	return nil
}

func (r *RedisAdapter) AverageSellerScore(ctx context.Context, sellerID int64) (decimal.Decimal, bool, error) {
	ids, err := r.collectionIDs(ctx, sellerRatingsKey(sellerID))
	if err != nil {
		return decimal.Zero, false, err
	}
	if len(ids) == 0 {
		return decimal.Zero, false, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, ratingKey(id), "score")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return decimal.Zero, false, r.wrapErr("fetch scores", err)
	}

	var sum, n int64
	for _, cmd := range cmds {
		raw, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return decimal.Zero, false, r.wrapErr("fetch scores", err)
		}
		score, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("parse score %q: %w", raw, err)
		}
		sum += score
		n++
	}
	if n == 0 {
		return decimal.Zero, false, nil
	}
	return decimal.NewFromInt(sum).Div(decimal.NewFromInt(n)), true, nil
}
