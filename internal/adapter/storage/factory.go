package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/marketplace/internal/config"
	"github.com/rl1809/marketplace/internal/port"
)

var (
	_ port.Store = (*MySQLAdapter)(nil)
	_ port.Store = (*RedisAdapter)(nil)
)

// Open connects the backend selected by cfg.StorageKind and returns it behind
// the common Store interface together with a close function. Both variants
// expose identical semantics; the choice is purely operational.
func Open(ctx context.Context, cfg *config.Config) (port.Store, func(), error) {
	switch cfg.StorageKind {
	case config.StorageMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping mysql: %w", err)
		}

		adapter := NewMySQLAdapter(db)
		if err := adapter.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return adapter, func() { db.Close() }, nil

	case config.StorageRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedisAdapter(rdb), func() { rdb.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage kind: %s", cfg.StorageKind)
	}
}
