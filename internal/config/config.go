package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

const (
	StorageMySQL = "mysql"
	StorageRedis = "redis"
)

type Config struct {
	ServerPort  string
	StorageKind string
	MySQLDSN    string
	RedisAddr   string
}

func Load() (*Config, error) {
	// Load .env file if it exists (useful for local dev)
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:  getenv("SERVER_PORT", "8080"),
		StorageKind: getenv("STORAGE_KIND", StorageMySQL),
		MySQLDSN:    getenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/marketplace?parseTime=true"),
		RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),
	}

	if cfg.StorageKind != StorageMySQL && cfg.StorageKind != StorageRedis {
		return nil, fmt.Errorf("STORAGE_KIND must be %q or %q, got %q", StorageMySQL, StorageRedis, cfg.StorageKind)
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
