// Package storage persists the single user's state: one JSON document per
// namespace key plus an append-only list of evaluation records.
package storage

import (
	"context"
	"fmt"

	"github.com/paperlens/backend/internal/storage/memory"
	"github.com/paperlens/backend/internal/storage/redis"
	"github.com/paperlens/backend/internal/storage/sqlite"
	"github.com/paperlens/backend/pkg/config"
)

// Backend is implemented by the memory, sqlite and redis clients.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, data []byte) error
	AppendRecord(ctx context.Context, list string, data []byte) error
	Records(ctx context.Context, list string) ([][]byte, error)
	Clear(ctx context.Context, key, list string) error
	Close() error
}

var (
	_ Backend = (*memory.Store)(nil)
	_ Backend = (*sqlite.Client)(nil)
	_ Backend = (*redis.Client)(nil)
)

// Open builds the backend named by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.NewClient(cfg.SQLite.Path)
	case "redis":
		return redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

// EvaluationsList names the record list for a namespace.
func EvaluationsList(namespace string) string {
	return namespace + ":evaluations"
}
