package store

import (
	"context"
	"fmt"

	"github.com/ricesearch/greeneval/internal/config"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
)

// Open creates the storage backend named by cfg.Type.
func Open(ctx context.Context, cfg config.StoreConfig, log *logger.Logger) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "sqlite":
		s, err := NewSQLiteStorage(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := NewRedisStorage(ctx, cfg.RedisURL, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, apperrors.ConfigurationError(fmt.Sprintf("unknown store type %q", cfg.Type))
	}
}
