// Package factory opens the persistence backend named by a PersistenceConfig.
package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/toshiapp/toshi-auth-go/pkg/config"
	"github.com/toshiapp/toshi-auth-go/pkg/persistence"
	"github.com/toshiapp/toshi-auth-go/pkg/persistence/badger"
	"github.com/toshiapp/toshi-auth-go/pkg/persistence/memory"
	"github.com/toshiapp/toshi-auth-go/pkg/persistence/redis"
)

// New validates cfg and opens the matching backend. An empty type selects memory.
func New(cfg *config.PersistenceConfig, logger *zap.Logger) (persistence.IAuthPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("persistence config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	resolved := *cfg
	if resolved.Type == "" {
		resolved.Type = persistence.TypeMemory
	}
	if err := resolved.Validate(); err != nil {
		return nil, err
	}

	switch resolved.Type {
	case persistence.TypeMemory:
		return memory.NewMemoryPersistence(), nil
	case persistence.TypeBadger:
		p, err := badger.NewBadgerPersistence(resolved.BadgerPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger persistence: %w", err)
		}
		return p, nil
	case persistence.TypeRedis:
		p, err := redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   resolved.RedisAddress,
			Password:  resolved.RedisPassword,
			DB:        resolved.RedisDB,
			KeyPrefix: resolved.RedisKeyPrefix,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis persistence: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported persistence type %q", resolved.Type)
	}
}
