// Package bootstrap establishes runtime dependencies (profile database and
// Redis) for commands and the server.
package bootstrap

import (
	"fmt"

	"kindred/internal/cache"
	"kindred/internal/config"
	"kindred/internal/database"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SkipProfileDB leaves the profile database unconnected; block records
	// are then served from the document store instead of GORM.
	SkipProfileDB bool
}

// InitRuntime connects to the profile DB and Redis. Redis is required (it
// backs the document store); the profile DB is optional.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	var db *gorm.DB
	if !opts.SkipProfileDB {
		var err error
		db, err = database.Connect(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
	}

	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()
	if r == nil {
		return nil, nil, fmt.Errorf("redis connection failed for %q", cfg.RedisURL)
	}

	return db, r, nil
}
