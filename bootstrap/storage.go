package bootstrap

import (
	"context"
	"fmt"
	"time"

	"ruleengine/api"
	"ruleengine/config"
	"ruleengine/core"
	"ruleengine/service"
	"ruleengine/storage"

	"go.uber.org/zap"
)

// StorageComponents holds the opened storage layers.
type StorageComponents struct {
	SQLite      *storage.SQLite
	RuleStorage *storage.SQLiteRuleStorage
	Redis       *core.RedisCache // nil when disabled or unreachable
}

// InitStorage opens SQLite and, when enabled, connects the redis tree cache.
// An unreachable redis is logged and skipped; the service then runs with its
// in-process cache only.
func InitStorage(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	if cfg.GetSQLitePath() != ":memory:" {
		if err := EnsureDataDirectory(cfg.DataPaths.DataDir, sugar); err != nil {
			return nil, fmt.Errorf("pre-flight check failed: %w", err)
		}
	}

	sqlite, err := storage.NewSQLite(cfg.GetSQLitePath(), sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}
	sugar.Infow("SQLite initialized", "path", cfg.GetSQLitePath())

	components := &StorageComponents{
		SQLite:      sqlite,
		RuleStorage: storage.NewSQLiteRuleStorage(sqlite, sugar),
	}

	if cfg.Redis.Enabled {
		redis := core.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, sugar)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := redis.Ping(pingCtx); err != nil {
			sugar.Warnw("Redis unavailable, continuing without remote tree cache",
				"addr", cfg.Redis.Addr, "error", err)
			_ = redis.Close()
		} else {
			components.Redis = redis
			sugar.Infow("Redis tree cache connected", "addr", cfg.Redis.Addr)
		}
	}

	return components, nil
}

// NewRuleService builds the rule service over the opened storage
func (sc *StorageComponents) NewRuleService(cfg *config.Config, sugar *zap.SugaredLogger) (*service.RuleService, error) {
	catalog, err := cfg.BuildCatalog()
	if err != nil {
		return nil, err
	}

	opts := service.Options{
		Catalog:      catalog,
		ParseOptions: cfg.ParseOptions(),
		CacheSize:    cfg.Cache.Size,
		CacheTTL:     cfg.Cache.TTL,
		RemoteTTL:    cfg.Redis.TTL,
	}
	var store service.RuleStore
	if sc != nil {
		store = sc.RuleStorage
		if sc.Redis != nil {
			opts.Remote = sc.Redis
		}
	}
	return service.NewRuleService(store, sugar, opts), nil
}

// HealthChecks returns a checker per opened storage layer
func (sc *StorageComponents) HealthChecks() map[string]api.HealthChecker {
	checks := map[string]api.HealthChecker{
		"sqlite": sc.SQLite.HealthCheck,
	}
	if sc.Redis != nil {
		checks["redis"] = sc.Redis.Ping
	}
	return checks
}

// Close closes redis and SQLite
func (sc *StorageComponents) Close(sugar *zap.SugaredLogger) {
	if sc.Redis != nil {
		if err := sc.Redis.Close(); err != nil {
			sugar.Errorw("Failed to close redis connection", "error", err)
		}
	}
	if sc.SQLite != nil {
		if err := sc.SQLite.Close(); err != nil {
			sugar.Errorw("Failed to close SQLite", "error", err)
		}
	}
}
