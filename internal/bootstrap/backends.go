// Package bootstrap connects the storage, session and queue backends selected by config.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"classlog/internal/config"
	"classlog/internal/metrics"
	"classlog/internal/queue"
	"classlog/internal/relstore"
	"classlog/internal/session"
	"classlog/internal/store"
)

// Backends are the shared dependencies of the API and the worker.
type Backends struct {
	DB       *store.DB
	Redis    *store.Redis
	Store    relstore.Client
	Sessions session.Store
	Queue    queue.Queue
}

// Open connects every backend cfg selects. Postgres is migrated when AUTO_MIGRATE is set.
func Open(ctx context.Context, cfg config.App, rec *metrics.Recorder, log *zap.Logger) (*Backends, error) {
	b := &Backends{}

	switch cfg.StoreBackend {
	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		b.Store = memoryStore()
	case "postgres":
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.DB = db
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				b.Close()
				return nil, err
			}
			log.Info("schema applied")
		}
		b.Store = relstore.NewPostgres(db.Client)
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	b.Store = metrics.InstrumentStore(b.Store, rec)

	if cfg.SessionBackend == "redis" || cfg.QueueBackend == "redis" {
		b.Redis = store.NewRedis(cfg.RedisAddr)
		if !b.Redis.Healthy(ctx) {
			log.Warn("redis not reachable", zap.String("addr", cfg.RedisAddr))
		}
	}

	switch cfg.SessionBackend {
	case "memory":
		b.Sessions = session.NewMemoryStore()
	case "redis":
		b.Sessions = session.NewRedisStore(b.Redis.Client, "")
	default:
		b.Close()
		return nil, fmt.Errorf("unknown SESSION_BACKEND %q", cfg.SessionBackend)
	}

	switch cfg.QueueBackend {
	case "memory":
		b.Queue = queue.NewInMemory(64)
	case "redis":
		b.Queue = queue.NewRedisQueue(b.Redis.Client, cfg.QueueKey)
	default:
		b.Close()
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
	return b, nil
}

// Close releases the connections that were opened.
func (b *Backends) Close() {
	_ = b.DB.Close()
	_ = b.Redis.Close()
}

// memoryStore declares the same unique keys the Postgres schema enforces.
func memoryStore() *relstore.Memory {
	return relstore.NewMemory().
		Unique("auth_users", "email").
		Unique("profiles", "user_id").
		Unique("departments", "code").
		Unique("subjects", "code").
		Unique("faculty", "employee_id").
		Unique("students", "roll_number")
}
