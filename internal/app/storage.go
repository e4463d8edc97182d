package app

import (
	"context"
	"fmt"

	"github.com/yungbote/coursestore-backend/internal/data/db"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore/gormstore"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore/mongostore"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
	"github.com/yungbote/coursestore-backend/internal/platform/mongodb"
)

// Storage is the opened block document store plus a probe for readiness checks.
type Storage struct {
	Docs docstore.Store
	Ping func(ctx context.Context) error

	mongo *mongodb.Client
}

func openStorage(ctx context.Context, cfg Config, log *logger.Logger) (*Storage, error) {
	log.Info("Opening block store", "backend", cfg.StoreBackend)
	switch cfg.StoreBackend {
	case BackendPostgres:
		pg, err := db.NewPostgresService(log)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		if err := pg.AutoMigrateAll(); err != nil {
			return nil, fmt.Errorf("postgres automigrate: %w", err)
		}
		sqlDB, err := pg.DB().DB()
		if err != nil {
			return nil, err
		}
		return &Storage{Docs: gormstore.New(pg.DB(), log), Ping: sqlDB.PingContext}, nil

	case BackendSQLite:
		gdb, err := gormstore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		return &Storage{Docs: gormstore.New(gdb, log), Ping: sqlDB.PingContext}, nil

	case BackendMongo:
		mc, err := mongodb.NewFromEnv(log)
		if err != nil {
			return nil, fmt.Errorf("init mongo: %w", err)
		}
		if mc == nil {
			return nil, fmt.Errorf("STORE_BACKEND=mongo requires MONGO_URI")
		}
		ms := mongostore.New(mc.Mongo.Database(mc.Database), log)
		if err := ms.EnsureIndexes(ctx); err != nil {
			_ = mc.Mongo.Disconnect(ctx)
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		ping := func(ctx context.Context) error { return mc.Mongo.Ping(ctx, nil) }
		return &Storage{Docs: ms, Ping: ping, mongo: mc}, nil
	}
	return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
}

func (s *Storage) Close(ctx context.Context) {
	if s == nil {
		return
	}
	if s.Docs != nil {
		_ = s.Docs.Close(ctx)
	}
	if s.mongo != nil {
		_ = s.mongo.Mongo.Disconnect(ctx)
	}
}
