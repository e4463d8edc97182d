package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore/gormstore"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

var errMissingDSN = errors.New("missing TEST_POSTGRES_DSN")

var (
	pgOnce sync.Once
	pgDB   *gorm.DB
	pgErr  error

	logOnce sync.Once
	logg    *logger.Logger
	logErr  error

	sqliteSeq atomic.Int64
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// SQLiteStore returns an empty in-memory block store private to the test.
func SQLiteStore(tb testing.TB) docstore.Store {
	tb.Helper()
	dsn := fmt.Sprintf("file:coursestore_test_%d?mode=memory&cache=shared", sqliteSeq.Add(1))
	db, err := gormstore.OpenSQLite(dsn)
	if err != nil {
		tb.Fatalf("failed to open sqlite store: %v", err)
	}
	s := gormstore.New(db, Logger(tb))
	tb.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

// PostgresStore returns a block store on TEST_POSTGRES_DSN with its tables emptied.
func PostgresStore(tb testing.TB) docstore.Store {
	tb.Helper()
	pgOnce.Do(func() {
		dsn := os.Getenv("TEST_POSTGRES_DSN")
		if dsn == "" {
			pgErr = errMissingDSN
			return
		}
		pgDB, pgErr = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
		})
		if pgErr != nil {
			return
		}
		pgErr = pgDB.AutoMigrate(gormstore.Models()...)
	})
	if errors.Is(pgErr, errMissingDSN) {
		tb.Skip("set TEST_POSTGRES_DSN to run postgres store tests")
	}
	if pgErr != nil {
		tb.Fatalf("failed to init test db: %v", pgErr)
	}
	for _, m := range gormstore.Models() {
		if err := pgDB.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error; err != nil {
			tb.Fatalf("failed to truncate: %v", err)
		}
	}
	return gormstore.New(pgDB, Logger(tb))
}
