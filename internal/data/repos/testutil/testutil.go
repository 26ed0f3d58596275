package testutil

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

var (
	logOnce sync.Once
	logg    *logger.Logger
	logErr  error

	pgMu sync.Mutex
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

// Store returns an empty gorm-backed store. It runs on Postgres when
// TEST_POSTGRES_DSN is set and on a private in-memory SQLite database
// otherwise.
func Store(tb testing.TB) kvstore.Store {
	tb.Helper()
	db := open(tb)
	s := kvstore.NewGormStore(db, Logger(tb))
	if err := s.AutoMigrate(); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	if db.Dialector.Name() == "postgres" {
		// One shared table; tests using it must not overlap.
		pgMu.Lock()
		tb.Cleanup(pgMu.Unlock)
		if err := db.Exec("DELETE FROM kv_entities").Error; err != nil {
			tb.Fatalf("reset kv_entities: %v", err)
		}
	}
	return s
}

func open(tb testing.TB) *gorm.DB {
	tb.Helper()
	cfg := &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)}
	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			tb.Fatalf("open postgres: %v", err)
		}
		return db
	}
	name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), cfg)
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })
	return db
}
