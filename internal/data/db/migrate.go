package db

import (
	"context"
	"fmt"

	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
)

// Migrate creates the entity table. On Postgres the key columns use the "C"
// collation so range scans over date-prefixed keys follow byte order.
func (s *PostgresService) Migrate(store *kvstore.GormStore) error {
	if err := store.AutoMigrate(); err != nil {
		return fmt.Errorf("auto migrate kv_entities: %w", err)
	}
	if s.driver != DriverPostgres {
		return nil
	}
	for _, col := range []string{"partition_key", "row_key"} {
		stmt := fmt.Sprintf(`ALTER TABLE "kv_entities" ALTER COLUMN %q TYPE varchar(512) COLLATE "C"`, col)
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("set collation on %s: %w", col, err)
		}
	}
	s.log.Info("kv_entities migrated")
	return nil
}

func (s *PostgresService) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
