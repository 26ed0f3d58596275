package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/copilot-adoption-backend/internal/platform/dbctx"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

// Row is the physical layout shared by every logical table.
type Row struct {
	TableKey     string         `gorm:"column:table_key;primaryKey;size:128"`
	PartitionKey string         `gorm:"column:partition_key;primaryKey;size:512"`
	RowKey       string         `gorm:"column:row_key;primaryKey;size:512"`
	Version      string         `gorm:"column:version;size:64;not null"`
	Data         datatypes.JSON `gorm:"column:data"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

func (Row) TableName() string { return "kv_entities" }

type GormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGormStore(db *gorm.DB, baseLog *logger.Logger) *GormStore {
	return &GormStore{db: db, log: baseLog.With("repo", "GormKVStore")}
}

// AutoMigrate creates the backing table.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&Row{})
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return dbctx.Context{Ctx: ctx}.DB(s.db)
}

func (s *GormStore) GetIfExists(ctx context.Context, table, pk, rk string) (*Entity, bool, error) {
	e, ok, err := s.get(s.conn(ctx), table, pk, rk)
	if err != nil {
		return nil, false, MapError("get", err)
	}
	return e, ok, nil
}

func (s *GormStore) Add(ctx context.Context, table string, e Entity) error {
	return MapError("add", s.add(s.conn(ctx), table, e))
}

func (s *GormStore) Update(ctx context.Context, table string, e Entity, mode UpdateMode) error {
	return MapError("update", s.update(s.conn(ctx), table, e, mode))
}

func (s *GormStore) Upsert(ctx context.Context, table string, e Entity, mode UpdateMode) error {
	// A concurrent writer can slip in between the read and the write; a few
	// bounded attempts absorb that without looping forever.
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = s.upsert(s.conn(ctx), table, e, mode)
		mapped := MapError("upsert", err)
		if mapped == nil {
			return nil
		}
		if !IsConflict(mapped) && !IsAlreadyExists(mapped) && !IsNotFound(mapped) {
			return mapped
		}
		err = mapped
	}
	return err
}

func (s *GormStore) Delete(ctx context.Context, table, pk, rk string) error {
	return MapError("delete", s.delete(s.conn(ctx), table, pk, rk))
}

func (s *GormStore) Query(ctx context.Context, table string, f Filter, pageSize int) *Pager {
	fetch := func(ctx context.Context, after *Key, limit int) ([]Entity, *Key, error) {
		q := s.conn(ctx).Model(&Row{}).Where("table_key = ?", table)
		if f.PartitionEq != "" {
			q = q.Where("partition_key = ?", f.PartitionEq)
		}
		if f.PartitionGE != "" {
			q = q.Where("partition_key >= ?", f.PartitionGE)
		}
		if f.PartitionLT != "" {
			q = q.Where("partition_key < ?", f.PartitionLT)
		}
		if f.PartitionPrefix != "" {
			q = q.Where("partition_key >= ? AND partition_key < ?", f.PartitionPrefix, f.PartitionPrefix+"\uffff")
		}
		if f.RowEq != "" {
			q = q.Where("row_key = ?", f.RowEq)
		}
		if after != nil {
			q = q.Where("(partition_key > ? OR (partition_key = ? AND row_key > ?))",
				after.PartitionKey, after.PartitionKey, after.RowKey)
		}
		var rows []Row
		if err := q.Order("partition_key ASC, row_key ASC").Limit(limit + 1).Find(&rows).Error; err != nil {
			return nil, nil, MapError("query", err)
		}

		var next *Key
		if len(rows) > limit {
			rows = rows[:limit]
			last := Key{PartitionKey: rows[len(rows)-1].PartitionKey, RowKey: rows[len(rows)-1].RowKey}
			next = &last
		}
		out := make([]Entity, 0, len(rows))
		for i := range rows {
			e, err := rowToEntity(&rows[i])
			if err != nil {
				return nil, nil, err
			}
			if !f.matchesProps(e) {
				continue
			}
			out = append(out, e)
		}
		return out, next, nil
	}
	return newPager(fetch, f.After, pageSize)
}

func (s *GormStore) SubmitBatch(ctx context.Context, table string, ops []BatchOp) error {
	if err := validateBatch(ops); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		for i, op := range ops {
			var err error
			switch op.Kind {
			case OpAdd:
				err = s.add(tx, table, op.Entity)
			case OpUpdate:
				err = s.update(tx, table, op.Entity, op.Mode)
			case OpUpsert:
				err = s.upsert(tx, table, op.Entity, op.Mode)
			case OpDelete:
				err = s.delete(tx, table, op.Entity.PartitionKey, op.Entity.RowKey)
			default:
				err = fmt.Errorf("kvstore: unknown op kind %d", op.Kind)
			}
			if err != nil {
				return &BatchError{Index: i, Err: MapError(op.Kind.String(), err)}
			}
		}
		return nil
	})
	if err != nil {
		s.log.Debug("batch rolled back", "table", table, "ops", len(ops), "error", err)
		return err
	}
	return nil
}

func (s *GormStore) get(db *gorm.DB, table, pk, rk string) (*Entity, bool, error) {
	var rows []Row
	err := db.Where("table_key = ? AND partition_key = ? AND row_key = ?", table, pk, rk).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	e, err := rowToEntity(&rows[0])
	if err != nil {
		return nil, false, err
	}
	return &e, true, nil
}

func (s *GormStore) add(db *gorm.DB, table string, e Entity) error {
	if err := validateKey(e.PartitionKey, e.RowKey); err != nil {
		return err
	}
	data, err := json.Marshal(propsOrEmpty(e.Props))
	if err != nil {
		return fmt.Errorf("marshal props: %w", err)
	}
	now := time.Now().UTC()
	row := Row{
		TableKey:     table,
		PartitionKey: e.PartitionKey,
		RowKey:       e.RowKey,
		Version:      uuid.NewString(),
		Data:         datatypes.JSON(data),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return db.Create(&row).Error
}

func (s *GormStore) update(db *gorm.DB, table string, e Entity, mode UpdateMode) error {
	cur, ok, err := s.get(db, table, e.PartitionKey, e.RowKey)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if e.Version != "" && e.Version != AnyVersion && e.Version != cur.Version {
		return ErrConflict
	}
	props := propsOrEmpty(e.Props)
	if mode == Merge {
		props = mergeProps(cur.Props, props)
	}
	data, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("marshal props: %w", err)
	}
	res := db.Model(&Row{}).
		Where("table_key = ? AND partition_key = ? AND row_key = ? AND version = ?",
			table, e.PartitionKey, e.RowKey, cur.Version).
		Updates(map[string]interface{}{
			"data":       datatypes.JSON(data),
			"version":    uuid.NewString(),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *GormStore) upsert(db *gorm.DB, table string, e Entity, mode UpdateMode) error {
	_, ok, err := s.get(db, table, e.PartitionKey, e.RowKey)
	if err != nil {
		return err
	}
	if !ok {
		return s.add(db, table, e)
	}
	e.Version = AnyVersion
	return s.update(db, table, e, mode)
}

func (s *GormStore) delete(db *gorm.DB, table, pk, rk string) error {
	res := db.Where("table_key = ? AND partition_key = ? AND row_key = ?", table, pk, rk).Delete(&Row{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func rowToEntity(r *Row) (Entity, error) {
	props, err := decodeProps(r.Data)
	if err != nil {
		return Entity{}, fmt.Errorf("decode props %s/%s: %w", r.PartitionKey, r.RowKey, err)
	}
	return Entity{
		PartitionKey: r.PartitionKey,
		RowKey:       r.RowKey,
		Version:      r.Version,
		Timestamp:    r.UpdatedAt,
		Props:        props,
	}, nil
}

func propsOrEmpty(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}
