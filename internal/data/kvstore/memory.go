package kvstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and single-node dev runs.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[Key]Entity
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: map[string]map[Key]Entity{},
		now:    time.Now,
	}
}

func (s *MemoryStore) table(name string) map[Key]Entity {
	t, ok := s.tables[name]
	if !ok {
		t = map[Key]Entity{}
		s.tables[name] = t
	}
	return t
}

func (s *MemoryStore) GetIfExists(ctx context.Context, table, pk, rk string) (*Entity, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tables[table][Key{pk, rk}]
	if !ok {
		return nil, false, nil
	}
	out := e.Clone()
	return &out, true, nil
}

func (s *MemoryStore) Add(ctx context.Context, table string, e Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(s.table(table), e)
}

func (s *MemoryStore) Update(ctx context.Context, table string, e Entity, mode UpdateMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(s.table(table), e, mode)
}

func (s *MemoryStore) Upsert(ctx context.Context, table string, e Entity, mode UpdateMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(s.table(table), e, mode)
}

func (s *MemoryStore) Delete(ctx context.Context, table, pk, rk string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delete(s.table(table), Key{pk, rk})
}

func (s *MemoryStore) Query(_ context.Context, table string, f Filter, pageSize int) *Pager {
	fetch := func(ctx context.Context, after *Key, limit int) ([]Entity, *Key, error) {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		s.mu.RLock()
		defer s.mu.RUnlock()

		scan := f
		scan.After = after
		keys := make([]Key, 0)
		for k := range s.tables[table] {
			if scan.matchesKey(k) {
				keys = append(keys, k)
			}
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

		var next *Key
		if len(keys) > limit {
			keys = keys[:limit]
			last := keys[len(keys)-1]
			next = &last
		}
		out := make([]Entity, 0, len(keys))
		for _, k := range keys {
			e := s.tables[table][k]
			if !f.matchesProps(e) {
				continue
			}
			out = append(out, e.Clone())
		}
		return out, next, nil
	}
	return newPager(fetch, f.After, pageSize)
}

func (s *MemoryStore) SubmitBatch(ctx context.Context, table string, ops []BatchOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateBatch(ops); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.table(table)
	staged := make(map[Key]Entity, len(live))
	for k, v := range live {
		staged[k] = v
	}
	for i, op := range ops {
		var err error
		switch op.Kind {
		case OpAdd:
			err = s.add(staged, op.Entity)
		case OpUpdate:
			err = s.update(staged, op.Entity, op.Mode)
		case OpUpsert:
			err = s.upsert(staged, op.Entity, op.Mode)
		case OpDelete:
			err = s.delete(staged, op.Entity.Key())
		default:
			err = fmt.Errorf("kvstore: unknown op kind %d", op.Kind)
		}
		if err != nil {
			return &BatchError{Index: i, Err: err}
		}
	}
	s.tables[table] = staged
	return nil
}

// Len reports the number of rows in table.
func (s *MemoryStore) Len(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}

func (s *MemoryStore) add(t map[Key]Entity, e Entity) error {
	if err := validateKey(e.PartitionKey, e.RowKey); err != nil {
		return err
	}
	if _, ok := t[e.Key()]; ok {
		return ErrAlreadyExists
	}
	stored := e.Clone()
	stored.Version = uuid.NewString()
	stored.Timestamp = s.now().UTC()
	t[e.Key()] = stored
	return nil
}

func (s *MemoryStore) update(t map[Key]Entity, e Entity, mode UpdateMode) error {
	cur, ok := t[e.Key()]
	if !ok {
		return ErrNotFound
	}
	if e.Version != "" && e.Version != AnyVersion && e.Version != cur.Version {
		return ErrConflict
	}
	stored := e.Clone()
	if mode == Merge {
		stored.Props = mergeProps(cur.Props, stored.Props)
	}
	stored.Version = uuid.NewString()
	stored.Timestamp = s.now().UTC()
	t[e.Key()] = stored
	return nil
}

func (s *MemoryStore) upsert(t map[Key]Entity, e Entity, mode UpdateMode) error {
	if _, ok := t[e.Key()]; !ok {
		return s.add(t, e)
	}
	e.Version = AnyVersion
	return s.update(t, e, mode)
}

func (s *MemoryStore) delete(t map[Key]Entity, k Key) error {
	if _, ok := t[k]; !ok {
		return ErrNotFound
	}
	delete(t, k)
	return nil
}
