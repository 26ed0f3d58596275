package kvstore

import "context"

// MutateFunc edits e in place. exists is false when the row is new. Returning
// false skips the write.
type MutateFunc func(e *Entity, exists bool) (bool, error)

// Mutate reads (pk, rk), applies fn and writes the result back guarded by the
// version read. A version conflict, or losing a create race, re-reads and
// reapplies exactly once; a second failure is returned to the caller.
func Mutate(ctx context.Context, s Store, table, pk, rk string, fn MutateFunc) (bool, error) {
	wrote, err := mutateOnce(ctx, s, table, pk, rk, fn)
	if err == nil || !(IsConflict(err) || IsAlreadyExists(err)) {
		return wrote, err
	}
	return mutateOnce(ctx, s, table, pk, rk, fn)
}

func mutateOnce(ctx context.Context, s Store, table, pk, rk string, fn MutateFunc) (bool, error) {
	cur, ok, err := s.GetIfExists(ctx, table, pk, rk)
	if err != nil {
		return false, err
	}
	if !ok {
		e := NewEntity(pk, rk)
		write, err := fn(&e, false)
		if err != nil || !write {
			return false, err
		}
		e.PartitionKey, e.RowKey = pk, rk
		if err := s.Add(ctx, table, e); err != nil {
			return false, err
		}
		return true, nil
	}
	e := cur.Clone()
	write, err := fn(&e, true)
	if err != nil || !write {
		return false, err
	}
	e.PartitionKey, e.RowKey, e.Version = pk, rk, cur.Version
	if err := s.Update(ctx, table, e, Replace); err != nil {
		return false, err
	}
	return true, nil
}
