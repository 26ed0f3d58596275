package kvstore

import (
	"context"
	"time"
)

// Observer receives one callback per store operation.
type Observer interface {
	ObserveStoreOp(table, op, outcome string, dur time.Duration)
}

type instrumentedStore struct {
	inner Store
	obs   Observer
}

// Instrument wraps inner so every call is reported to obs. A nil obs returns inner.
func Instrument(inner Store, obs Observer) Store {
	if obs == nil {
		return inner
	}
	return &instrumentedStore{inner: inner, obs: obs}
}

func (s *instrumentedStore) observe(table, op string, start time.Time, err error) {
	s.obs.ObserveStoreOp(table, op, Outcome(err), time.Since(start))
}

// Outcome buckets err into a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsNotFound(err):
		return "not_found"
	case IsConflict(err):
		return "conflict"
	case IsAlreadyExists(err):
		return "already_exists"
	default:
		return "error"
	}
}

func (s *instrumentedStore) GetIfExists(ctx context.Context, table, pk, rk string) (*Entity, bool, error) {
	start := time.Now()
	e, ok, err := s.inner.GetIfExists(ctx, table, pk, rk)
	s.observe(table, "get", start, err)
	return e, ok, err
}

func (s *instrumentedStore) Add(ctx context.Context, table string, e Entity) error {
	start := time.Now()
	err := s.inner.Add(ctx, table, e)
	s.observe(table, "add", start, err)
	return err
}

func (s *instrumentedStore) Update(ctx context.Context, table string, e Entity, mode UpdateMode) error {
	start := time.Now()
	err := s.inner.Update(ctx, table, e, mode)
	s.observe(table, "update", start, err)
	return err
}

func (s *instrumentedStore) Upsert(ctx context.Context, table string, e Entity, mode UpdateMode) error {
	start := time.Now()
	err := s.inner.Upsert(ctx, table, e, mode)
	s.observe(table, "upsert", start, err)
	return err
}

func (s *instrumentedStore) Delete(ctx context.Context, table, pk, rk string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, table, pk, rk)
	s.observe(table, "delete", start, err)
	return err
}

func (s *instrumentedStore) Query(ctx context.Context, table string, f Filter, pageSize int) *Pager {
	p := s.inner.Query(ctx, table, f, pageSize)
	if p == nil || p.fetch == nil {
		return p
	}
	inner := p.fetch
	p.fetch = func(ctx context.Context, after *Key, limit int) ([]Entity, *Key, error) {
		start := time.Now()
		items, next, err := inner(ctx, after, limit)
		s.observe(table, "query_page", start, err)
		return items, next, err
	}
	return p
}

func (s *instrumentedStore) SubmitBatch(ctx context.Context, table string, ops []BatchOp) error {
	start := time.Now()
	err := s.inner.SubmitBatch(ctx, table, ops)
	s.observe(table, "batch", start, err)
	return err
}
