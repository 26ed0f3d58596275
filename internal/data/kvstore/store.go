package kvstore

import (
	"context"
	"strings"
)

// MaxBatchSize caps the number of operations in one SubmitBatch call.
const MaxBatchSize = 100

// AnyVersion skips the optimistic-concurrency check on Update.
const AnyVersion = "*"

type UpdateMode int

const (
	Merge UpdateMode = iota
	Replace
)

type OpKind int

const (
	OpAdd OpKind = iota
	OpUpdate
	OpUpsert
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

type BatchOp struct {
	Kind   OpKind
	Entity Entity
	Mode   UpdateMode
}

func AddOp(e Entity) BatchOp { return BatchOp{Kind: OpAdd, Entity: e} }
func DeleteOp(pk, rk string) BatchOp {
	return BatchOp{Kind: OpDelete, Entity: Entity{PartitionKey: pk, RowKey: rk}}
}
func UpsertOp(e Entity, mode UpdateMode) BatchOp {
	return BatchOp{Kind: OpUpsert, Entity: e, Mode: mode}
}

// Store is a compound-key table store with per-entity optimistic concurrency.
// Batches are atomic only within one partition; nothing is atomic across
// partitions or tables.
type Store interface {
	GetIfExists(ctx context.Context, table, pk, rk string) (*Entity, bool, error)
	Add(ctx context.Context, table string, e Entity) error
	// Update fails with ErrNotFound when the row is missing and ErrConflict when
	// e.Version is set (and not AnyVersion) but stale.
	Update(ctx context.Context, table string, e Entity, mode UpdateMode) error
	Upsert(ctx context.Context, table string, e Entity, mode UpdateMode) error
	Delete(ctx context.Context, table, pk, rk string) error
	Query(ctx context.Context, table string, f Filter, pageSize int) *Pager
	SubmitBatch(ctx context.Context, table string, ops []BatchOp) error
}

// Filter selects rows by partition key. All set conditions are ANDed.
type Filter struct {
	PartitionEq     string
	PartitionGE     string
	PartitionLT     string
	PartitionPrefix string
	RowEq           string
	// PropEq is evaluated after the key scan, so pages may come back short.
	PropEq map[string]any
	// After resumes a scan strictly after this key.
	After *Key
}

func (f Filter) matchesKey(k Key) bool {
	if f.PartitionEq != "" && k.PartitionKey != f.PartitionEq {
		return false
	}
	if f.PartitionGE != "" && k.PartitionKey < f.PartitionGE {
		return false
	}
	if f.PartitionLT != "" && k.PartitionKey >= f.PartitionLT {
		return false
	}
	if f.PartitionPrefix != "" && !strings.HasPrefix(k.PartitionKey, f.PartitionPrefix) {
		return false
	}
	if f.RowEq != "" && k.RowKey != f.RowEq {
		return false
	}
	if f.After != nil && !f.After.Less(k) {
		return false
	}
	return true
}

func (f Filter) matchesProps(e Entity) bool {
	for name, want := range f.PropEq {
		got, ok := e.Props[name]
		if !ok {
			return false
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	probe := Entity{Props: map[string]any{"a": a, "b": b}}
	switch b.(type) {
	case int, int32, int64, float32, float64:
		return probe.Float("a") == probe.Float("b")
	case bool:
		return probe.Bool("a") == probe.Bool("b")
	default:
		return probe.String("a") == probe.String("b")
	}
}

type pageFunc func(ctx context.Context, after *Key, limit int) ([]Entity, *Key, error)

// Pager walks a query lazily. A nil cursor from the fetcher ends the scan.
type Pager struct {
	fetch    pageFunc
	pageSize int
	cursor   *Key
	done     bool
	err      error
}

func newPager(fetch pageFunc, after *Key, pageSize int) *Pager {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Pager{fetch: fetch, pageSize: pageSize, cursor: after}
}

// ErrPager returns a pager that fails on first use.
func ErrPager(err error) *Pager {
	return &Pager{err: err}
}

func (p *Pager) More() bool { return p != nil && !p.done }

func (p *Pager) NextPage(ctx context.Context) ([]Entity, error) {
	if p == nil || p.done {
		return nil, nil
	}
	if p.err != nil {
		p.done = true
		return nil, p.err
	}
	items, next, err := p.fetch(ctx, p.cursor, p.pageSize)
	if err != nil {
		return nil, err
	}
	if next == nil {
		p.done = true
	} else {
		p.cursor = next
	}
	return items, nil
}

// ContinuationToken is the last key scanned; pass it as Filter.After to resume.
func (p *Pager) ContinuationToken() *Key {
	if p == nil || p.cursor == nil {
		return nil
	}
	k := *p.cursor
	return &k
}

func (p *Pager) PageSize() int { return p.pageSize }

// Collect drains the pager into memory. Only for small, bounded result sets.
func Collect(ctx context.Context, p *Pager) ([]Entity, error) {
	var out []Entity
	for p.More() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, page...)
	}
	return out, nil
}

func validateBatch(ops []BatchOp) error {
	if len(ops) > MaxBatchSize {
		return ErrBatchTooLarge
	}
	if len(ops) == 0 {
		return nil
	}
	pk := ops[0].Entity.PartitionKey
	for _, op := range ops[1:] {
		if op.Entity.PartitionKey != pk {
			return ErrCrossPartitionBatch
		}
	}
	return nil
}

func validateKey(pk, rk string) error {
	if pk == "" || rk == "" {
		return ErrInvalidKey
	}
	return nil
}
