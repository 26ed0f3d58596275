package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
	"github.com/yungbote/copilot-adoption-backend/internal/data/repos"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/observability"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/identcrypt"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

type Mode string

const (
	ModePartitionKey Mode = "partition_key"
	ModeRowKey       Mode = "row_key"
	ModeProperty     Mode = "property"
)

type Config struct {
	// WindowDays is how far back from today partition-key tables are
	// rotated. Today and the oldest day are both included.
	WindowDays     int
	PageSize       int
	PartitionChunk int
	RowChunk       int
	ChunkDelay     time.Duration
	PageDelay      time.Duration
}

func DefaultConfig() Config {
	return Config{
		WindowDays:     7,
		PageSize:       1000,
		PartitionChunk: 50,
		RowChunk:       kvstore.MaxBatchSize,
		ChunkDelay:     50 * time.Millisecond,
		PageDelay:      100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c == (Config{}) {
		return d
	}
	if c.WindowDays < 0 {
		c.WindowDays = 0
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.PartitionChunk <= 0 {
		c.PartitionChunk = d.PartitionChunk
	}
	if c.RowChunk <= 0 || c.RowChunk > kvstore.MaxBatchSize {
		c.RowChunk = d.RowChunk
	}
	return c
}

type Stats struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
}

func (s *Stats) Add(o Stats) {
	s.Processed += o.Processed
	s.Errors += o.Errors
	s.Skipped += o.Skipped
}

// UnitReport covers one resumable unit: a table-day, a table window or a whole table.
type UnitReport struct {
	Unit    string `json:"unit"`
	Resumed bool   `json:"resumed,omitempty"`
	Stats
}

type TableReport struct {
	Table string       `json:"table"`
	Mode  Mode         `json:"mode"`
	Units []UnitReport `json:"units"`
	Stats
}

type Report struct {
	RunID  string        `json:"runId"`
	Tables []TableReport `json:"tables"`
	Totals Stats         `json:"totals"`
}

type Deps struct {
	Log      *logger.Logger
	Store    kvstore.Store
	State    repos.StateRepo
	Progress repos.RotationProgressRepo
	Metrics  *observability.Metrics
	Clock    quartz.Clock
	Config   Config
}

// Processor re-encrypts identifier-bearing keys table by table. It never
// aborts on a row error; failed rows stay under the old key and a later run
// with the same run id picks them up.
type Processor struct {
	store    kvstore.Store
	state    repos.StateRepo
	progress repos.RotationProgressRepo
	metrics  *observability.Metrics
	clock    quartz.Clock
	cfg      Config
	log      *logger.Logger
}

func NewProcessor(deps Deps) *Processor {
	clock := deps.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Processor{
		store:    deps.Store,
		state:    deps.State,
		progress: deps.Progress,
		metrics:  deps.Metrics,
		clock:    clock,
		cfg:      deps.Config.withDefaults(),
		log:      deps.Log.With("service", "KeyRotation"),
	}
}

// keys carries the old and new key for one run.
type keys struct {
	old, new *identcrypt.Service
}

// reencrypt maps an old ciphertext to the new one. done reports that the
// value is already under the new key.
func (k keys) reencrypt(cipher string) (next string, done bool, err error) {
	plain, err := k.old.Decrypt(cipher)
	if err != nil {
		if _, nerr := k.new.Decrypt(cipher); nerr == nil {
			return cipher, true, nil
		}
		return "", false, err
	}
	return k.new.Encrypt(plain), false, nil
}

// migrated builds the replacement row: same attributes, new key, stamped with
// the new key's fingerprint.
func (k keys) migrated(src kvstore.Entity, pk, rk string) kvstore.Entity {
	out := src.Clone()
	out.PartitionKey, out.RowKey, out.Version = pk, rk, ""
	out.Set(types.PropKeyFingerprint, k.new.Fingerprint())
	return out
}

func (k keys) alreadyRotated(e kvstore.Entity) bool {
	return e.String(types.PropKeyFingerprint) == k.new.Fingerprint()
}

// RotateAll rotates every table holding encrypted identifiers.
func (p *Processor) RotateAll(ctx context.Context, runID string, oldSvc, newSvc *identcrypt.Service) (Report, error) {
	ctx, span := observability.Tracer("rotation").Start(ctx, "rotation.RotateAll")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID))

	if oldSvc == nil || newSvc == nil {
		return Report{}, errors.New("rotation: both keys are required")
	}
	if oldSvc.Fingerprint() == newSvc.Fingerprint() {
		return Report{}, ErrSameKey
	}
	rep := Report{RunID: runID}
	add := func(tr TableReport, err error) error {
		rep.Tables = append(rep.Tables, tr)
		rep.Totals.Add(tr.Stats)
		return err
	}

	for _, table := range []string{types.TableDailyAppAggregates, types.TableDailyAgentAggregates, types.TableStagedSnapshots} {
		if err := add(p.RotatePartitionKeyTable(ctx, runID, table, oldSvc, newSvc)); err != nil {
			return rep, err
		}
	}
	if err := add(p.RotateLedger(ctx, runID, oldSvc, newSvc)); err != nil {
		return rep, err
	}
	if err := add(p.RotatePropertyTable(ctx, runID, types.TableInteractionDetails, types.PropEncryptedUPN, oldSvc, newSvc)); err != nil {
		return rep, err
	}
	for _, tf := range types.RollupTimeframes {
		for _, table := range []string{types.AppAggregateTable(tf), types.AgentByUserTable(tf)} {
			if err := add(p.RotateRowKeyTable(ctx, runID, table, tf, oldSvc, newSvc)); err != nil {
				return rep, err
			}
		}
	}
	span.SetAttributes(
		attribute.Int("processed", rep.Totals.Processed),
		attribute.Int("errors", rep.Totals.Errors),
		attribute.Int("skipped", rep.Totals.Skipped),
	)
	p.log.Info("Key rotation finished", "run_id", runID,
		"processed", rep.Totals.Processed, "errors", rep.Totals.Errors, "skipped", rep.Totals.Skipped)
	return rep, nil
}

// runUnit wraps one resumable unit with progress bookkeeping. Units that
// finished without errors in an earlier attempt of the same run are skipped.
func (p *Processor) runUnit(ctx context.Context, runID, unit string, fn func() (Stats, error)) (UnitReport, error) {
	done, err := p.progress.IsDone(ctx, runID, unit)
	if err != nil {
		return UnitReport{Unit: unit}, fmt.Errorf("read rotation progress: %w", err)
	}
	if done {
		p.log.Info("Rotation unit already complete", "run_id", runID, "unit", unit)
		return UnitReport{Unit: unit, Resumed: true}, nil
	}
	st, err := fn()
	rep := UnitReport{Unit: unit, Stats: st}
	if err != nil {
		return rep, err
	}
	if st.Errors == 0 {
		if err := p.progress.MarkDone(ctx, runID, unit, st.Processed, st.Errors, st.Skipped); err != nil {
			p.log.Warn("Failed to record rotation progress", "unit", unit, "error", err)
		}
	}
	p.log.Info("Rotation unit complete", "unit", unit, "processed", st.Processed, "errors", st.Errors, "skipped", st.Skipped)
	return rep, nil
}

// pause waits d unless ctx ends first.
func (p *Processor) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := p.clock.NewTimer(d, "rotation", "pause")
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// deleteOld removes a source row. A row that is already gone counts as done.
func (p *Processor) deleteOld(ctx context.Context, table string, e kvstore.Entity) error {
	err := p.store.Delete(ctx, table, e.PartitionKey, e.RowKey)
	if err == nil || kvstore.IsNotFound(err) {
		return nil
	}
	return err
}

// addNew writes a migrated row. A row already present under the new key with
// the new fingerprint was written by this run and is accepted.
func (p *Processor) addNew(ctx context.Context, table string, k keys, e kvstore.Entity) error {
	err := p.store.Add(ctx, table, e)
	if err == nil || !kvstore.IsAlreadyExists(err) {
		return err
	}
	cur, ok, gerr := p.store.GetIfExists(ctx, table, e.PartitionKey, e.RowKey)
	if gerr == nil && ok && k.alreadyRotated(*cur) {
		return nil
	}
	return err
}
