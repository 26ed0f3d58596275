package rotation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/coder/quartz"

	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
	"github.com/yungbote/copilot-adoption-backend/internal/data/repos"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/identcrypt"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

type fixture struct {
	store  kvstore.Store
	repos  repos.Set
	proc   *Processor
	oldSvc *identcrypt.Service
	newSvc *identcrypt.Service
}

func newFixture(t *testing.T, store kvstore.Store, cfg Config) *fixture {
	t.Helper()
	if store == nil {
		store = kvstore.NewMemoryStore()
	}
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2024, 1, 3, 9, 30, 0, 0, time.UTC))
	rs := repos.New(store, logger.Nop())
	oldSvc, err := identcrypt.New("key-one")
	if err != nil {
		t.Fatalf("old key: %v", err)
	}
	newSvc, err := identcrypt.New("key-two")
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	proc := NewProcessor(Deps{
		Log:      logger.Nop(),
		Store:    store,
		State:    rs.State,
		Progress: rs.Rotation,
		Clock:    clock,
		Config:   cfg,
	})
	return &fixture{store: store, repos: rs, proc: proc, oldSvc: oldSvc, newSvc: newSvc}
}

func testConfig() Config {
	return Config{WindowDays: 7, PageSize: 1000, PartitionChunk: 50, RowChunk: 100}
}

func (f *fixture) seed(t *testing.T, table, pk, rk string, props map[string]any) {
	t.Helper()
	e := kvstore.NewEntity(pk, rk)
	for k, v := range props {
		e.Set(k, v)
	}
	if err := f.store.Add(context.Background(), table, e); err != nil {
		t.Fatalf("seed %s %s/%s: %v", table, pk, rk, err)
	}
}

func (f *fixture) get(t *testing.T, table, pk, rk string) (*kvstore.Entity, bool) {
	t.Helper()
	e, ok, err := f.store.GetIfExists(context.Background(), table, pk, rk)
	if err != nil {
		t.Fatalf("get %s %s/%s: %v", table, pk, rk, err)
	}
	return e, ok
}

func TestPartitionRotationMovesRowToNewKey(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	ctx := context.Background()
	oldPK := types.DailyPartition("2024-01-01", f.oldSvc.Encrypt("alice@x.com"))
	newPK := types.DailyPartition("2024-01-01", f.newSvc.Encrypt("alice@x.com"))
	f.seed(t, types.TableDailyAppAggregates, oldPK, "Word", map[string]any{types.PropTotalInteractionCount: 3})

	stale := types.DailyPartition("2023-12-20", f.oldSvc.Encrypt("alice@x.com"))
	f.seed(t, types.TableDailyAppAggregates, stale, "Word", map[string]any{types.PropTotalInteractionCount: 1})

	tr, err := f.proc.RotatePartitionKeyTable(ctx, "run-1", types.TableDailyAppAggregates, f.oldSvc, f.newSvc)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if tr.Processed != 1 || tr.Errors != 0 || tr.Skipped != 0 {
		t.Fatalf("stats: want=1/0/0 got=%d/%d/%d", tr.Processed, tr.Errors, tr.Skipped)
	}
	if len(tr.Units) != 8 {
		t.Fatalf("units: want=8 got=%d", len(tr.Units))
	}
	if _, ok := f.get(t, types.TableDailyAppAggregates, oldPK, "Word"); ok {
		t.Fatalf("old row still present")
	}
	moved, ok := f.get(t, types.TableDailyAppAggregates, newPK, "Word")
	if !ok {
		t.Fatalf("new row missing")
	}
	if got := moved.Int(types.PropTotalInteractionCount); got != 3 {
		t.Fatalf("count: want=3 got=%d", got)
	}
	if got := moved.String(types.PropKeyFingerprint); got != f.newSvc.Fingerprint() {
		t.Fatalf("fingerprint: want=%s got=%s", f.newSvc.Fingerprint(), got)
	}
	if _, ok := f.get(t, types.TableDailyAppAggregates, stale, "Word"); !ok {
		t.Fatalf("row outside the window should be untouched")
	}
}

func TestPartitionRotationPagesThroughDay(t *testing.T) {
	cfg := testConfig()
	cfg.PageSize = 2
	cfg.PartitionChunk = 2
	f := newFixture(t, nil, cfg)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		upn := fmt.Sprintf("user%d@x.com", i)
		pk := types.DailyPartition("2024-01-02", f.oldSvc.Encrypt(upn))
		f.seed(t, types.TableDailyAgentAggregates, pk, "agent-1", map[string]any{types.PropTotalInteractionCount: i + 1})
	}

	tr, err := f.proc.RotatePartitionKeyTable(ctx, "run-1", types.TableDailyAgentAggregates, f.oldSvc, f.newSvc)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if tr.Processed != 5 || tr.Errors != 0 || tr.Skipped != 0 {
		t.Fatalf("stats: want=5/0/0 got=%d/%d/%d", tr.Processed, tr.Errors, tr.Skipped)
	}
	for i := 0; i < 5; i++ {
		upn := fmt.Sprintf("user%d@x.com", i)
		e, ok := f.get(t, types.TableDailyAgentAggregates, types.DailyPartition("2024-01-02", f.newSvc.Encrypt(upn)), "agent-1")
		if !ok {
			t.Fatalf("%s not rotated", upn)
		}
		if got := e.Int(types.PropTotalInteractionCount); got != i+1 {
			t.Fatalf("%s count: want=%d got=%d", upn, i+1, got)
		}
	}
}

func TestRowRotationUsesActiveWindow(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	ctx := context.Background()
	if err := f.repos.State.UpdateReportRefreshDate(ctx, types.TimeframeMonthly, "2024-01-02", "2024-01-01"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	table := types.AppAggregateTable(types.TimeframeMonthly)
	oldCipher := f.oldSvc.Encrypt("alice@x.com")
	jan := types.AppWindowPartition("2024-01-01", types.AppWord)
	dec := types.AppWindowPartition("2023-12-01", types.AppWord)
	f.seed(t, table, jan, oldCipher, map[string]any{types.PropBestDailyStreak: 4})
	f.seed(t, table, dec, oldCipher, map[string]any{types.PropBestDailyStreak: 2})

	tr, err := f.proc.RotateRowKeyTable(ctx, "run-1", table, types.TimeframeMonthly, f.oldSvc, f.newSvc)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if tr.Processed != 1 {
		t.Fatalf("processed: want=1 got=%d", tr.Processed)
	}
	e, ok := f.get(t, table, jan, f.newSvc.Encrypt("alice@x.com"))
	if !ok || e.Int(types.PropBestDailyStreak) != 4 {
		t.Fatalf("january row not rotated: ok=%v", ok)
	}
	if _, ok := f.get(t, table, dec, oldCipher); !ok {
		t.Fatalf("december row should stay under the old key")
	}
}

func TestRowRotationAllTimeIsUnscoped(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	ctx := context.Background()
	table := types.AgentByUserTable(types.TimeframeAllTime)
	pk := types.AgentUserPartition(types.TimeframeAllTime, "", "agent-9")
	f.seed(t, table, pk, f.oldSvc.Encrypt("bob@x.com"), map[string]any{types.PropAgentName: "Helper"})

	tr, err := f.proc.RotateRowKeyTable(ctx, "run-1", table, types.TimeframeAllTime, f.oldSvc, f.newSvc)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if tr.Processed != 1 {
		t.Fatalf("processed: want=1 got=%d", tr.Processed)
	}
	e, ok := f.get(t, table, pk, f.newSvc.Encrypt("bob@x.com"))
	if !ok || e.String(types.PropAgentName) != "Helper" {
		t.Fatalf("all-time row not rotated with its attributes")
	}
}

func TestRerunSkipsRotatedRows(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	ctx := context.Background()
	pk := types.DailyPartition("2024-01-03", f.oldSvc.Encrypt("alice@x.com"))
	f.seed(t, types.TableDailyAppAggregates, pk, "Excel", map[string]any{types.PropTotalInteractionCount: 2})

	if _, err := f.proc.RotatePartitionKeyTable(ctx, "run-1", types.TableDailyAppAggregates, f.oldSvc, f.newSvc); err != nil {
		t.Fatalf("first run: %v", err)
	}

	again, err := f.proc.RotatePartitionKeyTable(ctx, "run-1", types.TableDailyAppAggregates, f.oldSvc, f.newSvc)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if again.Processed != 0 || again.Skipped != 0 {
		t.Fatalf("resumed run should do nothing: got=%+v", again.Stats)
	}
	for _, u := range again.Units {
		if !u.Resumed {
			t.Fatalf("unit %s: want resumed", u.Unit)
		}
	}

	fresh, err := f.proc.RotatePartitionKeyTable(ctx, "run-2", types.TableDailyAppAggregates, f.oldSvc, f.newSvc)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if fresh.Processed != 0 || fresh.Skipped != 1 || fresh.Errors != 0 {
		t.Fatalf("stats: want=0/0/1 got=%d/%d/%d", fresh.Processed, fresh.Errors, fresh.Skipped)
	}
	e, ok := f.get(t, types.TableDailyAppAggregates, types.DailyPartition("2024-01-03", f.newSvc.Encrypt("alice@x.com")), "Excel")
	if !ok || e.Int(types.PropTotalInteractionCount) != 2 {
		t.Fatalf("row lost after re-run")
	}
}

func TestUndecryptableRowIsCountedAndKept(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	ctx := context.Background()
	pk := types.DailyPartition("2024-01-03", "not-a-cipher")
	f.seed(t, types.TableDailyAppAggregates, pk, "Word", nil)

	tr, err := f.proc.RotatePartitionKeyTable(ctx, "run-1", types.TableDailyAppAggregates, f.oldSvc, f.newSvc)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if tr.Errors != 1 || tr.Processed != 0 {
		t.Fatalf("stats: want errors=1 processed=0 got=%+v", tr.Stats)
	}
	if _, ok := f.get(t, types.TableDailyAppAggregates, pk, "Word"); !ok {
		t.Fatalf("failed row must stay in place")
	}
	done, err := f.repos.Rotation.IsDone(ctx, "run-1", types.TableDailyAppAggregates+"/2024-01-03")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if done {
		t.Fatalf("unit with errors must not be marked done")
	}
}

// batchlessStore rejects every batch so rotation has to fall back to single ops.
type batchlessStore struct {
	kvstore.Store
	batches int
}

func (s *batchlessStore) SubmitBatch(context.Context, string, []kvstore.BatchOp) error {
	s.batches++
	return errors.New("batch unavailable")
}

func TestBatchFailureFallsBackToSingleOps(t *testing.T) {
	store := &batchlessStore{Store: kvstore.NewMemoryStore()}
	f := newFixture(t, store, testConfig())
	ctx := context.Background()
	table := types.AppAggregateTable(types.TimeframeAllTime)
	pk := types.AppAllTimePartition(types.AppTeams)
	for _, upn := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		f.seed(t, table, pk, f.oldSvc.Encrypt(upn), map[string]any{types.PropTotalDailyActivityCount: 1})
	}

	tr, err := f.proc.RotateRowKeyTable(ctx, "run-1", table, types.TimeframeAllTime, f.oldSvc, f.newSvc)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if store.batches == 0 {
		t.Fatalf("expected batch attempts")
	}
	if tr.Processed != 3 || tr.Errors != 0 {
		t.Fatalf("stats: want=3/0 got=%d/%d", tr.Processed, tr.Errors)
	}
	for _, upn := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		if _, ok := f.get(t, table, pk, f.oldSvc.Encrypt(upn)); ok {
			t.Fatalf("%s: old row still present", upn)
		}
		if _, ok := f.get(t, table, pk, f.newSvc.Encrypt(upn)); !ok {
			t.Fatalf("%s: new row missing", upn)
		}
	}
}

func TestCollidingRowWithoutFingerprintIsAnError(t *testing.T) {
	store := &batchlessStore{Store: kvstore.NewMemoryStore()}
	f := newFixture(t, store, testConfig())
	ctx := context.Background()
	table := types.AppAggregateTable(types.TimeframeAllTime)
	pk := types.AppAllTimePartition(types.AppWord)
	oldCipher := f.oldSvc.Encrypt("a@x.com")
	f.seed(t, table, pk, oldCipher, nil)
	f.seed(t, table, pk, f.newSvc.Encrypt("a@x.com"), nil)

	tr, err := f.proc.RotateRowKeyTable(ctx, "run-1", table, types.TimeframeAllTime, f.oldSvc, f.newSvc)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	// The pre-existing new-key row decrypts under the new key and is skipped.
	if tr.Errors != 1 || tr.Skipped != 1 || tr.Processed != 0 {
		t.Fatalf("stats: want=0/1/1 got=%d/%d/%d", tr.Processed, tr.Errors, tr.Skipped)
	}
	if _, ok := f.get(t, table, pk, oldCipher); !ok {
		t.Fatalf("old row must be kept when the add collides")
	}
}

func TestLedgerRotation(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	ctx := context.Background()
	rec := types.InactivityRecord{
		EncryptedUPN:          f.oldSvc.Encrypt("carol@x.com"),
		LastActivityDate:      "2023-11-01",
		ReportRefreshDate:     "2024-01-02",
		DaysSinceLastActivity: 62,
	}
	if err := f.repos.Inactivity.Record(ctx, rec); err != nil {
		t.Fatalf("record: %v", err)
	}

	tr, err := f.proc.RotateLedger(ctx, "run-1", f.oldSvc, f.newSvc)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if tr.Processed != 1 {
		t.Fatalf("processed: want=1 got=%d", tr.Processed)
	}
	got, err := f.repos.Inactivity.ForUser(ctx, f.newSvc.Encrypt("carol@x.com"))
	if err != nil {
		t.Fatalf("for user: %v", err)
	}
	if len(got) != 1 || got[0].LastActivityDate != "2023-11-01" || got[0].DaysSinceLastActivity != 62 {
		t.Fatalf("ledger: got=%+v", got)
	}
}

func TestInteractionDetailsRewrittenInPlace(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	ctx := context.Background()
	table := types.TableInteractionDetails
	f.seed(t, table, "2024-01-02", "rec-1", map[string]any{
		types.PropEncryptedUPN: f.oldSvc.Encrypt("dana@x.com"),
		"AppHost":              "Word",
	})
	f.seed(t, table, "2024-01-02", "rec-2", map[string]any{types.PropEncryptedUPN: "bogus-ciphertext"})
	f.seed(t, table, "2023-12-01", "rec-3", map[string]any{types.PropEncryptedUPN: f.oldSvc.Encrypt("dana@x.com")})

	tr, err := f.proc.RotatePropertyTable(ctx, "run-1", table, types.PropEncryptedUPN, f.oldSvc, f.newSvc)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if tr.Mode != ModeProperty || tr.Processed != 1 || tr.Errors != 1 {
		t.Fatalf("report: want property 1/1 got=%s %d/%d", tr.Mode, tr.Processed, tr.Errors)
	}
	e, ok := f.get(t, table, "2024-01-02", "rec-1")
	if !ok {
		t.Fatalf("row missing")
	}
	if got, want := e.String(types.PropEncryptedUPN), f.newSvc.Encrypt("dana@x.com"); got != want {
		t.Fatalf("identifier: want=%s got=%s", want, got)
	}
	if e.String("AppHost") != "Word" || e.String(types.PropKeyFingerprint) != f.newSvc.Fingerprint() {
		t.Fatalf("row attributes: got=%+v", e)
	}
	old, _ := f.get(t, table, "2023-12-01", "rec-3")
	if got := old.String(types.PropEncryptedUPN); got != f.oldSvc.Encrypt("dana@x.com") {
		t.Fatalf("row outside the window should be untouched: got=%s", got)
	}

	again, err := f.proc.RotatePropertyTable(ctx, "run-2", table, types.PropEncryptedUPN, f.oldSvc, f.newSvc)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if again.Processed != 0 || again.Skipped != 1 {
		t.Fatalf("rerun: want processed=0 skipped=1 got=%+v", again.Stats)
	}
}

func TestRotateAllRejectsSameKey(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	if _, err := f.proc.RotateAll(context.Background(), "run-1", f.oldSvc, f.oldSvc); !errors.Is(err, ErrSameKey) {
		t.Fatalf("want ErrSameKey, got %v", err)
	}
}

func newController(f *fixture) *Controller {
	return newControllerWith(f, "active", f.oldSvc, nil)
}

func newControllerWith(f *fixture, activeKey string, enc *identcrypt.Service, backlog Backlog) *Controller {
	return NewController(ControllerDeps{
		Log:           logger.Nop(),
		State:         f.repos.State,
		Processor:     f.proc,
		Secrets:       identcrypt.StaticSecrets{"active": "key-one", "next": "key-two"},
		ActiveKeyName: activeKey,
		Enc:           enc,
		Backlog:       backlog,
	})
}

type spyBacklog struct {
	counts []int64
	calls  int
}

// Pending returns the queued counts in order, then the last one.
func (b *spyBacklog) Pending(context.Context) (int64, error) {
	i := b.calls
	if i >= len(b.counts) {
		i = len(b.counts) - 1
	}
	b.calls++
	return b.counts[i], nil
}

func TestPrepareRequiresKeyName(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	ctx := context.Background()
	if _, err := newController(f).Prepare(ctx, "  ", ""); !errors.Is(err, ErrMissingKeyName) {
		t.Fatalf("want ErrMissingKeyName, got %v", err)
	}
	paused, err := f.repos.State.IsPaused(ctx)
	if err != nil {
		t.Fatalf("paused: %v", err)
	}
	if paused {
		t.Fatalf("validation failure must not pause ingestion")
	}
}

func TestPrepareThenConfirm(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	ctx := context.Background()
	pk := types.DailyPartition("2024-01-02", f.oldSvc.Encrypt("alice@x.com"))
	f.seed(t, types.TableDailyAppAggregates, pk, "Word", map[string]any{types.PropTotalInteractionCount: 3})
	allTime := types.AppAllTimePartition(types.AppWord)
	f.seed(t, types.AppAggregateTable(types.TimeframeAllTime), allTime, f.oldSvc.Encrypt("alice@x.com"), nil)

	c := newController(f)
	rep, err := c.Prepare(ctx, "next", "")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if rep.RunID == "" {
		t.Fatalf("run id not set")
	}
	if rep.Totals.Processed != 2 || rep.Totals.Errors != 0 {
		t.Fatalf("totals: want processed=2 errors=0 got=%+v", rep.Totals)
	}
	paused, _ := f.repos.State.IsPaused(ctx)
	if !paused {
		t.Fatalf("ingestion must stay paused after prepare")
	}

	if err := c.Confirm(ctx); !errors.Is(err, ErrKeyNotSwitched) {
		t.Fatalf("confirm on the old key: want ErrKeyNotSwitched got=%v", err)
	}
	if paused, _ = f.repos.State.IsPaused(ctx); !paused {
		t.Fatalf("refused confirm must keep ingestion paused")
	}

	// After the restart the process encrypts with the new key.
	restarted := newControllerWith(f, "next", f.newSvc, nil)
	if err := restarted.Confirm(ctx); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	paused, _ = f.repos.State.IsPaused(ctx)
	if paused {
		t.Fatalf("confirm must resume ingestion")
	}
	if target, _ := f.repos.State.RotationTarget(ctx); target != "" {
		t.Fatalf("rotation target not cleared: %q", target)
	}
	if err := restarted.Confirm(ctx); err != nil {
		t.Fatalf("confirm without a pending rotation: %v", err)
	}
}

func TestPrepareRefusesWhileAggregationsPending(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	ctx := context.Background()
	staged := types.DailyPartition("2024-01-02", f.oldSvc.Encrypt("alice@x.com"))
	f.seed(t, types.TableDailyAppAggregates, staged, "Word", map[string]any{types.PropTotalInteractionCount: 3})

	b := &spyBacklog{counts: []int64{2}}
	if _, err := newControllerWith(f, "active", f.oldSvc, b).Prepare(ctx, "next", ""); !errors.Is(err, ErrWorkPending) {
		t.Fatalf("want ErrWorkPending got=%v", err)
	}
	if paused, _ := f.repos.State.IsPaused(ctx); paused {
		t.Fatalf("refused prepare must not pause ingestion")
	}
	if _, ok := f.get(t, types.TableDailyAppAggregates, staged, "Word"); !ok {
		t.Fatalf("refused prepare must not move rows")
	}
}

func TestPrepareRefusesWorkSentBeforePause(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	ctx := context.Background()

	b := &spyBacklog{counts: []int64{0, 1}}
	if _, err := newControllerWith(f, "active", f.oldSvc, b).Prepare(ctx, "next", ""); !errors.Is(err, ErrWorkPending) {
		t.Fatalf("want ErrWorkPending got=%v", err)
	}
	if paused, _ := f.repos.State.IsPaused(ctx); paused {
		t.Fatalf("pause must be lifted again after the refusal")
	}

	b = &spyBacklog{counts: []int64{0}}
	if _, err := newControllerWith(f, "active", f.oldSvc, b).Prepare(ctx, "next", ""); err != nil {
		t.Fatalf("prepare with empty backlog: %v", err)
	}
	if b.calls != 2 {
		t.Fatalf("backlog checks: want=2 got=%d", b.calls)
	}
}

func TestPrepareUnknownKeyLeavesPaused(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	ctx := context.Background()
	if _, err := newController(f).Prepare(ctx, "missing", ""); !errors.Is(err, identcrypt.ErrSecretNotFound) {
		t.Fatalf("want ErrSecretNotFound, got %v", err)
	}
	paused, _ := f.repos.State.IsPaused(ctx)
	if !paused {
		t.Fatalf("want paused after failed prepare")
	}
}
