package aggregation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
	"github.com/yungbote/copilot-adoption-backend/internal/data/repos"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/identcrypt"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

type spyDispatcher struct {
	calls []dispatchCall
	err   error
}

type dispatchCall struct {
	IDs  []string
	Date string
}

func (d *spyDispatcher) QueueUserAggregations(_ context.Context, ids []string, date string) error {
	d.calls = append(d.calls, dispatchCall{IDs: append([]string(nil), ids...), Date: date})
	return d.err
}

type fixture struct {
	store  kvstore.Store
	repos  repos.Set
	engine *Engine
	enc    *identcrypt.Service
	disp   *spyDispatcher
}

func newFixture(t *testing.T, store kvstore.Store) *fixture {
	t.Helper()
	if store == nil {
		store = kvstore.NewMemoryStore()
	}
	enc, err := identcrypt.New("test-key")
	if err != nil {
		t.Fatalf("enc: %v", err)
	}
	rs := repos.New(store, logger.Nop())
	disp := &spyDispatcher{}
	eng := New(Deps{
		Log:        logger.Nop(),
		Aggregates: rs.Aggregates,
		Daily:      rs.Daily,
		Inactivity: rs.Inactivity,
		State:      rs.State,
		Snapshots:  rs.Snapshots,
		Dispatcher: disp,
	})
	return &fixture{store: store, repos: rs, engine: eng, enc: enc, disp: disp}
}

func wordSnapshot(upn, date, wordLast string) types.UsageSnapshot {
	return types.UsageSnapshot{
		ReportRefreshDate:           date,
		UserPrincipalName:           upn,
		LastActivityDate:            wordLast,
		WordCopilotLastActivityDate: wordLast,
	}
}

func (f *fixture) allTime(t *testing.T, app types.AppType, encUPN string) types.TimeframeAggregate {
	t.Helper()
	agg, ok, err := f.repos.Aggregates.GetApp(context.Background(), types.TimeframeAllTime, types.AppAllTimePartition(app), encUPN)
	if err != nil || !ok {
		t.Fatalf("all-time %s: ok=%v err=%v", app, ok, err)
	}
	return *agg
}

func TestStreakSequence(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	enc := f.enc.Encrypt("u@contoso.com")

	days := []struct {
		date, wordLast string
	}{
		{"2024-01-01", "2024-01-01"},
		{"2024-01-02", "2024-01-02"},
		{"2024-01-03", "2024-01-03"},
		{"2024-01-04", "2024-01-03"},
		{"2024-01-05", "2024-01-05"},
	}
	var current, best, weeklyCurrent []int
	for _, d := range days {
		n, err := f.engine.ApplyDailySnapshots(ctx, []types.UsageSnapshot{wordSnapshot("u@contoso.com", d.date, d.wordLast)}, f.enc)
		if err != nil || n != 1 {
			t.Fatalf("apply %s: n=%d err=%v", d.date, n, err)
		}
		agg := f.allTime(t, types.AppWord, enc)
		current = append(current, agg.CurrentDailyStreak)
		best = append(best, agg.BestDailyStreak)

		weekly, _, _ := f.repos.Aggregates.GetApp(ctx, types.TimeframeWeekly, types.AppWindowPartition("2024-01-01", types.AppWord), enc)
		weeklyCurrent = append(weeklyCurrent, weekly.CurrentDailyStreak)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 0, 1}, current); diff != "" {
		t.Fatalf("current streak (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 3, 3}, best); diff != "" {
		t.Fatalf("best streak (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(current, weeklyCurrent); diff != "" {
		t.Fatalf("weekly streak diverged (-all-time +weekly):\n%s", diff)
	}

	final := f.allTime(t, types.AppWord, enc)
	if final.TotalDailyActivityCount != 4 || final.BestDailyStreak < final.CurrentDailyStreak {
		t.Fatalf("final aggregate: %+v", final)
	}
	all := f.allTime(t, types.AppAll, enc)
	if all.CurrentDailyStreak != 1 || all.BestDailyStreak != 3 {
		t.Fatalf("All bucket: %+v", all)
	}
}

func TestInteractionCountsAreAdditive(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	enc := f.enc.Encrypt("u@contoso.com")

	perDay := map[string]int{"2024-01-08": 3, "2024-01-09": 0, "2024-01-10": 5}
	for _, date := range []string{"2024-01-08", "2024-01-09", "2024-01-10"} {
		if n := perDay[date]; n > 0 {
			if err := f.repos.Daily.IncrementApp(ctx, date, enc, types.AppDesigner, n); err != nil {
				t.Fatalf("seed: %v", err)
			}
			if err := f.repos.Daily.IncrementApp(ctx, date, enc, types.AppAll, n); err != nil {
				t.Fatalf("seed all: %v", err)
			}
		}
		snap := types.UsageSnapshot{ReportRefreshDate: date, UserPrincipalName: "u@contoso.com", LastActivityDate: date}
		if _, err := f.engine.ApplyDailySnapshots(ctx, []types.UsageSnapshot{snap}, f.enc); err != nil {
			t.Fatalf("apply %s: %v", date, err)
		}
	}

	got := f.allTime(t, types.AppDesigner, enc)
	want := types.TimeframeAggregate{
		PartitionKey:            types.AppAllTimePartition(types.AppDesigner),
		EncryptedUPN:            enc,
		TotalDailyActivityCount: 2,
		TotalInteractionCount:   8,
		CurrentDailyStreak:      1,
		BestDailyStreak:         1,
		LastAppliedDate:         "2024-01-10",
	}
	got.Version = ""
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("designer aggregate (-want +got):\n%s", diff)
	}
	if all := f.allTime(t, types.AppAll, enc); all.TotalInteractionCount != 8 {
		t.Fatalf("All interactions: want=8 got=%d", all.TotalInteractionCount)
	}
}

func TestZeroHistoryCreatesNoAggregates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	snap := types.UsageSnapshot{ReportRefreshDate: "2024-03-01", UserPrincipalName: "idle@contoso.com"}

	n, err := f.engine.ApplyDailySnapshots(ctx, []types.UsageSnapshot{snap}, f.enc)
	if err != nil || n != 1 {
		t.Fatalf("apply: n=%d err=%v", n, err)
	}
	mem := f.store.(*kvstore.MemoryStore)
	for _, table := range []string{types.TableAllTimeAppAggregates, types.TableMonthlyAppAggregates, types.TableWeeklyAppAggregates} {
		if mem.Len(table) != 0 {
			t.Fatalf("%s: expected no rows, got %d", table, mem.Len(table))
		}
	}

	recs, err := f.repos.Inactivity.ForUser(ctx, f.enc.Encrypt("idle@contoso.com"))
	if err != nil || len(recs) != 1 {
		t.Fatalf("inactivity: recs=%v err=%v", recs, err)
	}
	if recs[0].LastActivityDate != types.EpochDate {
		t.Fatalf("inactivity: want epoch date got=%s", recs[0].LastActivityDate)
	}

	rec, ok, _ := f.repos.State.GetReportRefresh(ctx, types.TimeframeMonthly)
	if !ok || rec.StartDate != "2024-03-01" || rec.ReportRefreshDate != "2024-03-01" {
		t.Fatalf("refresh record: %+v", rec)
	}
}

func TestReapplyingADayIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	enc := f.enc.Encrypt("u@contoso.com")
	snap := wordSnapshot("u@contoso.com", "2024-01-02", "2024-01-02")
	if err := f.repos.Daily.IncrementApp(ctx, "2024-01-02", enc, types.AppWord, 4); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := f.engine.ApplyDailySnapshots(ctx, []types.UsageSnapshot{snap}, f.enc); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	got := f.allTime(t, types.AppWord, enc)
	if got.TotalDailyActivityCount != 1 || got.TotalInteractionCount != 4 || got.CurrentDailyStreak != 1 {
		t.Fatalf("duplicate day changed aggregate: %+v", got)
	}
}

func TestPausedIngestionIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.repos.State.SetPaused(ctx, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	snap := wordSnapshot("u@contoso.com", "2024-01-02", "2024-01-02")
	if _, err := f.engine.ApplyDailySnapshots(ctx, []types.UsageSnapshot{snap}, f.enc); !errors.Is(err, ErrIngestionPaused) {
		t.Fatalf("ApplyDailySnapshots: want ErrIngestionPaused got=%v", err)
	}
	if _, err := f.engine.QueueDailySnapshots(ctx, []types.UsageSnapshot{snap}, f.enc); !errors.Is(err, ErrIngestionPaused) {
		t.Fatalf("QueueDailySnapshots: want ErrIngestionPaused got=%v", err)
	}
	if err := f.engine.ApplySingleUser(ctx, "x", "2024-01-02"); !errors.Is(err, ErrIngestionPaused) {
		t.Fatalf("ApplySingleUser: want ErrIngestionPaused got=%v", err)
	}
}

// interferingStore lets a concurrent writer touch every all-time Word row
// right before the engine's own update lands, limit times.
type interferingStore struct {
	kvstore.Store
	limit int
	hits  int
}

func (s *interferingStore) Update(ctx context.Context, table string, e kvstore.Entity, mode kvstore.UpdateMode) error {
	if table == types.TableAllTimeAppAggregates && e.PartitionKey == types.AppAllTimePartition(types.AppWord) && s.hits < s.limit {
		s.hits++
		cur, ok, err := s.Store.GetIfExists(ctx, table, e.PartitionKey, e.RowKey)
		if err != nil || !ok {
			return err
		}
		cur.Set(types.PropTotalInteractionCount, cur.Int(types.PropTotalInteractionCount)+100)
		if err := s.Store.Update(ctx, table, *cur, kvstore.Replace); err != nil {
			return err
		}
	}
	return s.Store.Update(ctx, table, e, mode)
}

func TestConflictIsRetriedOnce(t *testing.T) {
	store := &interferingStore{Store: kvstore.NewMemoryStore(), limit: 1}
	f := newFixture(t, store)
	ctx := context.Background()
	enc := f.enc.Encrypt("u@contoso.com")

	if _, err := f.engine.ApplyDailySnapshots(ctx, []types.UsageSnapshot{wordSnapshot("u@contoso.com", "2024-01-01", "2024-01-01")}, f.enc); err != nil {
		t.Fatalf("day 1: %v", err)
	}
	_ = f.repos.Daily.IncrementApp(ctx, "2024-01-02", enc, types.AppWord, 2)
	if n, err := f.engine.ApplyDailySnapshots(ctx, []types.UsageSnapshot{wordSnapshot("u@contoso.com", "2024-01-02", "2024-01-02")}, f.enc); err != nil || n != 1 {
		t.Fatalf("day 2: n=%d err=%v", n, err)
	}
	got := f.allTime(t, types.AppWord, enc)
	if got.TotalInteractionCount != 102 || got.CurrentDailyStreak != 2 {
		t.Fatalf("retry lost the concurrent write: %+v", got)
	}
	if store.hits != 1 {
		t.Fatalf("interference: want=1 got=%d", store.hits)
	}
}

func TestSecondConflictSurfacesAsFailure(t *testing.T) {
	store := &interferingStore{Store: kvstore.NewMemoryStore(), limit: 10}
	f := newFixture(t, store)
	ctx := context.Background()
	enc := f.enc.Encrypt("u@contoso.com")

	if _, err := f.engine.ApplyDailySnapshots(ctx, []types.UsageSnapshot{wordSnapshot("u@contoso.com", "2024-01-01", "2024-01-01")}, f.enc); err != nil {
		t.Fatalf("day 1: %v", err)
	}
	n, err := f.engine.ApplyDailySnapshots(ctx, []types.UsageSnapshot{wordSnapshot("u@contoso.com", "2024-01-02", "2024-01-02")}, f.enc)
	if err != nil {
		t.Fatalf("run must continue past a per-user failure: %v", err)
	}
	if n != 0 {
		t.Fatalf("processed: want=0 got=%d", n)
	}
	if store.hits != 2 {
		t.Fatalf("attempts: want=2 got=%d", store.hits)
	}
	if got := f.allTime(t, types.AppWord, enc); got.CurrentDailyStreak != 1 {
		t.Fatalf("stale streak written: %+v", got)
	}
}

func TestQueueThenApplySingleUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	snaps := []types.UsageSnapshot{
		wordSnapshot("a@contoso.com", "2024-01-02", "2024-01-02"),
		wordSnapshot("b@contoso.com", "2024-01-02", ""),
		{ReportRefreshDate: "2024-01-02"},
	}
	n, err := f.engine.QueueDailySnapshots(ctx, snaps, f.enc)
	if err != nil || n != 2 {
		t.Fatalf("queue: n=%d err=%v", n, err)
	}
	want := []dispatchCall{{
		IDs:  []string{f.enc.Encrypt("a@contoso.com"), f.enc.Encrypt("b@contoso.com")},
		Date: "2024-01-02",
	}}
	if diff := cmp.Diff(want, f.disp.calls); diff != "" {
		t.Fatalf("dispatch (-want +got):\n%s", diff)
	}

	for _, id := range f.disp.calls[0].IDs {
		if err := f.engine.ApplySingleUser(ctx, id, "2024-01-02"); err != nil {
			t.Fatalf("ApplySingleUser: %v", err)
		}
	}
	if got := f.allTime(t, types.AppWord, f.enc.Encrypt("a@contoso.com")); got.CurrentDailyStreak != 1 {
		t.Fatalf("user a: %+v", got)
	}
	if _, ok, _ := f.repos.Aggregates.GetApp(ctx, types.TimeframeAllTime, types.AppAllTimePartition(types.AppWord), f.enc.Encrypt("b@contoso.com")); ok {
		t.Fatalf("user b had no usage and must not get a row")
	}
	if err := f.engine.ApplySingleUser(ctx, "unknown", "2024-01-02"); !errors.Is(err, ErrSnapshotNotStaged) {
		t.Fatalf("unknown user: want ErrSnapshotNotStaged got=%v", err)
	}
}

func TestQueueSendFailureIsReturned(t *testing.T) {
	f := newFixture(t, nil)
	f.disp.err = errors.New("queue down")
	_, err := f.engine.QueueDailySnapshots(context.Background(), []types.UsageSnapshot{wordSnapshot("a@contoso.com", "2024-01-02", "2024-01-02")}, f.enc)
	if err == nil {
		t.Fatalf("want dispatch error")
	}
}

func TestInactivityThreshold(t *testing.T) {
	cases := []struct {
		name     string
		last     string
		wantRec  bool
		wantDays float64
	}{
		{"same day", "2024-02-15", false, 0},
		{"at threshold", "2024-02-01", false, 0},
		{"past threshold", "2024-01-31", true, 15},
		{"never active", "", true, 19768},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := types.UsageSnapshot{ReportRefreshDate: "2024-02-15", LastActivityDate: tc.last}
			rec, ok, err := inactivityRecord("enc", snap, 14)
			if err != nil {
				t.Fatalf("err: %v", err)
			}
			if ok != tc.wantRec {
				t.Fatalf("record: want=%v got=%v", tc.wantRec, ok)
			}
			if ok && rec.DaysSinceLastActivity != tc.wantDays {
				t.Fatalf("days: want=%v got=%v", tc.wantDays, rec.DaysSinceLastActivity)
			}
		})
	}
}

func TestAgentUsageRollsUp(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, b := f.enc.Encrypt("a@contoso.com"), f.enc.Encrypt("b@contoso.com")
	_ = f.repos.Daily.IncrementAgent(ctx, "2024-01-03", a, "agent-1", "Planner Bot", 2)
	_ = f.repos.Daily.IncrementAgent(ctx, "2024-01-03", b, "agent-1", "Planner Bot", 3)
	_ = f.repos.Daily.IncrementAgent(ctx, "2024-01-03", b, "agent-2", "", 1)
	_ = f.repos.Daily.IncrementAgent(ctx, "2024-01-04", b, "agent-2", "", 9)

	snap := types.UsageSnapshot{ReportRefreshDate: "2024-01-03", UserPrincipalName: "b@contoso.com", LastActivityDate: "2024-01-03"}
	if _, err := f.engine.ApplyDailySnapshots(ctx, []types.UsageSnapshot{snap}, f.enc); err != nil {
		t.Fatalf("apply: %v", err)
	}
	perUser, ok, _ := f.repos.Aggregates.GetAgent(ctx, types.TimeframeAllTime, types.AgentUserPartition(types.TimeframeAllTime, "", "agent-1"), b)
	if !ok || perUser.TotalInteractionCount != 3 || perUser.AgentName != "Planner Bot" {
		t.Fatalf("per-user agent aggregate: %+v", perUser)
	}

	for i := 0; i < 2; i++ {
		n, err := f.engine.ProcessAgentUsageAggregations(ctx, "2024-01-03")
		if err != nil || n != 2 {
			t.Fatalf("rollup %d: n=%d err=%v", i, n, err)
		}
	}
	weekly, ok, _ := f.repos.Aggregates.GetAgentTotal(ctx, types.TimeframeWeekly, "2024-01-01", "agent-1")
	if !ok || weekly.TotalDailyActivityCount != 2 || weekly.TotalInteractionCount != 5 {
		t.Fatalf("weekly agent total: %+v", weekly)
	}
	allTime, ok, _ := f.repos.Aggregates.GetAgentTotal(ctx, types.TimeframeAllTime, types.AllTimePrefix, "agent-2")
	if !ok || allTime.TotalInteractionCount != 1 {
		t.Fatalf("all-time agent total: %+v", allTime)
	}
}

func TestAgentRollupRefusedWhilePaused(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.repos.Daily.IncrementAgent(ctx, "2024-01-03", f.enc.Encrypt("a@contoso.com"), "agent-1", "Planner Bot", 2)
	if err := f.repos.State.SetPaused(ctx, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := f.engine.ProcessAgentUsageAggregations(ctx, "2024-01-03"); !errors.Is(err, ErrIngestionPaused) {
		t.Fatalf("want ErrIngestionPaused got=%v", err)
	}
	if _, ok, _ := f.repos.Aggregates.GetAgentTotal(ctx, types.TimeframeAllTime, types.AllTimePrefix, "agent-1"); ok {
		t.Fatalf("paused rollup must not write totals")
	}
}
