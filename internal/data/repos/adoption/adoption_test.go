package adoption

import (
	"context"
	"testing"

	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
	"github.com/yungbote/copilot-adoption-backend/internal/data/repos/testutil"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
)

func TestStateRepoPauseDefaultsToFalse(t *testing.T) {
	ctx := context.Background()
	repo := NewStateRepo(testutil.Store(t), testutil.Logger(t))

	paused, err := repo.IsPaused(ctx)
	if err != nil || paused {
		t.Fatalf("IsPaused on empty store: paused=%v err=%v", paused, err)
	}
	if err := repo.SetPaused(ctx, true); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}
	if paused, _ = repo.IsPaused(ctx); !paused {
		t.Fatalf("IsPaused: expected true")
	}
	if err := repo.SetPaused(ctx, false); err != nil {
		t.Fatalf("SetPaused(false): %v", err)
	}
	if paused, _ = repo.IsPaused(ctx); paused {
		t.Fatalf("IsPaused: expected false after resume")
	}
}

func TestStateRepoReportRefresh(t *testing.T) {
	ctx := context.Background()
	repo := NewStateRepo(testutil.Store(t), testutil.Logger(t))

	if _, ok, err := repo.GetReportRefresh(ctx, types.TimeframeWeekly); err != nil || ok {
		t.Fatalf("GetReportRefresh on empty: ok=%v err=%v", ok, err)
	}
	if err := repo.UpdateReportRefreshDate(ctx, types.TimeframeWeekly, "2024-01-10", "2024-01-08"); err != nil {
		t.Fatalf("UpdateReportRefreshDate: %v", err)
	}
	rec, ok, err := repo.GetReportRefresh(ctx, types.TimeframeWeekly)
	if err != nil || !ok {
		t.Fatalf("GetReportRefresh: ok=%v err=%v", ok, err)
	}
	if rec.StartDate != "2024-01-08" || rec.ReportRefreshDate != "2024-01-10" {
		t.Fatalf("GetReportRefresh: unexpected %+v", rec)
	}
}

func TestDailyRepoIncrements(t *testing.T) {
	ctx := context.Background()
	repo := NewDailyRepo(testutil.Store(t), testutil.Logger(t))

	for i := 0; i < 3; i++ {
		if err := repo.IncrementApp(ctx, "2024-01-10", "enc1", types.AppWord, 2); err != nil {
			t.Fatalf("IncrementApp: %v", err)
		}
	}
	if err := repo.IncrementApp(ctx, "2024-01-10", "enc1", types.AppAll, 1); err != nil {
		t.Fatalf("IncrementApp(All): %v", err)
	}
	if err := repo.IncrementApp(ctx, "2024-01-11", "enc1", types.AppWord, 5); err != nil {
		t.Fatalf("IncrementApp(next day): %v", err)
	}

	counts, err := repo.AppCounts(ctx, "2024-01-10", "enc1")
	if err != nil {
		t.Fatalf("AppCounts: %v", err)
	}
	if counts[types.AppWord] != 6 || counts[types.AppAll] != 1 || len(counts) != 2 {
		t.Fatalf("AppCounts: unexpected %v", counts)
	}

	if err := repo.IncrementAgent(ctx, "2024-01-10", "enc1", "agent-a", "Helper", 1); err != nil {
		t.Fatalf("IncrementAgent: %v", err)
	}
	if err := repo.IncrementAgent(ctx, "2024-01-10", "enc1", "agent-a", "Renamed", 1); err != nil {
		t.Fatalf("IncrementAgent: %v", err)
	}
	agents, err := repo.AgentCounts(ctx, "2024-01-10", "enc1")
	if err != nil {
		t.Fatalf("AgentCounts: %v", err)
	}
	if len(agents) != 1 || agents[0].InteractionCount != 2 || agents[0].Name != "Helper" {
		t.Fatalf("AgentCounts: unexpected %+v", agents)
	}
}

func TestAggregateRepoApplyKeepsUnmodelledProps(t *testing.T) {
	ctx := context.Background()
	store := testutil.Store(t)
	repo := NewAggregateRepo(store, testutil.Logger(t))
	pk := types.AppAllTimePartition(types.AppWord)

	wrote, err := repo.ApplyApp(ctx, types.TimeframeAllTime, pk, "enc1", func(a *types.TimeframeAggregate, exists bool) bool {
		return false
	})
	if err != nil || wrote {
		t.Fatalf("ApplyApp(skip): wrote=%v err=%v", wrote, err)
	}

	_, err = repo.ApplyApp(ctx, types.TimeframeAllTime, pk, "enc1", func(a *types.TimeframeAggregate, exists bool) bool {
		a.TotalDailyActivityCount = 1
		a.CurrentDailyStreak = 1
		a.BestDailyStreak = 1
		return true
	})
	if err != nil {
		t.Fatalf("ApplyApp(create): %v", err)
	}

	e, _, _ := store.GetIfExists(ctx, types.TableAllTimeAppAggregates, pk, "enc1")
	e.Set(types.PropKeyFingerprint, "abc")
	if err := store.Update(ctx, types.TableAllTimeAppAggregates, *e, kvstore.Merge); err != nil {
		t.Fatalf("tag row: %v", err)
	}

	_, err = repo.ApplyApp(ctx, types.TimeframeAllTime, pk, "enc1", func(a *types.TimeframeAggregate, exists bool) bool {
		a.CurrentDailyStreak++
		return true
	})
	if err != nil {
		t.Fatalf("ApplyApp(update): %v", err)
	}
	e, _, _ = store.GetIfExists(ctx, types.TableAllTimeAppAggregates, pk, "enc1")
	if e.String(types.PropKeyFingerprint) != "abc" || e.Int(types.PropCurrentDailyStreak) != 2 {
		t.Fatalf("ApplyApp(update): unexpected props %v", e.Props)
	}
}

func TestSnapshotRepoRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewSnapshotRepo(testutil.Store(t), testutil.Logger(t))
	snap := types.UsageSnapshot{
		ReportRefreshDate:           "2024-01-10",
		UserPrincipalName:           "alice@contoso.com",
		LastActivityDate:            "2024-01-10",
		WordCopilotLastActivityDate: "2024-01-10",
	}
	if err := repo.Stage(ctx, "enc1", snap); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	got, ok, err := repo.Get(ctx, "2024-01-10", "enc1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.UserPrincipalName != "" {
		t.Fatalf("Get: principal name must not be staged")
	}
	if got.WordCopilotLastActivityDate != "2024-01-10" || got.ExcelCopilotLastActivityDate != "" {
		t.Fatalf("Get: unexpected %+v", got)
	}
}

func TestIngestionRepoCountsUnhandledHosts(t *testing.T) {
	ctx := context.Background()
	repo := NewIngestionRepo(testutil.Store(t), testutil.Logger(t))
	for i := 0; i < 2; i++ {
		if err := repo.CountUnhandledHost(ctx, "Mystery"); err != nil {
			t.Fatalf("CountUnhandledHost: %v", err)
		}
	}
	if err := repo.CountUnhandledHost(ctx, ""); err != nil {
		t.Fatalf("CountUnhandledHost(empty): %v", err)
	}
	if n, _ := repo.UnhandledHostCount(ctx, "Mystery"); n != 2 {
		t.Fatalf("UnhandledHostCount: want=2 got=%d", n)
	}
	if n, _ := repo.UnhandledHostCount(ctx, ""); n != 1 {
		t.Fatalf("UnhandledHostCount(empty): want=1 got=%d", n)
	}
}

func TestRotationProgressRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewRotationProgressRepo(testutil.Store(t), testutil.Logger(t))
	if done, _ := repo.IsDone(ctx, "run1", "T/2024-01-01"); done {
		t.Fatalf("IsDone: expected false")
	}
	if err := repo.MarkDone(ctx, "run1", "T/2024-01-01", 3, 0, 1); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if done, _ := repo.IsDone(ctx, "run1", "T/2024-01-01"); !done {
		t.Fatalf("IsDone: expected true")
	}
	if done, _ := repo.IsDone(ctx, "run2", "T/2024-01-01"); done {
		t.Fatalf("IsDone: other run must not see progress")
	}
}
