package queries

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
	"github.com/yungbote/copilot-adoption-backend/internal/data/repos"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/aggregation"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/identcrypt"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

type fixture struct {
	repos repos.Set
	svc   *Service
	enc   *identcrypt.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := kvstore.NewMemoryStore()
	rs := repos.New(store, logger.Nop())
	enc, err := identcrypt.New("test-key")
	if err != nil {
		t.Fatalf("enc: %v", err)
	}
	svc := New(Deps{
		Log:        logger.Nop(),
		Aggregates: rs.Aggregates,
		Daily:      rs.Daily,
		Inactivity: rs.Inactivity,
		State:      rs.State,
		Enc:        enc,
	})
	return &fixture{repos: rs, svc: svc, enc: enc}
}

func (f *fixture) seedApp(t *testing.T, tf types.Timeframe, window string, app types.AppType, upn string, days, interactions, streak int) {
	t.Helper()
	_, err := f.repos.Aggregates.ApplyApp(context.Background(), tf, types.AppPartition(tf, window, app), f.enc.Encrypt(upn),
		func(a *types.TimeframeAggregate, _ bool) bool {
			a.TotalDailyActivityCount = days
			a.TotalInteractionCount = interactions
			a.CurrentDailyStreak = streak
			a.BestDailyStreak = streak
			return true
		})
	if err != nil {
		t.Fatalf("seed %s %s: %v", tf, app, err)
	}
}

func intp(v int) *int { return &v }

func TestUsersWithStreakIntersectsApps(t *testing.T) {
	f := newFixture(t)
	all := types.TimeframeAllTime
	f.seedApp(t, all, "", types.AppWord, "ada@example.com", 10, 10, 5)
	f.seedApp(t, all, "", types.AppExcel, "ada@example.com", 10, 10, 3)
	f.seedApp(t, all, "", types.AppWord, "bo@example.com", 10, 10, 4)
	f.seedApp(t, all, "", types.AppExcel, "bo@example.com", 10, 10, 1)
	f.seedApp(t, all, "", types.AppWord, "cy@example.com", 10, 10, 2)

	got, err := f.svc.UsersWithStreak(context.Background(), []types.AppType{types.AppWord}, 3)
	if err != nil {
		t.Fatalf("UsersWithStreak: %v", err)
	}
	if diff := cmp.Diff([]string{"ada@example.com", "bo@example.com"}, got); diff != "" {
		t.Fatalf("word only (-want +got):\n%s", diff)
	}

	got, err = f.svc.UsersWithStreak(context.Background(), []types.AppType{types.AppWord, types.AppExcel}, 3)
	if err != nil {
		t.Fatalf("UsersWithStreak: %v", err)
	}
	if diff := cmp.Diff([]string{"ada@example.com"}, got); diff != "" {
		t.Fatalf("word+excel (-want +got):\n%s", diff)
	}

	if _, err := f.svc.UsersWithStreak(context.Background(), nil, 1); !errors.Is(err, ErrNoApps) {
		t.Fatalf("no apps: want ErrNoApps got=%v", err)
	}
}

func TestUsersWhoCompletedActivityWindowStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	weekly := types.TimeframeWeekly
	if err := f.repos.State.UpdateReportRefreshDate(ctx, weekly, "2024-01-10", "2024-01-08"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	f.seedApp(t, weekly, "2024-01-08", types.AppTeams, "ada@example.com", 3, 12, 3)
	f.seedApp(t, weekly, "2024-01-08", types.AppTeams, "bo@example.com", 1, 40, 1)

	req := CompletedActivityRequest{
		Apps:      []types.AppType{types.AppTeams},
		Timeframe: weekly,
		StartDate: "2024-01-08",
		DayCount:  intp(2),
	}
	got, err := f.svc.UsersWhoCompletedActivity(ctx, req)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	want := CompletedActivity{Users: []string{"ada@example.com"}, StartDateStatus: types.StartDateActive}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("active (-want +got):\n%s", diff)
	}

	req.DayCount, req.InteractionCount = nil, intp(20)
	got, _ = f.svc.UsersWhoCompletedActivity(ctx, req)
	if diff := cmp.Diff([]string{"bo@example.com"}, got.Users); diff != "" {
		t.Fatalf("interaction threshold (-want +got):\n%s", diff)
	}

	req.StartDate = "2024-01-01"
	got, err = f.svc.UsersWhoCompletedActivity(ctx, req)
	if err != nil || got.StartDateStatus != types.StartDateExpired || len(got.Users) != 0 {
		t.Fatalf("expired: got=%+v err=%v", got, err)
	}
	req.StartDate = "2024-01-15"
	got, _ = f.svc.UsersWhoCompletedActivity(ctx, req)
	if got.StartDateStatus != types.StartDateFuture {
		t.Fatalf("future: want=%v got=%v", types.StartDateFuture, got.StartDateStatus)
	}
}

func TestUsersWhoCompletedActivityValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apps := []types.AppType{types.AppWord}
	cases := []struct {
		name string
		req  CompletedActivityRequest
		want error
	}{
		{"no apps", CompletedActivityRequest{Timeframe: types.TimeframeAllTime, DayCount: intp(1)}, ErrNoApps},
		{"no threshold", CompletedActivityRequest{Apps: apps, Timeframe: types.TimeframeAllTime}, ErrNoThreshold},
		{"no start", CompletedActivityRequest{Apps: apps, Timeframe: types.TimeframeMonthly, DayCount: intp(1)}, ErrStartRequired},
		{"no data", CompletedActivityRequest{Apps: apps, Timeframe: types.TimeframeMonthly, StartDate: "2024-01-01", DayCount: intp(1)}, ErrNoData},
	}
	for _, tc := range cases {
		if _, err := f.svc.UsersWhoCompletedActivity(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: want=%v got=%v", tc.name, tc.want, err)
		}
	}
}

func TestUsersWhoCompletedActivityAllTimeIgnoresStart(t *testing.T) {
	f := newFixture(t)
	f.seedApp(t, types.TimeframeAllTime, "", types.AppLoop, "ada@example.com", 30, 90, 2)
	got, err := f.svc.UsersWhoCompletedActivity(context.Background(), CompletedActivityRequest{
		Apps:      []types.AppType{types.AppLoop},
		Timeframe: types.TimeframeAllTime,
		DayCount:  intp(30),
	})
	if err != nil {
		t.Fatalf("alltime: %v", err)
	}
	if diff := cmp.Diff([]string{"ada@example.com"}, got.Users); diff != "" {
		t.Fatalf("alltime (-want +got):\n%s", diff)
	}
}

func TestInactiveUsersUsesLatestEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := func(upn, last string, days float64) {
		t.Helper()
		err := f.repos.Inactivity.Record(ctx, types.InactivityRecord{
			EncryptedUPN:          f.enc.Encrypt(upn),
			LastActivityDate:      last,
			ReportRefreshDate:     "2024-03-01",
			DaysSinceLastActivity: days,
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	record("ada@example.com", "2024-01-01", 60)
	record("ada@example.com", "2024-02-10", 20)
	record("bo@example.com", "2024-02-20", 10)
	record("cy@example.com", "1970-01-01", 19783)

	got, err := f.svc.InactiveUsers(ctx, 15)
	if err != nil {
		t.Fatalf("InactiveUsers: %v", err)
	}
	want := []InactiveUser{
		{UPN: "cy@example.com", LastActivityDate: "1970-01-01", DaysSinceLastActivity: 19783},
		{UPN: "ada@example.com", LastActivityDate: "2024-02-10", DaysSinceLastActivity: 20},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("inactive (-want +got):\n%s", diff)
	}
}

func TestTodaysUsageReadsLatestReportDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.TodaysUsage(ctx, ""); !errors.Is(err, ErrNoData) {
		t.Fatalf("empty: want ErrNoData got=%v", err)
	}

	engine := aggregation.New(aggregation.Deps{
		Log:        logger.Nop(),
		Aggregates: f.repos.Aggregates,
		Daily:      f.repos.Daily,
		Inactivity: f.repos.Inactivity,
		State:      f.repos.State,
		Snapshots:  f.repos.Snapshots,
	})
	snap := types.UsageSnapshot{
		ReportRefreshDate:           "2024-03-05",
		UserPrincipalName:           "ada@example.com",
		LastActivityDate:            "2024-03-05",
		WordCopilotLastActivityDate: "2024-03-05",
	}
	if n, err := engine.ApplyDailySnapshots(ctx, []types.UsageSnapshot{snap}, f.enc); err != nil || n != 1 {
		t.Fatalf("apply: n=%d err=%v", n, err)
	}

	ada := f.enc.Encrypt("ada@example.com")
	_ = f.repos.Daily.IncrementApp(ctx, "2024-03-05", ada, types.AppWord, 2)
	_ = f.repos.Daily.IncrementApp(ctx, "2024-03-05", ada, types.AppAll, 2)
	_ = f.repos.Daily.IncrementApp(ctx, "2024-03-04", ada, types.AppExcel, 7)

	got, err := f.svc.TodaysUsage(ctx, "")
	if err != nil {
		t.Fatalf("TodaysUsage: %v", err)
	}
	want := DailyUsage{
		Date:  "2024-03-05",
		Users: []UserDailyApps{{UPN: "ada@example.com", Apps: map[string]int{"Word": 2, "All": 2}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("today (-want +got):\n%s", diff)
	}
}

func TestUndecryptableIdentifierFailsQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("streak", func(t *testing.T) {
		f := newFixture(t)
		f.seedApp(t, types.TimeframeAllTime, "", types.AppWord, "ada@example.com", 3, 3, 3)
		_, err := f.repos.Aggregates.ApplyApp(ctx, types.TimeframeAllTime, types.AppAllTimePartition(types.AppWord), "bogus-ciphertext",
			func(a *types.TimeframeAggregate, _ bool) bool {
				a.CurrentDailyStreak = 3
				return true
			})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		if _, err := f.svc.UsersWithStreak(ctx, []types.AppType{types.AppWord}, 1); !errors.Is(err, identcrypt.ErrDecryption) {
			t.Fatalf("want ErrDecryption got=%v", err)
		}
	})

	t.Run("inactive", func(t *testing.T) {
		f := newFixture(t)
		err := f.repos.Inactivity.Record(ctx, types.InactivityRecord{
			EncryptedUPN:          "bogus-ciphertext",
			LastActivityDate:      "2024-01-01",
			ReportRefreshDate:     "2024-03-01",
			DaysSinceLastActivity: 60,
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if _, err := f.svc.InactiveUsers(ctx, 1); !errors.Is(err, identcrypt.ErrDecryption) {
			t.Fatalf("want ErrDecryption got=%v", err)
		}
	})

	t.Run("daily", func(t *testing.T) {
		f := newFixture(t)
		_ = f.repos.Daily.IncrementApp(ctx, "2024-03-05", "not-a-ciphertext", types.AppWord, 1)
		if _, err := f.svc.TodaysUsage(ctx, "2024-03-05"); !errors.Is(err, identcrypt.ErrDecryption) {
			t.Fatalf("want ErrDecryption got=%v", err)
		}
	})
}
