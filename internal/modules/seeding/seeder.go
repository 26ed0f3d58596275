// Package seeding fills the aggregate tables with plausible random usage for
// a list of users, so the query endpoints can be exercised without a live
// audit feed.
package seeding

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/yungbote/copilot-adoption-backend/internal/data/repos"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/identcrypt"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

var ErrNoUsers = errors.New("at least one user is required")

// inactiveDays are the gaps a seeded user can show on the watchlist.
var inactiveDays = []int{7, 14, 30, 60, 90}

// limits bound the random counts per timeframe. Streaks never exceed the
// active day count, and current never exceeds best.
type limits struct {
	days         int
	interactions int
}

var timeframeLimits = map[types.Timeframe]limits{
	types.TimeframeWeekly:  {days: 5, interactions: 100},
	types.TimeframeMonthly: {days: 30, interactions: 1000},
	types.TimeframeAllTime: {days: 100, interactions: 5000},
}

type Deps struct {
	Log        *logger.Logger
	Aggregates repos.AggregateRepo
	Inactivity repos.InactivityRepo
	State      repos.StateRepo
	Calendar   types.Calendar
	Now        func() time.Time
	// Rand defaults to a time-seeded source.
	Rand *rand.Rand
}

type Seeder struct {
	aggregates repos.AggregateRepo
	inactivity repos.InactivityRepo
	state      repos.StateRepo
	cal        types.Calendar
	now        func() time.Time
	rnd        *rand.Rand
	log        *logger.Logger
}

func New(deps Deps) *Seeder {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	rnd := deps.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Seeder{
		aggregates: deps.Aggregates,
		inactivity: deps.Inactivity,
		state:      deps.State,
		cal:        deps.Calendar,
		now:        now,
		rnd:        rnd,
		log:        deps.Log.With("service", "TestDataSeeder"),
	}
}

type Result struct {
	Users         []string `json:"users"`
	AggregateRows int      `json:"aggregateRows"`
	InactiveRows  int      `json:"inactiveRows"`
	WeekStart     string   `json:"weekStart"`
	MonthStart    string   `json:"monthStart"`
}

// Seed overwrites the current week, month and all-time rows of every app
// for each user and puts each user on the inactivity watchlist.
func (s *Seeder) Seed(ctx context.Context, enc *identcrypt.Service, upns []string) (Result, error) {
	users := cleanUsers(upns)
	if len(users) == 0 {
		return Result{}, ErrNoUsers
	}
	now := s.now().UTC()
	today := types.FormatDate(now)
	res := Result{
		Users:      users,
		WeekStart:  s.cal.WindowStart(types.TimeframeWeekly, now),
		MonthStart: s.cal.WindowStart(types.TimeframeMonthly, now),
	}

	for _, tf := range types.RollupTimeframes {
		window := s.cal.WindowStart(tf, now)
		if tf != types.TimeframeAllTime {
			if err := s.ensureRefresh(ctx, tf, today, window); err != nil {
				return res, err
			}
		}
		lim := timeframeLimits[tf]
		for _, upn := range users {
			encUPN := enc.Encrypt(upn)
			for _, app := range types.AllApps() {
				row := s.randomRow(lim)
				pk := types.AppPartition(tf, window, app)
				if _, err := s.aggregates.ApplyApp(ctx, tf, pk, encUPN, func(agg *types.TimeframeAggregate, _ bool) bool {
					agg.TotalDailyActivityCount = row.TotalDailyActivityCount
					agg.TotalInteractionCount = row.TotalInteractionCount
					agg.BestDailyStreak = row.BestDailyStreak
					agg.CurrentDailyStreak = row.CurrentDailyStreak
					return true
				}); err != nil {
					return res, fmt.Errorf("seed %s %s: %w", tf, app, err)
				}
				res.AggregateRows++
			}
		}
		s.log.Info("Seeded timeframe", "timeframe", tf, "window", window, "users", len(users))
	}

	for _, upn := range users {
		days := inactiveDays[s.rnd.Intn(len(inactiveDays))]
		rec := types.InactivityRecord{
			EncryptedUPN:          enc.Encrypt(upn),
			LastActivityDate:      types.FormatDate(now.AddDate(0, 0, -days)),
			ReportRefreshDate:     today,
			DaysSinceLastActivity: float64(days),
		}
		if err := s.inactivity.Record(ctx, rec); err != nil {
			return res, fmt.Errorf("seed inactivity: %w", err)
		}
		res.InactiveRows++
	}
	s.log.Info("Seeded test data", "users", len(users), "aggregate_rows", res.AggregateRows, "inactive_rows", res.InactiveRows)
	return res, nil
}

func (s *Seeder) randomRow(lim limits) types.TimeframeAggregate {
	var row types.TimeframeAggregate
	row.TotalDailyActivityCount = s.rnd.Intn(lim.days)
	row.TotalInteractionCount = s.rnd.Intn(lim.interactions)
	row.BestDailyStreak = s.rnd.Intn(row.TotalDailyActivityCount + 1)
	row.CurrentDailyStreak = s.rnd.Intn(row.BestDailyStreak + 1)
	return row
}

// ensureRefresh points the queries at the seeded window when no real
// aggregation has run yet. An existing record is left alone.
func (s *Seeder) ensureRefresh(ctx context.Context, tf types.Timeframe, today, window string) error {
	_, ok, err := s.state.GetReportRefresh(ctx, tf)
	if err != nil {
		return fmt.Errorf("read %s refresh record: %w", tf, err)
	}
	if ok {
		return nil
	}
	return s.state.UpdateReportRefreshDate(ctx, tf, today, window)
}

func cleanUsers(upns []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, u := range upns {
		u = strings.ToLower(strings.TrimSpace(u))
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
