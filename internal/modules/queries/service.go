package queries

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
	"github.com/yungbote/copilot-adoption-backend/internal/data/repos"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/identcrypt"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

var (
	ErrNoApps        = errors.New("at least one app is required")
	ErrNoThreshold   = errors.New("dayCount and/or interactionCount is required")
	ErrStartRequired = errors.New("startDate is required for weekly and monthly windows")
	ErrInvalidDate   = errors.New("dates must be yyyy-MM-dd")
	ErrTimeframe     = errors.New("timeframe must be weekly, monthly or alltime")
	// ErrNoData means no snapshot has been folded into the timeframe yet.
	ErrNoData = errors.New("no data yet for this timeframe")
)

type Deps struct {
	Log        *logger.Logger
	Aggregates repos.AggregateRepo
	Daily      repos.DailyRepo
	Inactivity repos.InactivityRepo
	State      repos.StateRepo
	Enc        *identcrypt.Service
}

// Service answers read-side questions over the rollup tables. Identifiers are
// decrypted on the way out; a row that fails to decrypt fails the whole query
// with identcrypt.ErrDecryption.
type Service struct {
	deps Deps
	log  *logger.Logger
}

func New(deps Deps) *Service {
	return &Service{deps: deps, log: deps.Log.With("service", "AdoptionQueries")}
}

// UsersWithStreak returns users whose all-time current streak is at least
// minStreak in every app.
func (s *Service) UsersWithStreak(ctx context.Context, apps []types.AppType, minStreak int) ([]string, error) {
	if len(apps) == 0 {
		return nil, ErrNoApps
	}
	match := func(a types.TimeframeAggregate) bool { return a.CurrentDailyStreak >= minStreak }
	enc, err := s.intersect(ctx, apps, func(app types.AppType) ([]types.TimeframeAggregate, error) {
		return s.deps.Aggregates.ListApp(ctx, types.TimeframeAllTime, types.AppAllTimePartition(app))
	}, match)
	if err != nil {
		return nil, err
	}
	return s.decryptAll(enc)
}

type CompletedActivityRequest struct {
	Apps      []types.AppType
	Timeframe types.Timeframe
	StartDate string
	// Nil thresholds are not checked. At least one must be set.
	DayCount         *int
	InteractionCount *int
}

type CompletedActivity struct {
	Users           []string              `json:"users"`
	StartDateStatus types.StartDateStatus `json:"startDateStatus"`
}

// UsersWhoCompletedActivity returns users meeting the thresholds in every app
// for the requested window. A window other than the current one reports
// Expired or Future with no users.
func (s *Service) UsersWhoCompletedActivity(ctx context.Context, req CompletedActivityRequest) (CompletedActivity, error) {
	out := CompletedActivity{Users: []string{}, StartDateStatus: types.StartDateActive}
	if len(req.Apps) == 0 {
		return out, ErrNoApps
	}
	if req.DayCount == nil && req.InteractionCount == nil {
		return out, ErrNoThreshold
	}
	tf := req.Timeframe
	switch tf {
	case types.TimeframeWeekly, types.TimeframeMonthly:
		if strings.TrimSpace(req.StartDate) == "" {
			return out, ErrStartRequired
		}
		if _, err := types.ParseDate(req.StartDate); err != nil {
			return out, fmt.Errorf("%w: startDate", ErrInvalidDate)
		}
		rec, ok, err := s.deps.State.GetReportRefresh(ctx, tf)
		if err != nil {
			return out, fmt.Errorf("read refresh record: %w", err)
		}
		if !ok || rec.StartDate == "" {
			return out, ErrNoData
		}
		out.StartDateStatus = types.CompareWindow(req.StartDate, rec.StartDate)
		if out.StartDateStatus != types.StartDateActive {
			return out, nil
		}
	case types.TimeframeAllTime:
	default:
		return out, ErrTimeframe
	}

	match := func(a types.TimeframeAggregate) bool {
		if req.DayCount != nil && a.TotalDailyActivityCount < *req.DayCount {
			return false
		}
		if req.InteractionCount != nil && a.TotalInteractionCount < *req.InteractionCount {
			return false
		}
		return true
	}
	enc, err := s.intersect(ctx, req.Apps, func(app types.AppType) ([]types.TimeframeAggregate, error) {
		return s.deps.Aggregates.ListApp(ctx, tf, types.AppPartition(tf, req.StartDate, app))
	}, match)
	if err != nil {
		return out, err
	}
	users, err := s.decryptAll(enc)
	if err != nil {
		return out, err
	}
	out.Users = users
	return out, nil
}

func (s *Service) intersect(
	ctx context.Context,
	apps []types.AppType,
	list func(types.AppType) ([]types.TimeframeAggregate, error),
	match func(types.TimeframeAggregate) bool,
) ([]string, error) {
	var acc map[string]struct{}
	for _, app := range apps {
		rows, err := list(app)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", app, err)
		}
		cur := make(map[string]struct{}, len(rows))
		for _, r := range rows {
			if !match(r) {
				continue
			}
			if acc == nil {
				cur[r.EncryptedUPN] = struct{}{}
			} else if _, ok := acc[r.EncryptedUPN]; ok {
				cur[r.EncryptedUPN] = struct{}{}
			}
		}
		acc = cur
		if len(acc) == 0 {
			return nil, nil
		}
	}
	out := make([]string, 0, len(acc))
	for k := range acc {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

type InactiveUser struct {
	UPN                   string  `json:"upn"`
	LastActivityDate      string  `json:"lastActivityDate"`
	DaysSinceLastActivity float64 `json:"daysSinceLastActivity"`
}

// InactiveUsers reads the ledger. Only the latest entry per user counts, so a
// user who was inactive once and came back is judged on the newer gap.
func (s *Service) InactiveUsers(ctx context.Context, days int) ([]InactiveUser, error) {
	latest := map[string]types.InactivityRecord{}
	pager := s.deps.Inactivity.All(ctx, 1000)
	for pager.More() {
		rows, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		for _, e := range rows {
			rec := types.InactivityRecordFromEntity(e)
			if cur, ok := latest[rec.EncryptedUPN]; !ok || rec.LastActivityDate > cur.LastActivityDate {
				latest[rec.EncryptedUPN] = rec
			}
		}
	}
	out := []InactiveUser{}
	for encUPN, rec := range latest {
		if rec.DaysSinceLastActivity < float64(days) {
			continue
		}
		upn, err := s.decrypt(encUPN)
		if err != nil {
			return nil, err
		}
		out = append(out, InactiveUser{UPN: upn, LastActivityDate: rec.LastActivityDate, DaysSinceLastActivity: rec.DaysSinceLastActivity})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DaysSinceLastActivity != out[j].DaysSinceLastActivity {
			return out[i].DaysSinceLastActivity > out[j].DaysSinceLastActivity
		}
		return out[i].UPN < out[j].UPN
	})
	return out, nil
}

type DailyUsage struct {
	Date  string          `json:"date"`
	Users []UserDailyApps `json:"users"`
}

type UserDailyApps struct {
	UPN  string         `json:"upn"`
	Apps map[string]int `json:"apps"`
}

// TodaysUsage returns per-user interaction counts from the daily side tables
// for date, or for the latest report date when date is empty. The latest date
// is the one the engine last published on the daily refresh record.
func (s *Service) TodaysUsage(ctx context.Context, date string) (DailyUsage, error) {
	if date == "" {
		rec, ok, err := s.deps.State.GetReportRefresh(ctx, types.TimeframeDaily)
		if err != nil {
			return DailyUsage{}, fmt.Errorf("read refresh record: %w", err)
		}
		if !ok || rec.ReportRefreshDate == "" {
			return DailyUsage{}, ErrNoData
		}
		date = rec.ReportRefreshDate
	} else if _, err := types.ParseDate(date); err != nil {
		return DailyUsage{}, fmt.Errorf("%w: date", ErrInvalidDate)
	}

	byUser := map[string]map[string]int{}
	pager := s.deps.Daily.AppDay(ctx, date, 1000)
	for pager.More() {
		rows, err := pager.NextPage(ctx)
		if err != nil {
			return DailyUsage{}, fmt.Errorf("scan daily table: %w", err)
		}
		collectDaily(byUser, rows)
	}

	out := DailyUsage{Date: date, Users: []UserDailyApps{}}
	for encUPN, apps := range byUser {
		upn, err := s.decrypt(encUPN)
		if err != nil {
			return DailyUsage{}, err
		}
		out.Users = append(out.Users, UserDailyApps{UPN: upn, Apps: apps})
	}
	sort.Slice(out.Users, func(i, j int) bool { return out.Users[i].UPN < out.Users[j].UPN })
	return out, nil
}

func collectDaily(byUser map[string]map[string]int, rows []kvstore.Entity) {
	for _, e := range rows {
		_, encUPN, ok := types.SplitDatedPartition(e.PartitionKey)
		if !ok {
			continue
		}
		n := e.Int(types.PropTotalInteractionCount)
		if n <= 0 {
			continue
		}
		apps := byUser[encUPN]
		if apps == nil {
			apps = map[string]int{}
			byUser[encUPN] = apps
		}
		apps[e.RowKey] += n
	}
}

func (s *Service) decryptAll(encUPNs []string) ([]string, error) {
	out := make([]string, 0, len(encUPNs))
	for _, e := range encUPNs {
		upn, err := s.decrypt(e)
		if err != nil {
			return nil, err
		}
		out = append(out, upn)
	}
	sort.Strings(out)
	return out, nil
}

// decrypt wraps identcrypt.ErrDecryption so callers can still match it.
func (s *Service) decrypt(encUPN string) (string, error) {
	upn, err := s.deps.Enc.Decrypt(encUPN)
	if err != nil {
		s.log.Error("Stored identifier does not decrypt with the active key", "encrypted_upn", encUPN, "error", err)
		return "", fmt.Errorf("decrypt stored identifier: %w", err)
	}
	return upn, nil
}
