package aggregation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/copilot-adoption-backend/internal/data/repos"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/observability"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/identcrypt"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

var (
	ErrIngestionPaused   = errors.New("aggregation: ingestion paused")
	ErrSnapshotNotStaged = errors.New("aggregation: no staged snapshot for user")
)

const DefaultReminderDays = 14

// Dispatcher fans per-user work out to queue consumers.
type Dispatcher interface {
	QueueUserAggregations(ctx context.Context, encUPNs []string, reportRefreshDate string) error
}

type Deps struct {
	Log *logger.Logger

	Aggregates repos.AggregateRepo
	Daily      repos.DailyRepo
	Inactivity repos.InactivityRepo
	State      repos.StateRepo
	Snapshots  repos.SnapshotRepo

	// Optional; required only by QueueDailySnapshots.
	Dispatcher Dispatcher
	Metrics    *observability.Metrics

	Calendar     types.Calendar
	ReminderDays int
}

type Engine struct {
	deps Deps
	log  *logger.Logger
}

func New(deps Deps) *Engine {
	if deps.ReminderDays <= 0 {
		deps.ReminderDays = DefaultReminderDays
	}
	if deps.Calendar == (types.Calendar{}) {
		deps.Calendar = types.DefaultCalendar()
	}
	return &Engine{deps: deps, log: deps.Log.With("service", "AggregationEngine")}
}

// userStats counts aggregate rows touched for one user.
type userStats struct {
	applied    int64
	duplicates int64
}

func (e *Engine) checkPaused(ctx context.Context) error {
	paused, err := e.deps.State.IsPaused(ctx)
	if err != nil {
		return fmt.Errorf("read pause flag: %w", err)
	}
	if paused {
		return ErrIngestionPaused
	}
	return nil
}

// ApplyDailySnapshots folds every snapshot into the aggregates in-process and
// returns how many were applied. A failure for one user is logged and the run
// continues; cancellation or a decryption failure stops it.
func (e *Engine) ApplyDailySnapshots(ctx context.Context, snapshots []types.UsageSnapshot, enc *identcrypt.Service) (int, error) {
	ctx, span := observability.Tracer("aggregation").Start(ctx, "aggregation.ApplyDailySnapshots")
	defer span.End()
	span.SetAttributes(attribute.Int("snapshots", len(snapshots)))

	if err := e.checkPaused(ctx); err != nil {
		return 0, err
	}
	processed, failed := 0, 0
	latest := ""
	for i, snap := range snapshots {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		upn := strings.TrimSpace(snap.UserPrincipalName)
		if upn == "" {
			e.log.Warn("Skipping snapshot without principal name", "index", i)
			continue
		}
		encUPN := enc.Encrypt(upn)
		start := time.Now()
		st, err := e.applyUser(ctx, encUPN, snap)
		if err == nil {
			err = e.recordInactivity(ctx, encUPN, snap)
		}
		if err != nil {
			if errors.Is(err, identcrypt.ErrDecryption) || ctx.Err() != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "aggregation aborted")
				return processed, err
			}
			failed++
			e.deps.Metrics.ObserveAggregation("failed", time.Since(start))
			e.log.Error("Failed to apply snapshot", "encrypted_upn", encUPN, "report_date", snap.ReportRefreshDate, "error", err)
			continue
		}
		e.deps.Metrics.ObserveAggregation(resultLabel(st), time.Since(start))
		processed++
		if snap.ReportRefreshDate > latest {
			latest = snap.ReportRefreshDate
		}
	}
	if latest != "" {
		if err := e.trackRefresh(ctx, latest); err != nil {
			return processed, err
		}
	}
	span.SetAttributes(attribute.Int("processed", processed), attribute.Int("failed", failed))
	e.log.Info("Applied daily snapshots", "processed", processed, "failed", failed, "report_date", latest)
	return processed, nil
}

// QueueDailySnapshots stages each snapshot and hands the users to the
// dispatcher, which fans them out to ApplySingleUser. It returns the number
// of users queued.
func (e *Engine) QueueDailySnapshots(ctx context.Context, snapshots []types.UsageSnapshot, enc *identcrypt.Service) (int, error) {
	ctx, span := observability.Tracer("aggregation").Start(ctx, "aggregation.QueueDailySnapshots")
	defer span.End()

	if e.deps.Dispatcher == nil {
		return 0, errors.New("aggregation: no dispatcher configured")
	}
	if err := e.checkPaused(ctx); err != nil {
		return 0, err
	}
	byDate := map[string][]string{}
	var dates []string
	for i, snap := range snapshots {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		upn := strings.TrimSpace(snap.UserPrincipalName)
		if upn == "" {
			e.log.Warn("Skipping snapshot without principal name", "index", i)
			continue
		}
		if _, err := types.ParseDate(snap.ReportRefreshDate); err != nil {
			e.log.Warn("Skipping snapshot with bad report date", "index", i, "error", err)
			continue
		}
		encUPN := enc.Encrypt(upn)
		if err := e.deps.Snapshots.Stage(ctx, encUPN, snap); err != nil {
			return 0, fmt.Errorf("stage snapshot %d: %w", i, err)
		}
		if err := e.recordInactivity(ctx, encUPN, snap); err != nil {
			e.log.Warn("Failed to record inactivity", "encrypted_upn", encUPN, "error", err)
		}
		if _, ok := byDate[snap.ReportRefreshDate]; !ok {
			dates = append(dates, snap.ReportRefreshDate)
		}
		byDate[snap.ReportRefreshDate] = append(byDate[snap.ReportRefreshDate], encUPN)
	}

	queued := 0
	latest := ""
	for _, date := range dates {
		ids := byDate[date]
		if err := e.deps.Dispatcher.QueueUserAggregations(ctx, ids, date); err != nil {
			return queued, err
		}
		queued += len(ids)
		if date > latest {
			latest = date
		}
	}
	if latest != "" {
		if err := e.trackRefresh(ctx, latest); err != nil {
			return queued, err
		}
	}
	span.SetAttributes(attribute.Int("queued", queued))
	e.log.Info("Queued user aggregations", "queued", queued, "report_date", latest)
	return queued, nil
}

// ApplySingleUser applies one staged snapshot. Queue consumers call it.
func (e *Engine) ApplySingleUser(ctx context.Context, encUPN, reportRefreshDate string) error {
	ctx, span := observability.Tracer("aggregation").Start(ctx, "aggregation.ApplySingleUser")
	defer span.End()

	if err := e.checkPaused(ctx); err != nil {
		return err
	}
	snap, ok, err := e.deps.Snapshots.Get(ctx, reportRefreshDate, encUPN)
	if err != nil {
		return fmt.Errorf("load staged snapshot: %w", err)
	}
	if !ok {
		return ErrSnapshotNotStaged
	}
	start := time.Now()
	st, err := e.applyUser(ctx, encUPN, *snap)
	if err != nil {
		e.deps.Metrics.ObserveAggregation("failed", time.Since(start))
		span.RecordError(err)
		return err
	}
	e.deps.Metrics.ObserveAggregation(resultLabel(st), time.Since(start))
	return nil
}

func resultLabel(st *userStats) string {
	if st.applied == 0 && st.duplicates > 0 {
		return "skipped"
	}
	return "applied"
}

// applyUser folds one user's day into every timeframe. The timeframes touch
// disjoint rows, so they run concurrently.
func (e *Engine) applyUser(ctx context.Context, encUPN string, snap types.UsageSnapshot) (*userStats, error) {
	date := snap.ReportRefreshDate
	day, err := types.ParseDate(date)
	if err != nil {
		return nil, err
	}
	counts, err := e.deps.Daily.AppCounts(ctx, date, encUPN)
	if err != nil {
		return nil, fmt.Errorf("read daily counts: %w", err)
	}
	agents, err := e.deps.Daily.AgentCounts(ctx, date, encUPN)
	if err != nil {
		return nil, fmt.Errorf("read daily agent counts: %w", err)
	}
	used := dailyUsage(snap, counts)

	st := &userStats{}
	g, gctx := errgroup.WithContext(ctx)
	for _, tf := range types.RollupTimeframes {
		tf := tf
		window := e.deps.Calendar.WindowStart(tf, day)
		g.Go(func() error {
			for _, app := range types.AllApps() {
				if err := e.applyApp(gctx, st, tf, window, app, encUPN, used[app], counts[app], date); err != nil {
					return fmt.Errorf("%s %s: %w", tf, app, err)
				}
			}
			for _, a := range agents {
				if a.Key == "" || a.InteractionCount <= 0 {
					continue
				}
				if err := e.applyAgent(gctx, st, tf, window, a, encUPN, date); err != nil {
					return fmt.Errorf("%s agent: %w", tf, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return st, err
	}
	return st, nil
}

func (e *Engine) applyApp(ctx context.Context, st *userStats, tf types.Timeframe, window string, app types.AppType, encUPN string, used bool, interactions int, date string) error {
	pk := types.AppPartition(tf, window, app)
	var res dayResult
	_, err := e.deps.Aggregates.ApplyApp(ctx, tf, pk, encUPN, func(agg *types.TimeframeAggregate, exists bool) bool {
		res = applyDay(agg, exists, used, interactions, date)
		return res == dayApplied
	})
	if err != nil {
		return err
	}
	st.count(res)
	return nil
}

func (e *Engine) applyAgent(ctx context.Context, st *userStats, tf types.Timeframe, window string, a types.DailyCount, encUPN, date string) error {
	pk := types.AgentUserPartition(tf, window, a.Key)
	var res dayResult
	_, err := e.deps.Aggregates.ApplyAgent(ctx, tf, pk, encUPN, func(agg *types.AgentAggregate, exists bool) bool {
		res = applyAgentDay(agg, exists, a.Name, a.InteractionCount, date)
		return res == dayApplied
	})
	if err != nil {
		return err
	}
	st.count(res)
	return nil
}

func (s *userStats) count(res dayResult) {
	switch res {
	case dayApplied:
		atomic.AddInt64(&s.applied, 1)
	case dayDuplicate:
		atomic.AddInt64(&s.duplicates, 1)
	}
}

// trackRefresh publishes date as the current report day and records the
// window each timeframe is currently in.
func (e *Engine) trackRefresh(ctx context.Context, date string) error {
	day, err := types.ParseDate(date)
	if err != nil {
		return err
	}
	for _, tf := range []types.Timeframe{types.TimeframeDaily, types.TimeframeWeekly, types.TimeframeMonthly} {
		if err := e.deps.State.UpdateReportRefreshDate(ctx, tf, date, e.deps.Calendar.WindowStart(tf, day)); err != nil {
			return fmt.Errorf("update report refresh date (%s): %w", tf, err)
		}
	}
	return nil
}
