package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/aggregation"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

const (
	DefaultAgentRollupSpec      = "30 4 * * *"
	DefaultExclusionRefreshSpec = "*/30 * * * *"
)

// AgentRollup folds one report day into the all-users agent totals.
type AgentRollup interface {
	ProcessAgentUsageAggregations(ctx context.Context, date string) (int, error)
}

type ExclusionRefresher interface {
	Refresh(ctx context.Context) error
}

type Deps struct {
	Log       *logger.Logger
	Agents    AgentRollup
	Exclusion ExclusionRefresher

	AgentRollupSpec      string
	ExclusionRefreshSpec string
	Timeout              time.Duration
	Now                  func() time.Time
}

// Scheduler runs the periodic maintenance jobs in UTC. A job still running
// when its next tick fires is skipped.
type Scheduler struct {
	cron    *cron.Cron
	deps    Deps
	log     *logger.Logger
	timeout time.Duration
	now     func() time.Time
}

func New(deps Deps) (*Scheduler, error) {
	log := deps.Log.With("component", "Scheduler")
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s := &Scheduler{cron: c, deps: deps, log: log, timeout: deps.Timeout, now: deps.Now}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}

	if deps.Agents != nil {
		spec := deps.AgentRollupSpec
		if spec == "" {
			spec = DefaultAgentRollupSpec
		}
		if _, err := c.AddFunc(spec, s.runAgentRollup); err != nil {
			return nil, fmt.Errorf("agent rollup schedule %q: %w", spec, err)
		}
	}
	if deps.Exclusion != nil {
		spec := deps.ExclusionRefreshSpec
		if spec == "" {
			spec = DefaultExclusionRefreshSpec
		}
		if _, err := c.AddFunc(spec, s.runExclusionRefresh); err != nil {
			return nil, fmt.Errorf("exclusion refresh schedule %q: %w", spec, err)
		}
	}
	return s, nil
}

// Start runs the scheduler until ctx is cancelled and waits for running jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	s.log.Info("Scheduler started", "jobs", len(s.cron.Entries()))
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		s.log.Info("Scheduler stopped")
	}()
}

// RollupDate is the report day the nightly agent rollup folds: yesterday, UTC.
func (s *Scheduler) RollupDate() string {
	return types.FormatDate(s.now().UTC().AddDate(0, 0, -1))
}

func (s *Scheduler) runAgentRollup() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	date := s.RollupDate()
	n, err := s.deps.Agents.ProcessAgentUsageAggregations(ctx, date)
	if errors.Is(err, aggregation.ErrIngestionPaused) {
		s.log.Warn("Agent rollup skipped while ingestion is paused", "date", date)
		return
	}
	if err != nil {
		s.log.Error("Agent rollup failed", "date", date, "error", err)
		return
	}
	s.log.Info("Agent rollup finished", "date", date, "agents", n)
}

func (s *Scheduler) runExclusionRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.deps.Exclusion.Refresh(ctx); err != nil {
		s.log.Warn("Exclusion list refresh failed", "error", err)
	}
}

// cronLogger adapts the zap wrapper to cron's logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
