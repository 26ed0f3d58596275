package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/copilot-adoption-backend/internal/data/repos"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/aggregation"
	"github.com/yungbote/copilot-adoption-backend/internal/observability"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/identcrypt"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

// UserFilter decides whether a user's interactions are recorded at all.
type UserFilter interface {
	Allows(ctx context.Context, email string) (bool, error)
}

type Deps struct {
	Log       *logger.Logger
	Daily     repos.DailyRepo
	Ingestion repos.IngestionRepo
	State     repos.StateRepo
	Filter    UserFilter
	Metrics   *observability.Metrics
	Now       func() time.Time
}

// Service folds audit records into the per-day side tables the aggregation
// engine reads interaction counts from.
type Service struct {
	daily     repos.DailyRepo
	ingestion repos.IngestionRepo
	state     repos.StateRepo
	filter    UserFilter
	metrics   *observability.Metrics
	now       func() time.Time
	log       *logger.Logger
}

func New(deps Deps) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		daily:     deps.Daily,
		ingestion: deps.Ingestion,
		state:     deps.State,
		filter:    deps.Filter,
		metrics:   deps.Metrics,
		now:       now,
		log:       deps.Log.With("service", "InteractionIngestion"),
	}
}

type Result struct {
	Records   int `json:"records"`
	Users     int `json:"users"`
	Excluded  int `json:"excluded"`
	Unhandled int `json:"unhandled"`
	Failed    int `json:"failed"`
}

type userDay struct {
	email string
	date  string
}

// IngestRecords records each allowed interaction and adds it to the user's
// daily counters. Failures for one user are logged and do not stop others.
func (s *Service) IngestRecords(ctx context.Context, records []types.AuditRecord, enc *identcrypt.Service) (Result, error) {
	var res Result
	if enc == nil {
		return res, errors.New("ingestion: encryption service required")
	}
	paused, err := s.state.IsPaused(ctx)
	if err != nil {
		return res, fmt.Errorf("read pause flag: %w", err)
	}
	if paused {
		return res, aggregation.ErrIngestionPaused
	}

	groups := map[userDay][]types.AuditRecord{}
	allowed := map[string]bool{}
	for _, rec := range records {
		email := strings.ToLower(strings.TrimSpace(rec.UserID))
		if email == "" {
			continue
		}
		ok, seen := allowed[email]
		if !seen {
			ok = true
			if s.filter != nil {
				if ok, err = s.filter.Allows(ctx, email); err != nil {
					return res, fmt.Errorf("exclusion list: %w", err)
				}
			}
			allowed[email] = ok
		}
		if !ok {
			res.Excluded++
			continue
		}
		k := userDay{email: email, date: s.eventDate(rec)}
		groups[k] = append(groups[k], rec)
	}

	keys := make([]userDay, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].date != keys[j].date {
			return keys[i].date < keys[j].date
		}
		return keys[i].email < keys[j].email
	})

	users := map[string]struct{}{}
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		encUPN := enc.Encrypt(k.email)
		unhandled, err := s.ingestUserDay(ctx, k.date, encUPN, groups[k])
		res.Unhandled += unhandled
		if err != nil {
			res.Failed++
			s.log.Warn("Failed to ingest interactions", "encrypted_upn", encUPN, "date", k.date, "error", err)
			continue
		}
		res.Records += len(groups[k])
		users[k.email] = struct{}{}
	}
	res.Users = len(users)
	s.log.Info("Ingested interactions", "records", res.Records, "users", res.Users,
		"excluded", res.Excluded, "unhandled", res.Unhandled, "failed", res.Failed)
	return res, nil
}

func (s *Service) eventDate(rec types.AuditRecord) string {
	if rec.CreationTime.IsZero() {
		return types.FormatDate(s.now())
	}
	return types.FormatDate(rec.CreationTime)
}

type agentTally struct {
	name  string
	count int
}

func (s *Service) ingestUserDay(ctx context.Context, date, encUPN string, recs []types.AuditRecord) (int, error) {
	counts := map[types.AppType]int{}
	agents := map[string]*agentTally{}
	var agentOrder []string
	unhandled := 0

	for _, rec := range recs {
		d := rec.CopilotEventData
		app, ok := Classify(d)
		if ok {
			counts[app]++
		} else {
			unhandled++
			s.log.Warn("Unhandled app host", "app_host", d.AppHost)
			if err := s.ingestion.CountUnhandledHost(ctx, d.AppHost); err != nil {
				s.metrics.IncIngestionWriteFailure("unhandled_host")
				s.log.Error("Failed to count unhandled host", "app_host", d.AppHost, "error", err)
			}
		}
		if d.UsedWebSearch() {
			counts[types.AppWebPlugin]++
		}
		if id := strings.TrimSpace(d.AgentID); id != "" {
			t, seen := agents[id]
			if !seen {
				t = &agentTally{name: d.AgentName}
				agents[id] = t
				agentOrder = append(agentOrder, id)
			}
			t.count++
		}
		if err := s.ingestion.SaveInteraction(ctx, date, encUPN, app, rec); err != nil {
			s.metrics.IncIngestionWriteFailure("interaction_detail")
			s.log.Error("Failed to store interaction details", "date", date, "error", err)
		}
	}
	counts[types.AppAll] = len(recs)

	for _, app := range types.AllApps() {
		n := counts[app]
		if n == 0 {
			continue
		}
		if err := s.daily.IncrementApp(ctx, date, encUPN, app, n); err != nil {
			return unhandled, fmt.Errorf("increment %s: %w", app, err)
		}
		if app != types.AppAll {
			s.metrics.IncInteraction(app.String())
		}
	}
	for _, id := range agentOrder {
		t := agents[id]
		if err := s.daily.IncrementAgent(ctx, date, encUPN, id, t.name, t.count); err != nil {
			return unhandled, fmt.Errorf("increment agent: %w", err)
		}
	}
	return unhandled, nil
}
