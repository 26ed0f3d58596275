package repos

import (
	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
	"github.com/yungbote/copilot-adoption-backend/internal/data/repos/adoption"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

type AggregateRepo = adoption.AggregateRepo
type DailyRepo = adoption.DailyRepo
type InactivityRepo = adoption.InactivityRepo
type StateRepo = adoption.StateRepo
type IngestionRepo = adoption.IngestionRepo
type SnapshotRepo = adoption.SnapshotRepo
type RotationProgressRepo = adoption.RotationProgressRepo

// Set is every repository over one store.
type Set struct {
	Aggregates AggregateRepo
	Daily      DailyRepo
	Inactivity InactivityRepo
	State      StateRepo
	Ingestion  IngestionRepo
	Snapshots  SnapshotRepo
	Rotation   RotationProgressRepo
}

func New(store kvstore.Store, log *logger.Logger) Set {
	return Set{
		Aggregates: adoption.NewAggregateRepo(store, log),
		Daily:      adoption.NewDailyRepo(store, log),
		Inactivity: adoption.NewInactivityRepo(store, log),
		State:      adoption.NewStateRepo(store, log),
		Ingestion:  adoption.NewIngestionRepo(store, log),
		Snapshots:  adoption.NewSnapshotRepo(store, log),
		Rotation:   adoption.NewRotationProgressRepo(store, log),
	}
}
