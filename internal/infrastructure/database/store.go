package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
)

// Store bundles the repositories into the pipeline's persistence
// collaborator. It satisfies scheduler.Store and carries the read methods
// the REST layer serves.
type Store struct {
	*SnapshotRepository
	*ChangeRepository
	*DriftRepository
	*ReportRepository
	*NotificationRepository

	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		SnapshotRepository:     NewSnapshotRepository(db),
		ChangeRepository:       NewChangeRepository(db),
		DriftRepository:        NewDriftRepository(db),
		ReportRepository:       NewReportRepository(db),
		NotificationRepository: NewNotificationRepository(db),
		db:                     db,
	}
}

// SaveSourceCycle commits one source's detected changes and its new
// snapshot in a single transaction. Either the baseline advances with its
// changes on record, or neither is persisted and the next cycle re-detects.
func (s *Store) SaveSourceCycle(ctx context.Context, sourceID string, set monitoring.SnapshotSet, changes []*monitoring.Change) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := insertChanges(ctx, tx, changes); err != nil {
			return err
		}
		return insertSnapshots(ctx, tx, set)
	})
	if err != nil {
		return errors.NewInternalError("failed to store source cycle for " + sourceID).WithCause(err)
	}
	return nil
}
