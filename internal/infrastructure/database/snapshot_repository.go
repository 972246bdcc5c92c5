package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
)

// batchSender is the subset of pgxpool.Pool and pgx.Tx the batch insert
// helpers run against.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// SnapshotRepository reads requirement snapshots. Rows are append-only and
// written through Store.SaveSourceCycle; loads return the latest
// observation per requirement.
type SnapshotRepository struct {
	db *pgxpool.Pool
}

func NewSnapshotRepository(db *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// insertSnapshots appends one row per requirement in the set.
func insertSnapshots(ctx context.Context, q batchSender, set monitoring.SnapshotSet) error {
	if len(set) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO requirement_snapshots (
			source_id, requirement_id, text, fingerprint, observed_at
		) VALUES ($1, $2, $3, $4, $5)`
	for _, snap := range set {
		batch.Queue(query, snap.SourceID, snap.RequirementID, snap.Text,
			snap.Fingerprint.String(), snap.ObservedAt)
	}

	results := q.SendBatch(ctx, batch)
	defer results.Close()
	for range set {
		if _, err := results.Exec(); err != nil {
			return errors.NewInternalError("failed to store requirement snapshot").WithCause(err)
		}
	}
	return nil
}

// LoadSnapshots returns the most recent observation of every requirement
// for a source.
func (r *SnapshotRepository) LoadSnapshots(ctx context.Context, sourceID string) (monitoring.SnapshotSet, error) {
	query := `
		SELECT DISTINCT ON (requirement_id)
			source_id, requirement_id, text, fingerprint, observed_at
		FROM requirement_snapshots
		WHERE source_id = $1
		ORDER BY requirement_id, observed_at DESC`

	rows, err := r.db.Query(ctx, query, sourceID)
	if err != nil {
		return nil, errors.NewInternalError("failed to load snapshots").WithCause(err)
	}
	defer rows.Close()

	set := make(monitoring.SnapshotSet)
	for rows.Next() {
		var snap monitoring.RequirementSnapshot
		var fingerprint string
		if err := rows.Scan(&snap.SourceID, &snap.RequirementID, &snap.Text,
			&fingerprint, &snap.ObservedAt); err != nil {
			return nil, errors.NewInternalError("failed to scan snapshot row").WithCause(err)
		}
		fp, err := monitoring.NewFingerprint(fingerprint)
		if err != nil {
			return nil, errors.NewComparisonError(snap.RequirementID,
				"stored fingerprint is malformed").WithCause(err)
		}
		snap.Fingerprint = fp
		set[snap.RequirementID] = &snap
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate snapshot rows").WithCause(err)
	}
	if len(set) == 0 {
		return nil, errors.ErrSnapshotNotFound
	}
	return set, nil
}
