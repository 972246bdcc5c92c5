package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/drift"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
)

// DriftRepository persists drift records and compliance score snapshots,
// both append-only.
type DriftRepository struct {
	db *pgxpool.Pool
}

func NewDriftRepository(db *pgxpool.Pool) *DriftRepository {
	return &DriftRepository{db: db}
}

// SaveDrifts appends a batch of drift records.
func (r *DriftRepository) SaveDrifts(ctx context.Context, drifts []*drift.Drift) error {
	if len(drifts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO drifts (
			drift_id, system_id, regulation_id, requirement_id,
			drift_type, score_delta, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for _, d := range drifts {
		batch.Queue(query, d.DriftID, d.SystemID, d.RegulationID,
			d.RequirementID, string(d.Type), d.ScoreDelta, d.DetectedAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range drifts {
		if _, err := results.Exec(); err != nil {
			return errors.NewInternalError("failed to store drift").WithCause(err)
		}
	}
	return nil
}

// SaveComplianceSnapshots appends the cycle's compliance observations for a
// system.
func (r *DriftRepository) SaveComplianceSnapshots(ctx context.Context, systemID string, snapshots []drift.ComplianceSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO compliance_snapshots (
			system_id, regulation_id, requirement_id, score, recorded_at
		) VALUES ($1, $2, $3, $4, $5)`
	for _, snap := range snapshots {
		batch.Queue(query, snap.SystemID, snap.RegulationID,
			snap.RequirementID, snap.Score, snap.RecordedAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range snapshots {
		if _, err := results.Exec(); err != nil {
			return errors.NewInternalError("failed to store compliance snapshot").WithCause(err)
		}
	}
	return nil
}

// LoadComplianceSnapshots returns the latest score per
// (regulation, requirement) pair for a system.
func (r *DriftRepository) LoadComplianceSnapshots(ctx context.Context, systemID string) ([]drift.ComplianceSnapshot, error) {
	query := `
		SELECT DISTINCT ON (regulation_id, requirement_id)
			system_id, regulation_id, requirement_id, score, recorded_at
		FROM compliance_snapshots
		WHERE system_id = $1
		ORDER BY regulation_id, requirement_id, recorded_at DESC`

	rows, err := r.db.Query(ctx, query, systemID)
	if err != nil {
		return nil, errors.NewInternalError("failed to load compliance snapshots").WithCause(err)
	}
	defer rows.Close()

	var snapshots []drift.ComplianceSnapshot
	for rows.Next() {
		var snap drift.ComplianceSnapshot
		if err := rows.Scan(&snap.SystemID, &snap.RegulationID,
			&snap.RequirementID, &snap.Score, &snap.RecordedAt); err != nil {
			return nil, errors.NewInternalError("failed to scan compliance snapshot row").WithCause(err)
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate compliance snapshot rows").WithCause(err)
	}
	return snapshots, nil
}
