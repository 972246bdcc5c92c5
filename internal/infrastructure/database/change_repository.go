package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
)

// ChangeRepository reads detected changes. Rows are append-only and
// written through Store.SaveSourceCycle together with their snapshot.
type ChangeRepository struct {
	db *pgxpool.Pool
}

func NewChangeRepository(db *pgxpool.Pool) *ChangeRepository {
	return &ChangeRepository{db: db}
}

// insertChanges appends a batch of changes.
func insertChanges(ctx context.Context, q batchSender, changes []*monitoring.Change) error {
	if len(changes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO changes (
			change_id, source_id, requirement_id, change_type, severity,
			old_text, new_text, detected_at, affected_systems,
			estimated_hours, estimated_cost
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	for _, c := range changes {
		batch.Queue(query, c.ChangeID, c.SourceID, c.RequirementID,
			string(c.Type), string(c.Severity), c.OldText, c.NewText,
			c.DetectedAt, c.AffectedSystems, c.EstimatedHours, c.EstimatedCost)
	}

	results := q.SendBatch(ctx, batch)
	defer results.Close()
	for range changes {
		if _, err := results.Exec(); err != nil {
			return errors.NewInternalError("failed to store change").WithCause(err)
		}
	}
	return nil
}

// ListChanges returns changes, optionally filtered by source and detection
// time, newest first.
func (r *ChangeRepository) ListChanges(ctx context.Context, sourceID string, since time.Time, limit int) ([]*monitoring.Change, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT change_id, source_id, requirement_id, change_type, severity,
			old_text, new_text, detected_at, affected_systems,
			estimated_hours, estimated_cost
		FROM changes
		WHERE ($1 = '' OR source_id = $1)
		  AND detected_at >= $2
		ORDER BY detected_at DESC
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, sourceID, since, limit)
	if err != nil {
		return nil, errors.NewInternalError("failed to list changes").WithCause(err)
	}
	defer rows.Close()

	var changes []*monitoring.Change
	for rows.Next() {
		var c monitoring.Change
		var changeType, severity string
		if err := rows.Scan(&c.ChangeID, &c.SourceID, &c.RequirementID,
			&changeType, &severity, &c.OldText, &c.NewText, &c.DetectedAt,
			&c.AffectedSystems, &c.EstimatedHours, &c.EstimatedCost); err != nil {
			return nil, errors.NewInternalError("failed to scan change row").WithCause(err)
		}
		c.Type = monitoring.ChangeType(changeType)
		c.Severity = monitoring.Severity(severity)
		changes = append(changes, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate change rows").WithCause(err)
	}
	return changes, nil
}
