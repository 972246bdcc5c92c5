package database

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/report"
)

// ReportRepository persists cycle reports. The structured parts of the
// report (per-source statuses, severity tallies, action items) go into
// JSONB columns; reports are never updated after insert.
type ReportRepository struct {
	db *pgxpool.Pool
}

func NewReportRepository(db *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{db: db}
}

// SaveReport appends a finalized cycle report.
func (r *ReportRepository) SaveReport(ctx context.Context, rep *report.MonitoringReport) error {
	sourcesJSON, err := json.Marshal(rep.Sources)
	if err != nil {
		return errors.NewInternalError("failed to marshal source statuses").WithCause(err)
	}
	severityJSON, err := json.Marshal(rep.ChangesBySeverity)
	if err != nil {
		return errors.NewInternalError("failed to marshal severity tallies").WithCause(err)
	}
	actionsJSON, err := json.Marshal(rep.TopActions)
	if err != nil {
		return errors.NewInternalError("failed to marshal action items").WithCause(err)
	}
	systemsJSON, err := json.Marshal(rep.Systems)
	if err != nil {
		return errors.NewInternalError("failed to marshal system statuses").WithCause(err)
	}

	query := `
		INSERT INTO monitoring_reports (
			report_id, job_name, started_at, completed_at, cycle_status,
			sources, changes_by_severity, systems, systems_affected,
			overall_score, score_delta,
			notifications_sent, notifications_delivered, notifications_failed,
			top_actions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = r.db.Exec(ctx, query,
		rep.ReportID, rep.JobName, rep.StartedAt, rep.CompletedAt,
		string(rep.Status), sourcesJSON, severityJSON, systemsJSON, rep.SystemsAffected,
		rep.OverallScore, rep.ScoreDelta,
		rep.NotificationsSent, rep.NotificationsDelivered, rep.NotificationsFailed,
		actionsJSON)
	if err != nil {
		return errors.NewInternalError("failed to store report").WithCause(err)
	}
	return nil
}

// LatestReport returns the most recently completed cycle report.
func (r *ReportRepository) LatestReport(ctx context.Context) (*report.MonitoringReport, error) {
	query := selectReports + ` ORDER BY completed_at DESC LIMIT 1`
	rep, err := r.scanReport(r.db.QueryRow(ctx, query))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrReportNotFound
		}
		return nil, err
	}
	return rep, nil
}

// ListReports returns cycle history, newest first.
func (r *ReportRepository) ListReports(ctx context.Context, limit int) ([]*report.MonitoringReport, error) {
	if limit <= 0 {
		limit = 20
	}
	query := selectReports + ` ORDER BY completed_at DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.NewInternalError("failed to list reports").WithCause(err)
	}
	defer rows.Close()

	var reports []*report.MonitoringReport
	for rows.Next() {
		rep, err := r.scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate report rows").WithCause(err)
	}
	return reports, nil
}

const selectReports = `
	SELECT report_id, job_name, started_at, completed_at, cycle_status,
		sources, changes_by_severity, systems, systems_affected,
		overall_score, score_delta,
		notifications_sent, notifications_delivered, notifications_failed,
		top_actions
	FROM monitoring_reports`

func (r *ReportRepository) scanReport(row pgx.Row) (*report.MonitoringReport, error) {
	var rep report.MonitoringReport
	var status string
	var sourcesJSON, severityJSON, systemsJSON, actionsJSON []byte

	err := row.Scan(&rep.ReportID, &rep.JobName, &rep.StartedAt, &rep.CompletedAt,
		&status, &sourcesJSON, &severityJSON, &systemsJSON, &rep.SystemsAffected,
		&rep.OverallScore, &rep.ScoreDelta,
		&rep.NotificationsSent, &rep.NotificationsDelivered, &rep.NotificationsFailed,
		&actionsJSON)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, errors.NewInternalError("failed to scan report row").WithCause(err)
	}

	rep.Status = report.CycleStatus(status)
	if err := json.Unmarshal(sourcesJSON, &rep.Sources); err != nil {
		return nil, errors.NewInternalError("failed to unmarshal source statuses").WithCause(err)
	}
	if err := json.Unmarshal(severityJSON, &rep.ChangesBySeverity); err != nil {
		return nil, errors.NewInternalError("failed to unmarshal severity tallies").WithCause(err)
	}
	if err := json.Unmarshal(systemsJSON, &rep.Systems); err != nil {
		return nil, errors.NewInternalError("failed to unmarshal system statuses").WithCause(err)
	}
	if err := json.Unmarshal(actionsJSON, &rep.TopActions); err != nil {
		return nil, errors.NewInternalError("failed to unmarshal action items").WithCause(err)
	}
	return &rep, nil
}
