package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/drift"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
)

// CycleStatus summarizes one monitoring cycle's outcome. Partial success is
// a first-class result: some sources processed, some failed.
type CycleStatus string

const (
	CycleStatusCompleted CycleStatus = "completed"
	CycleStatusPartial   CycleStatus = "partial"
	CycleStatusFailed    CycleStatus = "failed"
)

// SourceOutcome records how one source fared within a cycle, so consumers
// can distinguish "no changes" from "could not check".
type SourceOutcome string

const (
	SourceProcessed   SourceOutcome = "processed"
	SourceFetchFailed SourceOutcome = "fetch_failed"
	SourceSkipped     SourceOutcome = "skipped"
)

// SourceStatus is the per-source entry in a cycle report.
type SourceStatus struct {
	SourceID    string        `json:"source_id"`
	Outcome     SourceOutcome `json:"outcome"`
	ChangeCount int           `json:"change_count"`
	Error       string        `json:"error,omitempty"`
}

// SystemStatus is the per-system entry in a cycle report. FirstObservation
// marks a baseline-setting cycle, distinct from a cycle that assessed and
// found no drift.
type SystemStatus struct {
	SystemID         string  `json:"system_id"`
	OverallScore     float64 `json:"overall_score"`
	ScoreDelta       float64 `json:"score_delta"`
	DriftCount       int     `json:"drift_count"`
	FirstObservation bool    `json:"first_observation"`
}

// MonitoringReport is the immutable output of one completed cycle,
// appended to history.
type MonitoringReport struct {
	ReportID               uuid.UUID                   `json:"report_id"`
	JobName                string                      `json:"job_name"`
	StartedAt              time.Time                   `json:"started_at"`
	CompletedAt            time.Time                   `json:"completed_at"`
	Status                 CycleStatus                 `json:"cycle_status"`
	Sources                []SourceStatus              `json:"sources"`
	ChangesBySeverity      map[monitoring.Severity]int `json:"changes_by_severity"`
	Systems                []SystemStatus              `json:"systems"`
	SystemsAffected        []string                    `json:"systems_affected"`
	OverallScore           float64                     `json:"overall_score"`
	ScoreDelta             float64                     `json:"score_delta"`
	NotificationsSent      int                         `json:"notifications_sent"`
	NotificationsFailed    int                         `json:"notifications_failed"`
	NotificationsDelivered int                         `json:"notifications_delivered"`
	TopActions             []drift.ActionPlanItem      `json:"top_action_plan_items"`
}

// New creates an empty report for a starting cycle.
func New(jobName string, startedAt time.Time) *MonitoringReport {
	return &MonitoringReport{
		ReportID:          uuid.New(),
		JobName:           jobName,
		StartedAt:         startedAt,
		ChangesBySeverity: make(map[monitoring.Severity]int),
	}
}

// AddSource appends a per-source status entry.
func (r *MonitoringReport) AddSource(status SourceStatus) {
	r.Sources = append(r.Sources, status)
}

// AddSystem appends a per-system status entry.
func (r *MonitoringReport) AddSystem(status SystemStatus) {
	r.Systems = append(r.Systems, status)
}

// CountChanges tallies the cycle's changes by severity.
func (r *MonitoringReport) CountChanges(changes []*monitoring.Change) {
	for _, c := range changes {
		r.ChangesBySeverity[c.Severity]++
	}
}

// Finalize stamps completion and derives the cycle status from the source
// outcomes. Skipped sources count as not processed: a cycle where nothing
// was processed is failed, a mix of processed and unprocessed is partial.
// allOrNothing makes any unprocessed source fail the whole cycle.
func (r *MonitoringReport) Finalize(completedAt time.Time, allOrNothing bool) {
	r.CompletedAt = completedAt

	processed := 0
	for _, s := range r.Sources {
		if s.Outcome == SourceProcessed {
			processed++
		}
	}
	unprocessed := len(r.Sources) - processed

	switch {
	case len(r.Sources) > 0 && processed == 0:
		r.Status = CycleStatusFailed
	case unprocessed > 0 && allOrNothing:
		r.Status = CycleStatusFailed
	case unprocessed > 0:
		r.Status = CycleStatusPartial
	default:
		r.Status = CycleStatusCompleted
	}
}

// Succeeded reports whether the cycle counts as a job success.
func (r *MonitoringReport) Succeeded() bool {
	return r.Status != CycleStatusFailed
}
