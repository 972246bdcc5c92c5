package scheduler

import (
	"context"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/drift"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/notification"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/report"
	"github.com/regsentry/regulatory-monitor-backend/internal/service/assessor"
	"github.com/regsentry/regulatory-monitor-backend/internal/service/notifier"
)

// RequirementFetcher retrieves the current requirement texts for a source.
// The pipeline treats it as opaque I/O; parsing happens behind it.
type RequirementFetcher interface {
	FetchRequirements(ctx context.Context, sourceID string) (map[string]string, error)
}

// ComplianceProvider supplies the current compliance scores for a system
// under one regulation.
type ComplianceProvider interface {
	GetComplianceSnapshot(ctx context.Context, systemID, regulationID string) ([]drift.ComplianceSnapshot, error)
}

// Store is the append-only persistence collaborator for cycle artifacts.
// The pgx implementation lives under internal/infrastructure/database.
// SaveSourceCycle commits a source's detected changes and its new snapshot
// atomically: the baseline never advances without its changes on record.
type Store interface {
	SaveSourceCycle(ctx context.Context, sourceID string, set monitoring.SnapshotSet, changes []*monitoring.Change) error
	LoadSnapshots(ctx context.Context, sourceID string) (monitoring.SnapshotSet, error)
	SaveDrifts(ctx context.Context, drifts []*drift.Drift) error
	SaveComplianceSnapshots(ctx context.Context, systemID string, snapshots []drift.ComplianceSnapshot) error
	LoadComplianceSnapshots(ctx context.Context, systemID string) ([]drift.ComplianceSnapshot, error)
	SaveNotifications(ctx context.Context, notifications []*notification.Notification) error
	LoadUnresolvedFailures(ctx context.Context) ([]*notification.Notification, error)
	SaveReport(ctx context.Context, r *report.MonitoringReport) error
}

// Notifier is the notification stage as the orchestrator consumes it.
type Notifier interface {
	CreateNotifications(changes []*monitoring.Change, recipients []notification.Recipient) []*notification.Notification
	AccumulateDigests(ctx context.Context, changes []*monitoring.Change, recipients []notification.Recipient) error
	Send(ctx context.Context, notifications []*notification.Notification) notifier.DeliveryResult
	Broadcast(ctx context.Context, severity monitoring.Severity, recipients []notification.Recipient, subject, body string) notifier.DeliveryResult
}

// Detector is the change-detection stage.
type Detector interface {
	Detect(sourceID string, previous, current monitoring.SnapshotSet) []*monitoring.Change
}

// Assessor is the drift/impact stage.
type Assessor interface {
	Assess(systemID string, previous, current []drift.ComplianceSnapshot, changes []*monitoring.Change) *assessor.Assessment
}
