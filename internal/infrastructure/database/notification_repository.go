package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/notification"
)

// NotificationRepository persists delivery attempts, append-only. A
// redelivery is a new row; the latest row per (change, recipient, channel)
// is the attempt of record.
type NotificationRepository struct {
	db *pgxpool.Pool
}

func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// SaveNotifications appends a batch of delivery attempts with their final
// per-cycle status.
func (r *NotificationRepository) SaveNotifications(ctx context.Context, notifications []*notification.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO notifications (
			notification_id, change_id, severity, channel, recipient,
			subject, body, status, error, created_at, delivered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	for _, n := range notifications {
		batch.Queue(query, n.NotificationID, n.ChangeID, string(n.Severity),
			string(n.Channel), n.Recipient, n.Subject, n.Body,
			string(n.Status), n.Error, n.CreatedAt, n.DeliveredAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range notifications {
		if _, err := results.Exec(); err != nil {
			return errors.NewInternalError("failed to store notification").WithCause(err)
		}
	}
	return nil
}

// LoadUnresolvedFailures returns failed delivery attempts eligible for
// redelivery: the failure is the latest attempt for its (change, recipient,
// channel), and the change is still the latest word on its requirement.
func (r *NotificationRepository) LoadUnresolvedFailures(ctx context.Context) ([]*notification.Notification, error) {
	query := `
		SELECT n.notification_id, n.change_id, n.severity, n.channel,
			n.recipient, n.subject, n.body, n.status, n.error,
			n.created_at, n.delivered_at
		FROM notifications n
		JOIN changes c ON c.change_id = n.change_id
		WHERE n.status = 'failed'
		  AND NOT EXISTS (
			SELECT 1 FROM notifications later
			WHERE later.change_id = n.change_id
			  AND later.recipient = n.recipient
			  AND later.channel = n.channel
			  AND later.created_at > n.created_at)
		  AND NOT EXISTS (
			SELECT 1 FROM changes newer
			WHERE newer.source_id = c.source_id
			  AND newer.requirement_id = c.requirement_id
			  AND newer.detected_at > c.detected_at)
		ORDER BY n.created_at`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.NewInternalError("failed to load failed notifications").WithCause(err)
	}
	defer rows.Close()

	var notifications []*notification.Notification
	for rows.Next() {
		var n notification.Notification
		var severity, channel, status string
		if err := rows.Scan(&n.NotificationID, &n.ChangeID, &severity, &channel,
			&n.Recipient, &n.Subject, &n.Body, &status, &n.Error,
			&n.CreatedAt, &n.DeliveredAt); err != nil {
			return nil, errors.NewInternalError("failed to scan notification row").WithCause(err)
		}
		n.Severity = monitoring.Severity(severity)
		n.Channel = notification.Channel(channel)
		n.Status = notification.Status(status)
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate notification rows").WithCause(err)
	}
	return notifications, nil
}
