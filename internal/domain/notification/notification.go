package notification

import (
	"time"

	"github.com/google/uuid"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
)

// Channel is a delivery channel for notifications
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelInApp     Channel = "in_app"
	ChannelDashboard Channel = "dashboard"
	ChannelWebhook   Channel = "webhook"
	ChannelSMS       Channel = "sms"
)

// Status tracks a notification's delivery lifecycle. Transitions advance
// monotonically Pending -> {Sent | Failed} -> Delivered; no regression.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// CanTransition reports whether moving to the target status is a legal
// forward step.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusSent || to == StatusFailed
	case StatusSent:
		return to == StatusDelivered
	default:
		return false
	}
}

// Notification is one message to one recipient over one channel.
// Only the status (and its bookkeeping fields) mutate after creation.
type Notification struct {
	NotificationID uuid.UUID           `json:"notification_id"`
	ChangeID       uuid.UUID           `json:"change_id"`
	Severity       monitoring.Severity `json:"severity"`
	Channel        Channel             `json:"channel"`
	Recipient      string              `json:"recipient"`
	Subject        string              `json:"subject"`
	Body           string              `json:"body"`
	Status         Status              `json:"status"`
	Error          string              `json:"error,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	DeliveredAt    *time.Time          `json:"delivered_at,omitempty"`
}

// New creates a pending notification.
func New(changeID uuid.UUID, severity monitoring.Severity, channel Channel, recipient, subject, body string, createdAt time.Time) *Notification {
	return &Notification{
		NotificationID: uuid.New(),
		ChangeID:       changeID,
		Severity:       severity,
		Channel:        channel,
		Recipient:      recipient,
		Subject:        subject,
		Body:           body,
		Status:         StatusPending,
		CreatedAt:      createdAt,
	}
}

// MarkSent advances the notification to Sent.
func (n *Notification) MarkSent() error {
	return n.transition(StatusSent)
}

// MarkDelivered advances the notification to Delivered.
func (n *Notification) MarkDelivered(at time.Time) error {
	if err := n.transition(StatusDelivered); err != nil {
		return err
	}
	n.DeliveredAt = &at
	return nil
}

// MarkFailed terminates the notification with the delivery error captured.
func (n *Notification) MarkFailed(reason string) error {
	if err := n.transition(StatusFailed); err != nil {
		return err
	}
	n.Error = reason
	return nil
}

func (n *Notification) transition(to Status) error {
	if !n.Status.CanTransition(to) {
		return errors.NewConflictError("illegal notification status transition " +
			string(n.Status) + " -> " + string(to))
	}
	n.Status = to
	return nil
}

// Requeue creates a fresh pending notification carrying the same payload,
// for a redelivery attempt in a later cycle. Failed is terminal on the
// original record; the new attempt gets its own identity and lifecycle.
func (n *Notification) Requeue(now time.Time) *Notification {
	return New(n.ChangeID, n.Severity, n.Channel, n.Recipient, n.Subject, n.Body, now)
}

// DedupKey identifies a notification for per-cycle deduplication.
type DedupKey struct {
	ChangeID  uuid.UUID
	Recipient string
	Channel   Channel
}

// Key returns the notification's dedup key.
func (n *Notification) Key() DedupKey {
	return DedupKey{ChangeID: n.ChangeID, Recipient: n.Recipient, Channel: n.Channel}
}
