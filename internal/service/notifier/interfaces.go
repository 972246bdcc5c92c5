package notifier

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/notification"
)

// Transport delivers one notification over one channel. Implementations
// live under internal/infrastructure/transport; tests supply fakes.
type Transport interface {
	Deliver(ctx context.Context, n *notification.Notification) error
}

// DigestEntry is one accumulated event awaiting digest delivery for a
// (recipient, channel) pair.
type DigestEntry struct {
	ChangeID  uuid.UUID           `json:"change_id"`
	Severity  monitoring.Severity `json:"severity"`
	Subject   string              `json:"subject"`
	Body      string              `json:"body"`
	CreatedAt time.Time           `json:"created_at"`
}

// DigestQueue accumulates digest entries between flushes. The redis
// implementation lives under internal/infrastructure/cache.
type DigestQueue interface {
	Enqueue(ctx context.Context, recipient string, channel notification.Channel, entry DigestEntry) error
	Drain(ctx context.Context, recipient string, channel notification.Channel) ([]DigestEntry, error)
}
