package notifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/notification"
	"github.com/regsentry/regulatory-monitor-backend/internal/metrics"
)

// DeliveryResult summarizes one Send pass. Failed items keep their error
// captured on the notification; this call never retries them.
type DeliveryResult struct {
	Sent      int
	Delivered int
	Failed    int
}

// DigestSection groups a digest's entries under one severity.
type DigestSection struct {
	Severity monitoring.Severity `json:"severity"`
	Entries  []DigestEntry       `json:"entries"`
}

// Digest is a batched summary for one (recipient, channel) over a period.
type Digest struct {
	Recipient   string               `json:"recipient"`
	Channel     notification.Channel `json:"channel"`
	Period      string               `json:"period"`
	GeneratedAt time.Time            `json:"generated_at"`
	Sections    []DigestSection      `json:"sections"`
}

// Total returns the number of entries across all sections.
func (d *Digest) Total() int {
	n := 0
	for _, sec := range d.Sections {
		n += len(sec.Entries)
	}
	return n
}

// Service turns change records into notifications and drives delivery.
// Routing is severity based; a recipient receives a channel only when the
// routing table includes it for the severity and the recipient's preference
// enables both the severity and the channel. Digest-configured channels
// never receive per-event sends.
type Service struct {
	routing         notification.RoutingTable
	transports      map[notification.Channel]Transport
	digests         DigestQueue
	deliveryTimeout time.Duration
	clock           func() time.Time
	logger          *zap.Logger
	registry        *metrics.Registry
}

// NewService creates a notification manager. A nil routing table falls back
// to the shipped defaults.
func NewService(routing notification.RoutingTable, transports map[notification.Channel]Transport, digests DigestQueue, deliveryTimeout time.Duration, logger *zap.Logger) *Service {
	if routing == nil {
		routing = notification.DefaultRoutingTable()
	}
	if deliveryTimeout <= 0 {
		deliveryTimeout = 30 * time.Second
	}
	return &Service{
		routing:         routing,
		transports:      transports,
		digests:         digests,
		deliveryTimeout: deliveryTimeout,
		clock:           time.Now,
		logger:          logger,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithMetrics attaches the instrument registry.
func (s *Service) WithMetrics(registry *metrics.Registry) *Service {
	s.registry = registry
	return s
}

// CreateNotifications constructs pending notifications for a batch of
// changes, one per (change, eligible recipient, eligible channel),
// deduplicated by (change_id, recipient, channel). Pure construction:
// nothing is sent and nothing is persisted. Channels the recipient
// configured for digest delivery are excluded here; AccumulateDigests
// covers them.
func (s *Service) CreateNotifications(changes []*monitoring.Change, recipients []notification.Recipient) []*notification.Notification {
	seen := make(map[notification.DedupKey]bool)
	var out []*notification.Notification

	for _, change := range changes {
		subject, body := renderChange(change)
		for _, rcpt := range recipients {
			if !rcpt.Preference.WantsSeverity(change.Severity) {
				continue
			}
			for _, channel := range s.routing.ChannelsFor(change.Severity) {
				if !rcpt.Preference.WantsChannel(channel) {
					continue
				}
				if rcpt.Preference.IsDigestChannel(channel) {
					continue
				}
				key := notification.DedupKey{ChangeID: change.ChangeID, Recipient: rcpt.ID, Channel: channel}
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, notification.New(change.ChangeID, change.Severity, channel, rcpt.ID, subject, body, s.clock()))
			}
		}
	}
	return out
}

// AccumulateDigests enqueues digest entries for every (change, recipient,
// digest channel) combination that passes severity and channel gating.
// Entries wait in the queue until the recipient's digest flush.
func (s *Service) AccumulateDigests(ctx context.Context, changes []*monitoring.Change, recipients []notification.Recipient) error {
	if s.digests == nil {
		return nil
	}
	for _, change := range changes {
		subject, body := renderChange(change)
		for _, rcpt := range recipients {
			if !rcpt.Preference.WantsSeverity(change.Severity) {
				continue
			}
			for _, channel := range s.routing.ChannelsFor(change.Severity) {
				if !rcpt.Preference.WantsChannel(channel) || !rcpt.Preference.IsDigestChannel(channel) {
					continue
				}
				entry := DigestEntry{
					ChangeID:  change.ChangeID,
					Severity:  change.Severity,
					Subject:   subject,
					Body:      body,
					CreatedAt: s.clock(),
				}
				if err := s.digests.Enqueue(ctx, rcpt.ID, channel, entry); err != nil {
					return fmt.Errorf("enqueue digest for %s/%s: %w", rcpt.ID, channel, err)
				}
			}
		}
	}
	return nil
}

// Send attempts delivery for each pending notification over its channel's
// transport. Per-item failure does not block the rest: failed items are
// marked Failed with the error captured and are not retried by this call.
// The orchestrator persists failed items and requeues them on a later
// cycle while their change is still unresolved.
func (s *Service) Send(ctx context.Context, notifications []*notification.Notification) DeliveryResult {
	var result DeliveryResult
	for _, n := range notifications {
		if n.Status != notification.StatusPending {
			continue
		}
		if err := s.deliver(ctx, n); err != nil {
			result.Failed++
			s.recordOutcome(ctx, n)
			s.logger.Warn("notification delivery failed",
				zap.String("notification_id", n.NotificationID.String()),
				zap.String("channel", string(n.Channel)),
				zap.String("recipient", n.Recipient),
				zap.Error(err))
			continue
		}
		result.Sent++
		result.Delivered++
		s.recordOutcome(ctx, n)
	}
	return result
}

func (s *Service) recordOutcome(ctx context.Context, n *notification.Notification) {
	if s.registry != nil {
		s.registry.RecordNotification(ctx, string(n.Channel), string(n.Status))
	}
}

func (s *Service) deliver(ctx context.Context, n *notification.Notification) error {
	transport, ok := s.transports[n.Channel]
	if !ok {
		reason := fmt.Sprintf("no transport configured for channel %s", n.Channel)
		_ = n.MarkFailed(reason)
		return fmt.Errorf("%s", reason)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
	defer cancel()

	if err := transport.Deliver(callCtx, n); err != nil {
		_ = n.MarkFailed(err.Error())
		return err
	}
	if err := n.MarkSent(); err != nil {
		return err
	}
	return n.MarkDelivered(s.clock())
}

// BuildDigest groups accumulated entries by severity, most severe section
// first, entries within a section in accumulation order.
func (s *Service) BuildDigest(recipient string, channel notification.Channel, entries []DigestEntry, period string) *Digest {
	bySeverity := make(map[monitoring.Severity][]DigestEntry)
	for _, entry := range entries {
		bySeverity[entry.Severity] = append(bySeverity[entry.Severity], entry)
	}

	severities := make([]monitoring.Severity, 0, len(bySeverity))
	for sev := range bySeverity {
		severities = append(severities, sev)
	}
	sort.Slice(severities, func(i, j int) bool {
		return severities[i].Rank() > severities[j].Rank()
	})

	digest := &Digest{
		Recipient:   recipient,
		Channel:     channel,
		Period:      period,
		GeneratedAt: s.clock(),
	}
	for _, sev := range severities {
		sec := bySeverity[sev]
		sort.SliceStable(sec, func(i, j int) bool { return sec[i].CreatedAt.Before(sec[j].CreatedAt) })
		digest.Sections = append(digest.Sections, DigestSection{Severity: sev, Entries: sec})
	}
	return digest
}

// FlushDigest drains the queue for one (recipient, channel), builds the
// digest, and delivers it as a single notification. Returns nil when the
// queue was empty.
func (s *Service) FlushDigest(ctx context.Context, rcpt notification.Recipient, channel notification.Channel, period string) (*notification.Notification, error) {
	if s.digests == nil {
		return nil, nil
	}
	entries, err := s.digests.Drain(ctx, rcpt.ID, channel)
	if err != nil {
		return nil, fmt.Errorf("drain digest for %s/%s: %w", rcpt.ID, channel, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	digest := s.BuildDigest(rcpt.ID, channel, entries, period)
	n := notification.New(uuid.Nil, topSeverity(digest), channel, rcpt.ID,
		renderDigestSubject(digest), renderDigestBody(digest), s.clock())

	if err := s.deliver(ctx, n); err != nil {
		s.logger.Warn("digest delivery failed",
			zap.String("recipient", rcpt.ID),
			zap.String("channel", string(channel)),
			zap.Int("entries", digest.Total()),
			zap.Error(err))
	}
	s.recordOutcome(ctx, n)
	if s.registry != nil {
		s.registry.RecordDigestFlush(ctx, string(channel), int64(digest.Total()))
	}
	return n, nil
}

// Broadcast creates and immediately delivers a notification for every
// recipient and routed channel of a severity, outside change attribution.
// Used for pipeline self-monitoring alerts such as an exhausted job.
func (s *Service) Broadcast(ctx context.Context, severity monitoring.Severity, recipients []notification.Recipient, subject, body string) DeliveryResult {
	var batch []*notification.Notification
	for _, rcpt := range recipients {
		if !rcpt.Preference.WantsSeverity(severity) {
			continue
		}
		for _, channel := range s.routing.ChannelsFor(severity) {
			if !rcpt.Preference.WantsChannel(channel) || rcpt.Preference.IsDigestChannel(channel) {
				continue
			}
			batch = append(batch, notification.New(uuid.Nil, severity, channel, rcpt.ID, subject, body, s.clock()))
		}
	}
	return s.Send(ctx, batch)
}

func topSeverity(d *Digest) monitoring.Severity {
	if len(d.Sections) == 0 {
		return monitoring.SeverityLow
	}
	return d.Sections[0].Severity
}

func renderChange(c *monitoring.Change) (subject, body string) {
	subject = fmt.Sprintf("[%s] %s: requirement %s %s",
		strings.ToUpper(string(c.Severity)), c.SourceID, c.RequirementID, c.Type)

	var b strings.Builder
	fmt.Fprintf(&b, "Requirement %s in source %s was %s.\n", c.RequirementID, c.SourceID, c.Type)
	if c.OldText != "" {
		fmt.Fprintf(&b, "Previous text: %s\n", c.OldText)
	}
	if c.NewText != "" {
		fmt.Fprintf(&b, "Current text: %s\n", c.NewText)
	}
	fmt.Fprintf(&b, "Estimated remediation: %dh, $%s.", c.EstimatedHours, c.EstimatedCost.StringFixed(2))
	return subject, b.String()
}

func renderDigestSubject(d *Digest) string {
	return fmt.Sprintf("Regulatory change digest (%s): %d updates", d.Period, d.Total())
}

func renderDigestBody(d *Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Digest for %s, period %s.\n", d.Recipient, d.Period)
	for _, sec := range d.Sections {
		fmt.Fprintf(&b, "\n%s (%d):\n", strings.ToUpper(string(sec.Severity)), len(sec.Entries))
		for _, entry := range sec.Entries {
			fmt.Fprintf(&b, "  - %s\n", entry.Subject)
		}
	}
	return b.String()
}
