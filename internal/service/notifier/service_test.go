package notifier_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/notification"
	"github.com/regsentry/regulatory-monitor-backend/internal/service/notifier"
)

type fakeTransport struct {
	err       error
	delivered []*notification.Notification
}

func (f *fakeTransport) Deliver(_ context.Context, n *notification.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, n)
	return nil
}

type memDigestQueue struct {
	entries map[string][]notifier.DigestEntry
}

func newMemDigestQueue() *memDigestQueue {
	return &memDigestQueue{entries: make(map[string][]notifier.DigestEntry)}
}

func (q *memDigestQueue) Enqueue(_ context.Context, recipient string, channel notification.Channel, entry notifier.DigestEntry) error {
	key := recipient + "|" + string(channel)
	q.entries[key] = append(q.entries[key], entry)
	return nil
}

func (q *memDigestQueue) Drain(_ context.Context, recipient string, channel notification.Channel) ([]notifier.DigestEntry, error) {
	key := recipient + "|" + string(channel)
	entries := q.entries[key]
	delete(q.entries, key)
	return entries, nil
}

func allChannels() []notification.Channel {
	return []notification.Channel{
		notification.ChannelEmail,
		notification.ChannelDashboard,
		notification.ChannelSMS,
		notification.ChannelWebhook,
	}
}

func allOnPreference(recipient string) notification.Preference {
	return notification.Preference{
		Recipient:      recipient,
		NotifyCritical: true,
		NotifyHigh:     true,
		NotifyMedium:   true,
		NotifyLow:      true,
		Channels:       allChannels(),
	}
}

func change(severity monitoring.Severity) *monitoring.Change {
	return monitoring.NewChange("gdpr", "R1", monitoring.ChangeTypeModified, severity,
		"old text", "new text", time.Date(2026, 3, 15, 6, 0, 0, 0, time.UTC))
}

func newService(transports map[notification.Channel]notifier.Transport, digests notifier.DigestQueue) *notifier.Service {
	return notifier.NewService(nil, transports, digests, time.Second, zap.NewNop())
}

func TestCreateNotifications_RoutingAndPreferences(t *testing.T) {
	svc := newService(nil, nil)

	tests := []struct {
		name     string
		severity monitoring.Severity
		pref     notification.Preference
		want     int
	}{
		{
			name:     "critical routes to all four channels",
			severity: monitoring.SeverityCritical,
			pref:     allOnPreference("ops"),
			want:     4,
		},
		{
			name:     "low routes to dashboard only",
			severity: monitoring.SeverityLow,
			pref:     allOnPreference("ops"),
			want:     1,
		},
		{
			name:     "severity disabled yields nothing",
			severity: monitoring.SeverityHigh,
			pref: notification.Preference{
				Recipient: "ops",
				Channels:  allChannels(),
			},
			want: 0,
		},
		{
			name:     "critical with email-only channel preference",
			severity: monitoring.SeverityCritical,
			pref: notification.Preference{
				Recipient:      "ops",
				NotifyCritical: true,
				Channels:       []notification.Channel{notification.ChannelEmail},
			},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rcpts := []notification.Recipient{{ID: "ops", Preference: tt.pref}}
			got := svc.CreateNotifications([]*monitoring.Change{change(tt.severity)}, rcpts)
			assert.Len(t, got, tt.want)
			for _, n := range got {
				assert.Equal(t, notification.StatusPending, n.Status)
				assert.Equal(t, "ops", n.Recipient)
			}
		})
	}
}

func TestCreateNotifications_AllSeveritiesDisabled(t *testing.T) {
	svc := newService(nil, nil)
	rcpts := []notification.Recipient{{
		ID:         "quiet",
		Preference: notification.Preference{Recipient: "quiet", Channels: allChannels()},
	}}
	changes := []*monitoring.Change{
		change(monitoring.SeverityCritical),
		change(monitoring.SeverityHigh),
		change(monitoring.SeverityMedium),
		change(monitoring.SeverityLow),
	}

	assert.Empty(t, svc.CreateNotifications(changes, rcpts))
}

func TestCreateNotifications_Dedup(t *testing.T) {
	svc := newService(nil, nil)
	c := change(monitoring.SeverityLow)
	rcpts := []notification.Recipient{{ID: "ops", Preference: allOnPreference("ops")}}

	// Same change submitted twice in one batch produces one notification.
	got := svc.CreateNotifications([]*monitoring.Change{c, c}, rcpts)
	assert.Len(t, got, 1)
}

func TestCreateNotifications_DigestChannelExcluded(t *testing.T) {
	svc := newService(nil, nil)
	pref := allOnPreference("ops")
	pref.Digest = notification.DigestDaily
	pref.DigestChannels = []notification.Channel{notification.ChannelEmail}
	rcpts := []notification.Recipient{{ID: "ops", Preference: pref}}

	got := svc.CreateNotifications([]*monitoring.Change{change(monitoring.SeverityCritical)}, rcpts)
	require.Len(t, got, 3)
	for _, n := range got {
		assert.NotEqual(t, notification.ChannelEmail, n.Channel)
	}
}

func TestSend_PerItemFailureIsolation(t *testing.T) {
	good := &fakeTransport{}
	bad := &fakeTransport{err: errors.New("smtp connect refused")}
	svc := newService(map[notification.Channel]notifier.Transport{
		notification.ChannelDashboard: good,
		notification.ChannelEmail:     bad,
	}, nil)

	pref := allOnPreference("ops")
	pref.Channels = []notification.Channel{notification.ChannelEmail, notification.ChannelDashboard}
	rcpts := []notification.Recipient{{ID: "ops", Preference: pref}}
	pending := svc.CreateNotifications([]*monitoring.Change{change(monitoring.SeverityHigh)}, rcpts)
	require.Len(t, pending, 2)

	result := svc.Send(context.Background(), pending)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 1, result.Failed)

	byChannel := map[notification.Channel]*notification.Notification{}
	for _, n := range pending {
		byChannel[n.Channel] = n
	}
	assert.Equal(t, notification.StatusDelivered, byChannel[notification.ChannelDashboard].Status)
	require.NotNil(t, byChannel[notification.ChannelDashboard].DeliveredAt)
	assert.Equal(t, notification.StatusFailed, byChannel[notification.ChannelEmail].Status)
	assert.Equal(t, "smtp connect refused", byChannel[notification.ChannelEmail].Error)
}

func TestSend_MissingTransportFails(t *testing.T) {
	svc := newService(map[notification.Channel]notifier.Transport{}, nil)
	rcpts := []notification.Recipient{{ID: "ops", Preference: allOnPreference("ops")}}
	pending := svc.CreateNotifications([]*monitoring.Change{change(monitoring.SeverityLow)}, rcpts)
	require.Len(t, pending, 1)

	result := svc.Send(context.Background(), pending)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, notification.StatusFailed, pending[0].Status)
	assert.Contains(t, pending[0].Error, "no transport configured")
}

func TestSend_SkipsNonPending(t *testing.T) {
	good := &fakeTransport{}
	svc := newService(map[notification.Channel]notifier.Transport{notification.ChannelDashboard: good}, nil)
	rcpts := []notification.Recipient{{ID: "ops", Preference: allOnPreference("ops")}}
	pending := svc.CreateNotifications([]*monitoring.Change{change(monitoring.SeverityLow)}, rcpts)
	require.Len(t, pending, 1)

	first := svc.Send(context.Background(), pending)
	second := svc.Send(context.Background(), pending)
	assert.Equal(t, 1, first.Delivered)
	assert.Equal(t, notifier.DeliveryResult{}, second)
	assert.Len(t, good.delivered, 1)
}

func TestDigestAccumulateAndFlush(t *testing.T) {
	queue := newMemDigestQueue()
	email := &fakeTransport{}
	svc := newService(map[notification.Channel]notifier.Transport{notification.ChannelEmail: email}, queue)

	pref := allOnPreference("ops")
	pref.Digest = notification.DigestDaily
	pref.DigestChannels = []notification.Channel{notification.ChannelEmail}
	rcpt := notification.Recipient{ID: "ops", Preference: pref}

	changes := []*monitoring.Change{
		change(monitoring.SeverityMedium),
		change(monitoring.SeverityCritical),
		change(monitoring.SeverityCritical),
	}
	require.NoError(t, svc.AccumulateDigests(context.Background(), changes, []notification.Recipient{rcpt}))

	n, err := svc.FlushDigest(context.Background(), rcpt, notification.ChannelEmail, "daily")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, notification.StatusDelivered, n.Status)
	assert.Equal(t, monitoring.SeverityCritical, n.Severity)
	assert.Contains(t, n.Subject, "3 updates")
	require.Len(t, email.delivered, 1)

	// Queue was drained: a second flush has nothing to send.
	again, err := svc.FlushDigest(context.Background(), rcpt, notification.ChannelEmail, "daily")
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Len(t, email.delivered, 1)
}

func TestBuildDigest_GroupsBySeverityDescending(t *testing.T) {
	svc := newService(nil, nil)
	at := time.Date(2026, 3, 15, 6, 0, 0, 0, time.UTC)
	entries := []notifier.DigestEntry{
		{Severity: monitoring.SeverityLow, Subject: "low one", CreatedAt: at},
		{Severity: monitoring.SeverityCritical, Subject: "crit one", CreatedAt: at.Add(time.Minute)},
		{Severity: monitoring.SeverityLow, Subject: "low two", CreatedAt: at.Add(2 * time.Minute)},
	}

	d := svc.BuildDigest("ops", notification.ChannelEmail, entries, "daily")
	require.Len(t, d.Sections, 2)
	assert.Equal(t, monitoring.SeverityCritical, d.Sections[0].Severity)
	assert.Equal(t, monitoring.SeverityLow, d.Sections[1].Severity)
	require.Len(t, d.Sections[1].Entries, 2)
	assert.Equal(t, "low one", d.Sections[1].Entries[0].Subject)
	assert.Equal(t, 3, d.Total())
}
