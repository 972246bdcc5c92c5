package notification_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/notification"
)

func newTestNotification() *notification.Notification {
	return notification.New(uuid.New(), monitoring.SeverityHigh, notification.ChannelEmail,
		"ops@example.com", "subject", "body", time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))
}

func TestStatusTransitions(t *testing.T) {
	t.Run("pending to sent to delivered", func(t *testing.T) {
		n := newTestNotification()
		require.Equal(t, notification.StatusPending, n.Status)

		require.NoError(t, n.MarkSent())
		assert.Equal(t, notification.StatusSent, n.Status)

		deliveredAt := time.Date(2026, 3, 15, 9, 1, 0, 0, time.UTC)
		require.NoError(t, n.MarkDelivered(deliveredAt))
		assert.Equal(t, notification.StatusDelivered, n.Status)
		require.NotNil(t, n.DeliveredAt)
		assert.Equal(t, deliveredAt, *n.DeliveredAt)
	})

	t.Run("pending to failed captures reason", func(t *testing.T) {
		n := newTestNotification()
		require.NoError(t, n.MarkFailed("smtp timeout"))
		assert.Equal(t, notification.StatusFailed, n.Status)
		assert.Equal(t, "smtp timeout", n.Error)
	})

	t.Run("no regression from delivered", func(t *testing.T) {
		n := newTestNotification()
		require.NoError(t, n.MarkSent())
		require.NoError(t, n.MarkDelivered(time.Now()))
		assert.Error(t, n.MarkSent())
		assert.Error(t, n.MarkFailed("late failure"))
	})

	t.Run("failed is terminal", func(t *testing.T) {
		n := newTestNotification()
		require.NoError(t, n.MarkFailed("boom"))
		assert.Error(t, n.MarkSent())
		assert.Error(t, n.MarkDelivered(time.Now()))
	})

	t.Run("cannot deliver before send", func(t *testing.T) {
		n := newTestNotification()
		assert.Error(t, n.MarkDelivered(time.Now()))
	})
}

func TestRequeue(t *testing.T) {
	n := newTestNotification()
	require.NoError(t, n.MarkFailed("smtp timeout"))

	retryAt := time.Date(2026, 3, 16, 6, 0, 0, 0, time.UTC)
	again := n.Requeue(retryAt)

	assert.NotEqual(t, n.NotificationID, again.NotificationID)
	assert.Equal(t, n.Key(), again.Key(), "redelivery targets the same change, recipient, and channel")
	assert.Equal(t, n.Subject, again.Subject)
	assert.Equal(t, n.Body, again.Body)
	assert.Equal(t, notification.StatusPending, again.Status)
	assert.Empty(t, again.Error)
	assert.Equal(t, retryAt, again.CreatedAt)

	// The failed original stays terminal.
	assert.Equal(t, notification.StatusFailed, n.Status)
	require.NoError(t, again.MarkSent())
}

func TestDefaultRoutingTable(t *testing.T) {
	rt := notification.DefaultRoutingTable()

	assert.ElementsMatch(t,
		[]notification.Channel{notification.ChannelEmail, notification.ChannelDashboard, notification.ChannelSMS, notification.ChannelWebhook},
		rt.ChannelsFor(monitoring.SeverityCritical))
	assert.ElementsMatch(t,
		[]notification.Channel{notification.ChannelEmail, notification.ChannelDashboard, notification.ChannelWebhook},
		rt.ChannelsFor(monitoring.SeverityHigh))
	assert.ElementsMatch(t,
		[]notification.Channel{notification.ChannelDashboard, notification.ChannelEmail},
		rt.ChannelsFor(monitoring.SeverityMedium))
	assert.ElementsMatch(t,
		[]notification.Channel{notification.ChannelDashboard},
		rt.ChannelsFor(monitoring.SeverityLow))
}

func TestPreference(t *testing.T) {
	pref := notification.Preference{
		Recipient:      "ops@example.com",
		NotifyCritical: true,
		NotifyHigh:     true,
		Channels:       []notification.Channel{notification.ChannelEmail, notification.ChannelDashboard},
		Digest:         notification.DigestDaily,
		DigestChannels: []notification.Channel{notification.ChannelDashboard},
	}

	assert.True(t, pref.WantsSeverity(monitoring.SeverityCritical))
	assert.True(t, pref.WantsSeverity(monitoring.SeverityHigh))
	assert.False(t, pref.WantsSeverity(monitoring.SeverityMedium))
	assert.False(t, pref.WantsSeverity(monitoring.SeverityLow))

	assert.True(t, pref.WantsChannel(notification.ChannelEmail))
	assert.False(t, pref.WantsChannel(notification.ChannelSMS))

	assert.True(t, pref.IsDigestChannel(notification.ChannelDashboard))
	assert.False(t, pref.IsDigestChannel(notification.ChannelEmail))
}

func TestPreference_DigestNoneDisablesDigestChannels(t *testing.T) {
	pref := notification.Preference{
		Digest:         notification.DigestNone,
		DigestChannels: []notification.Channel{notification.ChannelDashboard},
	}
	assert.False(t, pref.IsDigestChannel(notification.ChannelDashboard))
}
