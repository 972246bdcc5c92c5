package notification

import (
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
)

// RoutingTable maps a severity to the channels it may be delivered on.
// A recipient only receives a channel when the table routes it for the
// severity AND the recipient's preference enables both the severity and the
// channel.
type RoutingTable map[monitoring.Severity][]Channel

// DefaultRoutingTable is the shipped severity-to-channel routing. Deploys
// may override it through configuration.
func DefaultRoutingTable() RoutingTable {
	return RoutingTable{
		monitoring.SeverityCritical: {ChannelEmail, ChannelDashboard, ChannelSMS, ChannelWebhook},
		monitoring.SeverityHigh:     {ChannelEmail, ChannelDashboard, ChannelWebhook},
		monitoring.SeverityMedium:   {ChannelDashboard, ChannelEmail},
		monitoring.SeverityLow:      {ChannelDashboard},
	}
}

// ChannelsFor returns the channels routed for a severity.
func (rt RoutingTable) ChannelsFor(severity monitoring.Severity) []Channel {
	return rt[severity]
}

// DigestFrequency controls batched delivery for digest-configured channels.
type DigestFrequency string

const (
	DigestNone   DigestFrequency = "none"
	DigestDaily  DigestFrequency = "daily"
	DigestWeekly DigestFrequency = "weekly"
)

// Preference is a recipient's notification configuration. Owned by the
// recipient; the pipeline treats it as read-only.
type Preference struct {
	Recipient      string          `json:"recipient"`
	NotifyCritical bool            `json:"notify_critical"`
	NotifyHigh     bool            `json:"notify_high"`
	NotifyMedium   bool            `json:"notify_medium"`
	NotifyLow      bool            `json:"notify_low"`
	Channels       []Channel       `json:"channels"`
	Digest         DigestFrequency `json:"digest_frequency"`
	DigestChannels []Channel       `json:"digest_channels"`
}

// WantsSeverity reports whether the recipient opted in to a severity.
func (p Preference) WantsSeverity(severity monitoring.Severity) bool {
	switch severity {
	case monitoring.SeverityCritical:
		return p.NotifyCritical
	case monitoring.SeverityHigh:
		return p.NotifyHigh
	case monitoring.SeverityMedium:
		return p.NotifyMedium
	case monitoring.SeverityLow:
		return p.NotifyLow
	default:
		return false
	}
}

// WantsChannel reports whether the recipient enabled a channel at all.
func (p Preference) WantsChannel(channel Channel) bool {
	for _, c := range p.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

// IsDigestChannel reports whether the recipient configured a channel for
// digest delivery. A digest channel never receives per-event sends; digest
// and immediate delivery are mutually exclusive per recipient/channel.
func (p Preference) IsDigestChannel(channel Channel) bool {
	if p.Digest == DigestNone || p.Digest == "" {
		return false
	}
	for _, c := range p.DigestChannels {
		if c == channel {
			return true
		}
	}
	return false
}

// Recipient pairs an identity with its preference.
type Recipient struct {
	ID         string     `json:"id"`
	Preference Preference `json:"preference"`
}
