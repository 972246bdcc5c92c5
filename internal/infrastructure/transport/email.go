package transport

import (
	"context"
	"fmt"
	"net/smtp"

	"go.uber.org/zap"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/notification"
	"github.com/regsentry/regulatory-monitor-backend/internal/infrastructure/config"
)

// EmailTransport delivers notifications over SMTP. Recipient IDs resolve to
// addresses through the configured directory.
type EmailTransport struct {
	cfg       config.EmailConfig
	addresses map[string]string
	send      func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	logger    *zap.Logger
}

func NewEmailTransport(cfg config.EmailConfig, addresses map[string]string, logger *zap.Logger) *EmailTransport {
	return &EmailTransport{
		cfg:       cfg,
		addresses: addresses,
		send:      smtp.SendMail,
		logger:    logger,
	}
}

func (t *EmailTransport) Deliver(_ context.Context, n *notification.Notification) error {
	address, ok := t.addresses[n.Recipient]
	if !ok {
		return errors.NewDeliveryError(string(n.Channel),
			fmt.Sprintf("no email address for recipient %s", n.Recipient))
	}

	msg := []byte("From: " + t.cfg.From + "\r\n" +
		"To: " + address + "\r\n" +
		"Subject: " + n.Subject + "\r\n" +
		"\r\n" +
		n.Body + "\r\n")

	var auth smtp.Auth
	if t.cfg.Username != "" {
		auth = smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	if err := t.send(addr, auth, t.cfg.From, []string{address}, msg); err != nil {
		return errors.NewDeliveryError(string(n.Channel), "smtp send failed").WithCause(err)
	}

	t.logger.Debug("email delivered",
		zap.String("recipient", n.Recipient),
		zap.String("notification_id", n.NotificationID.String()))
	return nil
}
