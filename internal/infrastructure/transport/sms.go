package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/notification"
	"github.com/regsentry/regulatory-monitor-backend/internal/infrastructure/config"
)

// smsMessage is the provider API request body.
type smsMessage struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"body"`
}

// SMSTransport sends notifications through an HTTP SMS gateway. Only the
// subject line is sent; change bodies are too long for a text message.
type SMSTransport struct {
	cfg     config.SMSConfig
	numbers map[string]string
	client  *http.Client
	logger  *zap.Logger
}

func NewSMSTransport(cfg config.SMSConfig, numbers map[string]string, logger *zap.Logger) *SMSTransport {
	return &SMSTransport{
		cfg:     cfg,
		numbers: numbers,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

func (t *SMSTransport) Deliver(ctx context.Context, n *notification.Notification) error {
	number, ok := t.numbers[n.Recipient]
	if !ok {
		return errors.NewDeliveryError(string(n.Channel),
			fmt.Sprintf("no phone number for recipient %s", n.Recipient))
	}

	payload, err := json.Marshal(smsMessage{To: number, From: t.cfg.From, Body: n.Subject})
	if err != nil {
		return errors.NewDeliveryError(string(n.Channel), "marshal payload failed").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.ProviderURL, bytes.NewReader(payload))
	if err != nil {
		return errors.NewDeliveryError(string(n.Channel), "build request failed").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.NewDeliveryError(string(n.Channel), "sms provider request failed").WithCause(err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewDeliveryError(string(n.Channel),
			fmt.Sprintf("sms provider returned %d", resp.StatusCode))
	}

	t.logger.Debug("sms delivered", zap.String("recipient", n.Recipient))
	return nil
}
