package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/notification"
	"github.com/regsentry/regulatory-monitor-backend/internal/infrastructure/config"
)

// WebhookTransport posts notifications as signed JSON to each recipient's
// configured endpoint. Payloads are HMAC-SHA256 signed so consumers can
// verify origin.
type WebhookTransport struct {
	cfg       config.WebhookConfig
	endpoints map[string]string
	client    *http.Client
	logger    *zap.Logger
}

func NewWebhookTransport(cfg config.WebhookConfig, endpoints map[string]string, logger *zap.Logger) *WebhookTransport {
	return &WebhookTransport{
		cfg:       cfg,
		endpoints: endpoints,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}
}

func (t *WebhookTransport) Deliver(ctx context.Context, n *notification.Notification) error {
	url, ok := t.endpoints[n.Recipient]
	if !ok {
		return errors.NewDeliveryError(string(n.Channel),
			fmt.Sprintf("no webhook endpoint for recipient %s", n.Recipient))
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return errors.NewDeliveryError(string(n.Channel), "marshal payload failed").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.NewDeliveryError(string(n.Channel), "build request failed").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "regmon-webhook/1.0")
	if t.cfg.SigningSecret != "" {
		req.Header.Set("X-Signature-SHA256", signPayload(payload, t.cfg.SigningSecret))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.NewDeliveryError(string(n.Channel), "webhook post failed").WithCause(err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewDeliveryError(string(n.Channel),
			fmt.Sprintf("webhook endpoint returned %d", resp.StatusCode))
	}

	t.logger.Debug("webhook delivered",
		zap.String("recipient", n.Recipient),
		zap.Int("status", resp.StatusCode))
	return nil
}

func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
