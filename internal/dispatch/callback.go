package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ArtemKuhestani/Notification/internal/metrics"
)

// CallbackEvent is the body POSTed to a notification's callback URL
// when it reaches a terminal state.
type CallbackEvent struct {
	NotificationID    string    `json:"notificationId"`
	Status            string    `json:"status"`
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// CallbackNotifier delivers terminal-state callbacks. Strictly
// best-effort: failures are logged once and never retried, and never
// touch the notification's own state.
type CallbackNotifier struct {
	client *http.Client
	logger *zap.Logger
}

type CallbackConfig struct {
	Timeout time.Duration
}

// NewCallbackNotifier creates a callback notifier.
func NewCallbackNotifier(cfg CallbackConfig, logger *zap.Logger) *CallbackNotifier {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &CallbackNotifier{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Notify POSTs the event to url. Safe to call from any goroutine.
func (c *CallbackNotifier) Notify(url string, event CallbackEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("failed to marshal callback event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.logger.Error("failed to build callback request",
			zap.Error(err),
			zap.String("notification_id", event.NotificationID),
		)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notification-ID", event.NotificationID)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.RecordCallback("error")
		c.logger.Warn("callback delivery failed",
			zap.Error(err),
			zap.String("notification_id", event.NotificationID),
			zap.String("url", url),
		)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordCallback("rejected")
		c.logger.Warn("callback rejected by receiver",
			zap.String("notification_id", event.NotificationID),
			zap.String("url", url),
			zap.Int("status_code", resp.StatusCode),
		)
		return
	}

	metrics.RecordCallback("delivered")
	c.logger.Debug("callback delivered",
		zap.String("notification_id", event.NotificationID),
		zap.String("status", event.Status),
	)
}
