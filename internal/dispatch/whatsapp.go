package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/ArtemKuhestani/Notification/internal/audit"
	"github.com/ArtemKuhestani/Notification/internal/db"
)

// WhatsAppAdapter delivers WHATSAPP notifications through the Twilio
// messaging API.
type WhatsAppAdapter struct {
	client *twilio.RestClient
	from   string
	logger *zap.Logger
}

type WhatsAppConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// NewWhatsAppAdapter creates the WhatsApp adapter.
func NewWhatsAppAdapter(cfg WhatsAppConfig, logger *zap.Logger) (*WhatsAppAdapter, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return nil, fmt.Errorf("twilio account sid, auth token and from number are required")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &WhatsAppAdapter{
		client: client,
		from:   cfg.FromNumber,
		logger: logger,
	}, nil
}

func (a *WhatsAppAdapter) Channel() string {
	return db.ChannelWhatsApp
}

// Send delivers one WhatsApp message. Recipients must be E.164 phone
// numbers; Twilio expects the whatsapp: scheme on both sides.
func (a *WhatsAppAdapter) Send(ctx context.Context, n *db.Notification) (string, error) {
	if !strings.HasPrefix(n.Recipient, "+") {
		return "", Permanent(CodeInvalidRecipient, fmt.Errorf("invalid phone number: %s", audit.MaskRecipient(n.Recipient)))
	}

	to := "whatsapp:" + n.Recipient
	from := "whatsapp:" + a.from
	body := n.MessageBody

	params := &twilioApi.CreateMessageParams{
		To:   &to,
		From: &from,
		Body: &body,
	}

	resp, err := a.client.Api.CreateMessage(params)
	if err != nil {
		return "", Transient(CodeProviderError, fmt.Errorf("twilio create message failed: %w", err))
	}
	if resp.Sid == nil {
		return "", Transient(CodeProviderError, fmt.Errorf("twilio response missing message sid"))
	}

	a.logger.Info("message sent via whatsapp",
		zap.String("notification_id", n.ID.String()),
		zap.String("message_sid", *resp.Sid),
	)

	return *resp.Sid, nil
}
