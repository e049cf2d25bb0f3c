package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/ArtemKuhestani/Notification/internal/audit"
	"github.com/ArtemKuhestani/Notification/internal/db"
)

// SESAdapter delivers EMAIL notifications through AWS SES.
type SESAdapter struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

// NewSESAdapter creates the email adapter.
func NewSESAdapter(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESAdapter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESAdapter{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

func (a *SESAdapter) Channel() string {
	return db.ChannelEmail
}

// Send delivers one email. Malformed recipients are permanent failures;
// SES call failures are transient (SES throttling and 5xx both come
// back as API errors, and retrying a 4xx once more is harmless).
func (a *SESAdapter) Send(ctx context.Context, n *db.Notification) (string, error) {
	if !strings.Contains(n.Recipient, "@") {
		return "", Permanent(CodeInvalidRecipient, fmt.Errorf("invalid email address: %s", audit.MaskRecipient(n.Recipient)))
	}

	subject := ""
	if n.Subject != nil {
		subject = *n.Subject
	}

	input := &ses.SendEmailInput{
		Source: aws.String(a.from),
		Destination: &types.Destination{
			ToAddresses: []string{n.Recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(n.MessageBody),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := a.client.SendEmail(ctx, input)
	if err != nil {
		return "", Transient(CodeProviderError, fmt.Errorf("ses send failed: %w", err))
	}

	a.logger.Info("email sent via SES",
		zap.String("notification_id", n.ID.String()),
		zap.String("message_id", *result.MessageId),
	)

	return *result.MessageId, nil
}
