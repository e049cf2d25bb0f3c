package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/ArtemKuhestani/Notification/internal/audit"
	"github.com/ArtemKuhestani/Notification/internal/db"
)

// SNSAdapter delivers SMS notifications through AWS SNS.
type SNSAdapter struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSAdapter creates the SMS adapter.
func NewSNSAdapter(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSAdapter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSAdapter{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

func (a *SNSAdapter) Channel() string {
	return db.ChannelSMS
}

// Send publishes one SMS. Recipients must be E.164 phone numbers.
func (a *SNSAdapter) Send(ctx context.Context, n *db.Notification) (string, error) {
	if !strings.HasPrefix(n.Recipient, "+") {
		return "", Permanent(CodeInvalidRecipient, fmt.Errorf("invalid phone number: %s", audit.MaskRecipient(n.Recipient)))
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(n.Recipient),
		Message:     aws.String(n.MessageBody),
	}

	result, err := a.client.Publish(ctx, input)
	if err != nil {
		return "", Transient(CodeProviderError, fmt.Errorf("sns publish failed: %w", err))
	}

	a.logger.Info("SMS sent via SNS",
		zap.String("notification_id", n.ID.String()),
		zap.String("message_id", *result.MessageId),
	)

	return *result.MessageId, nil
}
