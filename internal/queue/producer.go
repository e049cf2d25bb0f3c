// Package queue fans accepted notifications out to SQS so downstream
// systems can react without polling the database.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/ArtemKuhestani/Notification/internal/db"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// Message is the payload placed on the queue for each accepted
// notification. The recipient is deliberately omitted.
type Message struct {
	NotificationID string `json:"notificationId"`
	Channel        string `json:"channelType"`
	Priority       string `json:"priority"`
	Status         string `json:"status"`
	EnqueuedAt     int64  `json:"enqueuedAt"`
}

// Producer sends accept events to SQS.
type Producer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates an SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs producer initialized", zap.String("queue_url", cfg.QueueURL))

	return &Producer{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Enqueue publishes an accept event. Returns the queue message ID.
func (p *Producer) Enqueue(ctx context.Context, n *db.Notification) (string, error) {
	body, err := json.Marshal(Message{
		NotificationID: n.ID.String(),
		Channel:        n.Channel,
		Priority:       n.Priority,
		Status:         n.Status,
		EnqueuedAt:     time.Now().UnixNano(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return *result.MessageId, nil
}
