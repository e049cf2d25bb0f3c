package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ArtemKuhestani/Notification/internal/db"
)

// TelegramAdapter delivers TELEGRAM notifications through the Bot API.
// The recipient is a numeric chat id or an @channel username.
type TelegramAdapter struct {
	bot     *bot.Bot
	limiter *rate.Limiter
	logger  *zap.Logger
}

type TelegramConfig struct {
	BotToken string
	// MessagesPerSecond bounds the send rate. The Bot API throttles
	// around 30 msg/s globally.
	MessagesPerSecond int
}

// NewTelegramAdapter creates the Telegram adapter.
func NewTelegramAdapter(cfg TelegramConfig, logger *zap.Logger) (*TelegramAdapter, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 25
	}

	b, err := bot.New(cfg.BotToken, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramAdapter{
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.MessagesPerSecond),
		logger:  logger,
	}, nil
}

func (a *TelegramAdapter) Channel() string {
	return db.ChannelTelegram
}

// Send posts one message to the recipient chat.
func (a *TelegramAdapter) Send(ctx context.Context, n *db.Notification) (string, error) {
	chatID, err := parseChatID(n.Recipient)
	if err != nil {
		return "", Permanent(CodeInvalidRecipient, err)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return "", Transient(CodeTimeout, fmt.Errorf("telegram rate limit wait: %w", err))
	}

	text := n.MessageBody
	if n.Subject != nil && *n.Subject != "" {
		text = *n.Subject + "\n\n" + text
	}

	msg, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return "", Transient(CodeProviderError, fmt.Errorf("telegram send failed: %w", err))
	}

	a.logger.Info("message sent via telegram",
		zap.String("notification_id", n.ID.String()),
		zap.Int("telegram_message_id", msg.ID),
	)

	return strconv.Itoa(msg.ID), nil
}

func parseChatID(recipient string) (any, error) {
	if strings.HasPrefix(recipient, "@") {
		return recipient, nil
	}
	id, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("recipient is not a telegram chat id or @username: %q", recipient)
	}
	return id, nil
}
