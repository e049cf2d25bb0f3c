package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification is the unit of work: one requested delivery toward one
// recipient on one channel.
type Notification struct {
	ID                uuid.UUID       `json:"notificationId"`
	Channel           string          `json:"channelType"`
	Recipient         string          `json:"recipient"`
	Subject           *string         `json:"subject,omitempty"`
	MessageBody       string          `json:"messageBody"`
	Status            string          `json:"status"`
	Priority          string          `json:"priority"`
	RetryCount        int             `json:"retryCount"`
	MaxRetries        int             `json:"maxRetries"`
	NextRetryAt       *time.Time      `json:"nextRetryAt,omitempty"`
	ErrorMessage      *string         `json:"errorMessage,omitempty"`
	ErrorCode         *string         `json:"errorCode,omitempty"`
	ProviderMessageID *string         `json:"providerMessageId,omitempty"`
	IdempotencyKey    *string         `json:"idempotencyKey,omitempty"`
	CallbackURL       *string         `json:"callbackUrl,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	LeaseToken        *uuid.UUID      `json:"-"`
	LeaseExpiresAt    *time.Time      `json:"-"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	SentAt            *time.Time      `json:"sentAt,omitempty"`
	ExpiresAt         time.Time       `json:"expiresAt"`
}

// Status constants
const (
	StatusPending   = "PENDING"
	StatusSending   = "SENDING"
	StatusSent      = "SENT"
	StatusDelivered = "DELIVERED"
	StatusFailed    = "FAILED"
	StatusExpired   = "EXPIRED"
)

// Channel constants
const (
	ChannelEmail    = "EMAIL"
	ChannelTelegram = "TELEGRAM"
	ChannelSMS      = "SMS"
	ChannelWhatsApp = "WHATSAPP"
)

// Priority constants
const (
	PriorityHigh   = "HIGH"
	PriorityNormal = "NORMAL"
	PriorityLow    = "LOW"
)

// Channels lists every routable channel.
var Channels = []string{ChannelEmail, ChannelTelegram, ChannelSMS, ChannelWhatsApp}

// ValidChannel reports whether ch is a known channel type.
func ValidChannel(ch string) bool {
	for _, c := range Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p string) bool {
	return p == PriorityHigh || p == PriorityNormal || p == PriorityLow
}

// Terminal reports whether a status admits no further automatic transition.
// SENT is near-terminal: the only way out is a provider delivery receipt.
func Terminal(status string) bool {
	return status == StatusDelivered || status == StatusExpired
}

// AuditLog is one append-only row per administrative action or
// automatic status change. Rows are never updated or deleted.
type AuditLog struct {
	LogID      int64           `json:"logId"`
	AdminID    *int            `json:"adminId,omitempty"`
	AdminEmail *string         `json:"adminEmail,omitempty"`
	ActionType string          `json:"actionType"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	OldValue   json.RawMessage `json:"oldValue,omitempty"`
	NewValue   json.RawMessage `json:"newValue,omitempty"`
	IPAddress  string          `json:"ipAddress"`
	UserAgent  *string         `json:"userAgent,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Audit action types
const (
	ActionSendNotification = "SEND_NOTIFICATION"
	ActionStatusChange     = "STATUS_CHANGE"
	ActionRetry            = "RETRY"
	ActionCreate           = "CREATE"
	ActionUpdate           = "UPDATE"
	ActionDelete           = "DELETE"
)

// Audit entity types
const (
	EntityNotification = "NOTIFICATION"
)
