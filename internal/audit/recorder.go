// Package audit records every administrative action and automatic
// status change to an append-only log. Writes are best-effort: a failed
// audit write is logged and alerted on, never propagated to the
// business operation that triggered it.
package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ArtemKuhestani/Notification/internal/db"
)

// Sink is where entries land. *db.AuditRepository in production.
type Sink interface {
	Append(ctx context.Context, entry *db.AuditLog) error
}

// Recorder buffers entries and writes them off the hot path.
type Recorder struct {
	sink    Sink
	logger  *zap.Logger
	entries chan *db.AuditLog
}

const (
	bufferSize   = 256
	writeTimeout = 5 * time.Second

	systemActor = "system"
)

// NewRecorder creates a recorder. Run must be started for entries to
// reach the sink.
func NewRecorder(sink Sink, logger *zap.Logger) *Recorder {
	return &Recorder{
		sink:    sink,
		logger:  logger,
		entries: make(chan *db.AuditLog, bufferSize),
	}
}

// Run drains the buffer until ctx is cancelled, then flushes whatever
// is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return
		case entry := <-r.entries:
			r.write(entry)
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case entry := <-r.entries:
			r.write(entry)
		default:
			return
		}
	}
}

func (r *Recorder) write(entry *db.AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.sink.Append(ctx, entry); err != nil {
		r.logger.Error("audit write failed",
			zap.Error(err),
			zap.String("action_type", entry.ActionType),
			zap.String("entity_id", entry.EntityID),
		)
	}
}

// Record enqueues one entry. Never blocks: when the buffer is full the
// entry is dropped and the drop is logged.
func (r *Recorder) Record(entry *db.AuditLog) {
	if entry.IPAddress == "" {
		entry.IPAddress = "0.0.0.0"
	}
	select {
	case r.entries <- entry:
	default:
		r.logger.Warn("audit buffer full, entry dropped",
			zap.String("action_type", entry.ActionType),
			zap.String("entity_id", entry.EntityID),
		)
	}
}

// NotificationAccepted records the SEND_NOTIFICATION entry emitted when
// the ingress API accepts a request. Recipients are masked.
func (r *Recorder) NotificationAccepted(n *db.Notification, ipAddress string) {
	r.Record(&db.AuditLog{
		ActionType: db.ActionSendNotification,
		EntityType: db.EntityNotification,
		EntityID:   n.ID.String(),
		NewValue: snapshot(map[string]string{
			"channel":   n.Channel,
			"recipient": MaskRecipient(n.Recipient),
			"status":    n.Status,
		}),
		IPAddress: ipAddress,
	})
}

// StatusChange records one automatic state machine transition.
func (r *Recorder) StatusChange(id uuid.UUID, oldStatus, newStatus, errMsg string) {
	newVal := map[string]string{"status": newStatus}
	if errMsg != "" {
		newVal["error"] = errMsg
	}
	r.Record(&db.AuditLog{
		ActionType: db.ActionStatusChange,
		EntityType: db.EntityNotification,
		EntityID:   id.String(),
		OldValue:   snapshot(map[string]string{"status": oldStatus}),
		NewValue:   snapshot(newVal),
		IPAddress:  systemActor,
	})
}

// AdminRetry records a forced re-arm performed by an administrator.
func (r *Recorder) AdminRetry(id uuid.UUID, oldStatus, ipAddress, userAgent string) {
	entry := &db.AuditLog{
		ActionType: db.ActionRetry,
		EntityType: db.EntityNotification,
		EntityID:   id.String(),
		OldValue:   snapshot(map[string]string{"status": oldStatus}),
		NewValue:   snapshot(map[string]string{"status": db.StatusPending}),
		IPAddress:  ipAddress,
	}
	if userAgent != "" {
		entry.UserAgent = &userAgent
	}
	r.Record(entry)
}

func snapshot(values map[string]string) json.RawMessage {
	data, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return data
}

// MaskRecipient hides most of an address in audit payloads: audit rows
// outlive notifications and should not leak contact details.
func MaskRecipient(recipient string) string {
	if recipient == "" {
		return ""
	}
	if at := strings.Index(recipient, "@"); at > 2 {
		return recipient[:2] + "***" + recipient[at:]
	}
	if len(recipient) > 4 {
		return recipient[:2] + "***" + recipient[len(recipient)-2:]
	}
	return "***"
}
