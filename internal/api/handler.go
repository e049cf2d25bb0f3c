// Package api exposes the HTTP surface of the delivery engine: the
// public send/status endpoints, the admin console endpoints, and the
// provider delivery callback.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ArtemKuhestani/Notification/internal/db"
	"github.com/ArtemKuhestani/Notification/internal/dispatch"
	"github.com/ArtemKuhestani/Notification/internal/metrics"
	"github.com/ArtemKuhestani/Notification/internal/queue"
	"github.com/ArtemKuhestani/Notification/internal/redis"
	"github.com/ArtemKuhestani/Notification/internal/stats"
)

// NotificationRepository defines the database operations the handlers need.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *db.Notification) error
	GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*db.Notification, error)
	ListNotifications(ctx context.Context, f db.ListFilter) ([]*db.Notification, int64, error)
	AdminRetry(ctx context.Context, id uuid.UUID, ttl time.Duration) (*db.Notification, error)
	MarkDelivered(ctx context.Context, providerMessageID string) (*db.Notification, error)
}

// AuditReader lists audit log entries for the admin console.
type AuditReader interface {
	List(ctx context.Context, limit, offset int) ([]*db.AuditLog, int64, error)
}

// AuditRecorder records audit entries for actions taken through the API.
type AuditRecorder interface {
	NotificationAccepted(n *db.Notification, ipAddress string)
	AdminRetry(id uuid.UUID, oldStatus, ipAddress, userAgent string)
	StatusChange(id uuid.UUID, oldStatus, newStatus, errMsg string)
}

// DashboardProvider computes the admin dashboard aggregate.
type DashboardProvider interface {
	Dashboard(ctx context.Context) (*stats.Dashboard, error)
}

// Pinger reports backing store health.
type Pinger interface {
	Health(ctx context.Context) error
}

// SendRequest is the body of POST /api/v1/send.
type SendRequest struct {
	Channel        string          `json:"channel"`
	Recipient      string          `json:"recipient"`
	Subject        *string         `json:"subject,omitempty"`
	Message        string          `json:"message"`
	Priority       string          `json:"priority,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	CallbackURL    string          `json:"callbackUrl,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	logger      *zap.Logger
	repo        NotificationRepository
	audit       AuditReader
	recorder    AuditRecorder
	dashboards  DashboardProvider
	idempotency *redis.IdempotencyStore    // nil disables the cache layer
	producer    *queue.Producer            // nil disables queue fan-out
	callbacks   *dispatch.CallbackNotifier // nil disables terminal callbacks
	pinger      Pinger
	maxRetries  int
	ttl         time.Duration
}

// HandlerConfig bundles the handler's dependencies.
type HandlerConfig struct {
	Logger      *zap.Logger
	Repo        NotificationRepository
	Audit       AuditReader
	Recorder    AuditRecorder
	Dashboards  DashboardProvider
	Idempotency *redis.IdempotencyStore
	Producer    *queue.Producer
	Callbacks   *dispatch.CallbackNotifier
	Pinger      Pinger
	MaxRetries  int
	TTL         time.Duration
}

// NewHandler creates the API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Handler{
		logger:      cfg.Logger,
		repo:        cfg.Repo,
		audit:       cfg.Audit,
		recorder:    cfg.Recorder,
		dashboards:  cfg.Dashboards,
		idempotency: cfg.Idempotency,
		producer:    cfg.Producer,
		callbacks:   cfg.Callbacks,
		pinger:      cfg.Pinger,
		maxRetries:  cfg.MaxRetries,
		ttl:         cfg.TTL,
	}
}

// Routes registers all handlers under /api/v1 on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/send", h.SendNotification)
		r.Get("/status/{id}", h.GetStatus)
		r.Get("/health", h.HealthCheck)
		r.Post("/callbacks/delivery", h.DeliveryCallback)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/notifications", h.ListNotifications)
			r.Post("/notifications/{id}/retry", h.RetryNotification)
			r.Get("/stats/dashboard", h.GetDashboard)
			r.Get("/audit", h.ListAuditLog)
		})
	})
}

// SendNotification handles POST /api/v1/send.
// Duplicate idempotency keys replay the original accept response.
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	req.Channel = strings.ToUpper(strings.TrimSpace(req.Channel))
	req.Priority = strings.ToUpper(strings.TrimSpace(req.Priority))
	req.Recipient = strings.TrimSpace(req.Recipient)
	if req.Priority == "" {
		req.Priority = db.PriorityNormal
	}

	if msg := validateSendRequest(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	// Winner election on the idempotency key before touching the
	// database. Losers replay the winner's record.
	if req.IdempotencyKey != "" && h.idempotency != nil {
		created, existingID, err := h.idempotency.Reserve(ctx, req.IdempotencyKey)
		switch {
		case errors.Is(err, redis.ErrReservationInProgress):
			// The winner reserved but has not committed yet. The
			// database may already hold its row.
			if existing, lookupErr := h.repo.GetByIdempotencyKey(ctx, req.IdempotencyKey); lookupErr == nil {
				h.replayExisting(w, existing)
				return
			}
			writeError(w, http.StatusConflict, "request with this idempotency key is already in progress")
			return
		case err != nil:
			h.logger.Warn("idempotency reservation failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", req.IdempotencyKey),
			)
		case !created:
			h.replayByID(w, r, existingID, req.IdempotencyKey)
			return
		}
	}

	now := time.Now().UTC()
	n := &db.Notification{
		ID:          uuid.New(),
		Channel:     req.Channel,
		Recipient:   req.Recipient,
		Subject:     req.Subject,
		MessageBody: req.Message,
		Status:      db.StatusPending,
		Priority:    req.Priority,
		MaxRetries:  h.maxRetries,
		Metadata:    req.Metadata,
		ExpiresAt:   now.Add(h.ttl),
	}
	if req.IdempotencyKey != "" {
		n.IdempotencyKey = &req.IdempotencyKey
	}
	if req.CallbackURL != "" {
		n.CallbackURL = &req.CallbackURL
	}

	if err := h.repo.CreateNotification(ctx, n); err != nil {
		if errors.Is(err, db.ErrDuplicateIdempotencyKey) {
			// The unique index backstops the cache. Replay whatever
			// the first request created.
			if existing, lookupErr := h.repo.GetByIdempotencyKey(ctx, req.IdempotencyKey); lookupErr == nil {
				h.commitIdempotency(ctx, req.IdempotencyKey, existing.ID.String())
				h.replayExisting(w, existing)
				return
			}
			writeError(w, http.StatusConflict, "duplicate idempotency key")
			return
		}
		h.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("channel", req.Channel),
		)
		if req.IdempotencyKey != "" && h.idempotency != nil {
			if relErr := h.idempotency.Release(ctx, req.IdempotencyKey); relErr != nil {
				h.logger.Warn("failed to release idempotency reservation", zap.Error(relErr))
			}
		}
		writeError(w, http.StatusInternalServerError, "failed to create notification")
		return
	}

	h.commitIdempotency(ctx, req.IdempotencyKey, n.ID.String())

	if h.recorder != nil {
		h.recorder.NotificationAccepted(n, clientIP(r))
	}
	metrics.RecordAccepted(n.Channel)

	// Queue fan-out is advisory, workers poll the database regardless.
	if h.producer != nil {
		if msgID, err := h.producer.Enqueue(ctx, n); err != nil {
			h.logger.Warn("failed to enqueue notification",
				zap.Error(err),
				zap.String("notification_id", n.ID.String()),
			)
		} else {
			h.logger.Debug("notification enqueued",
				zap.String("notification_id", n.ID.String()),
				zap.String("queue_message_id", msgID),
			)
		}
	}

	h.logger.Info("notification accepted",
		zap.String("notification_id", n.ID.String()),
		zap.String("channel", n.Channel),
		zap.String("priority", n.Priority),
	)

	writeJSON(w, http.StatusAccepted, "notification accepted", n)
}

func (h *Handler) commitIdempotency(ctx context.Context, key, notificationID string) {
	if key == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Commit(ctx, key, notificationID); err != nil {
		h.logger.Warn("failed to commit idempotency key",
			zap.Error(err),
			zap.String("idempotency_key", key),
		)
	}
}

func (h *Handler) replayByID(w http.ResponseWriter, r *http.Request, idStr, key string) {
	ctx := r.Context()

	var existing *db.Notification
	if id, err := uuid.Parse(idStr); err == nil {
		existing, _ = h.repo.GetNotification(ctx, id)
	}
	if existing == nil {
		existing, _ = h.repo.GetByIdempotencyKey(ctx, key)
	}
	if existing == nil {
		writeError(w, http.StatusConflict, "request with this idempotency key is already in progress")
		return
	}
	h.replayExisting(w, existing)
}

func (h *Handler) replayExisting(w http.ResponseWriter, existing *db.Notification) {
	metrics.RecordIdempotencyHit()
	w.Header().Set("X-Idempotency-Replayed", "true")
	writeJSON(w, http.StatusOK, "duplicate request, returning original notification", existing)
}

// GetStatus handles GET /api/v1/status/{id}.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "notification id must be a valid UUID")
		return
	}

	n, err := h.repo.GetNotification(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "notification not found")
			return
		}
		h.logger.Error("failed to get notification", zap.Error(err), zap.String("id", id.String()))
		writeError(w, http.StatusInternalServerError, "failed to get notification")
		return
	}

	writeJSON(w, http.StatusOK, "notification retrieved", n)
}

// ListNotifications handles GET /api/v1/admin/notifications.
// Supports zero-based page/size pagination plus status and channel filters.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)

	filter := db.ListFilter{
		Status:  strings.ToUpper(r.URL.Query().Get("status")),
		Channel: strings.ToUpper(r.URL.Query().Get("channel")),
		Limit:   size,
		Offset:  page * size,
	}
	if filter.Status != "" && !validStatus(filter.Status) {
		writeError(w, http.StatusBadRequest, "unknown status filter: "+filter.Status)
		return
	}
	if filter.Channel != "" && !db.ValidChannel(filter.Channel) {
		writeError(w, http.StatusBadRequest, "unknown channel filter: "+filter.Channel)
		return
	}

	items, total, err := h.repo.ListNotifications(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if items == nil {
		items = []*db.Notification{}
	}

	writeJSON(w, http.StatusOK, "notifications retrieved", NewPage(items, total, size, page))
}

// RetryNotification handles POST /api/v1/admin/notifications/{id}/retry.
// Only FAILED and EXPIRED notifications can be re-queued.
func (h *Handler) RetryNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "notification id must be a valid UUID")
		return
	}

	current, err := h.repo.GetNotification(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "notification not found")
			return
		}
		h.logger.Error("failed to load notification for retry", zap.Error(err), zap.String("id", id.String()))
		writeError(w, http.StatusInternalServerError, "failed to retry notification")
		return
	}
	oldStatus := current.Status

	n, err := h.repo.AdminRetry(ctx, id, h.ttl)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			writeError(w, http.StatusNotFound, "notification not found")
		case errors.Is(err, db.ErrInvalidState):
			writeError(w, http.StatusConflict,
				fmt.Sprintf("cannot retry notification in status %s", oldStatus))
		default:
			h.logger.Error("failed to retry notification", zap.Error(err), zap.String("id", id.String()))
			writeError(w, http.StatusInternalServerError, "failed to retry notification")
		}
		return
	}

	if h.recorder != nil {
		h.recorder.AdminRetry(id, oldStatus, clientIP(r), r.UserAgent())
	}

	h.logger.Info("notification re-queued by admin",
		zap.String("notification_id", id.String()),
		zap.String("old_status", oldStatus),
	)

	writeJSON(w, http.StatusOK, "notification queued for retry", n)
}

// GetDashboard handles GET /api/v1/admin/stats/dashboard.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := h.dashboards.Dashboard(r.Context())
	if err != nil {
		h.logger.Error("failed to build dashboard", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build dashboard")
		return
	}
	writeJSON(w, http.StatusOK, "dashboard statistics", dash)
}

// ListAuditLog handles GET /api/v1/admin/audit.
func (h *Handler) ListAuditLog(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)

	entries, total, err := h.audit.List(r.Context(), size, page*size)
	if err != nil {
		h.logger.Error("failed to list audit log", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []*db.AuditLog{}
	}

	writeJSON(w, http.StatusOK, "audit log retrieved", NewPage(entries, total, size, page))
}

// HealthCheck handles GET /api/v1/health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]string{"status": "UP"}
	if h.pinger != nil {
		if err := h.pinger.Health(r.Context()); err != nil {
			health["status"] = "DOWN"
			health["database"] = "DOWN"
			writeJSON(w, http.StatusServiceUnavailable, "service unhealthy", health)
			return
		}
		health["database"] = "UP"
	}
	writeJSON(w, http.StatusOK, "service healthy", health)
}

// DeliveryCallback handles POST /api/v1/callbacks/delivery, the hook
// providers call to report a delivery receipt.
func (h *Handler) DeliveryCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProviderMessageID string `json:"providerMessageId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProviderMessageID == "" {
		writeError(w, http.StatusBadRequest, "providerMessageId is required")
		return
	}

	n, err := h.repo.MarkDelivered(r.Context(), req.ProviderMessageID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no sent notification matches this provider message id")
			return
		}
		h.logger.Error("failed to record delivery receipt",
			zap.Error(err),
			zap.String("provider_message_id", req.ProviderMessageID),
		)
		writeError(w, http.StatusInternalServerError, "failed to record delivery receipt")
		return
	}

	if h.recorder != nil {
		h.recorder.StatusChange(n.ID, db.StatusSent, db.StatusDelivered, "")
	}

	// DELIVERED is a terminal state, so the caller's callback URL gets
	// the same best-effort notification the dispatch path sends.
	if h.callbacks != nil && n.CallbackURL != nil && *n.CallbackURL != "" {
		go h.callbacks.Notify(*n.CallbackURL, dispatch.CallbackEvent{
			NotificationID:    n.ID.String(),
			Status:            db.StatusDelivered,
			ProviderMessageID: req.ProviderMessageID,
			Timestamp:         time.Now().UTC(),
		})
	}

	writeJSON(w, http.StatusOK, "delivery receipt recorded", n)
}

func validateSendRequest(req *SendRequest) string {
	if req.Channel == "" || req.Recipient == "" || req.Message == "" {
		return "channel, recipient and message are required"
	}
	if !db.ValidChannel(req.Channel) {
		return "channel must be one of EMAIL, TELEGRAM, SMS, WHATSAPP"
	}
	if !db.ValidPriority(req.Priority) {
		return "priority must be one of HIGH, NORMAL, LOW"
	}
	if msg := validateRecipient(req.Channel, req.Recipient); msg != "" {
		return msg
	}
	if req.CallbackURL != "" {
		u, err := url.Parse(req.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "callbackUrl must be an absolute http(s) URL"
		}
	}
	if len(req.Metadata) > 0 && !json.Valid(req.Metadata) {
		return "metadata must be valid JSON"
	}
	return ""
}

func validateRecipient(channel, recipient string) string {
	switch channel {
	case db.ChannelEmail:
		if !strings.Contains(recipient, "@") {
			return "recipient must be an email address"
		}
	case db.ChannelSMS, db.ChannelWhatsApp:
		if !strings.HasPrefix(recipient, "+") {
			return "recipient must be an E.164 phone number"
		}
	case db.ChannelTelegram:
		if !strings.HasPrefix(recipient, "@") {
			if _, err := strconv.ParseInt(recipient, 10, 64); err != nil {
				return "recipient must be a numeric chat id or @username"
			}
		}
	}
	return ""
}

func validStatus(s string) bool {
	switch s {
	case db.StatusPending, db.StatusSending, db.StatusSent,
		db.StatusDelivered, db.StatusFailed, db.StatusExpired:
		return true
	}
	return false
}

func pageParams(r *http.Request) (page, size int) {
	page = 0
	size = 20

	if p := r.URL.Query().Get("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v >= 0 {
			page = v
		}
	}
	if s := r.URL.Query().Get("size"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= 100 {
			size = v
		}
	}
	return page, size
}
