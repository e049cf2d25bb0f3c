package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ArtemKuhestani/Notification/internal/db"
	"github.com/ArtemKuhestani/Notification/internal/metrics"
)

// Store is the slice of the notification repository the worker pool
// needs: claim, and the two completion transitions.
type Store interface {
	ClaimNext(ctx context.Context, token uuid.UUID, lease time.Duration) (*db.Notification, error)
	MarkSent(ctx context.Context, id, token uuid.UUID, providerMessageID string) error
	MarkFailed(ctx context.Context, id, token uuid.UUID, errMsg, errCode string, permanent bool, nextRetryAt time.Time) error
}

// Recorder receives one audit entry per status transition.
type Recorder interface {
	StatusChange(id uuid.UUID, oldStatus, newStatus, errMsg string)
}

// Config tunes the pool.
type Config struct {
	Workers      int
	PollInterval time.Duration
	SendTimeout  time.Duration
	LeaseTTL     time.Duration
	// Backoff computes the delay before the next attempt, seeded by the
	// current retry count.
	Backoff func(retryCount int) time.Duration
}

// Pool is a bounded set of workers, each claiming one record at a time.
// Exclusivity comes from the store's conditional claim, so workers
// never block each other.
type Pool struct {
	store     Store
	registry  *Registry
	recorder  Recorder
	callbacks *CallbackNotifier
	config    Config
	logger    *zap.Logger
}

// NewPool creates a dispatch worker pool.
func NewPool(store Store, registry *Registry, recorder Recorder, callbacks *CallbackNotifier, cfg Config, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	if cfg.Backoff == nil {
		cfg.Backoff = func(int) time.Duration { return time.Minute }
	}

	return &Pool{
		store:     store,
		registry:  registry,
		recorder:  recorder,
		callbacks: callbacks,
		config:    cfg,
		logger:    logger,
	}
}

// Start runs the workers until ctx is cancelled and waits for them to
// finish their in-flight sends.
func (p *Pool) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.config.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.run(ctx, id)
		}(i)
	}
	wg.Wait()
	p.logger.Info("dispatch pool stopped")
}

func (p *Pool) run(ctx context.Context, workerID int) {
	logger := p.logger.With(zap.Int("worker", workerID))
	for {
		if ctx.Err() != nil {
			return
		}

		claimed, err := p.dispatchOne(ctx)
		if err != nil {
			logger.Error("dispatch cycle failed", zap.Error(err))
		}
		if claimed {
			// More work may be ready; claim again immediately.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.config.PollInterval):
		}
	}
}

// dispatchOne claims and processes at most one notification. Returns
// whether a record was claimed.
func (p *Pool) dispatchOne(ctx context.Context) (bool, error) {
	token := uuid.New()

	n, err := p.store.ClaimNext(ctx, token, p.config.LeaseTTL)
	if err != nil {
		return false, err
	}
	if n == nil {
		return false, nil
	}

	p.recorder.StatusChange(n.ID, db.StatusPending, db.StatusSending, "")
	p.process(ctx, n, token)
	return true, nil
}

func (p *Pool) process(ctx context.Context, n *db.Notification, token uuid.UUID) {
	adapter := p.registry.Adapter(n.Channel)

	sendCtx, cancel := context.WithTimeout(ctx, p.config.SendTimeout)
	providerMessageID, sendErr := adapter.Send(sendCtx, n)
	cancel()

	if sendErr != nil {
		p.handleFailure(ctx, n, token, sendErr)
		return
	}

	if err := p.store.MarkSent(ctx, n.ID, token, providerMessageID); err != nil {
		if errors.Is(err, db.ErrClaimLost) {
			// The lease expired mid-send and the reclaimer took the
			// record back. The provider accepted the message, so the
			// upcoming retry may duplicate it.
			p.logger.Warn("claim lost after successful send",
				zap.String("notification_id", n.ID.String()),
				zap.String("provider_message_id", providerMessageID),
			)
			return
		}
		p.logger.Error("failed to mark notification sent",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
		return
	}

	p.recorder.StatusChange(n.ID, db.StatusSending, db.StatusSent, "")
	metrics.RecordDispatch(n.Channel, "sent")

	p.logger.Info("notification sent",
		zap.String("notification_id", n.ID.String()),
		zap.String("channel", n.Channel),
		zap.String("provider_message_id", providerMessageID),
	)

	p.notifyCallback(n, db.StatusSent, providerMessageID, "")
}

func (p *Pool) handleFailure(ctx context.Context, n *db.Notification, token uuid.UUID, sendErr error) {
	chErr := Classify(sendErr)

	// Permanent failures never retry; stamping now instead of a backoff
	// lets the very next scheduler pass expire the record.
	nextRetryAt := time.Now()
	if !chErr.Permanent {
		nextRetryAt = nextRetryAt.Add(p.config.Backoff(n.RetryCount))
	}

	err := p.store.MarkFailed(ctx, n.ID, token, chErr.Error(), chErr.Code, chErr.Permanent, nextRetryAt)
	if err != nil {
		if errors.Is(err, db.ErrClaimLost) {
			p.logger.Warn("claim lost before failure could be recorded",
				zap.String("notification_id", n.ID.String()),
			)
			return
		}
		p.logger.Error("failed to mark notification failed",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
		return
	}

	p.recorder.StatusChange(n.ID, db.StatusSending, db.StatusFailed, chErr.Error())
	metrics.RecordDispatch(n.Channel, "failed")

	p.logger.Warn("notification dispatch failed",
		zap.String("notification_id", n.ID.String()),
		zap.String("channel", n.Channel),
		zap.String("error_code", chErr.Code),
		zap.Bool("permanent", chErr.Permanent),
		zap.Error(chErr.Err),
	)

	// Permanent failures never re-enter the retry path, so this is the
	// record's terminal outcome as far as the caller is concerned.
	if chErr.Permanent {
		p.notifyCallback(n, db.StatusFailed, "", chErr.Error())
	}
}

func (p *Pool) notifyCallback(n *db.Notification, status, providerMessageID, errMsg string) {
	if p.callbacks == nil || n.CallbackURL == nil || *n.CallbackURL == "" {
		return
	}
	go p.callbacks.Notify(*n.CallbackURL, CallbackEvent{
		NotificationID:    n.ID.String(),
		Status:            status,
		ProviderMessageID: providerMessageID,
		ErrorMessage:      errMsg,
		Timestamp:         time.Now().UTC(),
	})
}
