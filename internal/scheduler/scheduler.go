// Package scheduler re-arms failed notifications whose backoff elapsed,
// expires records past their retry budget or TTL, and reclaims stale
// dispatch leases. It never touches a record a worker validly holds.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ArtemKuhestani/Notification/internal/db"
	"github.com/ArtemKuhestani/Notification/internal/dispatch"
	"github.com/ArtemKuhestani/Notification/internal/metrics"
)

// Store is the slice of the repository the scheduler drives.
type Store interface {
	ReclaimExpiredLeases(ctx context.Context) ([]*db.Notification, error)
	ExpireOverdue(ctx context.Context) ([]db.ExpiredRecord, error)
	RearmDueRetries(ctx context.Context) ([]db.RearmedRecord, error)
}

// Recorder receives one audit entry per status transition.
type Recorder interface {
	StatusChange(id uuid.UUID, oldStatus, newStatus, errMsg string)
}

// Config tunes the scheduler.
type Config struct {
	Interval time.Duration
}

// Scheduler runs the retry/expiry/reclaim cycle on a fixed interval.
type Scheduler struct {
	store     Store
	recorder  Recorder
	callbacks *dispatch.CallbackNotifier
	config    Config
	logger    *zap.Logger
	cron      *cron.Cron
}

// New creates a scheduler.
func New(store Store, recorder Recorder, callbacks *dispatch.CallbackNotifier, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Scheduler{
		store:     store,
		recorder:  recorder,
		callbacks: callbacks,
		config:    cfg,
		logger:    logger,
	}
}

// Start schedules the cycle and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.config.Interval)
	if _, err := s.cron.AddFunc(spec, func() { s.RunCycle(ctx) }); err != nil {
		return fmt.Errorf("schedule retry cycle: %w", err)
	}
	s.cron.Start()
	s.logger.Info("retry scheduler started", zap.Duration("interval", s.config.Interval))

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("retry scheduler stopped")
	return nil
}

// RunCycle performs one pass: reclaim stale leases first so crashed
// sends re-enter the retry path, then expire what is out of budget or
// TTL, then re-arm what is due.
func (s *Scheduler) RunCycle(ctx context.Context) {
	s.reclaimLeases(ctx)
	s.expireOverdue(ctx)
	s.rearmDue(ctx)
}

func (s *Scheduler) reclaimLeases(ctx context.Context) {
	reclaimed, err := s.store.ReclaimExpiredLeases(ctx)
	if err != nil {
		s.logger.Error("lease reclamation failed", zap.Error(err))
		return
	}
	for _, n := range reclaimed {
		s.recorder.StatusChange(n.ID, db.StatusSending, db.StatusFailed, "dispatch lease expired")
		s.logger.Warn("reclaimed expired dispatch lease",
			zap.String("notification_id", n.ID.String()),
		)
	}
	if len(reclaimed) > 0 {
		metrics.AddLeasesReclaimed(len(reclaimed))
	}
}

func (s *Scheduler) expireOverdue(ctx context.Context) {
	expired, err := s.store.ExpireOverdue(ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
		return
	}
	for _, rec := range expired {
		s.recorder.StatusChange(rec.ID, rec.OldStatus, db.StatusExpired, "")
		s.logger.Info("notification expired",
			zap.String("notification_id", rec.ID.String()),
			zap.String("previous_status", rec.OldStatus),
		)
		if s.callbacks != nil && rec.CallbackURL != nil && *rec.CallbackURL != "" {
			go s.callbacks.Notify(*rec.CallbackURL, dispatch.CallbackEvent{
				NotificationID: rec.ID.String(),
				Status:         db.StatusExpired,
				Timestamp:      time.Now().UTC(),
			})
		}
	}
	if len(expired) > 0 {
		metrics.AddExpired(len(expired))
	}
}

func (s *Scheduler) rearmDue(ctx context.Context) {
	rearmed, err := s.store.RearmDueRetries(ctx)
	if err != nil {
		s.logger.Error("retry re-arm failed", zap.Error(err))
		return
	}
	for _, rec := range rearmed {
		s.recorder.StatusChange(rec.ID, db.StatusFailed, db.StatusPending, "")
		s.logger.Info("notification re-armed for retry",
			zap.String("notification_id", rec.ID.String()),
			zap.Int("retry_count", rec.RetryCount),
		)
	}
	if len(rearmed) > 0 {
		metrics.AddRearmed(len(rearmed))
	}
}
