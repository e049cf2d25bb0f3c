// Package stats aggregates notification counters into the dashboard
// payload served by the admin API.
package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ArtemKuhestani/Notification/internal/db"
)

// DefaultWindow is how far back the dashboard looks.
const DefaultWindow = 24 * time.Hour

const recentErrorLimit = 10

// Store is the subset of the repository the aggregator reads from.
type Store interface {
	CountByStatusSince(ctx context.Context, status string, since time.Time) (int64, error)
	CountGroupedByChannel(ctx context.Context, since time.Time) (map[string]int64, error)
	CountGroupedByStatus(ctx context.Context, since time.Time) (map[string]int64, error)
	HourlyCounts(ctx context.Context, since time.Time) ([]db.HourlyCount, error)
	RecentFailures(ctx context.Context, limit int) ([]*db.Notification, error)
}

// RecentError is one row of the dashboard error feed.
type RecentError struct {
	NotificationID string    `json:"notificationId"`
	Channel        string    `json:"channelType"`
	ErrorCode      string    `json:"errorCode,omitempty"`
	ErrorMessage   string    `json:"errorMessage"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Dashboard is the aggregate payload for the admin console.
type Dashboard struct {
	TotalSent    int64            `json:"totalSent"`
	TotalFailed  int64            `json:"totalFailed"`
	TotalPending int64            `json:"totalPending"`
	SuccessRate  float64          `json:"successRate"`
	ByChannel    map[string]int64 `json:"byChannel"`
	ByStatus     map[string]int64 `json:"byStatus"`
	HourlyStats  []db.HourlyCount `json:"hourlyStats"`
	RecentErrors []RecentError    `json:"recentErrors"`
	GeneratedAt  time.Time        `json:"generatedAt"`
}

// Aggregator builds dashboards from repository counters.
type Aggregator struct {
	store  Store
	window time.Duration
}

func NewAggregator(store Store, window time.Duration) *Aggregator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Aggregator{store: store, window: window}
}

// Dashboard computes the aggregate view over the configured window.
func (a *Aggregator) Dashboard(ctx context.Context) (*Dashboard, error) {
	now := time.Now().UTC()
	since := now.Add(-a.window)

	byStatus, err := a.store.CountGroupedByStatus(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}

	byChannel, err := a.store.CountGroupedByChannel(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("channel counts: %w", err)
	}

	hourly, err := a.store.HourlyCounts(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("hourly counts: %w", err)
	}

	failures, err := a.store.RecentFailures(ctx, recentErrorLimit)
	if err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}

	// Pending is the live queue depth, not a windowed count: a backlog
	// older than the window is still a backlog.
	pending, err := a.store.CountByStatusSince(ctx, db.StatusPending, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("pending count: %w", err)
	}

	recent := make([]RecentError, 0, len(failures))
	for _, n := range failures {
		re := RecentError{
			NotificationID: n.ID.String(),
			Channel:        n.Channel,
			OccurredAt:     n.UpdatedAt,
		}
		if n.ErrorCode != nil {
			re.ErrorCode = *n.ErrorCode
		}
		if n.ErrorMessage != nil {
			re.ErrorMessage = *n.ErrorMessage
		}
		recent = append(recent, re)
	}

	// DELIVERED counts as a successful send for the rate.
	sent := byStatus[db.StatusSent] + byStatus[db.StatusDelivered]
	failed := byStatus[db.StatusFailed]

	return &Dashboard{
		TotalSent:    sent,
		TotalFailed:  failed,
		TotalPending: pending,
		SuccessRate:  SuccessRate(sent, failed),
		ByChannel:    byChannel,
		ByStatus:     byStatus,
		HourlyStats:  hourly,
		RecentErrors: recent,
		GeneratedAt:  now,
	}, nil
}

// SuccessRate is sent/(sent+failed) as a percentage rounded to two
// decimals, 0 when there were no terminal outcomes.
func SuccessRate(sent, failed int64) float64 {
	total := sent + failed
	if total == 0 {
		return 0
	}
	rate := float64(sent) / float64(total) * 100
	return math.Round(rate*100) / 100
}
