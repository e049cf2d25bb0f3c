package db

import (
	"context"
	"fmt"
	"time"
)

// HourlyCount is one bucket of the dashboard histogram.
type HourlyCount struct {
	Hour  time.Time `json:"hour"`
	Count int64     `json:"count"`
}

// CountByStatusSince counts notifications created after since with the
// given status.
func (r *Repository) CountByStatusSince(ctx context.Context, status string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE status = $1 AND created_at >= $2`,
		status, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count by status: %w", err)
	}
	return count, nil
}

// CountGroupedByChannel returns per-channel totals inside the window.
func (r *Repository) CountGroupedByChannel(ctx context.Context, since time.Time) (map[string]int64, error) {
	return r.countGrouped(ctx, "channel_type", since)
}

// CountGroupedByStatus returns per-status totals inside the window.
func (r *Repository) CountGroupedByStatus(ctx context.Context, since time.Time) (map[string]int64, error) {
	return r.countGrouped(ctx, "status", since)
}

func (r *Repository) countGrouped(ctx context.Context, column string, since time.Time) (map[string]int64, error) {
	// column is one of two fixed identifiers, never user input.
	query := fmt.Sprintf(
		`SELECT %s, COUNT(*) FROM notifications WHERE created_at >= $1 GROUP BY %s`,
		column, column,
	)

	rows, err := r.db.Pool().Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("count grouped by %s: %w", column, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("scan grouped count: %w", err)
		}
		out[key] = count
	}
	return out, rows.Err()
}

// HourlyCounts buckets notification creation times by hour inside the
// window, oldest bucket first.
func (r *Repository) HourlyCounts(ctx context.Context, since time.Time) ([]HourlyCount, error) {
	query := `
		SELECT date_trunc('hour', created_at) AS hour, COUNT(*)
		FROM notifications
		WHERE created_at >= $1
		GROUP BY hour
		ORDER BY hour
	`

	rows, err := r.db.Pool().Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("hourly counts: %w", err)
	}
	defer rows.Close()

	var out []HourlyCount
	for rows.Next() {
		var h HourlyCount
		if err := rows.Scan(&h.Hour, &h.Count); err != nil {
			return nil, fmt.Errorf("scan hourly count: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// RecentFailures returns the newest FAILED notifications carrying an
// error message, for the dashboard error feed.
func (r *Repository) RecentFailures(ctx context.Context, limit int) ([]*Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = $1 AND error_message IS NOT NULL AND error_message <> ''
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Pool().Query(ctx, query, StatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}
	return collectNotifications(rows)
}
