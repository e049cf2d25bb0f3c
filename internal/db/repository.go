package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Sentinel errors surfaced by the repository.
var (
	ErrNotFound = errors.New("notification not found")

	// ErrDuplicateIdempotencyKey means another record already carries
	// the supplied idempotency key. Not a failure: callers return the
	// existing record.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")

	// ErrClaimLost means a conditional update found the record no
	// longer in the expected (status, lease_token) state.
	ErrClaimLost = errors.New("dispatch claim lost")

	// ErrInvalidState means the requested transition is not legal from
	// the record's current status.
	ErrInvalidState = errors.New("invalid status for operation")
)

const notificationColumns = `
	notification_id, channel_type, recipient, subject, message_body,
	status, priority, retry_count, max_retries, next_retry_at,
	error_message, error_code, provider_message_id, idempotency_key,
	callback_url, metadata, lease_token, lease_expires_at,
	created_at, updated_at, sent_at, expires_at`

// Repository handles database operations for notifications
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new notification repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID, &n.Channel, &n.Recipient, &n.Subject, &n.MessageBody,
		&n.Status, &n.Priority, &n.RetryCount, &n.MaxRetries, &n.NextRetryAt,
		&n.ErrorMessage, &n.ErrorCode, &n.ProviderMessageID, &n.IdempotencyKey,
		&n.CallbackURL, &n.Metadata, &n.LeaseToken, &n.LeaseExpiresAt,
		&n.CreatedAt, &n.UpdatedAt, &n.SentAt, &n.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func collectNotifications(rows pgx.Rows) ([]*Notification, error) {
	defer rows.Close()
	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// CreateNotification inserts a new notification. A unique-violation on
// the idempotency key surfaces as ErrDuplicateIdempotencyKey so the
// caller can fetch and return the winner.
func (r *Repository) CreateNotification(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (
			notification_id, channel_type, recipient, subject, message_body,
			status, priority, retry_count, max_retries,
			idempotency_key, callback_url, metadata, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		n.ID, n.Channel, n.Recipient, n.Subject, n.MessageBody,
		n.Status, n.Priority, n.RetryCount, n.MaxRetries,
		n.IdempotencyKey, n.CallbackURL, n.Metadata, n.ExpiresAt,
	).Scan(&n.CreatedAt, &n.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	r.logger.Info("notification created",
		zap.String("notification_id", n.ID.String()),
		zap.String("channel", n.Channel),
		zap.String("priority", n.Priority),
	)

	return nil
}

// GetNotification retrieves a notification by ID
func (r *Repository) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE notification_id = $1`

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}
	return n, nil
}

// GetByIdempotencyKey retrieves the notification carrying the given key.
func (r *Repository) GetByIdempotencyKey(ctx context.Context, key string) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE idempotency_key = $1`

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query notification by idempotency key: %w", err)
	}
	return n, nil
}

// ListFilter narrows admin listings.
type ListFilter struct {
	Status  string
	Channel string
	Limit   int
	Offset  int
}

// ListNotifications returns a page of notifications, newest first,
// together with the unfiltered total for pagination.
func (r *Repository) ListNotifications(ctx context.Context, f ListFilter) ([]*Notification, int64, error) {
	where := " WHERE 1=1"
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Channel != "" {
		args = append(args, f.Channel)
		where += fmt.Sprintf(" AND channel_type = $%d", len(args))
	}

	var total int64
	if err := r.db.Pool().QueryRow(ctx, "SELECT COUNT(*) FROM notifications"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(
		"SELECT "+notificationColumns+" FROM notifications"+where+
			" ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		len(args)-1, len(args),
	)

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query notifications: %w", err)
	}
	items, err := collectNotifications(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ClaimNext atomically claims the highest-priority dispatchable record:
// status PENDING and not past its TTL. The claim moves it to SENDING
// under a lease so a crashed worker's claim is reclaimable. Returns
// (nil, nil) when nothing is ready.
func (r *Repository) ClaimNext(ctx context.Context, token uuid.UUID, lease time.Duration) (*Notification, error) {
	query := `
		UPDATE notifications SET
			status = $1,
			lease_token = $2,
			lease_expires_at = now() + $3,
			updated_at = now()
		WHERE notification_id = (
			SELECT notification_id FROM notifications
			WHERE status = $4 AND expires_at > now()
			ORDER BY
				CASE priority WHEN 'HIGH' THEN 0 WHEN 'NORMAL' THEN 1 ELSE 2 END,
				created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		) AND status = $4
		RETURNING ` + notificationColumns

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query,
		StatusSending, token, lease, StatusPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim notification: %w", err)
	}
	return n, nil
}

// MarkSent completes a claimed dispatch. The update is conditional on
// the (SENDING, lease_token) pair: if the lease was reclaimed in the
// meantime the caller gets ErrClaimLost and must not report success.
// sent_at is written exactly once.
func (r *Repository) MarkSent(ctx context.Context, id, token uuid.UUID, providerMessageID string) error {
	query := `
		UPDATE notifications SET
			status = $1,
			provider_message_id = $2,
			error_message = NULL,
			error_code = NULL,
			next_retry_at = NULL,
			lease_token = NULL,
			lease_expires_at = NULL,
			sent_at = COALESCE(sent_at, now()),
			updated_at = now()
		WHERE notification_id = $3 AND status = $4 AND lease_token = $5
	`

	tag, err := r.db.Pool().Exec(ctx, query, StatusSent, providerMessageID, id, StatusSending, token)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

// MarkFailed records a failed dispatch attempt under the same CAS
// discipline as MarkSent. Permanent failures burn the remaining retry
// budget so the next scheduler pass expires the record; transient ones
// carry the backoff-computed nextRetryAt.
func (r *Repository) MarkFailed(ctx context.Context, id, token uuid.UUID, errMsg, errCode string, permanent bool, nextRetryAt time.Time) error {
	query := `
		UPDATE notifications SET
			status = $1,
			error_message = $2,
			error_code = $3,
			retry_count = CASE WHEN $4 THEN max_retries ELSE retry_count END,
			next_retry_at = $5,
			lease_token = NULL,
			lease_expires_at = NULL,
			updated_at = now()
		WHERE notification_id = $6 AND status = $7 AND lease_token = $8
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		StatusFailed, errMsg, errCode, permanent, nextRetryAt, id, StatusSending, token)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

// ReclaimExpiredLeases resets SENDING records whose lease ran out back
// to FAILED so they re-enter the retry path. This is the crash-recovery
// sweep: no record stays claimed indefinitely.
func (r *Repository) ReclaimExpiredLeases(ctx context.Context) ([]*Notification, error) {
	query := `
		UPDATE notifications SET
			status = $1,
			error_message = 'dispatch lease expired',
			error_code = 'LEASE_EXPIRED',
			next_retry_at = now(),
			lease_token = NULL,
			lease_expires_at = NULL,
			updated_at = now()
		WHERE status = $2 AND lease_expires_at <= now()
		RETURNING ` + notificationColumns

	rows, err := r.db.Pool().Query(ctx, query, StatusFailed, StatusSending)
	if err != nil {
		return nil, fmt.Errorf("reclaim leases: %w", err)
	}
	return collectNotifications(rows)
}

// ExpiredRecord pairs an expired notification id with the status it
// held before expiry, for audit, plus the callback URL so the terminal
// transition can be reported.
type ExpiredRecord struct {
	ID          uuid.UUID
	OldStatus   string
	CallbackURL *string
}

// ExpireOverdue moves records past their TTL or retry budget to
// EXPIRED. SENDING records are left to the lease reclaimer.
func (r *Repository) ExpireOverdue(ctx context.Context) ([]ExpiredRecord, error) {
	query := `
		UPDATE notifications n SET
			status = $1,
			next_retry_at = NULL,
			updated_at = now()
		FROM notifications o
		WHERE o.notification_id = n.notification_id
		  AND (
			(n.status IN ($2, $3) AND n.expires_at <= now())
			OR (n.status = $3 AND n.next_retry_at <= now() AND n.retry_count >= n.max_retries)
		  )
		RETURNING n.notification_id, o.status, n.callback_url
	`

	rows, err := r.db.Pool().Query(ctx, query, StatusExpired, StatusPending, StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("expire overdue: %w", err)
	}
	defer rows.Close()

	var out []ExpiredRecord
	for rows.Next() {
		var rec ExpiredRecord
		if err := rows.Scan(&rec.ID, &rec.OldStatus, &rec.CallbackURL); err != nil {
			return nil, fmt.Errorf("scan expired record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RearmedRecord is one FAILED record the scheduler moved back to
// PENDING, with its post-increment retry count.
type RearmedRecord struct {
	ID         uuid.UUID
	RetryCount int
}

// RearmDueRetries re-arms FAILED records whose backoff elapsed and
// whose retry budget and TTL still allow another attempt. The retry
// counter increments here, on re-arm, not on claim.
func (r *Repository) RearmDueRetries(ctx context.Context) ([]RearmedRecord, error) {
	query := `
		UPDATE notifications SET
			status = $1,
			retry_count = retry_count + 1,
			updated_at = now()
		WHERE status = $2
		  AND next_retry_at <= now()
		  AND retry_count < max_retries
		  AND expires_at > now()
		RETURNING notification_id, retry_count
	`

	rows, err := r.db.Pool().Query(ctx, query, StatusPending, StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("rearm due retries: %w", err)
	}
	defer rows.Close()

	var out []RearmedRecord
	for rows.Next() {
		var rec RearmedRecord
		if err := rows.Scan(&rec.ID, &rec.RetryCount); err != nil {
			return nil, fmt.Errorf("scan rearmed record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AdminRetry force-rearms a FAILED or EXPIRED notification: status back
// to PENDING, due immediately, TTL extended. The retry counter is kept,
// so the retry budget still applies to subsequent automatic re-arms.
func (r *Repository) AdminRetry(ctx context.Context, id uuid.UUID, ttl time.Duration) (*Notification, error) {
	current, err := r.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(current.Status, StatusPending); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	query := `
		UPDATE notifications SET
			status = $1,
			next_retry_at = now(),
			error_message = NULL,
			error_code = NULL,
			expires_at = now() + $2,
			updated_at = now()
		WHERE notification_id = $3 AND status IN ($4, $5)
		RETURNING ` + notificationColumns

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query,
		StatusPending, ttl, id, StatusFailed, StatusExpired))
	if errors.Is(err, pgx.ErrNoRows) {
		// Raced with a worker or the scheduler between read and update.
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, fmt.Errorf("admin retry: %w", err)
	}

	r.logger.Info("notification re-armed by admin",
		zap.String("notification_id", id.String()),
		zap.String("previous_status", current.Status),
	)
	return n, nil
}

// MarkDelivered records a provider delivery receipt: SENT -> DELIVERED,
// matched by the provider's message id.
func (r *Repository) MarkDelivered(ctx context.Context, providerMessageID string) (*Notification, error) {
	query := `
		UPDATE notifications SET
			status = $1,
			updated_at = now()
		WHERE provider_message_id = $2 AND status = $3
		RETURNING ` + notificationColumns

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query,
		StatusDelivered, providerMessageID, StatusSent))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark delivered: %w", err)
	}
	return n, nil
}
