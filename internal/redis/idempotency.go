package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultIdempotencyTTL is how long committed keys are retained.
	// The database's unique index on idempotency_key keeps enforcing
	// uniqueness after the cache entry expires; the cache only makes
	// the common replay path cheap.
	DefaultIdempotencyTTL = 24 * time.Hour

	// reserveTTL bounds how long a reservation may sit uncommitted
	// before the key becomes reservable again (caller crashed between
	// reserve and commit).
	reserveTTL = 5 * time.Minute

	pendingMarker = "__pending__"
)

// ErrReservationInProgress means another request holds the reservation
// for this key but has not committed a notification id yet.
var ErrReservationInProgress = errors.New("idempotency key reservation in progress")

// IdempotencyStore elects exactly one winner per idempotency key using
// an atomic SET NX, and maps committed keys to their notification id.
type IdempotencyStore struct {
	client *Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewIdempotencyStore creates an idempotency store. ttl <= 0 selects
// the default retention.
func NewIdempotencyStore(client *Client, ttl time.Duration, logger *zap.Logger) *IdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyStore{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func idempotencyKey(key string) string {
	return "idempotency:" + key
}

// Reserve attempts to claim key. Exactly one concurrent caller observes
// created=true; the rest get the winner's notification id once the
// winner committed, or ErrReservationInProgress while it has not.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string) (created bool, notificationID string, err error) {
	rkey := idempotencyKey(key)

	// Two passes cover the race where the winner's uncommitted
	// reservation expires between our SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		set, err := s.client.rdb.SetNX(ctx, rkey, pendingMarker, reserveTTL).Result()
		if err != nil {
			return false, "", fmt.Errorf("redis setnx failed: %w", err)
		}
		if set {
			return true, "", nil
		}

		val, err := s.client.rdb.Get(ctx, rkey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return false, "", fmt.Errorf("redis get failed: %w", err)
		}
		if val == pendingMarker {
			return false, "", ErrReservationInProgress
		}

		s.logger.Debug("idempotency key replayed",
			zap.String("notification_id", val),
		)
		return false, val, nil
	}

	return false, "", ErrReservationInProgress
}

// Commit binds the reserved key to the created notification id for the
// configured retention.
func (s *IdempotencyStore) Commit(ctx context.Context, key, notificationID string) error {
	if err := s.client.rdb.Set(ctx, idempotencyKey(key), notificationID, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Release frees a reservation whose creation failed, so a later request
// with the same key can try again.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.rdb.Del(ctx, idempotencyKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
