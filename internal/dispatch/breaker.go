package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ArtemKuhestani/Notification/internal/circuitbreaker"
	"github.com/ArtemKuhestani/Notification/internal/db"
)

// ProtectedAdapter decorates an Adapter with a circuit breaker. While
// the breaker is open, sends fail fast with a transient error so the
// notification stays retryable.
type ProtectedAdapter struct {
	adapter Adapter
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// Protect wraps an adapter with the given breaker.
func Protect(adapter Adapter, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ProtectedAdapter {
	return &ProtectedAdapter{
		adapter: adapter,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *ProtectedAdapter) Send(ctx context.Context, n *db.Notification) (string, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.Name()),
			zap.String("notification_id", n.ID.String()),
			zap.String("channel", n.Channel),
		)
		return "", Transient(CodeCircuitOpen,
			fmt.Errorf("%w: %s provider unavailable", circuitbreaker.ErrOpen, p.breaker.Name()))
	}

	providerMessageID, err := p.adapter.Send(ctx, n)
	if err != nil {
		p.breaker.RecordFailure()
		return "", err
	}

	p.breaker.RecordSuccess()
	return providerMessageID, nil
}

func (p *ProtectedAdapter) Channel() string {
	return p.adapter.Channel()
}
