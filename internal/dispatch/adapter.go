// Package dispatch pulls ready notifications from the store, routes
// them to the matching channel adapter, and applies the resulting
// status transition.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/ArtemKuhestani/Notification/internal/db"
)

// Adapter is the single capability every channel provider implements.
// Send returns the provider's message id on success. Implementations
// own their transport, credentials, and rate limits.
type Adapter interface {
	Send(ctx context.Context, n *db.Notification) (providerMessageID string, err error)
	Channel() string
}

// Error codes attached to failed notifications.
const (
	CodeInvalidRecipient = "INVALID_RECIPIENT"
	CodeProviderError    = "PROVIDER_ERROR"
	CodeTimeout          = "TIMEOUT"
	CodeUnconfigured     = "UNCONFIGURED_CHANNEL"
	CodeCircuitOpen      = "CIRCUIT_OPEN"
)

// ChannelError classifies an adapter failure. Transient failures are
// retried with backoff; permanent ones terminate the attempt chain.
type ChannelError struct {
	Code      string
	Permanent bool
	Err       error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Transient wraps a retryable failure (network, timeout, provider 5xx).
func Transient(code string, err error) *ChannelError {
	return &ChannelError{Code: code, Err: err}
}

// Permanent wraps a non-retryable failure (invalid recipient, provider
// 4xx, unconfigured channel).
func Permanent(code string, err error) *ChannelError {
	return &ChannelError{Code: code, Permanent: true, Err: err}
}

// Classify normalizes any adapter error into a ChannelError. Context
// deadline errors become transient timeouts; anything unclassified is
// treated as a transient provider error so it stays retryable.
func Classify(err error) *ChannelError {
	var chErr *ChannelError
	if errors.As(err, &chErr) {
		return chErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(CodeTimeout, err)
	}
	return Transient(CodeProviderError, err)
}

// Registry maps channel types to their adapters. Channels without a
// registered adapter route to a stub that fails with a well-defined
// permanent error instead of silently succeeding.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Channel()] = a
	}
	return &Registry{adapters: m}
}

// Adapter returns the adapter for a channel, or an unconfigured stub.
func (r *Registry) Adapter(channel string) Adapter {
	if a, ok := r.adapters[channel]; ok {
		return a
	}
	return unconfiguredAdapter{channel: channel}
}

// Configured reports whether a real adapter is registered for channel.
func (r *Registry) Configured(channel string) bool {
	_, ok := r.adapters[channel]
	return ok
}

type unconfiguredAdapter struct {
	channel string
}

func (a unconfiguredAdapter) Send(ctx context.Context, n *db.Notification) (string, error) {
	return "", Permanent(CodeUnconfigured, fmt.Errorf("no adapter configured for channel %s", a.channel))
}

func (a unconfiguredAdapter) Channel() string {
	return a.channel
}
