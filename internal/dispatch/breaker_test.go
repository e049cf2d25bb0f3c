package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ArtemKuhestani/Notification/internal/circuitbreaker"
	"github.com/ArtemKuhestani/Notification/internal/db"
)

func TestProtectedAdapterFailsFastWhenOpen(t *testing.T) {
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:            db.ChannelEmail,
		MaxFailures:     2,
		RecoveryTimeout: time.Hour,
	}, zap.NewNop())

	adapter := &scriptedAdapter{
		channel: db.ChannelEmail,
		results: []error{
			Transient(CodeProviderError, errors.New("503")),
			Transient(CodeProviderError, errors.New("503")),
		},
	}
	protected := Protect(adapter, breaker, zap.NewNop())
	ctx := context.Background()
	n := pendingNotification(db.ChannelEmail)

	for i := 0; i < 2; i++ {
		if _, err := protected.Send(ctx, n); err == nil {
			t.Fatalf("send %d should fail", i)
		}
	}

	// Breaker is open now: the adapter must not be reached.
	callsBefore := adapter.calls
	_, err := protected.Send(ctx, n)
	if err == nil {
		t.Fatal("open breaker must reject the send")
	}
	chErr := Classify(err)
	if chErr.Permanent {
		t.Error("breaker rejection must stay retryable")
	}
	if chErr.Code != CodeCircuitOpen {
		t.Errorf("code = %s, want %s", chErr.Code, CodeCircuitOpen)
	}
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Error("error should unwrap to circuitbreaker.ErrOpen")
	}
	if adapter.calls != callsBefore {
		t.Error("adapter must not be invoked while the breaker is open")
	}
}

func TestProtectedAdapterRecordsSuccess(t *testing.T) {
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(db.ChannelEmail), zap.NewNop())
	protected := Protect(&scriptedAdapter{channel: db.ChannelEmail}, breaker, zap.NewNop())

	id, err := protected.Send(context.Background(), pendingNotification(db.ChannelEmail))
	if err != nil || id != "provider-msg-1" {
		t.Fatalf("Send = (%q, %v)", id, err)
	}
	if breaker.GetState() != circuitbreaker.StateClosed {
		t.Error("breaker should stay closed after success")
	}
	if protected.Channel() != db.ChannelEmail {
		t.Errorf("channel = %s", protected.Channel())
	}
}
