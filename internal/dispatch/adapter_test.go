package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/ArtemKuhestani/Notification/internal/db"
)

func TestClassifyPassesThroughChannelErrors(t *testing.T) {
	orig := Permanent(CodeInvalidRecipient, errors.New("no @"))
	got := Classify(orig)
	if got != orig {
		t.Error("Classify should return the wrapped ChannelError unchanged")
	}
	if !got.Permanent || got.Code != CodeInvalidRecipient {
		t.Errorf("unexpected classification: %+v", got)
	}
}

func TestClassifyDeadlineAsTransientTimeout(t *testing.T) {
	got := Classify(context.DeadlineExceeded)
	if got.Permanent {
		t.Error("timeouts must stay retryable")
	}
	if got.Code != CodeTimeout {
		t.Errorf("code = %s, want %s", got.Code, CodeTimeout)
	}
}

func TestClassifyUnknownAsTransientProviderError(t *testing.T) {
	got := Classify(errors.New("connection reset"))
	if got.Permanent {
		t.Error("unclassified errors must stay retryable")
	}
	if got.Code != CodeProviderError {
		t.Errorf("code = %s, want %s", got.Code, CodeProviderError)
	}
}

func TestChannelErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := Transient(CodeProviderError, inner)
	if !errors.Is(err, inner) {
		t.Error("ChannelError should unwrap to its cause")
	}
}

type stubAdapter struct {
	channel string
}

func (s stubAdapter) Send(ctx context.Context, n *db.Notification) (string, error) {
	return "msg-1", nil
}

func (s stubAdapter) Channel() string { return s.channel }

func TestRegistryRoutesByChannel(t *testing.T) {
	reg := NewRegistry(stubAdapter{channel: db.ChannelEmail})

	if !reg.Configured(db.ChannelEmail) {
		t.Error("EMAIL should be configured")
	}
	if reg.Configured(db.ChannelSMS) {
		t.Error("SMS should not be configured")
	}

	id, err := reg.Adapter(db.ChannelEmail).Send(context.Background(), &db.Notification{})
	if err != nil || id != "msg-1" {
		t.Errorf("Send = (%q, %v), want (msg-1, nil)", id, err)
	}
}

func TestRegistryUnconfiguredChannelFailsPermanently(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Adapter(db.ChannelTelegram).Send(context.Background(), &db.Notification{})
	if err == nil {
		t.Fatal("unconfigured channel must fail the send")
	}
	chErr := Classify(err)
	if !chErr.Permanent || chErr.Code != CodeUnconfigured {
		t.Errorf("unexpected error classification: %+v", chErr)
	}
}
