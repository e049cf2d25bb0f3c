package db

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusPending, StatusSending, true},
		{StatusPending, StatusExpired, true},
		{StatusSending, StatusSent, true},
		{StatusSending, StatusFailed, true},
		{StatusFailed, StatusPending, true},
		{StatusFailed, StatusExpired, true},
		{StatusExpired, StatusPending, true},
		{StatusSent, StatusDelivered, true},

		{StatusPending, StatusSent, false},
		{StatusPending, StatusFailed, false},
		{StatusSending, StatusPending, false},
		{StatusSent, StatusFailed, false},
		{StatusSent, StatusPending, false},
		{StatusDelivered, StatusPending, false},
		{StatusDelivered, StatusExpired, false},
		{StatusExpired, StatusSending, false},
		{StatusFailed, StatusSent, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCheckTransition(t *testing.T) {
	if err := CheckTransition(StatusFailed, StatusPending); err != nil {
		t.Errorf("FAILED -> PENDING should be legal: %v", err)
	}
	if err := CheckTransition(StatusDelivered, StatusPending); err == nil {
		t.Error("DELIVERED -> PENDING should be rejected")
	}
	if err := CheckTransition(StatusSent, StatusExpired); err == nil {
		t.Error("SENT -> EXPIRED should be rejected")
	}
}

func TestTerminal(t *testing.T) {
	if !Terminal(StatusDelivered) || !Terminal(StatusExpired) {
		t.Error("DELIVERED and EXPIRED are terminal")
	}
	for _, s := range []string{StatusPending, StatusSending, StatusSent, StatusFailed} {
		if Terminal(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
