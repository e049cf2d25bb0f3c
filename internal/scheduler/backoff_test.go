package scheduler

import (
	"testing"
	"time"
)

func TestBackoffGrowsExponentially(t *testing.T) {
	backoff := Backoff(BackoffConfig{
		Base:   30 * time.Second,
		Cap:    30 * time.Minute,
		Jitter: 0, // deterministic
	})

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 30 * time.Second},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
	}
	for _, tt := range tests {
		if got := backoff(tt.retryCount); got != tt.want {
			t.Errorf("backoff(%d) = %s, want %s", tt.retryCount, got, tt.want)
		}
	}
}

func TestBackoffRespectsCap(t *testing.T) {
	backoff := Backoff(BackoffConfig{
		Base:   30 * time.Second,
		Cap:    30 * time.Minute,
		Jitter: 0,
	})

	for _, retryCount := range []int{10, 20, 63, 1000} {
		if got := backoff(retryCount); got != 30*time.Minute {
			t.Errorf("backoff(%d) = %s, want cap %s", retryCount, got, 30*time.Minute)
		}
	}
}

func TestBackoffJitterStaysInBand(t *testing.T) {
	base := time.Minute
	backoff := Backoff(BackoffConfig{
		Base:   base,
		Cap:    time.Hour,
		Jitter: 0.2,
	})

	lo := time.Duration(float64(base) * 0.8)
	hi := time.Duration(float64(base) * 1.2)
	for i := 0; i < 1000; i++ {
		got := backoff(0)
		if got < lo || got > hi {
			t.Fatalf("backoff(0) = %s, want within [%s, %s]", got, lo, hi)
		}
	}
}

func TestBackoffNegativeRetryCount(t *testing.T) {
	backoff := Backoff(BackoffConfig{Base: time.Second, Cap: time.Minute, Jitter: 0})
	if got := backoff(-5); got != time.Second {
		t.Errorf("backoff(-5) = %s, want %s", got, time.Second)
	}
}

func TestBackoffDefaults(t *testing.T) {
	backoff := Backoff(BackoffConfig{Jitter: -1})
	got := backoff(0)
	lo := time.Duration(float64(30*time.Second) * 0.8)
	hi := time.Duration(float64(30*time.Second) * 1.2)
	if got < lo || got > hi {
		t.Errorf("default backoff(0) = %s, want near 30s", got)
	}
}
