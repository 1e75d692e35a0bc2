package transport

import (
	"net/http"
	"testing"
	"time"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second, Retries: 5}

	tests := []struct {
		attempt int
		want    time.Duration
		ok      bool
	}{
		{0, 100 * time.Millisecond, true},
		{1, 200 * time.Millisecond, true},
		{3, 800 * time.Millisecond, true},
		{4, time.Second, true},
		{5, 0, false},
	}
	for _, tt := range tests {
		got, ok := b.Delay(tt.attempt)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Delay(%d) = %v, %v; want %v, %v", tt.attempt, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBackoff_JitterStaysInRange(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute, Retries: 1, Jitter: 0.2}
	for range 100 {
		d, ok := b.Delay(0)
		if !ok || d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("Delay(0) = %v, want within 20%% of 1s", d)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if got := retryAfter("7", now); got != 7*time.Second {
		t.Errorf("seconds: got %v", got)
	}
	if got := retryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now); got != 30*time.Second {
		t.Errorf("http date: got %v", got)
	}
	if got := retryAfter("soon", now); got != 0 {
		t.Errorf("garbage: got %v", got)
	}
	if got := retryAfter("", now); got != 0 {
		t.Errorf("empty: got %v", got)
	}
}
