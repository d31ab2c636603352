package backoff

import (
	"context"
	"testing"
	"time"
)

func TestPolicy_Wait_ExponentialCurve(t *testing.T) {
	p := Policy{Factor: 1, MaxWait: 5 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second}, // capped
		{10, 5 * time.Second},
	}
	for _, c := range cases {
		if got := p.Wait(c.attempt); got != c.want {
			t.Errorf("Wait(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestPolicy_Wait_ZeroFactorDisablesWaiting(t *testing.T) {
	p := Policy{Factor: 0, MaxWait: time.Minute}
	for attempt := 0; attempt < 4; attempt++ {
		if got := p.Wait(attempt); got != 0 {
			t.Fatalf("Wait(%d) = %v, want 0", attempt, got)
		}
	}
}

func TestPolicy_Exhausted(t *testing.T) {
	p := Policy{Count: 2}
	if p.Exhausted(0) || p.Exhausted(1) {
		t.Fatal("attempts within budget reported as exhausted")
	}
	if !p.Exhausted(2) {
		t.Fatal("attempt beyond budget not reported as exhausted")
	}
	unbounded := Policy{Count: 0}
	if unbounded.Exhausted(100) {
		t.Fatal("unbounded policy reported as exhausted")
	}
}

func TestSleep_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := Sleep(ctx, time.Minute)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Sleep did not return promptly after cancel: %v", elapsed)
	}
}

func TestSleep_ZeroDuration(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
