package schedtime

import (
	"testing"
	"time"
)

func TestNextActivationAdvancesByPeriod(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 999_000_000, time.UTC)
	period := 2 * time.Millisecond
	next := NextActivation(base, period)
	if !next.Equal(base.Add(period)) {
		t.Fatalf("NextActivation = %v, want %v", next, base.Add(period))
	}
}

func TestMonotonicSleeperReturnsImmediatelyForPastDeadline(t *testing.T) {
	start := time.Now()
	MonotonicSleeper{}.SleepUntil(start.Add(-time.Hour))
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("SleepUntil with a past deadline took too long")
	}
}
