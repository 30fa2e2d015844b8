package globaltime

import (
	"testing"
	"time"
)

func TestMockClock(t *testing.T) {
	defer ResetTime()

	start := time.Date(2026, 3, 3, 8, 0, 0, 0, time.FixedZone("EET", 2*60*60))
	SetMockTime(start)
	if got := UTC(); !got.Equal(start) || got.Location() != time.UTC {
		t.Fatalf("UTC() = %v, want %v in UTC", got, start)
	}

	Advance(90 * time.Minute)
	if got := Since(start); got != 90*time.Minute {
		t.Fatalf("Since() = %v, want 90m", got)
	}

	ResetTime()
	if Since(start) < 24*time.Hour {
		t.Fatalf("expected real clock after reset")
	}
}
