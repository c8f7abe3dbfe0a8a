package ratelimit

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestLimiterWindow(t *testing.T) {
	clk := clock.NewMock()
	l := New(clk, 2, 10*time.Second)
	defer l.Stop()

	if !l.Allow("k") || !l.Allow("k") {
		t.Fatal("first two calls rejected")
	}
	if l.Allow("k") {
		t.Fatal("third call allowed")
	}
	if !l.Allow("other") {
		t.Fatal("keys are not independent")
	}

	clk.Add(4 * time.Second)
	if got := l.RetryAfterSeconds("k"); got != 6 {
		t.Fatalf("RetryAfterSeconds = %d, want 6", got)
	}

	clk.Add(6 * time.Second)
	if !l.Allow("k") {
		t.Fatal("call in new window rejected")
	}
}

func TestLimiterReset(t *testing.T) {
	l := New(clock.NewMock(), 1, time.Minute)
	defer l.Stop()

	l.Allow("k")
	if l.Allow("k") {
		t.Fatal("over-limit call allowed")
	}
	l.Reset("k")
	if !l.Allow("k") {
		t.Fatal("call after reset rejected")
	}
}

func TestLimiterCleanupDropsExpired(t *testing.T) {
	clk := clock.NewMock()
	l := New(clk, 1, 30*time.Second)
	defer l.Stop()

	l.Allow("a")
	l.Allow("b")
	clk.Add(31 * time.Second)
	l.cleanup()

	if n := l.Len(); n != 0 {
		t.Fatalf("Len = %d after cleanup, want 0", n)
	}
}

func TestFormatRetryMessage(t *testing.T) {
	if got := FormatRetryMessage(45); got != "45 second(s)" {
		t.Fatalf("got %q", got)
	}
	if got := FormatRetryMessage(150); got != "2 minute(s)" {
		t.Fatalf("got %q", got)
	}
}
