package relay

import (
	"testing"
	"time"
)

func TestRateLimiter_AdmitUpToLimit(t *testing.T) {
	rl := NewRateLimiter(5, time.Second)
	now := time.Now()

	for i := 0; i < 5; i++ {
		if !rl.Admit("u1", now.Add(time.Duration(i)*100*time.Millisecond)) {
			t.Fatalf("event %d should be admitted", i+1)
		}
	}
	if rl.Admit("u1", now.Add(500*time.Millisecond)) {
		t.Fatal("event 6 within the window should be rejected")
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	rl := NewRateLimiter(5, time.Second)
	now := time.Now()

	for i := 0; i < 5; i++ {
		rl.Admit("u1", now)
	}
	if rl.Admit("u1", now.Add(900*time.Millisecond)) {
		t.Fatal("still within window, should be rejected")
	}
	if !rl.Admit("u1", now.Add(time.Second)) {
		t.Fatal("after the window has passed, should be admitted")
	}
}

func TestRateLimiter_RejectionNotRecorded(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	now := time.Now()

	rl.Admit("u1", now)
	rl.Admit("u1", now)
	// Rejected attempts must not extend the occupancy of the window.
	for i := 0; i < 10; i++ {
		rl.Admit("u1", now.Add(500*time.Millisecond))
	}
	if !rl.Admit("u1", now.Add(time.Second)) {
		t.Fatal("rejections should not count against the window")
	}
}

func TestRateLimiter_UsersIndependent(t *testing.T) {
	rl := NewRateLimiter(1, time.Second)
	now := time.Now()

	if !rl.Admit("u1", now) {
		t.Fatal("u1 first event should be admitted")
	}
	if !rl.Admit("u2", now) {
		t.Fatal("u2 should not be affected by u1's window")
	}
	if rl.Admit("u1", now) {
		t.Fatal("u1 second event should be rejected")
	}
}

func TestRateLimiter_TrailingWindowProperty(t *testing.T) {
	// For any sequence of events, no trailing 1s window ever holds more
	// than limit admitted events.
	const limit = 5
	rl := NewRateLimiter(limit, time.Second)
	base := time.Now()

	var admitted []time.Time
	for i := 0; i < 200; i++ {
		now := base.Add(time.Duration(i*37) * time.Millisecond)
		if rl.Admit("u1", now) {
			admitted = append(admitted, now)
		}
	}

	for i := range admitted {
		count := 0
		for j := 0; j <= i; j++ {
			if admitted[i].Sub(admitted[j]) < time.Second {
				count++
			}
		}
		if count > limit {
			t.Fatalf("window ending at %v holds %d admitted events", admitted[i], count)
		}
	}
}

func TestRateLimiter_SaturatedCount(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	now := time.Now()

	rl.Admit("u1", now)
	rl.Admit("u1", now)
	rl.Admit("u2", now)

	if got := rl.SaturatedCount(now); got != 1 {
		t.Errorf("saturated = %d, want 1", got)
	}
	if got := rl.SaturatedCount(now.Add(2 * time.Second)); got != 0 {
		t.Errorf("saturated after window = %d, want 0", got)
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.limit != DefaultRateLimit || rl.window != DefaultRateWindow {
		t.Errorf("defaults = %d %v", rl.limit, rl.window)
	}
}
