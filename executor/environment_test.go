package executor

import (
	"testing"
	"time"
)

func TestEnvironmentExpiry(t *testing.T) {
	now := time.Now()
	env := &Environment{
		CreatedAt:   now.Add(-time.Hour),
		LastReset:   now.Add(-time.Minute),
		TTLDeadline: now.Add(time.Minute),
	}

	if env.Expired(now) {
		t.Fatal("expired before TTL deadline")
	}
	if !env.Expired(now.Add(2 * time.Minute)) {
		t.Fatal("not expired after TTL deadline")
	}
	if got := env.Age(now); got != time.Hour {
		t.Fatalf("Age = %s, want 1h", got)
	}
}

func TestEnvironmentIdle(t *testing.T) {
	now := time.Now()
	env := &Environment{LastReset: now.Add(-10 * time.Minute)}

	if !env.IdleTooLong(now, 5*time.Minute) {
		t.Fatal("idle past limit not flagged")
	}
	if env.IdleTooLong(now, 15*time.Minute) {
		t.Fatal("flagged idle below limit")
	}
	if env.IdleTooLong(now, 0) {
		t.Fatal("zero maxIdle must disable the idle check")
	}
}
