package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/mikey/llm-mail-triage/internal/core"
)

func TestAcquireWithinBurst(t *testing.T) {
	l := New(1, 3, 50*time.Millisecond)
	for i := 0; i < 3; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
}

func TestAcquireTimesOutAsRateLimit(t *testing.T) {
	l := New(0.001, 1, 20*time.Millisecond)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	err := l.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected bounded wait to give up")
	}
	re, ok := core.AsRateLimit(err)
	if !ok {
		t.Fatalf("err = %v, want *core.RateLimitError", err)
	}
	if re.RetryAfter != 20*time.Millisecond {
		t.Fatalf("retry-after = %v", re.RetryAfter)
	}
}

func TestAcquireHonorsCallerCancellation(t *testing.T) {
	l := New(0.001, 1, time.Minute)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := l.Acquire(ctx)
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled, shutdown is not a rate limit", err)
	}
}
