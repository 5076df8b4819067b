package counter

import (
	"context"
	"testing"
	"time"
)

func TestLimiterAllowsUpToBudget(t *testing.T) {
	l := newLimiter(time.Minute, 3, time.Now)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("in-budget calls must not be delayed")
	}
}

func TestLimiterDelaysExcessCalls(t *testing.T) {
	l := newLimiter(150*time.Millisecond, 2, time.Now)
	ctx := context.Background()

	l.wait(ctx)
	l.wait(ctx)

	// The third call is delayed, not dropped.
	start := time.Now()
	if err := l.wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("expected the exceeding call to be delayed, waited only %v", elapsed)
	}
}

func TestLimiterRespectsContext(t *testing.T) {
	l := newLimiter(time.Hour, 1, time.Now)
	l.wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.wait(ctx); err == nil {
		t.Error("expected context error while saturated")
	}
}
