package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// newTestLimiter connects to a local Redis or skips the test.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at localhost:6379: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return NewLimiter(client)
}

func TestAllowUpToLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	id := uuid.New().String()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: 10 * time.Second}

	for i := 0; i < rule.Limit; i++ {
		allowed, err := l.Allow(ctx, id, rule)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, err := l.Allow(ctx, id, rule)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Error("request over the limit must be denied")
	}

	if retry := l.RetryAfter(ctx, id, rule); retry <= 0 || retry > int(rule.Window.Seconds()) {
		t.Errorf("RetryAfter out of range: %d", retry)
	}
}

func TestWindowResets(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	id := uuid.New().String()
	rule := Rule{Key: "rl:test:", Limit: 1, Window: time.Second}

	if allowed, _ := l.Allow(ctx, id, rule); !allowed {
		t.Fatal("first request must be allowed")
	}
	if allowed, _ := l.Allow(ctx, id, rule); allowed {
		t.Fatal("second request must be denied")
	}

	time.Sleep(1100 * time.Millisecond)

	if allowed, _ := l.Allow(ctx, id, rule); !allowed {
		t.Error("request after the window lapses must be allowed")
	}
}

func TestRemaining(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	id := uuid.New().String()
	rule := Rule{Key: "rl:test:", Limit: 5, Window: 10 * time.Second}

	if n, _ := l.Remaining(ctx, id, rule); n != rule.Limit {
		t.Errorf("untouched identifier should have the full limit, got %d", n)
	}

	l.Allow(ctx, id, rule)
	l.Allow(ctx, id, rule)

	if n, _ := l.Remaining(ctx, id, rule); n != 3 {
		t.Errorf("expected 3 remaining, got %d", n)
	}
}
