package ban

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store connected to a local Redis instance and flushes
// leftover test keys before returning. Tests that call this helper require a
// running Redis on localhost:6379 and are skipped otherwise.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	cleanup := func() {
		iter := client.Scan(ctx, 0, Prefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewStore(client)
}

func TestIsBanned_NotBanned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	banned, remaining, reason, err := store.IsBanned(ctx, "test_no_ban")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if banned {
		t.Errorf("expected not banned, got banned (remaining=%d reason=%q)", remaining, reason)
	}
}

func TestBanAndCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_ban_check"

	if err := store.Ban(ctx, id, 30*time.Second, "badword, slur"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}

	banned, remaining, reason, err := store.IsBanned(ctx, id)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if !banned {
		t.Fatal("expected banned=true")
	}
	if reason != "badword, slur" {
		t.Errorf("expected reason %q, got %q", "badword, slur", reason)
	}
	if remaining <= 0 || remaining > 30 {
		t.Errorf("expected remaining in (0,30], got %d", remaining)
	}
}

func TestBan_NewViolationExtendsExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_extend"

	if err := store.Ban(ctx, id, 2*time.Second, "first"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}
	if err := store.Ban(ctx, id, 30*time.Second, "second"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}

	banned, remaining, reason, err := store.IsBanned(ctx, id)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if !banned {
		t.Fatal("expected banned=true")
	}
	if reason != "second" {
		t.Errorf("expected reason overwritten to %q, got %q", "second", reason)
	}
	if remaining <= 2 {
		t.Errorf("expected TTL restarted beyond original 2s, got %ds remaining", remaining)
	}
}

func TestBan_LazyExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_expiry"

	if err := store.Ban(ctx, id, time.Second, "short"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)

	banned, _, _, err := store.IsBanned(ctx, id)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if banned {
		t.Error("expected ban to have expired")
	}
}

func TestUnban(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_unban"

	if err := store.Ban(ctx, id, time.Minute, "test"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}
	if err := store.Unban(ctx, id); err != nil {
		t.Fatalf("Unban() error: %v", err)
	}

	banned, _, _, err := store.IsBanned(ctx, id)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if banned {
		t.Error("expected not banned after Unban()")
	}
}
