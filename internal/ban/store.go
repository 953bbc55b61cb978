// Package ban provides identity-based ban management backed by Redis.
// Ban records are stored as simple key-value pairs with TTL-based expiry:
//
//	Key:   ban:<user_id>
//	Value: <reason>
//	TTL:   ban duration
//
// Expiry is lazy: Redis drops the key when the TTL lapses, so there is no
// background sweep and no stale-record cleanup to run.
package ban

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Prefix is the Redis key prefix for ban records.
	Prefix = "ban:"

	// DefaultDuration is the moderation ban length applied on a restricted
	// word violation. Deliberately short: the ban is a cooldown, not a
	// punishment, and admins apply longer bans through the persistent store.
	DefaultDuration = 15 * time.Second
)

// Store manages ban records in Redis. There is at most one active record per
// identity; banning an already banned identity overwrites the reason and
// restarts the TTL, which is exactly the "new violation extends the ban"
// behavior we want.
type Store struct {
	client *redis.Client
}

// NewStore creates a ban store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsBanned checks whether userID is currently banned.
// Returns (isBanned, remainingSeconds, reason, error). If the identity is not
// banned, isBanned is false and the other return values are zero/empty.
// Redis errors are returned so callers can decide how to handle them; the
// gateway fails open at connect time so a Redis outage does not lock
// everyone out.
func (s *Store) IsBanned(ctx context.Context, userID string) (bool, int, string, error) {
	key := Prefix + userID

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// The ban exists but the TTL read failed. Report banned with 0
		// remaining rather than swallowing the ban.
		return true, 0, reason, nil
	}

	remaining := 0
	if ttl > 0 {
		remaining = int(ttl.Seconds())
	}

	return true, remaining, reason, nil
}

// Ban sets a ban on userID with the given duration and reason. The ban
// automatically expires after the duration lapses.
func (s *Store) Ban(ctx context.Context, userID string, duration time.Duration, reason string) error {
	key := Prefix + userID
	return s.client.Set(ctx, key, reason, duration).Err()
}

// Unban removes a ban immediately. Used by admin tooling.
func (s *Store) Unban(ctx context.Context, userID string) error {
	key := Prefix + userID
	return s.client.Del(ctx, key).Err()
}
