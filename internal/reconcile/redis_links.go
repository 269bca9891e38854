package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Every key carries the {estimates} hash tag, so the scripts below touch a single
// cluster slot.
const defaultKeyPrefix = "{estimates}:"

const addPendingAttempts = 5

var errPendingContended = errors.New("pending entry changed concurrently")

// addPendingScript moves the identity's pending entry to ARGV[1] only if it still
// points at ARGV[3]; KEYS[3] is the set of that previous lead. Returns 0 when stale.
var addPendingScript = redis.NewScript(`
local prev = redis.call('GET', KEYS[1]) or ''
if prev ~= ARGV[3] then
  return 0
end
if prev ~= '' and prev ~= ARGV[1] then
  redis.call('SREM', KEYS[3], ARGV[2])
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[2], ARGV[2])
return 1
`)

var removePendingScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('DEL', KEYS[1])
end
redis.call('SREM', KEYS[2], ARGV[2])
return 1
`)

// RedisLinkStore keeps links, pending entries, delivered flags and claims in Redis so
// several API processes and the scheduler agree on the reconciliation state.
type RedisLinkStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisLinkStore(rdb redis.UniversalClient) *RedisLinkStore {
	return &RedisLinkStore{rdb: rdb, prefix: defaultKeyPrefix}
}

// NewRedisLinkStoreFromURL parses a redis:// or rediss:// URL.
func NewRedisLinkStoreFromURL(redisURL string) (*RedisLinkStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisLinkStore(redis.NewClient(opt)), nil
}

func (s *RedisLinkStore) linkKey(identity string) string { return s.prefix + "link:" + identity }
func (s *RedisLinkStore) pendingIdentityKey(identity string) string {
	return s.prefix + "pending:identity:" + identity
}
func (s *RedisLinkStore) pendingLeadKey(leadID string) string {
	return s.prefix + "pending:lead:" + leadID
}
func (s *RedisLinkStore) deliveredKey(leadID, identity string) string {
	return s.prefix + "delivered:" + pairKey(leadID, identity)
}
func (s *RedisLinkStore) claimKey(leadID, identity string) string {
	return s.prefix + "claim:" + pairKey(leadID, identity)
}

func (s *RedisLinkStore) SetLink(ctx context.Context, identity, leadID string) (string, error) {
	prev, err := s.rdb.GetSet(ctx, s.linkKey(identity), leadID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("set link: %w", err)
	}
	return prev, nil
}

func (s *RedisLinkStore) GetLink(ctx context.Context, identity string) (string, error) {
	return s.getString(ctx, s.linkKey(identity), "get link")
}

func (s *RedisLinkStore) AddPending(ctx context.Context, identity, leadID string) (string, error) {
	identityKey := s.pendingIdentityKey(identity)
	for attempt := 0; attempt < addPendingAttempts; attempt++ {
		prev, err := s.getString(ctx, identityKey, "add pending")
		if err != nil {
			return "", err
		}
		prevKey := s.pendingLeadKey(leadID)
		if prev != "" {
			prevKey = s.pendingLeadKey(prev)
		}
		keys := []string{identityKey, s.pendingLeadKey(leadID), prevKey}
		applied, err := addPendingScript.Run(ctx, s.rdb, keys, leadID, identity, prev).Int()
		if err != nil {
			return "", fmt.Errorf("add pending: %w", err)
		}
		if applied == 1 {
			return prev, nil
		}
	}
	return "", fmt.Errorf("add pending %s: %w", identity, errPendingContended)
}

func (s *RedisLinkStore) RemovePending(ctx context.Context, identity, leadID string) error {
	keys := []string{s.pendingIdentityKey(identity), s.pendingLeadKey(leadID)}
	if err := removePendingScript.Run(ctx, s.rdb, keys, leadID, identity).Err(); err != nil {
		return fmt.Errorf("remove pending: %w", err)
	}
	return nil
}

func (s *RedisLinkStore) PendingLead(ctx context.Context, identity string) (string, error) {
	return s.getString(ctx, s.pendingIdentityKey(identity), "pending lead")
}

func (s *RedisLinkStore) PendingForLead(ctx context.Context, leadID string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, s.pendingLeadKey(leadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("pending for lead: %w", err)
	}
	return members, nil
}

func (s *RedisLinkStore) MarkDelivered(ctx context.Context, leadID, identity string) error {
	if err := s.rdb.Set(ctx, s.deliveredKey(leadID, identity), "1", 0).Err(); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

func (s *RedisLinkStore) IsDelivered(ctx context.Context, leadID, identity string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.deliveredKey(leadID, identity)).Result()
	if err != nil {
		return false, fmt.Errorf("is delivered: %w", err)
	}
	return n > 0, nil
}

func (s *RedisLinkStore) Claim(ctx context.Context, leadID, identity string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.claimKey(leadID, identity), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim delivery: %w", err)
	}
	return ok, nil
}

func (s *RedisLinkStore) Release(ctx context.Context, leadID, identity string) error {
	if err := s.rdb.Del(ctx, s.claimKey(leadID, identity)).Err(); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisLinkStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisLinkStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisLinkStore) getString(ctx context.Context, key, op string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

var _ LinkStore = (*RedisLinkStore)(nil)
