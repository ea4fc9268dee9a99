package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/valkyrsec/vault-guard/internal/token"
)

// RedisRegistry stores sessions in Redis as JSON values with native TTLs,
// plus a per-user index set used by ListByUser and DestroyAllForUser. It is
// the drop-in external backend for deployments that outgrow the in-memory
// authority.
type RedisRegistry struct {
	redis  redis.UniversalClient
	prefix string
	cfg    Config
}

// NewRedisRegistry creates a registry on the given client. prefix namespaces
// all keys; empty falls back to "vg".
func NewRedisRegistry(client redis.UniversalClient, prefix string, cfg Config) *RedisRegistry {
	if prefix == "" {
		prefix = "vg"
	}
	return &RedisRegistry{
		redis:  client,
		prefix: prefix,
		cfg:    cfg.withDefaults(),
	}
}

func (r *RedisRegistry) key(tok string) string {
	return r.prefix + ":s:" + tok
}

func (r *RedisRegistry) userKey(userID string) string {
	return r.prefix + ":u:" + userID
}

func (r *RedisRegistry) Create(ctx context.Context, userID string, remember bool, address, userAgent string) (*Session, error) {
	tok, err := token.New()
	if err != nil {
		return nil, err
	}

	now := r.cfg.Now()
	lifetime := r.cfg.lifetime(remember)
	s := &Session{
		Token:        tok,
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(lifetime),
		Remember:     remember,
		Address:      address,
		UserAgent:    userAgent,
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(tok), data, lifetime)
		pipe.SAdd(ctx, r.userKey(userID), tok)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := *s
	return &out, nil
}

func (r *RedisRegistry) Validate(ctx context.Context, tok string) (*Session, error) {
	s, err := r.load(ctx, tok)
	if err != nil || s == nil {
		return nil, err
	}

	now := r.cfg.Now()
	s.LastActivity = now
	ok, err := r.storeExisting(ctx, s, s.ExpiresAt.Sub(now))
	if err != nil {
		return nil, err
	}
	if !ok {
		// Destroyed between load and write-back; the destroy wins.
		return nil, nil
	}

	out := *s
	return &out, nil
}

func (r *RedisRegistry) Refresh(ctx context.Context, tok string) (*Session, error) {
	s, err := r.load(ctx, tok)
	if err != nil || s == nil {
		return nil, err
	}

	now := r.cfg.Now()
	lifetime := r.cfg.lifetime(s.Remember)
	s.LastActivity = now
	s.ExpiresAt = now.Add(lifetime)
	ok, err := r.storeExisting(ctx, s, lifetime)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	out := *s
	return &out, nil
}

func (r *RedisRegistry) Destroy(ctx context.Context, tok string) error {
	data, err := r.redis.Get(ctx, r.key(tok)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		// Corrupt record: still drop the key so the token dies.
		if err := r.redis.Del(ctx, r.key(tok)).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	}

	return r.deleteWithIndex(ctx, tok, s.UserID)
}

func (r *RedisRegistry) DestroyAllForUser(ctx context.Context, userID string) (int, error) {
	tokens, err := r.redis.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	keys := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		keys = append(keys, r.key(tok))
	}

	var delCmd *redis.IntCmd
	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			delCmd = pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, r.userKey(userID))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if delCmd == nil {
		return 0, nil
	}
	return int(delCmd.Val()), nil
}

func (r *RedisRegistry) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	tokens, err := r.redis.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	pipe := r.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(tokens))
	for i, tok := range tokens {
		cmds[i] = pipe.Get(ctx, r.key(tok))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := r.cfg.Now()
	var out []*Session
	var stale []interface{}
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, tokens[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, cmdErr)
		}

		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			stale = append(stale, tokens[i])
			continue
		}
		if !s.Valid(now) {
			continue
		}
		c := s
		out = append(out, &c)
	}

	if len(stale) > 0 {
		_ = r.redis.SRem(ctx, r.userKey(userID), stale...).Err()
	}
	return out, nil
}

// SweepExpired reconciles the per-user index sets: Redis TTLs already drop
// expired session values, so the sweep only removes index entries whose
// session key is gone. Returns the number of index entries removed.
func (r *RedisRegistry) SweepExpired(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)

	for {
		keys, next, err := r.redis.Scan(ctx, cursor, r.prefix+":u:*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		for _, userKey := range keys {
			tokens, err := r.redis.SMembers(ctx, userKey).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}

			for _, tok := range tokens {
				exists, err := r.redis.Exists(ctx, r.key(tok)).Result()
				if err != nil {
					return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
				}
				if exists == 0 {
					if err := r.redis.SRem(ctx, userKey, tok).Err(); err != nil {
						return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
					}
					removed++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (r *RedisRegistry) load(ctx context.Context, tok string) (*Session, error) {
	if token.Check(tok) != nil {
		return nil, nil
	}

	data, err := r.redis.Get(ctx, r.key(tok)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		_ = r.redis.Del(ctx, r.key(tok)).Err()
		return nil, nil
	}

	if !s.Valid(r.cfg.Now()) {
		if err := r.deleteWithIndex(ctx, tok, s.UserID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &s, nil
}

// storeExisting writes the record back only while its key is still present
// (SET with XX). A concurrent destroy between load and write-back therefore
// stands: the SET becomes a no-op and the caller sees the session as gone.
func (r *RedisRegistry) storeExisting(ctx context.Context, s *Session, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	data, err := json.Marshal(s)
	if err != nil {
		return false, err
	}
	ok, err := r.redis.SetXX(ctx, r.key(s.Token), data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ok, nil
}

func (r *RedisRegistry) deleteWithIndex(ctx context.Context, tok, userID string) error {
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(tok))
		pipe.SRem(ctx, r.userKey(userID), tok)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
