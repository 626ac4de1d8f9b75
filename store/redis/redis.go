package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/debategraph/store"
)

// RedisCheckpointStore implements store.CheckpointStore using Redis
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var (
	_ store.CheckpointStore = (*RedisCheckpointStore)(nil)
	_ store.HistoryStore    = (*RedisCheckpointStore)(nil)
)

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "debate:"
	TTL      time.Duration // Expiration for sessions, default 0 (no expiration)
}

// NewRedisCheckpointStore creates a new Redis checkpoint store
func NewRedisCheckpointStore(opts RedisOptions) *RedisCheckpointStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "debate:"
	}

	return &RedisCheckpointStore{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}
}

// Close closes the underlying client
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}

func (s *RedisCheckpointStore) sessionKey(id string) string {
	return fmt.Sprintf("%ssession:%s", s.prefix, id)
}

func (s *RedisCheckpointStore) historyKey(id string) string {
	return fmt.Sprintf("%ssession:%s:history", s.prefix, id)
}

func (s *RedisCheckpointStore) indexKey() string {
	return s.prefix + "sessions"
}

// Save stores the latest checkpoint, appends it to the session history and
// bumps the session in the recency index, all in one MULTI/EXEC.
func (s *RedisCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	key := s.sessionKey(checkpoint.SessionID)
	histKey := s.historyKey(checkpoint.SessionID)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.RPush(ctx, histKey, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, histKey, s.ttl)
	}
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(checkpoint.UpdatedAt.UnixNano()),
		Member: checkpoint.SessionID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint to redis: %w", err)
	}
	return nil
}

// Load retrieves the latest checkpoint of a session
func (s *RedisCheckpointStore) Load(ctx context.Context, sessionID string) (*store.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint from redis: %w", err)
	}

	var checkpoint store.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// ListSessions returns session ids, most recently updated first.
// Sessions whose keys expired are pruned from the index lazily.
func (s *RedisCheckpointStore) ListSessions(ctx context.Context) ([]string, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 || s.ttl == 0 {
		return ids, nil
	}

	pipe := s.client.Pipeline()
	exists := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		exists[i] = pipe.Exists(ctx, s.sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to check sessions: %w", err)
	}

	live := ids[:0]
	var stale []any
	for i, id := range ids {
		if exists[i].Val() > 0 {
			live = append(live, id)
		} else {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
		}
	}
	return live, nil
}

// History returns every checkpoint written for a session in write order
func (s *RedisCheckpointStore) History(ctx context.Context, sessionID string) ([]*store.Checkpoint, error) {
	raw, err := s.client.LRange(ctx, s.historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if len(raw) == 0 {
		return nil, store.ErrNotFound
	}

	checkpoints := make([]*store.Checkpoint, 0, len(raw))
	for _, item := range raw {
		var checkpoint store.Checkpoint
		if err := json.Unmarshal([]byte(item), &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, &checkpoint)
	}
	return checkpoints, nil
}

// Delete removes a session, its history and its index entry
func (s *RedisCheckpointStore) Delete(ctx context.Context, sessionID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(sessionID), s.historyKey(sessionID))
	pipe.ZRem(ctx, s.indexKey(), sessionID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
