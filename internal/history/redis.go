package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/querypilot/querypilot/internal/config"
)

const keyPrefix = "querypilot:history"

// RedisStore keeps each session's entries in a capped list that expires
// after the configured TTL of inactivity.
type RedisStore struct {
	client   *redis.Client
	ttl      time.Duration
	maxTurns int
}

func NewRedisStore(ctx context.Context, cfg config.HistoryConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, ttl: cfg.TTL, maxTurns: cfg.MaxTurns}, nil
}

func (s *RedisStore) NextTurnID(ctx context.Context, sessionID string) (int64, error) {
	key := counterKey(sessionID)
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("next turn id: %w", err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	key := entriesKey(sessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if s.maxTurns > 0 {
			pipe.LTrim(ctx, key, int64(-s.maxTurns), -1)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history entry: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, sessionID string) ([]Entry, error) {
	raw, err := s.client.LRange(ctx, entriesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list history entries: %w", err)
	}
	return decodeEntries(raw)
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, entriesKey(sessionID), counterKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeEntries(raw []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(raw))
	for i, item := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("decode history entry %d: %w", i, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func entriesKey(sessionID string) string {
	return keyPrefix + ":" + sessionID + ":turns"
}

func counterKey(sessionID string) string {
	return keyPrefix + ":" + sessionID + ":seq"
}
