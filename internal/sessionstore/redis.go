package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/xonecas/agentrt/internal/session"
)

const redisKeyPrefix = "session:"

// RedisStorage persists one string key per session (session:{id}) holding
// the same pretty-printed JSON document the file backend writes, with
// list() implemented via SCAN MATCH "session:*" (SPEC_FULL.md's Redis
// domain-stack wiring for C7).
type RedisStorage struct {
	client *redis.Client
}

// NewRedisStorage wraps an existing Redis client.
func NewRedisStorage(client *redis.Client) *RedisStorage {
	return &RedisStorage{client: client}
}

func redisKey(id string) string { return redisKeyPrefix + id }

func (r *RedisStorage) Save(ctx context.Context, state session.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionstore: marshal %s: %w", state.ID, err)
	}
	if err := r.client.Set(ctx, redisKey(state.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("sessionstore: redis set %s: %w", state.ID, err)
	}
	return nil
}

func (r *RedisStorage) Load(ctx context.Context, id string) (session.State, error) {
	data, err := r.client.Get(ctx, redisKey(id)).Bytes()
	if err == redis.Nil {
		return session.State{}, ErrNotFound
	}
	if err != nil {
		return session.State{}, fmt.Errorf("sessionstore: redis get %s: %w", id, err)
	}
	var state session.State
	if err := json.Unmarshal(data, &state); err != nil {
		return session.State{}, fmt.Errorf("sessionstore: unmarshal %s: %w", id, err)
	}
	return state, nil
}

func (r *RedisStorage) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("sessionstore: redis del %s: %w", id, err)
	}
	return nil
}

func (r *RedisStorage) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), redisKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("sessionstore: redis scan: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
