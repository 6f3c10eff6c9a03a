// Package kv adapts the teacher's RedisClient (pkg/database/redis.go) to
// the orchestrator's namespaced KVStore contract, used by the Task Queue
// for durability across process restarts.
package kv

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/solbotswarm/orchestrator/pkg/database"
)

// casScript atomically compares the current value against oldValue and, if
// equal, sets newValue. Absent oldValue (empty string) means "key must not
// currently exist". Returns 1 on a successful swap, 0 otherwise.
const casScript = `
local cur = redis.call("GET", KEYS[1])
if ARGV[1] == "" then
  if cur then return 0 end
else
  if cur ~= ARGV[1] then return 0 end
end
if ARGV[2] == "" then
  redis.call("DEL", KEYS[1])
else
  redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`

// Store implements collaborators.KVStore over a single Redis instance.
type Store struct {
	client *database.RedisClient
}

// New constructs a Store backed by an already-connected RedisClient.
func New(client *database.RedisClient) *Store {
	return &Store{client: client}
}

func fullKey(namespace, key string) string {
	return namespace + ":" + key
}

// Get reads a value; the second return is false when the key is absent.
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, fullKey(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set unconditionally writes value, with no expiry.
func (s *Store) Set(ctx context.Context, namespace, key string, value []byte) error {
	return s.client.Set(ctx, fullKey(namespace, key), value, 0).Err()
}

// Delete removes a key; deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	return s.client.Del(ctx, fullKey(namespace, key)).Err()
}

// CAS atomically swaps oldValue for newValue under namespace/key. A nil
// oldValue means the key must not currently exist; a nil newValue deletes
// the key on a successful swap.
func (s *Store) CAS(ctx context.Context, namespace, key string, oldValue, newValue []byte) (bool, error) {
	res, err := s.client.Eval(ctx, casScript, []string{fullKey(namespace, key)}, string(oldValue), string(newValue)).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
