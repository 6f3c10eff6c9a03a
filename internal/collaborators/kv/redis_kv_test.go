package kv

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/solbotswarm/orchestrator/pkg/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(&database.RedisClient{Client: client})
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "ns", "k1", []byte("v1")))
	val, ok, err := s.Get(ctx, "ns", "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(val))
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get(context.Background(), "ns", "absent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteRemovesKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "ns", "k1", []byte("v1")))
	require.NoError(t, s.Delete(ctx, "ns", "k1"))
	_, ok, err := s.Get(ctx, "ns", "k1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCASSucceedsOnMatchingOldValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "ns", "k1", []byte("v1")))

	ok, err := s.CAS(ctx, "ns", "k1", []byte("v1"), []byte("v2"))
	require.NoError(t, err)
	require.True(t, ok)

	val, _, _ := s.Get(ctx, "ns", "k1")
	require.Equal(t, "v2", string(val))
}

func TestCASFailsOnStaleOldValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "ns", "k1", []byte("v1")))

	ok, err := s.CAS(ctx, "ns", "k1", []byte("wrong"), []byte("v2"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCASRequiresAbsenceWhenOldValueNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.CAS(ctx, "ns", "new-key", nil, []byte("v1"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.CAS(ctx, "ns", "new-key", nil, []byte("v2"))
	require.NoError(t, err)
	require.False(t, ok)
}
