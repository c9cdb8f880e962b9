package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStashRoundTrip(t *testing.T) {
	withRedisStash(func(stash *RedisStash) {
		ctx := context.Background()

		_, ok, err := stash.Get(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, ok)

		credential := &Credential{Username: "alice", SessionCookie: "session-abc", Created: time.Now().UTC()}
		require.NoError(t, stash.Put(ctx, credential))

		found, ok, err := stash.Get(ctx, "alice")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "session-abc", found.SessionCookie)

		require.NoError(t, stash.Delete(ctx, "alice"))
		_, ok, err = stash.Get(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRedisStashDropsCorruptRecords(t *testing.T) {
	withRedisStash(func(stash *RedisStash) {
		ctx := context.Background()
		require.NoError(t, stash.db.Set(credentialPrefix+"alice", "not json at all", 0).Err())

		_, ok, err := stash.Get(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, ok)

		// The bad record is gone afterwards.
		err = stash.db.Get(credentialPrefix + "alice").Err()
		assert.Equal(t, redis.Nil, err)
	})
}

func TestRedisHealth(t *testing.T) {
	db, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	checker := NewRedisHealth(client)
	assert.NoError(t, checker.Check())

	db.Close()
	assert.Error(t, checker.Check())
}

func withRedisStash(action func(stash *RedisStash)) {
	db, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer db.Close()

	stash := NewRedisStash(redis.NewClient(&redis.Options{Addr: db.Addr()}))
	action(stash)
}
