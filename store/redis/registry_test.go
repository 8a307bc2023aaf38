package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/abacus"
	"github.com/getpup/abacus/store"
)

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRegistry(client, opts...), mr, client
}

func worker(thread string) abacus.Identity {
	return abacus.Identity{
		Executable: "abacus-account",
		Hostname:   "host-a",
		PID:        os.Getpid(),
		ThreadID:   thread,
	}
}

func TestParseMember(t *testing.T) {
	id, err := parseMember("abacus-account", member(abacus.Identity{Hostname: "h|1", PID: 42, ThreadID: "abc"}))
	require.NoError(t, err)
	assert.Equal(t, "h|1", id.Hostname)
	assert.Equal(t, 42, id.PID)
	assert.Equal(t, "abc", id.ThreadID)
	assert.Equal(t, "abacus-account", id.Executable)

	_, err = parseMember("x", "nopipes")
	assert.Error(t, err)
	_, err = parseMember("x", "host|notanumber|t")
	assert.Error(t, err)
}

func TestLive_ContiguousIndices(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	const n = 4
	for i := 0; i < n; i++ {
		_, err := r.Live(ctx, worker(fmt.Sprintf("t%d", i)))
		require.NoError(t, err)
	}

	for i := 0; i < n; i++ {
		rec, err := r.Live(ctx, worker(fmt.Sprintf("t%d", i)))
		require.NoError(t, err)
		assert.Equal(t, n, rec.TotalWorkers)
		assert.Equal(t, i, rec.AssignedIndex)
	}
}

func TestLive_PurgesStaleHeartbeats(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r, _, _ := newTestRegistry(t,
		WithStaleAfter(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	_, err := r.Live(ctx, worker("crashed"))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	rec, err := r.Live(ctx, worker("survivor"))
	require.NoError(t, err)

	assert.Equal(t, 1, rec.TotalWorkers)
}

func TestLive_KeyPrefixAndExpiry(t *testing.T) {
	r, mr, _ := newTestRegistry(t, WithPrefix("test"), WithStaleAfter(time.Minute))

	_, err := r.Live(context.Background(), worker("t1"))
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:heartbeats:abacus-account"))
	assert.Equal(t, 2*time.Minute, mr.TTL("test:heartbeats:abacus-account"))
}

func TestLive_RedisDown(t *testing.T) {
	r, mr, _ := newTestRegistry(t)
	mr.Close()

	_, err := r.Live(context.Background(), worker("t1"))

	assert.Error(t, err)
}

func TestDie(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Live(ctx, worker("t1"))
	require.NoError(t, err)
	_, err = r.Live(ctx, worker("t2"))
	require.NoError(t, err)

	require.NoError(t, r.Die(ctx, worker("t1")))
	require.NoError(t, r.Die(ctx, worker("t1")))

	rec, err := r.Live(ctx, worker("t2"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TotalWorkers)
}

func TestSanityCheck(t *testing.T) {
	r, _, client := newTestRegistry(t)
	ctx := context.Background()

	dead := worker("dead")
	dead.PID = 999999
	remote := worker("remote")
	remote.Hostname = "host-b"
	remote.PID = 999999
	for _, id := range []abacus.Identity{worker("alive"), dead, remote} {
		_, err := r.Live(ctx, id)
		require.NoError(t, err)
	}

	original := store.ProcessAlive
	store.ProcessAlive = func(pid int) bool { return pid != 999999 }
	defer func() { store.ProcessAlive = original }()

	require.NoError(t, r.SanityCheck(ctx, "abacus-account", "host-a"))

	members, err := client.ZRange(ctx, "abacus:heartbeats:abacus-account", 0, -1).Result()
	require.NoError(t, err)
	assert.Len(t, members, 2)
	assert.NotContains(t, members, member(dead))
}
