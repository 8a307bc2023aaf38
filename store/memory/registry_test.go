package memory

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/abacus"
	"github.com/getpup/abacus/store"
)

func identity(thread string) abacus.Identity {
	return abacus.Identity{
		Executable: "abacus-account",
		Hostname:   "host-a",
		PID:        os.Getpid(),
		ThreadID:   thread,
	}
}

func TestLive_FirstWorkerGetsIndexZero(t *testing.T) {
	r := NewRegistry()

	rec, err := r.Live(context.Background(), identity("t1"))

	require.NoError(t, err)
	assert.Equal(t, 0, rec.AssignedIndex)
	assert.Equal(t, 1, rec.TotalWorkers)
	assert.Equal(t, "t1", rec.ThreadID)
	assert.False(t, rec.LastSeen.IsZero())
}

func TestLive_IndicesAreContiguousForNWorkers(t *testing.T) {
	for n := 1; n <= 8; n++ {
		t.Run(fmt.Sprintf("%d workers", n), func(t *testing.T) {
			r := NewRegistry()
			ctx := context.Background()

			for i := 0; i < n; i++ {
				_, err := r.Live(ctx, identity(fmt.Sprintf("t%02d", i)))
				require.NoError(t, err)
			}

			seen := make(map[int]bool)
			for i := 0; i < n; i++ {
				rec, err := r.Live(ctx, identity(fmt.Sprintf("t%02d", i)))
				require.NoError(t, err)
				assert.Equal(t, n, rec.TotalWorkers)
				assert.False(t, seen[rec.AssignedIndex], "duplicate index %d", rec.AssignedIndex)
				seen[rec.AssignedIndex] = true
			}
			for i := 0; i < n; i++ {
				assert.True(t, seen[i], "index %d not assigned", i)
			}
		})
	}
}

func TestLive_ExecutablesAreIndependent(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	other := identity("t1")
	other.Executable = "abacus-rse"
	_, err := r.Live(ctx, other)
	require.NoError(t, err)

	rec, err := r.Live(ctx, identity("t2"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TotalWorkers)
	assert.Equal(t, 0, rec.AssignedIndex)
}

func TestLive_PurgesStaleHeartbeats(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(
		WithStaleAfter(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	_, err := r.Live(ctx, identity("crashed"))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	rec, err := r.Live(ctx, identity("survivor"))

	require.NoError(t, err)
	assert.Equal(t, 1, rec.TotalWorkers)
	assert.Len(t, r.Heartbeats("abacus-account"), 1)
}

func TestDie_RemovesHeartbeat(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	_, err := r.Live(ctx, identity("t1"))
	require.NoError(t, err)
	_, err = r.Live(ctx, identity("t2"))
	require.NoError(t, err)

	require.NoError(t, r.Die(ctx, identity("t1")))

	rec, err := r.Live(ctx, identity("t2"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TotalWorkers)
	assert.Equal(t, 0, rec.AssignedIndex)

	assert.NoError(t, r.Die(ctx, identity("never-registered")))
}

func TestSanityCheck_RemovesDeadProcessesOnHost(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	dead := identity("dead")
	dead.PID = 999999
	otherHost := identity("remote")
	otherHost.Hostname = "host-b"
	otherHost.PID = 999999

	for _, id := range []abacus.Identity{identity("alive"), dead, otherHost} {
		_, err := r.Live(ctx, id)
		require.NoError(t, err)
	}

	original := store.ProcessAlive
	store.ProcessAlive = func(pid int) bool { return pid != 999999 }
	defer func() { store.ProcessAlive = original }()

	require.NoError(t, r.SanityCheck(ctx, "abacus-account", "host-a"))

	ids := r.Heartbeats("abacus-account")
	assert.Len(t, ids, 2)
	for _, id := range ids {
		assert.NotEqual(t, "dead", id.ThreadID)
	}
}

func TestLive_CancelledContext(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Live(ctx, identity("t1"))

	assert.ErrorIs(t, err, context.Canceled)
}

func TestLive_ConcurrentWorkers(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := r.Live(ctx, identity(fmt.Sprintf("t%02d", i)))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.Heartbeats("abacus-account"), 20)
}
