package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Financial-Times/go-logger/v2"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmrs/ocl-concepts-api/concept"
)

const testKey = "/orgs/CIEL/sources/CIEL/concepts/|anonymous"

func newTestRedisBackend(t *testing.T) (*miniredis.Miniredis, *RedisBackend) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisBackend(client, "ocl-concepts:", time.Hour, logger.NewUPPLogger("ocl-concepts-api", "PANIC"))
}

func backends(t *testing.T) map[string]Backend {
	_, redisBackend := newTestRedisBackend(t)
	return map[string]Backend{
		"memory": NewMemoryBackend(time.Hour),
		"redis":  redisBackend,
	}
}

func TestLoadUnknownKey(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			snapshot, err := b.Load(context.Background(), testKey)

			require.NoError(t, err)
			assert.Equal(t, Snapshot{}, snapshot)
			assert.False(t, snapshot.Loading())
		})
	}
}

func TestBeginCommitLoad(t *testing.T) {
	ctx := context.Background()
	numFound := 2
	concepts := []concept.Concept{{ID: "1"}, {ID: "2"}}

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			seq, err := b.Begin(ctx, testKey, "fp-1")
			require.NoError(t, err)
			assert.Equal(t, uint64(1), seq)

			snapshot, err := b.Load(ctx, testKey)
			require.NoError(t, err)
			assert.True(t, snapshot.Loading())
			assert.Equal(t, "fp-1", snapshot.Fingerprint)

			fetchedAt := time.Now().UTC().Truncate(time.Millisecond)
			ok, err := b.Commit(ctx, testKey, State{Seq: seq, Concepts: concepts, NumFound: &numFound, FetchedAt: fetchedAt})
			require.NoError(t, err)
			assert.True(t, ok)

			snapshot, err = b.Load(ctx, testKey)
			require.NoError(t, err)
			assert.False(t, snapshot.Loading())
			assert.False(t, snapshot.Failed())
			assert.Equal(t, concepts, snapshot.Concepts)
			require.NotNil(t, snapshot.NumFound)
			assert.Equal(t, 2, *snapshot.NumFound)
			assert.True(t, fetchedAt.Equal(snapshot.FetchedAt))
		})
	}
}

func TestStaleCommitIsDiscarded(t *testing.T) {
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			stale, err := b.Begin(ctx, testKey, "fp-page-1")
			require.NoError(t, err)
			latest, err := b.Begin(ctx, testKey, "fp-page-2")
			require.NoError(t, err)
			assert.Greater(t, latest, stale)

			ok, err := b.Commit(ctx, testKey, State{Seq: latest, Concepts: []concept.Concept{{ID: "page-2"}}})
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = b.Commit(ctx, testKey, State{Seq: stale, Concepts: []concept.Concept{{ID: "page-1"}}})
			require.NoError(t, err)
			assert.False(t, ok)

			snapshot, err := b.Load(ctx, testKey)
			require.NoError(t, err)
			assert.Equal(t, []concept.Concept{{ID: "page-2"}}, snapshot.Concepts)
			assert.Equal(t, "fp-page-2", snapshot.Fingerprint)
		})
	}
}

func TestCommitBeforeLatestFinishes(t *testing.T) {
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			first, err := b.Begin(ctx, testKey, "fp-1")
			require.NoError(t, err)
			_, err = b.Begin(ctx, testKey, "fp-2")
			require.NoError(t, err)

			ok, err := b.Commit(ctx, testKey, State{Seq: first, Concepts: []concept.Concept{{ID: "old"}}})
			require.NoError(t, err)
			assert.False(t, ok)

			snapshot, err := b.Load(ctx, testKey)
			require.NoError(t, err)
			assert.True(t, snapshot.Loading())
			assert.Empty(t, snapshot.Concepts)
		})
	}
}

func TestCommitUnknownSequence(t *testing.T) {
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Commit(ctx, testKey, State{Seq: 7})
			assert.True(t, errors.Is(err, ErrUnknownSequence))

			_, err = b.Begin(ctx, testKey, "fp")
			require.NoError(t, err)
			_, err = b.Commit(ctx, testKey, State{Seq: 2})
			assert.True(t, errors.Is(err, ErrUnknownSequence))
		})
	}
}

func TestKeysAreIndependent(t *testing.T) {
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a, err := b.Begin(ctx, "a", "fp")
			require.NoError(t, err)
			other, err := b.Begin(ctx, "b", "fp")
			require.NoError(t, err)

			assert.Equal(t, uint64(1), a)
			assert.Equal(t, uint64(1), other)
		})
	}
}

func TestConcurrentBeginIssuesUniqueSequences(t *testing.T) {
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			const n = 20
			var mu sync.Mutex
			seen := map[uint64]bool{}
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					seq, err := b.Begin(ctx, testKey, "fp")
					assert.NoError(t, err)
					mu.Lock()
					seen[seq] = true
					mu.Unlock()
				}()
			}
			wg.Wait()

			assert.Len(t, seen, n)
			snapshot, err := b.Load(ctx, testKey)
			require.NoError(t, err)
			assert.Equal(t, uint64(n), snapshot.Issued)
		})
	}
}

func TestRedisStateExpires(t *testing.T) {
	ctx := context.Background()
	mr, b := newTestRedisBackend(t)

	seq, err := b.Begin(ctx, testKey, "fp")
	require.NoError(t, err)
	_, err = b.Commit(ctx, testKey, State{Seq: seq, Concepts: []concept.Concept{{ID: "1"}}})
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	snapshot, err := b.Load(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{}, snapshot)
}

func TestRedisUnreadableStateIsDiscarded(t *testing.T) {
	ctx := context.Background()
	mr, b := newTestRedisBackend(t)

	_, err := b.Begin(ctx, testKey, "fp")
	require.NoError(t, err)
	require.NoError(t, mr.Set("ocl-concepts:"+testKey+":state", "not json"))

	snapshot, err := b.Load(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snapshot.Issued)
	assert.Empty(t, snapshot.Concepts)
}

func TestRedisGTG(t *testing.T) {
	mr, b := newTestRedisBackend(t)

	assert.NoError(t, b.GTG())
	assert.Equal(t, mr.Addr(), b.Endpoint())
}

func TestMemoryEntriesExpire(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewMemoryBackend(time.Hour)
	b.now = func() time.Time { return now }

	seq, err := b.Begin(ctx, testKey, "fp")
	require.NoError(t, err)
	_, err = b.Commit(ctx, testKey, State{Seq: seq, Concepts: []concept.Concept{{ID: "1"}}})
	require.NoError(t, err)

	now = now.Add(59 * time.Minute)
	snapshot, err := b.Load(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snapshot.Issued)

	now = now.Add(time.Minute)
	snapshot, err = b.Load(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{}, snapshot)
	assert.Equal(t, 1, b.Len())

	_, err = b.Begin(ctx, "other", "fp")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Len())

	seq, err = b.Begin(ctx, testKey, "fp")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}

func TestMemoryCommitKeepsEntryAlive(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewMemoryBackend(time.Hour)
	b.now = func() time.Time { return now }

	seq, err := b.Begin(ctx, testKey, "fp")
	require.NoError(t, err)
	now = now.Add(50 * time.Minute)
	_, err = b.Commit(ctx, testKey, State{Seq: seq})
	require.NoError(t, err)

	now = now.Add(50 * time.Minute)
	snapshot, err := b.Load(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snapshot.Issued)
}

func TestSnapshotRecordsIssueTime(t *testing.T) {
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			before := time.Now().Truncate(time.Millisecond)
			_, err := b.Begin(ctx, testKey, "fp")
			require.NoError(t, err)

			snapshot, err := b.Load(ctx, testKey)
			require.NoError(t, err)
			assert.False(t, snapshot.IssuedAt.Before(before))
			assert.WithinDuration(t, time.Now(), snapshot.IssuedAt, time.Minute)
		})
	}
}

func TestSnapshotSettledFor(t *testing.T) {
	tests := map[string]struct {
		snapshot Snapshot
		settled  bool
	}{
		"never issued": {snapshot: Snapshot{}},
		"loading":      {snapshot: Snapshot{Issued: 2, Fingerprint: "fp", State: State{Seq: 1}}},
		"other query":  {snapshot: Snapshot{Issued: 2, Fingerprint: "other", State: State{Seq: 2}}},
		"committed":    {snapshot: Snapshot{Issued: 2, Fingerprint: "fp", State: State{Seq: 2}}, settled: true},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.settled, test.snapshot.SettledFor("fp"))
		})
	}
}
