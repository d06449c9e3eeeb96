package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"www.github.com/Wanderer0074348/SemCache/src/config"
	"www.github.com/Wanderer0074348/SemCache/src/logging"
	"www.github.com/Wanderer0074348/SemCache/src/mocks"
	"www.github.com/Wanderer0074348/SemCache/src/models"
	"www.github.com/Wanderer0074348/SemCache/src/store"
	"www.github.com/Wanderer0074348/SemCache/src/vector"
)

type storeFactory struct {
	name string
	open func(t *testing.T) models.Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{"memory-flat", func(t *testing.T) models.Store {
			s, err := store.NewMemoryStore(store.DefaultMemoryOptions())
			require.NoError(t, err)
			return s
		}},
		{"memory-hnsw", func(t *testing.T) models.Store {
			opts := store.DefaultMemoryOptions()
			opts.Index = store.IndexHNSW
			opts.BruteForceBelow = 0
			s, err := store.NewMemoryStore(opts)
			require.NoError(t, err)
			return s
		}},
		{"redis", func(t *testing.T) models.Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			return store.NewRedisStoreFromClient(client, "test:", 0, 0)
		}},
	}
}

func newTestManager(t *testing.T, s models.Store, threshold float64) *Manager {
	t.Helper()
	m, err := NewManager(s, &config.CacheConfig{SimilarityThreshold: threshold}, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func forEachStore(t *testing.T, threshold float64, fn func(t *testing.T, m *Manager)) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			fn(t, newTestManager(t, f.open(t), threshold))
		})
	}
}

func TestManager_EmptyCacheMisses(t *testing.T) {
	forEachStore(t, DefaultSimilarityThreshold, func(t *testing.T, m *Manager) {
		payload, hit, err := m.Get(context.Background(), []float32{1, 0, 0})
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Empty(t, payload)
	})
}

func TestManager_PutThenGet(t *testing.T) {
	forEachStore(t, DefaultSimilarityThreshold, func(t *testing.T, m *Manager) {
		ctx := context.Background()

		out, err := m.Put(ctx, []float32{1, 0, 0}, "A")
		require.NoError(t, err)
		assert.Equal(t, "A", out)

		payload, hit, err := m.Get(ctx, []float32{1, 0, 0})
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, "A", payload)

		// orthogonal: similarity 0
		_, hit, err = m.Get(ctx, []float32{0, 1, 0})
		require.NoError(t, err)
		assert.False(t, hit)

		_, err = m.Put(ctx, []float32{0, 1, 0}, "B")
		require.NoError(t, err)

		payload, hit, err = m.Get(ctx, []float32{0, 1, 0})
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, "B", payload)

		payload, hit, err = m.Get(ctx, []float32{1, 0, 0})
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, "A", payload)
	})
}

func TestManager_DedupIdenticalVector(t *testing.T) {
	forEachStore(t, DefaultSimilarityThreshold, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		v := []float32{0.3, 0.5, 0.8}

		_, err := m.Put(ctx, v, "first")
		require.NoError(t, err)
		_, err = m.Put(ctx, v, "second")
		require.NoError(t, err)

		size, err := m.Store().Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, size)

		res, err := m.Lookup(ctx, v)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, "second", res.Payload)
		assert.Equal(t, vector.Key(v), res.Key)
		assert.InDelta(t, 1.0, res.Similarity, 1e-9)
	})
}

func TestManager_SimilarVectorsAreSeparateRecords(t *testing.T) {
	forEachStore(t, DefaultSimilarityThreshold, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		_, err := m.Put(ctx, []float32{1, 0}, "a")
		require.NoError(t, err)
		_, err = m.Put(ctx, []float32{1, 0.01}, "b")
		require.NoError(t, err)

		size, err := m.Store().Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, size)
	})
}

func TestManager_ThresholdIsInclusive(t *testing.T) {
	// cos([3,4], [4,3]) = 24/25 = 0.96 exactly
	sim := vector.CosineSimilarity([]float32{3, 4}, []float32{4, 3})
	require.Equal(t, 0.96, sim)

	t.Run("at threshold hits", func(t *testing.T) {
		forEachStore(t, sim, func(t *testing.T, m *Manager) {
			ctx := context.Background()
			_, err := m.Put(ctx, []float32{3, 4}, "cached")
			require.NoError(t, err)

			payload, hit, err := m.Get(ctx, []float32{4, 3})
			require.NoError(t, err)
			assert.True(t, hit)
			assert.Equal(t, "cached", payload)
		})
	})

	t.Run("just above threshold misses", func(t *testing.T) {
		forEachStore(t, math.Nextafter(sim, 1), func(t *testing.T, m *Manager) {
			ctx := context.Background()
			_, err := m.Put(ctx, []float32{3, 4}, "cached")
			require.NoError(t, err)

			_, hit, err := m.Get(ctx, []float32{4, 3})
			require.NoError(t, err)
			assert.False(t, hit)
		})
	})
}

func TestManager_BestMatchWins(t *testing.T) {
	forEachStore(t, 0.5, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		_, err := m.Put(ctx, []float32{1, 0.5, 0}, "close")
		require.NoError(t, err)
		_, err = m.Put(ctx, []float32{1, 0.1, 0}, "closer")
		require.NoError(t, err)

		payload, hit, err := m.Get(ctx, []float32{1, 0, 0})
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, "closer", payload)
	})
}

func TestManager_InvalidInput(t *testing.T) {
	forEachStore(t, DefaultSimilarityThreshold, func(t *testing.T, m *Manager) {
		ctx := context.Background()

		_, _, err := m.Get(ctx, nil)
		assert.ErrorIs(t, err, models.ErrInvalidInput)

		_, _, err = m.Get(ctx, []float32{float32(math.NaN()), 1})
		assert.ErrorIs(t, err, models.ErrInvalidInput)

		out, err := m.Put(ctx, []float32{0, 0, 0}, "zero")
		assert.ErrorIs(t, err, models.ErrInvalidInput)
		assert.Equal(t, "zero", out)

		_, err = m.Put(ctx, []float32{1, 0, 0}, "A")
		require.NoError(t, err)

		_, _, err = m.Get(ctx, []float32{1, 0})
		assert.ErrorIs(t, err, models.ErrInvalidInput)
		_, err = m.Put(ctx, []float32{1, 0}, "short")
		assert.ErrorIs(t, err, models.ErrInvalidInput)

		size, err := m.Store().Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, size)

		stats, err := m.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Misses)
		assert.Zero(t, stats.Errors)
	})
}

func TestManager_FixedDimension(t *testing.T) {
	s, err := store.NewMemoryStore(store.DefaultMemoryOptions())
	require.NoError(t, err)
	m, err := NewManager(s, &config.CacheConfig{SimilarityThreshold: 0.85, Dimension: 3}, logging.Discard())
	require.NoError(t, err)

	_, err = m.Put(context.Background(), []float32{1, 0}, "p")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	size, err := s.Size(context.Background())
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestManager_StoreFailure(t *testing.T) {
	ms := new(mocks.MockStore)
	boom := errors.New("connection refused")
	ms.On("Nearest", mock.Anything, mock.Anything, 1).Return(nil, boom)
	ms.On("Insert", mock.Anything, mock.Anything).Return(fmt.Errorf("%w: write failed", models.ErrUnavailable))
	ms.On("Size", mock.Anything).Return(0, boom)

	m, err := NewManager(ms, nil, logging.Discard())
	require.NoError(t, err)
	ctx := context.Background()

	_, hit, err := m.Get(ctx, []float32{1, 0})
	assert.False(t, hit)
	assert.ErrorIs(t, err, models.ErrUnavailable)

	out, err := m.Put(ctx, []float32{1, 0}, "payload")
	assert.Equal(t, "payload", out)
	assert.ErrorIs(t, err, models.ErrUnavailable)

	stats, err := m.Stats(ctx)
	assert.ErrorIs(t, err, models.ErrUnavailable)
	assert.Equal(t, int64(2), stats.Errors)

	ms.AssertExpectations(t)
}

func TestManager_PutRecord(t *testing.T) {
	ms := new(mocks.MockStore)
	at := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	v := []float32{0.5, 0.5}

	ms.On("Insert", mock.Anything, mock.MatchedBy(func(r *models.VectorRecord) bool {
		return r.Key == vector.Key(v) &&
			r.Payload == "p" &&
			r.InsertedAt.Equal(at.Truncate(time.Microsecond)) &&
			len(r.Vector) == 2
	})).Return(nil)

	m, err := NewManager(ms, nil, logging.Discard(), WithClock(ClockFunc(func() time.Time { return at })))
	require.NoError(t, err)

	_, err = m.Put(context.Background(), v, "p")
	require.NoError(t, err)
	ms.AssertExpectations(t)
}

func TestManager_ClockNeverGoesBack(t *testing.T) {
	s, err := store.NewMemoryStore(store.DefaultMemoryOptions())
	require.NoError(t, err)

	times := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC),
	}
	var i int
	clock := ClockFunc(func() time.Time {
		ts := times[i]
		i++
		return ts
	})

	m, err := NewManager(s, nil, logging.Discard(), WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.Put(ctx, []float32{1, 0}, "a")
	require.NoError(t, err)
	_, err = m.Put(ctx, []float32{0, 1}, "b")
	require.NoError(t, err)

	a, err := s.Get(ctx, vector.Key([]float32{1, 0}))
	require.NoError(t, err)
	b, err := s.Get(ctx, vector.Key([]float32{0, 1}))
	require.NoError(t, err)
	assert.False(t, b.InsertedAt.Before(a.InsertedAt))
}

func TestManager_Invalidate(t *testing.T) {
	forEachStore(t, DefaultSimilarityThreshold, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		_, err := m.Put(ctx, []float32{1, 0}, "a")
		require.NoError(t, err)

		ok, err := m.Invalidate(ctx, []float32{1, 0})
		require.NoError(t, err)
		assert.True(t, ok)

		_, hit, err := m.Get(ctx, []float32{1, 0})
		require.NoError(t, err)
		assert.False(t, hit)
	})
}

func TestManager_Stats(t *testing.T) {
	s, err := store.NewMemoryStore(store.DefaultMemoryOptions())
	require.NoError(t, err)
	m := newTestManager(t, s, DefaultSimilarityThreshold)
	ctx := context.Background()

	_, err = m.Put(ctx, []float32{1, 0}, "a")
	require.NoError(t, err)
	_, _, err = m.Get(ctx, []float32{1, 0})
	require.NoError(t, err)
	_, _, err = m.Get(ctx, []float32{0, 1})
	require.NoError(t, err)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Puts)
	assert.Equal(t, 0.5, stats.HitRate)
	assert.Equal(t, 1, stats.Size)
}

func TestNewManager_Validation(t *testing.T) {
	s, err := store.NewMemoryStore(store.DefaultMemoryOptions())
	require.NoError(t, err)

	_, err = NewManager(nil, nil, nil)
	assert.Error(t, err)
	_, err = NewManager(s, &config.CacheConfig{SimilarityThreshold: 1.1}, nil)
	assert.Error(t, err)

	m, err := NewManager(s, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSimilarityThreshold, m.Threshold())
}

func TestManager_ConcurrentUse(t *testing.T) {
	forEachStore(t, 0.99, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					v := []float32{float32(g + 1), float32(i + 1), 1}
					if _, err := m.Put(ctx, v, fmt.Sprintf("%d-%d", g, i)); err != nil {
						t.Error(err)
						return
					}
					payload, hit, err := m.Get(ctx, v)
					if err != nil {
						t.Error(err)
						return
					}
					if !hit || payload == "" {
						t.Errorf("expected hit for %v", v)
						return
					}
				}
			}(g)
		}
		wg.Wait()

		size, err := m.Store().Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 200, size)
	})
}

func TestManager_SupersedeOnPopulatedHNSW(t *testing.T) {
	opts := store.DefaultMemoryOptions()
	opts.Index = store.IndexHNSW
	opts.BruteForceBelow = 1
	opts.CompactRatio = 1000
	s, err := store.NewMemoryStore(opts)
	require.NoError(t, err)
	m := newTestManager(t, s, 0.95)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 200; i++ {
		v := make([]float32, 8)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		_, err := m.Put(ctx, v, fmt.Sprintf("r%d", i))
		require.NoError(t, err)
	}

	v := []float32{0.5, 0.5, -0.3, 0.2, -0.6, 0.1, 0.4, -0.2}
	near := vector.Clone(v)
	near[1] += 0.01

	for _, payload := range []string{"p1", "p2", "p3"} {
		_, err := m.Put(ctx, v, payload)
		require.NoError(t, err)

		for _, query := range [][]float32{v, near} {
			got, hit, err := m.Get(ctx, query)
			require.NoError(t, err)
			assert.True(t, hit)
			assert.Equal(t, payload, got)
		}
	}

	removed, err := s.DeleteOldest(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 100, removed)

	got, hit, err := m.Get(ctx, near)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "p3", got)
}
