// Package cache implements the semantic lookup and insert policy on top of
// a models.Store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"www.github.com/Wanderer0074348/SemCache/src/config"
	"www.github.com/Wanderer0074348/SemCache/src/metrics"
	"www.github.com/Wanderer0074348/SemCache/src/models"
	"www.github.com/Wanderer0074348/SemCache/src/vector"
)

// DefaultSimilarityThreshold is used when no threshold is configured.
const DefaultSimilarityThreshold = 0.85

// Manager answers Get with the payload of the most similar stored vector
// when it scores at least the threshold, and stores Put payloads under
// the hash of their vector.
type Manager struct {
	store     models.Store
	threshold float64
	dimension int
	clock     *monotonicClock
	logger    *slog.Logger

	hits     atomic.Int64
	misses   atomic.Int64
	puts     atomic.Int64
	failures atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for InsertedAt.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		m.clock = newMonotonicClock(c)
	}
}

// NewManager wires a manager to store. A nil cfg uses the defaults.
func NewManager(store models.Store, cfg *config.CacheConfig, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg == nil {
		cfg = &config.CacheConfig{SimilarityThreshold: DefaultSimilarityThreshold}
	}
	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be in [0, 1], got %v", cfg.SimilarityThreshold)
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		store:     store,
		threshold: cfg.SimilarityThreshold,
		dimension: cfg.Dimension,
		clock:     newMonotonicClock(nil),
		logger:    logger.With("component", "cache"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Threshold returns the minimum similarity for a hit.
func (m *Manager) Threshold() float64 { return m.threshold }

// Store returns the backing store.
func (m *Manager) Store() models.Store { return m.store }

// Get returns the payload of the best match when it scores >= threshold.
func (m *Manager) Get(ctx context.Context, v []float32) (string, bool, error) {
	res, err := m.Lookup(ctx, v)
	if err != nil || res == nil {
		return "", false, err
	}
	return res.Payload, true, nil
}

// Lookup is Get with the matched key and score. A miss is (nil, nil).
func (m *Manager) Lookup(ctx context.Context, v []float32) (*models.CacheResult, error) {
	start := time.Now()
	defer metrics.ObserveDuration(metrics.OperationGet, start)

	if err := vector.Validate(v, m.dimension); err != nil {
		metrics.Lookups.WithLabelValues(metrics.ResultInvalid).Inc()
		return nil, err
	}

	results, err := m.store.Nearest(ctx, v, 1)
	if err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			metrics.Lookups.WithLabelValues(metrics.ResultInvalid).Inc()
			return nil, err
		}
		m.failures.Add(1)
		metrics.Lookups.WithLabelValues(metrics.ResultError).Inc()
		metrics.StoreErrors.WithLabelValues(metrics.OperationNearest).Inc()
		return nil, storeError("nearest", err)
	}

	if len(results) == 0 || results[0].Record == nil {
		m.miss(-1)
		return nil, nil
	}

	best := results[0]
	metrics.Similarity.Observe(best.Score)
	if best.Score < m.threshold {
		m.miss(best.Score)
		return nil, nil
	}

	m.hits.Add(1)
	metrics.Lookups.WithLabelValues(metrics.ResultHit).Inc()
	m.logger.Debug("cache hit", "key", best.Record.Key, "similarity", best.Score)

	return &models.CacheResult{
		Payload:    best.Record.Payload,
		Similarity: best.Score,
		Key:        best.Record.Key,
	}, nil
}

func (m *Manager) miss(best float64) {
	m.misses.Add(1)
	metrics.Lookups.WithLabelValues(metrics.ResultMiss).Inc()
	m.logger.Debug("cache miss", "best_similarity", best, "threshold", m.threshold)
}

// Put stores payload under the key of v and returns payload. Storing a
// bit-identical vector again replaces the earlier record. The payload is
// returned even when the store fails, alongside the error.
func (m *Manager) Put(ctx context.Context, v []float32, payload string) (string, error) {
	start := time.Now()
	defer metrics.ObserveDuration(metrics.OperationPut, start)

	if err := vector.Validate(v, m.dimension); err != nil {
		metrics.Puts.WithLabelValues(metrics.ResultInvalid).Inc()
		return payload, err
	}

	record := &models.VectorRecord{
		Key:        vector.Key(v),
		Vector:     vector.Clone(v),
		Payload:    payload,
		InsertedAt: m.clock.Now(),
	}

	if err := m.store.Insert(ctx, record); err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			metrics.Puts.WithLabelValues(metrics.ResultInvalid).Inc()
			return payload, err
		}
		m.failures.Add(1)
		metrics.Puts.WithLabelValues(metrics.ResultError).Inc()
		metrics.StoreErrors.WithLabelValues(metrics.OperationInsert).Inc()
		return payload, storeError("insert", err)
	}

	m.puts.Add(1)
	metrics.Puts.WithLabelValues(metrics.ResultOK).Inc()
	m.logger.Debug("cached response", "key", record.Key)
	return payload, nil
}

// Invalidate removes the record stored for exactly v.
func (m *Manager) Invalidate(ctx context.Context, v []float32) (bool, error) {
	if err := vector.Validate(v, m.dimension); err != nil {
		return false, err
	}
	return m.Delete(ctx, vector.Key(v))
}

// Delete removes the record stored under key.
func (m *Manager) Delete(ctx context.Context, key string) (bool, error) {
	ok, err := m.store.Delete(ctx, key)
	if err != nil {
		m.failures.Add(1)
		return false, storeError("delete", err)
	}
	return ok, nil
}

// Stats returns the counters and the current store size.
func (m *Manager) Stats(ctx context.Context) (models.CacheStats, error) {
	stats := models.CacheStats{
		Hits:   m.hits.Load(),
		Misses: m.misses.Load(),
		Puts:   m.puts.Load(),
		Errors: m.failures.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	size, err := m.store.Size(ctx)
	if err != nil {
		return stats, storeError("size", err)
	}
	stats.Size = size
	return stats, nil
}

// Ping checks the store.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// Close releases the store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// storeError makes sure a store failure matches models.ErrUnavailable.
func storeError(op string, err error) error {
	if errors.Is(err, models.ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, models.ErrUnavailable, err)
}
