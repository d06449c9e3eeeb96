// Package eviction keeps a store within its configured capacity by
// periodically deleting the oldest records.
package eviction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"www.github.com/Wanderer0074348/SemCache/src/config"
	"www.github.com/Wanderer0074348/SemCache/src/metrics"
	"www.github.com/Wanderer0074348/SemCache/src/models"
)

const (
	DefaultMaxEntries   = 10000
	DefaultBatchSize    = 100
	DefaultPeriod       = 60 * time.Second
	DefaultInitialDelay = 60 * time.Second
)

// State is the scheduler's pass state.
type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var (
	// ErrPassInProgress is returned by RunOnce when another pass has not finished.
	ErrPassInProgress = errors.New("eviction pass already running")

	ErrAlreadyStarted = errors.New("scheduler already started")
)

// Scheduler runs eviction passes against a store on a fixed period.
type Scheduler struct {
	store  models.Store
	cfg    config.EvictionConfig
	logger *slog.Logger

	state   atomic.Int32
	passes  atomic.Int64
	removed atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler. Zero MaxEntries, BatchSize and Period
// take the defaults; a nil cfg uses the defaults throughout.
func NewScheduler(store models.Store, cfg *config.EvictionConfig, logger *slog.Logger) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	c := config.EvictionConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Period == 0 {
		c.Period = DefaultPeriod
	}
	if cfg == nil {
		c.InitialDelay = DefaultInitialDelay
	}

	if c.MaxEntries < 0 || c.BatchSize < 0 || c.Period < 0 || c.InitialDelay < 0 {
		return nil, fmt.Errorf("eviction options must not be negative")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		store:  store,
		cfg:    c,
		logger: logger.With("component", "eviction"),
	}, nil
}

// Config returns the effective configuration.
func (s *Scheduler) Config() config.EvictionConfig { return s.cfg }

// State reports whether a pass is running.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Passes returns the number of completed passes.
func (s *Scheduler) Passes() int64 { return s.passes.Load() }

// Removed returns the total number of records evicted.
func (s *Scheduler) Removed() int64 { return s.removed.Load() }

// Start launches the loop in a goroutine. It stops when ctx is done or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for the current pass to finish. It is
// safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run blocks, waiting InitialDelay and then running a pass every Period,
// until ctx is done. Pass failures are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("eviction scheduler started",
		"max_entries", s.cfg.MaxEntries,
		"batch_size", s.cfg.BatchSize,
		"period", s.cfg.Period,
		"initial_delay", s.cfg.InitialDelay,
	)

	delay := time.NewTimer(s.cfg.InitialDelay)
	defer delay.Stop()

	select {
	case <-ctx.Done():
		s.logger.Info("eviction scheduler stopped")
		return nil
	case <-delay.C:
	}

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.logger.Info("eviction scheduler stopped")
			return nil
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrPassInProgress) {
		s.logger.Error("eviction pass failed", "error", err)
	}
}

// RunOnce performs one eviction pass: when the store holds at least
// MaxEntries records it deletes the BatchSize oldest (repeating until
// under capacity when DrainToCapacity is set), then checkpoints stores
// that need it.
func (s *Scheduler) RunOnce(ctx context.Context) (removed int, err error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		metrics.EvictionPasses.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return 0, ErrPassInProgress
	}
	defer s.state.Store(int32(StateIdle))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eviction pass panicked: %v", r)
		}
		s.passes.Add(1)
		if removed > 0 {
			s.removed.Add(int64(removed))
			metrics.EvictedRecords.Add(float64(removed))
		}
		if err != nil {
			metrics.EvictionPasses.WithLabelValues(metrics.OutcomeFailed).Inc()
		}
	}()

	size, err := s.store.Size(ctx)
	if err != nil {
		metrics.StoreErrors.WithLabelValues(metrics.OperationSize).Inc()
		return 0, fmt.Errorf("read store size: %w", err)
	}
	metrics.StoreSize.Set(float64(size))

	if size < s.cfg.MaxEntries {
		metrics.EvictionPasses.WithLabelValues(metrics.OutcomeIdle).Inc()
		s.logger.Debug("store under capacity", "size", size, "max_entries", s.cfg.MaxEntries)
		return 0, nil
	}

	rounds := 1
	if s.cfg.DrainToCapacity {
		rounds = size/s.cfg.BatchSize + 1
	}

	for i := 0; i < rounds && size >= s.cfg.MaxEntries; i++ {
		n, err := s.store.DeleteOldest(ctx, s.cfg.BatchSize)
		removed += n
		size -= n
		if err != nil {
			metrics.StoreErrors.WithLabelValues(metrics.OperationEvict).Inc()
			return removed, fmt.Errorf("delete oldest: %w", err)
		}
		if n == 0 {
			break
		}
	}

	if cp, ok := s.store.(models.Checkpointer); ok && removed > 0 {
		if err := cp.Checkpoint(ctx); err != nil {
			metrics.StoreErrors.WithLabelValues(metrics.OperationCompact).Inc()
			return removed, fmt.Errorf("checkpoint: %w", err)
		}
	}

	metrics.StoreSize.Set(float64(size))
	metrics.EvictionPasses.WithLabelValues(metrics.OutcomeEvicted).Inc()
	s.logger.Info("evicted oldest records", "removed", removed, "size", size)
	return removed, nil
}
