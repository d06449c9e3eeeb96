// Package embedding adapts hosted embedding models to models.Embedder.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"www.github.com/Wanderer0074348/SemCache/src/config"
	"www.github.com/Wanderer0074348/SemCache/src/metrics"
	"www.github.com/Wanderer0074348/SemCache/src/models"
)

const (
	ProviderOpenAI    = "openai"
	ProviderLangChain = "langchain"

	DefaultModel = "text-embedding-3-small"
)

// ErrNoEmbedding is returned when the provider answers without a vector.
var ErrNoEmbedding = errors.New("no embedding returned")

// New builds the embedder selected by cfg.Provider.
func New(cfg *config.EmbeddingConfig) (models.Embedder, error) {
	switch cfg.Provider {
	case "", ProviderOpenAI:
		return NewOpenAIEmbedder(cfg)
	case ProviderLangChain:
		return NewLangChainEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// base holds what both providers share: the model name, the learnt
// dimension, the per-call timeout and the optional rate limiter and
// circuit breaker in front of the provider.
type base struct {
	provider  string
	model     string
	timeout   time.Duration
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	dimension atomic.Int64
}

func newBase(provider string, cfg *config.EmbeddingConfig) *base {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	b := &base{provider: provider, model: model, timeout: cfg.Timeout}
	b.dimension.Store(int64(cfg.Dimensions))

	if cfg.RateLimit > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}
	if cfg.BreakerFailures > 0 {
		b.breaker = newBreaker(provider, uint32(cfg.BreakerFailures), cfg.BreakerTimeout)
	}
	return b
}

// newBreaker opens after failures consecutive provider errors and probes
// again after timeout. Caller cancellations do not count.
func newBreaker(provider string, failures uint32, timeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    provider + "-embeddings",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("embedding circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

func (b *base) Model() string { return b.model }

func (b *base) Dimension() int { return int(b.dimension.Load()) }

// embed runs call with the timeout applied and records the outcome.
func (b *base) embed(ctx context.Context, text string, call func(ctx context.Context, text string) ([]float32, error)) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", models.ErrInvalidInput)
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	defer metrics.ObserveDuration(metrics.OperationEmbed, start)

	v, err := b.do(ctx, text, call)
	if err == nil && len(v) == 0 {
		err = ErrNoEmbedding
	}
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues(b.provider, metrics.ResultError).Inc()
		return nil, fmt.Errorf("%s embedding request failed: %w", b.provider, err)
	}

	metrics.EmbeddingRequests.WithLabelValues(b.provider, metrics.ResultOK).Inc()
	b.dimension.CompareAndSwap(0, int64(len(v)))
	return v, nil
}

func (b *base) do(ctx context.Context, text string, call func(ctx context.Context, text string) ([]float32, error)) ([]float32, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if b.breaker == nil {
		return call(ctx, text)
	}

	out, err := b.breaker.Execute(func() (interface{}, error) {
		return call(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return out.([]float32), nil
}
