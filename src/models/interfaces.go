package models

import (
	"context"
	"errors"
)

var (
	// ErrInvalidInput marks a call rejected before touching the store
	// (wrong dimensionality, empty or non-finite vector).
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable marks a store I/O failure.
	ErrUnavailable = errors.New("cache unavailable")
)

// Store is the policy-free vector record store.
type Store interface {
	// Nearest returns up to k records ranked by cosine similarity, highest first.
	Nearest(ctx context.Context, vector []float32, k int) ([]ScoredRecord, error)
	// Insert adds a record, atomically superseding any record under the same key.
	Insert(ctx context.Context, record *VectorRecord) error
	// Get returns the record stored under key, or nil.
	Get(ctx context.Context, key string) (*VectorRecord, error)
	Delete(ctx context.Context, key string) (bool, error)
	// DeleteOldest removes the k records with the smallest (InsertedAt, Key).
	DeleteOldest(ctx context.Context, k int) (int, error)
	Size(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Checkpointer is implemented by stores that need an explicit step after
// deletions before they are considered settled.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// Embedder turns prompt text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
	// Dimension returns the vector size, or 0 if unknown until the first call.
	Dimension() int
}
