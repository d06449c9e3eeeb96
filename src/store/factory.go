// Package store holds the VectorRecord stores behind models.Store.
package store

import (
	"fmt"

	"www.github.com/Wanderer0074348/SemCache/src/config"
	"www.github.com/Wanderer0074348/SemCache/src/models"
)

var (
	_ models.Store        = (*MemoryStore)(nil)
	_ models.Checkpointer = (*MemoryStore)(nil)
	_ models.Store        = (*RedisStore)(nil)
)

// New builds the store selected by cfg.Store.Backend.
func New(cfg *config.Config) (models.Store, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return NewMemoryStore(MemoryOptionsFromConfig(cfg))
	case "redis":
		return NewRedisStore(&cfg.Redis, cfg.Cache.Dimension)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// MemoryOptionsFromConfig maps the store section onto MemoryOptions.
func MemoryOptionsFromConfig(cfg *config.Config) MemoryOptions {
	opts := DefaultMemoryOptions()
	opts.Dimension = cfg.Cache.Dimension
	if cfg.Store.Index != "" {
		opts.Index = cfg.Store.Index
	}

	h := cfg.Store.HNSW
	if h.M > 0 {
		opts.HNSW.M = h.M
	}
	if h.EF > 0 {
		opts.HNSW.EF = h.EF
	}
	if h.EFSearch > 0 {
		opts.HNSW.EFSearch = h.EFSearch
	}
	if h.Seed != 0 {
		opts.HNSW.Seed = h.Seed
	}
	if cfg.Store.BruteForceBelow > 0 {
		opts.BruteForceBelow = cfg.Store.BruteForceBelow
	}
	if cfg.Store.CompactRatio > 0 {
		opts.CompactRatio = cfg.Store.CompactRatio
	}
	return opts
}
