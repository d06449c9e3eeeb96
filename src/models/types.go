package models

import "time"

// VectorRecord is one cached (vector, payload) pair.
type VectorRecord struct {
	Key        string    `json:"key"`
	Vector     []float32 `json:"vector"`
	Payload    string    `json:"payload"`
	InsertedAt time.Time `json:"inserted_at"`
}

// ScoredRecord is a store search hit. Score is cosine similarity in [-1, 1].
type ScoredRecord struct {
	Record *VectorRecord
	Score  float64
}

// CacheResult represents a cache hit with its similarity score
type CacheResult struct {
	Payload    string
	Similarity float64
	Key        string
}

// CacheStats holds manager counters.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Puts    int64   `json:"puts"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
	Size    int     `json:"size"`
}

// HTTP payloads

type CachePutRequest struct {
	Prompt   string `json:"prompt" binding:"required"`
	Response string `json:"response" binding:"required"`
}

type VectorLookupRequest struct {
	Vector []float32 `json:"vector" binding:"required"`
}

type VectorPutRequest struct {
	Vector   []float32 `json:"vector" binding:"required"`
	Response string    `json:"response" binding:"required"`
}

type CacheResponse struct {
	Response   string   `json:"response"`
	Similarity *float64 `json:"similarity,omitempty"`
	Key        string   `json:"key,omitempty"`
	Cached     *bool    `json:"cached,omitempty"`
}
