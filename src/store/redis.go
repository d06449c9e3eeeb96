package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"www.github.com/Wanderer0074348/SemCache/src/config"
	"www.github.com/Wanderer0074348/SemCache/src/models"
	"www.github.com/Wanderer0074348/SemCache/src/vector"
)

const (
	recordPrefix = "rec:"
	ageKey       = "age"
	dimensionKey = "dim"

	fieldVector     = "vector"
	fieldPayload    = "payload"
	fieldInsertedAt = "inserted_at"

	defaultScanBatch = 256
)

// RedisStore keeps each record in a hash and orders keys by insertion
// time in a sorted set. InsertedAt is stored with microsecond precision
// so the sorted set score is exact.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	scanBatch int
	dimension atomic.Int64

	// serialises writers in this process; MULTI/EXEC keeps each commit atomic
	mu sync.Mutex
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg *config.RedisConfig, dimension int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.KeyPrefix, cfg.ScanBatch, dimension), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, scanBatch, dimension int) *RedisStore {
	if scanBatch <= 0 {
		scanBatch = defaultScanBatch
	}
	s := &RedisStore{
		client:    client,
		prefix:    prefix,
		scanBatch: scanBatch,
	}
	s.dimension.Store(int64(dimension))
	return s
}

func (s *RedisStore) recordKey(key string) string {
	return s.prefix + recordPrefix + key
}

func (s *RedisStore) ageKey() string {
	return s.prefix + ageKey
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %v", models.ErrUnavailable, op, err)
}

// resolveDimension returns the fixed dimension, learning it from Redis
// (or claiming it with len(v) when claim is set) if not yet known.
func (s *RedisStore) resolveDimension(ctx context.Context, claim int) (int, error) {
	if d := s.dimension.Load(); d > 0 {
		return int(d), nil
	}

	dimKey := s.prefix + dimensionKey
	if claim > 0 {
		if err := s.client.SetNX(ctx, dimKey, claim, 0).Err(); err != nil {
			return 0, unavailable("setnx", err)
		}
	}

	val, err := s.client.Get(ctx, dimKey).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("get", err)
	}
	d, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%w: bad stored dimension %q", models.ErrUnavailable, val)
	}
	s.dimension.Store(int64(d))
	return d, nil
}

// Nearest scans every record in insertion order and keeps the best k.
func (s *RedisStore) Nearest(ctx context.Context, v []float32, k int) ([]models.ScoredRecord, error) {
	dim, err := s.resolveDimension(ctx, 0)
	if err != nil {
		return nil, err
	}
	if err := vector.Validate(v, dim); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []models.ScoredRecord{}, nil
	}

	keys, err := s.client.ZRange(ctx, s.ageKey(), 0, -1).Result()
	if err != nil {
		return nil, unavailable("zrange", err)
	}

	qNorm := vector.Norm(v)
	results := make([]models.ScoredRecord, 0, k)

	for start := 0; start < len(keys); start += s.scanBatch {
		batch := keys[start:min(start+s.scanBatch, len(keys))]

		records, err := s.fetch(ctx, batch)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if len(rec.Vector) != len(v) {
				continue
			}
			score := vector.CosineWithNorms(v, rec.Vector, qNorm, vector.Norm(rec.Vector))
			results = append(results, models.ScoredRecord{Record: rec, Score: score})
		}
		// keep the working set bounded
		if len(results) > 4*k {
			rankRecords(results)
			results = results[:k]
		}
	}

	rankRecords(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// fetch loads records in one pipeline. Keys deleted meanwhile are skipped.
func (s *RedisStore) fetch(ctx context.Context, keys []string) ([]*models.VectorRecord, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HMGet(ctx, s.recordKey(key), fieldVector, fieldPayload, fieldInsertedAt)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, unavailable("pipeline", err)
	}

	records := make([]*models.VectorRecord, 0, len(keys))
	for i, cmd := range cmds {
		rec, err := decodeRecord(keys[i], cmd.Val())
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

func decodeRecord(key string, fields []interface{}) (*models.VectorRecord, error) {
	if len(fields) != 3 || fields[0] == nil || fields[1] == nil || fields[2] == nil {
		return nil, nil
	}

	rawVector, _ := fields[0].(string)
	payload, _ := fields[1].(string)
	rawTime, _ := fields[2].(string)

	vec, err := vector.Decode([]byte(rawVector))
	if err != nil {
		return nil, fmt.Errorf("%w: record %s: %v", models.ErrUnavailable, key, err)
	}
	micros, err := strconv.ParseInt(rawTime, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: record %s: bad inserted_at %q", models.ErrUnavailable, key, rawTime)
	}

	return &models.VectorRecord{
		Key:        key,
		Vector:     vec,
		Payload:    payload,
		InsertedAt: time.UnixMicro(micros).UTC(),
	}, nil
}

// Get retrieves a record by exact key
func (s *RedisStore) Get(ctx context.Context, key string) (*models.VectorRecord, error) {
	vals, err := s.client.HMGet(ctx, s.recordKey(key), fieldVector, fieldPayload, fieldInsertedAt).Result()
	if err != nil {
		return nil, unavailable("hmget", err)
	}
	return decodeRecord(key, vals)
}

// Insert replaces any record under the same key inside one transaction.
func (s *RedisStore) Insert(ctx context.Context, record *models.VectorRecord) error {
	if record == nil || record.Key == "" {
		return fmt.Errorf("%w: record without key", models.ErrInvalidInput)
	}
	if err := vector.Validate(record.Vector, 0); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim, err := s.resolveDimension(ctx, len(record.Vector))
	if err != nil {
		return err
	}
	if dim > 0 && dim != len(record.Vector) {
		return &vector.DimensionError{Expected: dim, Actual: len(record.Vector)}
	}

	micros := record.InsertedAt.UnixMicro()
	recKey := s.recordKey(record.Key)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recKey)
		pipe.HSet(ctx, recKey,
			fieldVector, vector.Encode(record.Vector),
			fieldPayload, record.Payload,
			fieldInsertedAt, strconv.FormatInt(micros, 10),
		)
		pipe.ZAdd(ctx, s.ageKey(), redis.Z{Score: float64(micros), Member: record.Key})
		return nil
	})
	if err != nil {
		return unavailable("insert", err)
	}
	return nil
}

// Delete removes a record and its age entry.
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.recordKey(key))
		pipe.ZRem(ctx, s.ageKey(), key)
		return nil
	})
	if err != nil {
		return false, unavailable("delete", err)
	}
	return del.Val() > 0, nil
}

// DeleteOldest removes the k lowest-scored keys. Redis orders equal
// scores by member, which gives the (InsertedAt, Key) order.
func (s *RedisStore) DeleteOldest(ctx context.Context, k int) (int, error) {
	if k <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.client.ZRange(ctx, s.ageKey(), 0, int64(k-1)).Result()
	if err != nil {
		return 0, unavailable("zrange", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	recKeys := make([]string, len(keys))
	members := make([]interface{}, len(keys))
	for i, key := range keys {
		recKeys[i] = s.recordKey(key)
		members[i] = key
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recKeys...)
		pipe.ZRem(ctx, s.ageKey(), members...)
		return nil
	})
	if err != nil {
		return 0, unavailable("evict", err)
	}
	return len(keys), nil
}

// Size returns the number of records.
func (s *RedisStore) Size(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.ageKey()).Result()
	if err != nil {
		return 0, unavailable("zcard", err)
	}
	return int(n), nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	err := s.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// GetClient returns the underlying Redis client for direct access
func (s *RedisStore) GetClient() *redis.Client {
	return s.client
}
