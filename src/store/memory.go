package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"sync/atomic"

	"www.github.com/Wanderer0074348/SemCache/src/hnsw"
	"www.github.com/Wanderer0074348/SemCache/src/models"
	"www.github.com/Wanderer0074348/SemCache/src/vector"
)

const (
	IndexFlat = "flat"
	IndexHNSW = "hnsw"
)

// MemoryOptions configures a MemoryStore.
type MemoryOptions struct {
	// Dimension fixes the vector size. 0 means the first insert decides.
	Dimension int

	// Index is IndexFlat (exact scan) or IndexHNSW.
	Index string
	HNSW  hnsw.Options

	// BruteForceBelow makes an HNSW store scan exactly while it holds
	// fewer live records than this.
	BruteForceBelow int

	// CompactRatio triggers an HNSW rebuild on Checkpoint once
	// tombstones/live reaches it. Inserts rebuild at twice the ratio.
	CompactRatio float64
}

// DefaultMemoryOptions returns the flat-index defaults.
func DefaultMemoryOptions() MemoryOptions {
	return MemoryOptions{
		Index:           IndexFlat,
		HNSW:            hnsw.DefaultOptions,
		BruteForceBelow: 1000,
		CompactRatio:    0.25,
	}
}

type entry struct {
	rec  *models.VectorRecord
	norm float64
}

// snapshot is an immutable point-in-time view of the store.
type snapshot struct {
	byKey     map[string]*entry
	ordered   []*entry // by (InsertedAt, Key)
	graph     *hnsw.Graph[*entry]
	dimension int
	closed    bool
}

func (s *snapshot) live(e *entry) bool {
	return s.byKey[e.rec.Key] == e
}

// MemoryStore keeps records in process memory. Readers load the current
// snapshot without locking; writers are serialised by mu and publish a
// new snapshot before returning.
type MemoryStore struct {
	opts MemoryOptions
	snap atomic.Pointer[snapshot]

	mu     sync.Mutex
	nodeOf map[string]uint32 // key -> graph node, guarded by mu
}

// NewMemoryStore allocates an empty store.
func NewMemoryStore(opts MemoryOptions) (*MemoryStore, error) {
	switch opts.Index {
	case "":
		opts.Index = IndexFlat
	case IndexFlat, IndexHNSW:
	default:
		return nil, fmt.Errorf("unknown index %q", opts.Index)
	}
	if opts.Dimension < 0 {
		return nil, fmt.Errorf("dimension must not be negative")
	}
	if opts.CompactRatio <= 0 {
		opts.CompactRatio = DefaultMemoryOptions().CompactRatio
	}

	s := &MemoryStore{
		opts:   opts,
		nodeOf: make(map[string]uint32),
	}
	initial := &snapshot{
		byKey:     make(map[string]*entry),
		dimension: opts.Dimension,
	}
	if opts.Index == IndexHNSW && opts.Dimension > 0 {
		initial.graph = s.newGraph(opts.Dimension)
	}
	s.snap.Store(initial)
	return s, nil
}

func (s *MemoryStore) newGraph(dimension int) *hnsw.Graph[*entry] {
	return hnsw.New[*entry](dimension, func(o *hnsw.Options) {
		*o = s.opts.HNSW
	})
}

func (s *MemoryStore) current() (*snapshot, error) {
	snap := s.snap.Load()
	if snap.closed {
		return nil, fmt.Errorf("%w: store closed", models.ErrUnavailable)
	}
	return snap, nil
}

// Nearest returns up to k records ranked by cosine similarity.
func (s *MemoryStore) Nearest(ctx context.Context, v []float32, k int) ([]models.ScoredRecord, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.nearest(snap, v, k)
}

func (s *MemoryStore) nearest(snap *snapshot, v []float32, k int) ([]models.ScoredRecord, error) {
	if err := vector.Validate(v, snap.dimension); err != nil {
		return nil, err
	}
	if len(snap.ordered) == 0 || k <= 0 {
		return []models.ScoredRecord{}, nil
	}

	qNorm := vector.Norm(v)

	var top []scored
	if snap.graph != nil && len(snap.ordered) >= s.opts.BruteForceBelow {
		hits, err := snap.graph.Search(v, k, snap.live)
		if err != nil {
			return nil, err
		}
		top = make([]scored, 0, len(hits)+1)
		for _, h := range hits {
			top = append(top, scored{e: h.Value, score: vector.CosineWithNorms(v, h.Value.rec.Vector, qNorm, h.Value.norm)})
		}
		sortScored(top)

		// The record stored for v itself ranks first whether or not the
		// graph walk reached it.
		if e, ok := snap.byKey[vector.Key(v)]; ok && !containsEntry(top, e) {
			top = pushTopK(top, scored{e: e, score: vector.CosineWithNorms(v, e.rec.Vector, qNorm, e.norm)}, k)
		}
	} else {
		top = make([]scored, 0, k)
		for _, e := range snap.ordered {
			top = pushTopK(top, scored{e: e, score: vector.CosineWithNorms(v, e.rec.Vector, qNorm, e.norm)}, k)
		}
	}

	out := make([]models.ScoredRecord, len(top))
	for i, t := range top {
		out[i] = models.ScoredRecord{Record: cloneRecord(t.e.rec), Score: t.score}
	}
	return out, nil
}

// Get returns a copy of the record stored under key, or nil.
func (s *MemoryStore) Get(ctx context.Context, key string) (*models.VectorRecord, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	e, ok := snap.byKey[key]
	if !ok {
		return nil, nil
	}
	return cloneRecord(e.rec), nil
}

// Size returns the number of live records.
func (s *MemoryStore) Size(ctx context.Context) (int, error) {
	snap, err := s.current()
	if err != nil {
		return 0, err
	}
	return len(snap.ordered), nil
}

// Insert adds record, replacing any record with the same key in the same commit.
func (s *MemoryStore) Insert(ctx context.Context, record *models.VectorRecord) error {
	if record == nil || record.Key == "" {
		return fmt.Errorf("%w: record without key", models.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.current()
	if err != nil {
		return err
	}
	if err := vector.Validate(record.Vector, old.dimension); err != nil {
		return err
	}

	next := s.fork(old)
	if next.dimension == 0 {
		next.dimension = len(record.Vector)
		if s.opts.Index == IndexHNSW {
			next.graph = s.newGraph(next.dimension)
		}
	}

	// Graph.Add only fails on a dimension mismatch; rule it out before
	// anything is tombstoned so a failed Insert changes nothing.
	if next.graph != nil && next.graph.Dimension() != len(record.Vector) {
		return &vector.DimensionError{Expected: next.graph.Dimension(), Actual: len(record.Vector)}
	}

	// The previous node is tombstoned before the new one is linked, so
	// the replacement is not pruned in favour of its identical twin.
	if prev, ok := next.byKey[record.Key]; ok {
		next.ordered = removeEntry(next.ordered, prev)
		s.untrack(next, record.Key)
	}

	e := &entry{rec: cloneRecord(record)}
	e.norm = vector.Norm(e.rec.Vector)
	next.byKey[e.rec.Key] = e
	next.ordered = insertEntry(next.ordered, e)

	if next.graph != nil {
		id, err := next.graph.Add(e.rec.Vector, e)
		if err != nil {
			return err
		}
		s.nodeOf[e.rec.Key] = id
		if float64(next.graph.Tombstones()) >= 2*s.opts.CompactRatio*float64(max(next.graph.Len(), 1)) {
			s.rebuild(next)
		}
	}

	s.snap.Store(next)
	return nil
}

// Delete removes the record stored under key.
func (s *MemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.current()
	if err != nil {
		return false, err
	}
	prev, ok := old.byKey[key]
	if !ok {
		return false, nil
	}

	next := s.fork(old)
	next.ordered = removeEntry(next.ordered, prev)
	s.untrack(next, key)

	s.snap.Store(next)
	return true, nil
}

// DeleteOldest removes the k records with the smallest (InsertedAt, Key).
func (s *MemoryStore) DeleteOldest(ctx context.Context, k int) (int, error) {
	if k <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.current()
	if err != nil {
		return 0, err
	}
	if len(old.ordered) == 0 {
		return 0, nil
	}
	k = min(k, len(old.ordered))

	next := s.fork(old)
	for _, e := range next.ordered[:k] {
		s.untrack(next, e.rec.Key)
	}
	next.ordered = append([]*entry(nil), next.ordered[k:]...)

	s.snap.Store(next)
	return k, nil
}

// Checkpoint rebuilds the HNSW graph once enough tombstones piled up.
func (s *MemoryStore) Checkpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.current()
	if err != nil {
		return err
	}
	if old.graph == nil || old.graph.Tombstones() == 0 {
		return nil
	}
	if float64(old.graph.Tombstones()) < s.opts.CompactRatio*float64(max(old.graph.Len(), 1)) {
		return nil
	}

	next := s.fork(old)
	s.rebuild(next)
	s.snap.Store(next)
	return nil
}

// Ping reports whether the store is open.
func (s *MemoryStore) Ping(ctx context.Context) error {
	_, err := s.current()
	return err
}

// Close releases the records. Later calls fail with ErrUnavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Store(&snapshot{byKey: map[string]*entry{}, closed: true})
	s.nodeOf = make(map[string]uint32)
	return nil
}

// fork copies the mutable parts of a snapshot. The graph is shared.
func (s *MemoryStore) fork(old *snapshot) *snapshot {
	return &snapshot{
		byKey:     maps.Clone(old.byKey),
		ordered:   append(make([]*entry, 0, len(old.ordered)+1), old.ordered...),
		graph:     old.graph,
		dimension: old.dimension,
	}
}

// untrack drops key from the snapshot map and tombstones its graph node.
func (s *MemoryStore) untrack(next *snapshot, key string) {
	delete(next.byKey, key)
	if id, ok := s.nodeOf[key]; ok && next.graph != nil {
		next.graph.Delete(id)
	}
	delete(s.nodeOf, key)
}

// rebuild replaces the snapshot's graph with one holding only live entries.
func (s *MemoryStore) rebuild(next *snapshot) {
	g := s.newGraph(next.dimension)
	nodeOf := make(map[string]uint32, len(next.ordered))
	for _, e := range next.ordered {
		id, err := g.Add(e.rec.Vector, e)
		if err != nil {
			// every entry was validated against this dimension on insert
			panic(err)
		}
		nodeOf[e.rec.Key] = id
	}
	next.graph = g
	s.nodeOf = nodeOf
}

func containsEntry(top []scored, e *entry) bool {
	for _, t := range top {
		if t.e == e {
			return true
		}
	}
	return false
}

func cloneRecord(r *models.VectorRecord) *models.VectorRecord {
	c := *r
	c.Vector = vector.Clone(r.Vector)
	return &c
}

func entryLess(a, b *entry) bool {
	if !a.rec.InsertedAt.Equal(b.rec.InsertedAt) {
		return a.rec.InsertedAt.Before(b.rec.InsertedAt)
	}
	return a.rec.Key < b.rec.Key
}

// insertEntry places e in (InsertedAt, Key) order. Appending is the common case.
func insertEntry(ordered []*entry, e *entry) []*entry {
	n := len(ordered)
	if n == 0 || entryLess(ordered[n-1], e) {
		return append(ordered, e)
	}
	i := sort.Search(n, func(i int) bool { return entryLess(e, ordered[i]) })
	ordered = append(ordered, nil)
	copy(ordered[i+1:], ordered[i:])
	ordered[i] = e
	return ordered
}

func removeEntry(ordered []*entry, e *entry) []*entry {
	i := sort.Search(len(ordered), func(i int) bool { return !entryLess(ordered[i], e) })
	if i < len(ordered) && ordered[i] == e {
		return append(ordered[:i], ordered[i+1:]...)
	}
	return ordered
}
