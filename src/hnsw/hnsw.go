// Package hnsw implements a Hierarchical Navigable Small World graph over
// cosine distance.
//
// Writers are serialised by an internal mutex. Search never takes that
// mutex: node vectors are immutable once published and neighbour lists
// are swapped atomically, so a search runs against whatever links were
// published when it reached each node. Deleted nodes stay navigable as
// tombstones until the owner rebuilds the graph, though a full neighbour
// list sheds its tombstones before it prunes live links.
//
// Reference: Malkov & Yashunin, "Efficient and robust approximate nearest
// neighbor search using Hierarchical Navigable Small World graphs".
package hnsw

import (
	"container/heap"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"

	"www.github.com/Wanderer0074348/SemCache/src/vector"
)

// Options represents the options for configuring HNSW.
type Options struct {
	// M is the number of links kept per node on layers above 0. Layer 0 keeps 2*M.
	// The range 12-48 is fine for most embedding models.
	M int

	// EF is the size of the dynamic candidate list during construction.
	EF int

	// EFSearch is the size of the dynamic candidate list during search.
	// Search uses max(EFSearch, k).
	EFSearch int

	// Seed makes level assignment reproducible.
	Seed int64
}

var DefaultOptions = Options{
	M:        16,
	EF:       200,
	EFSearch: 100,
	Seed:     1,
}

// Result is one search hit. Distance is cosine distance (1 - similarity).
type Result[T any] struct {
	ID       uint32
	Value    T
	Distance float64
}

type node[T any] struct {
	id      uint32
	vector  []float32
	norm    float64
	level   int
	value   T
	links   []atomic.Pointer[[]uint32]
	deleted atomic.Bool
}

func (n *node[T]) neighbours(level int) []uint32 {
	if level >= len(n.links) {
		return nil
	}
	p := n.links[level].Load()
	if p == nil {
		return nil
	}
	return *p
}

// Graph is an HNSW index whose nodes carry a value of type T.
type Graph[T any] struct {
	dimension int
	mmax      int
	mmax0     int
	ml        float64
	opts      Options

	nodes atomic.Pointer[[]*node[T]]
	entry atomic.Pointer[node[T]]
	live  atomic.Int64

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a new graph for vectors of the given dimension.
func New[T any](dimension int, optFns ...func(o *Options)) *Graph[T] {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	// M == 1 would divide by log(1) = 0
	if opts.M < 2 {
		opts.M = 2
	}
	if opts.EF < opts.M {
		opts.EF = opts.M
	}
	if opts.EFSearch <= 0 {
		opts.EFSearch = DefaultOptions.EFSearch
	}

	g := &Graph[T]{
		dimension: dimension,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ml:        1 / math.Log(float64(opts.M)),
		opts:      opts,
		rng:       rand.New(rand.NewSource(opts.Seed)), // nolint gosec
	}
	empty := make([]*node[T], 0)
	g.nodes.Store(&empty)
	return g
}

// Dimension returns the vector size accepted by the graph.
func (g *Graph[T]) Dimension() int { return g.dimension }

// Options returns the effective options.
func (g *Graph[T]) Options() Options { return g.opts }

// Len returns the number of live (not deleted) nodes.
func (g *Graph[T]) Len() int { return int(g.live.Load()) }

// Tombstones returns the number of deleted nodes still in the graph.
func (g *Graph[T]) Tombstones() int {
	return len(*g.nodes.Load()) - g.Len()
}

// Add inserts v with its value and returns the node id.
func (g *Graph[T]) Add(v []float32, value T) (uint32, error) {
	if len(v) != g.dimension {
		return 0, &vector.DimensionError{Expected: g.dimension, Actual: len(v)}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	nodes := *g.nodes.Load()
	n := &node[T]{
		id:     uint32(len(nodes)),
		vector: vector.Clone(v),
		value:  value,
		level:  g.randomLevel(),
	}
	n.norm = vector.Norm(n.vector)
	n.links = make([]atomic.Pointer[[]uint32], n.level+1)

	ep := g.entry.Load()
	if ep == nil {
		nodes = append(nodes, n)
		g.nodes.Store(&nodes)
		g.entry.Store(n)
		g.live.Add(1)
		return n.id, nil
	}

	// Descend through the layers above the new node's level
	cur, curDist := ep, g.distance(n.vector, n.norm, ep)
	for level := ep.level; level > n.level; level-- {
		cur, curDist = g.greedy(nodes, n.vector, n.norm, cur, curDist, level)
	}

	type linkPlan struct {
		level int
		ids   []uint32
	}
	var plan []linkPlan

	for level := min(n.level, ep.level); level >= 0; level-- {
		candidates := g.searchLayer(nodes, n.vector, n.norm, cur, curDist, g.opts.EF, level)
		selected := g.selectNeighbours(nodes, preferLive(nodes, candidates), g.maxLinks(level))

		ids := make([]uint32, len(selected))
		for i, c := range selected {
			ids[i] = c.id
		}
		n.links[level].Store(&ids)
		plan = append(plan, linkPlan{level: level, ids: ids})

		cur, curDist = nodes[candidates[0].id], candidates[0].dist
	}

	// Publish the node before any neighbour links to it
	nodes = append(nodes, n)
	g.nodes.Store(&nodes)

	for _, p := range plan {
		for _, id := range p.ids {
			g.link(nodes, nodes[id], n.id, p.level)
		}
	}

	if n.level > ep.level {
		g.entry.Store(n)
	}
	g.live.Add(1)

	return n.id, nil
}

// Delete tombstones the node. It reports whether the node was live.
func (g *Graph[T]) Delete(id uint32) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	nodes := *g.nodes.Load()
	if int(id) >= len(nodes) {
		return false
	}
	if nodes[id].deleted.Swap(true) {
		return false
	}
	g.live.Add(-1)
	return true
}

// Search returns up to k nodes closest to q, nearest first. With a nil
// accept only live nodes are returned. Otherwise accept alone decides,
// tombstones included, so an owner holding an older view of its values
// can still reach nodes deleted after that view was taken.
func (g *Graph[T]) Search(q []float32, k int, accept func(T) bool) ([]Result[T], error) {
	if len(q) != g.dimension {
		return nil, &vector.DimensionError{Expected: g.dimension, Actual: len(q)}
	}
	if k <= 0 {
		return nil, nil
	}

	// Entry before nodes: the writer publishes nodes first, so the loaded
	// slice always contains the entry point.
	ep := g.entry.Load()
	if ep == nil {
		return nil, nil
	}
	nodes := *g.nodes.Load()

	qNorm := vector.Norm(q)
	cur, curDist := ep, g.distance(q, qNorm, ep)
	for level := ep.level; level > 0; level-- {
		cur, curDist = g.greedy(nodes, q, qNorm, cur, curDist, level)
	}

	candidates := g.searchLayer(nodes, q, qNorm, cur, curDist, max(g.opts.EFSearch, k), 0)

	results := make([]Result[T], 0, k)
	for _, c := range candidates {
		n := nodes[c.id]
		if accept == nil {
			if n.deleted.Load() {
				continue
			}
		} else if !accept(n.value) {
			continue
		}
		results = append(results, Result[T]{ID: n.id, Value: n.value, Distance: c.dist})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

func (g *Graph[T]) randomLevel() int {
	// 1 - Float64() is in (0, 1], so the log is finite
	return int(math.Floor(-math.Log(1-g.rng.Float64()) * g.ml))
}

func (g *Graph[T]) maxLinks(level int) int {
	// HNSW allows double the connections for the bottom level (0)
	if level == 0 {
		return g.mmax0
	}
	return g.mmax
}

func (g *Graph[T]) distance(q []float32, qNorm float64, n *node[T]) float64 {
	return 1 - vector.CosineWithNorms(q, n.vector, qNorm, n.norm)
}

// greedy walks one layer towards q until no neighbour is closer.
func (g *Graph[T]) greedy(nodes []*node[T], q []float32, qNorm float64, cur *node[T], curDist float64, level int) (*node[T], float64) {
	changed := true
	for changed {
		changed = false
		for _, id := range cur.neighbours(level) {
			if int(id) >= len(nodes) {
				continue
			}
			next := nodes[id]
			if d := g.distance(q, qNorm, next); d < curDist {
				cur, curDist = next, d
				changed = true
			}
		}
	}
	return cur, curDist
}

// searchLayer returns up to ef candidates on one layer, nearest first.
func (g *Graph[T]) searchLayer(nodes []*node[T], q []float32, qNorm float64, ep *node[T], epDist float64, ef int, level int) []candidate {
	visited := bitset.New(uint(len(nodes)))
	visited.Set(uint(ep.id))

	candidates := &minQueue{{id: ep.id, dist: epDist}}
	top := &maxQueue{{id: ep.id, dist: epDist}}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(candidate)
		if c.dist > (*top)[0].dist {
			break
		}

		for _, id := range nodes[c.id].neighbours(level) {
			// Linked after our snapshot of the node list was taken
			if int(id) >= len(nodes) {
				continue
			}
			if visited.Test(uint(id)) {
				continue
			}
			visited.Set(uint(id))

			d := g.distance(q, qNorm, nodes[id])
			if top.Len() < ef || d < (*top)[0].dist {
				heap.Push(candidates, candidate{id: id, dist: d})
				heap.Push(top, candidate{id: id, dist: d})
				if top.Len() > ef {
					heap.Pop(top)
				}
			}
		}
	}

	out := make([]candidate, top.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(top).(candidate)
	}
	return out
}

// selectNeighbours keeps up to m candidates, preferring ones that are
// closer to the base than to any already selected neighbour, then fills
// with the closest pruned ones. candidates must be sorted nearest first.
func (g *Graph[T]) selectNeighbours(nodes []*node[T], candidates []candidate, m int) []candidate {
	if len(candidates) <= m {
		return candidates
	}

	result := make([]candidate, 0, m)
	var pruned []candidate

	for _, c := range candidates {
		if len(result) >= m {
			break
		}
		cn := nodes[c.id]
		good := true
		for _, r := range result {
			rn := nodes[r.id]
			if 1-vector.CosineWithNorms(cn.vector, rn.vector, cn.norm, rn.norm) < c.dist {
				good = false
				break
			}
		}
		if good {
			result = append(result, c)
		} else {
			pruned = append(pruned, c)
		}
	}

	for _, c := range pruned {
		if len(result) >= m {
			break
		}
		result = append(result, c)
	}

	return result
}

// link adds newID to target's neighbour list on level, pruning when full.
func (g *Graph[T]) link(nodes []*node[T], target *node[T], newID uint32, level int) {
	old := target.neighbours(level)
	next := make([]uint32, len(old), len(old)+1)
	copy(next, old)
	next = append(next, newID)

	maxLinks := g.maxLinks(level)
	if len(next) > maxLinks {
		next = dropDeleted(nodes, next)
	}
	if len(next) > maxLinks {
		candidates := make([]candidate, len(next))
		for i, id := range next {
			n := nodes[id]
			candidates[i] = candidate{
				id:   id,
				dist: 1 - vector.CosineWithNorms(target.vector, n.vector, target.norm, n.norm),
			}
		}
		sortCandidates(candidates)

		selected := g.selectNeighbours(nodes, candidates, maxLinks)
		next = make([]uint32, len(selected))
		for i, c := range selected {
			next[i] = c.id
		}
	}

	target.links[level].Store(&next)
}

// dropDeleted filters tombstoned ids out of ids in place.
func dropDeleted[T any](nodes []*node[T], ids []uint32) []uint32 {
	live := ids[:0]
	for _, id := range ids {
		if !nodes[id].deleted.Load() {
			live = append(live, id)
		}
	}
	return live
}

// preferLive drops tombstoned candidates unless nothing else is left.
func preferLive[T any](nodes []*node[T], candidates []candidate) []candidate {
	live := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if !nodes[c.id].deleted.Load() {
			live = append(live, c)
		}
	}
	if len(live) == 0 {
		return candidates
	}
	return live
}
