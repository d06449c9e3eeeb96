package hnsw

import "sort"

type candidate struct {
	id   uint32
	dist float64
}

// minQueue pops the nearest candidate first.
type minQueue []candidate

func (q minQueue) Len() int { return len(q) }
func (q minQueue) Less(i, j int) bool {
	if q[i].dist == q[j].dist {
		return q[i].id < q[j].id
	}
	return q[i].dist < q[j].dist
}
func (q minQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *minQueue) Push(x any)   { *q = append(*q, x.(candidate)) }
func (q *minQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// maxQueue keeps the furthest candidate on top.
type maxQueue []candidate

func (q maxQueue) Len() int { return len(q) }
func (q maxQueue) Less(i, j int) bool {
	if q[i].dist == q[j].dist {
		return q[i].id > q[j].id
	}
	return q[i].dist > q[j].dist
}
func (q maxQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *maxQueue) Push(x any)   { *q = append(*q, x.(candidate)) }
func (q *maxQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

func sortCandidates(c []candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].dist == c[j].dist {
			return c[i].id < c[j].id
		}
		return c[i].dist < c[j].dist
	})
}
