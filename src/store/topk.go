package store

import (
	"sort"

	"www.github.com/Wanderer0074348/SemCache/src/models"
)

type scored struct {
	e     *entry
	score float64
}

// better orders by score descending, then key ascending.
func better(a, b scored) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.e.rec.Key < b.e.rec.Key
}

// pushTopK keeps top sorted best-first and no longer than k.
func pushTopK(top []scored, s scored, k int) []scored {
	if len(top) == k && !better(s, top[k-1]) {
		return top
	}
	i := sort.Search(len(top), func(i int) bool { return better(s, top[i]) })
	if len(top) < k {
		top = append(top, scored{})
	}
	copy(top[i+1:], top[i:len(top)-1])
	top[i] = s
	return top
}

func sortScored(s []scored) {
	sort.Slice(s, func(i, j int) bool { return better(s[i], s[j]) })
}

// rankRecords sorts plain scored records the same way, for stores that
// do not keep entries.
func rankRecords(r []models.ScoredRecord) {
	sort.Slice(r, func(i, j int) bool {
		if r[i].Score != r[j].Score {
			return r[i].Score > r[j].Score
		}
		return r[i].Record.Key < r[j].Record.Key
	})
}
