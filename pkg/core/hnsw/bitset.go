package hnsw

// visitedSet marks internal IDs already expanded during one layer search.
// Instances are pooled per Index and reset between searches.
type visitedSet struct {
	words []uint64
}

func newVisitedSet(capacity int) *visitedSet {
	return &visitedSet{words: make([]uint64, capacity/64+1)}
}

// reset clears the set and makes sure ids below capacity fit without growing.
func (v *visitedSet) reset(capacity int) {
	need := capacity/64 + 1
	if len(v.words) < need {
		v.words = make([]uint64, need)
		return
	}
	clear(v.words)
}

func (v *visitedSet) add(n uint32) {
	w := int(n >> 6)
	if w >= len(v.words) {
		grown := make([]uint64, w+1)
		copy(grown, v.words)
		v.words = grown
	}
	v.words[w] |= 1 << (n & 63)
}

func (v *visitedSet) has(n uint32) bool {
	w := int(n >> 6)
	if w >= len(v.words) {
		return false
	}
	return v.words[w]&(1<<(n&63)) != 0
}
