package vectorindex

import (
	"container/heap"
	"sort"
)

// better reports whether a ranks ahead of b.
func better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

// hitHeap is a min-heap with the worst retained hit on top.
type hitHeap []Hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)        { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topK keeps the k best hits seen so far.
type topK struct {
	k int
	h hitHeap
}

func newTopK(k int) *topK {
	return &topK{k: k, h: make(hitHeap, 0, k)}
}

func (t *topK) offer(hit Hit) {
	if len(t.h) < t.k {
		heap.Push(&t.h, hit)
		return
	}
	if better(hit, t.h[0]) {
		t.h[0] = hit
		heap.Fix(&t.h, 0)
	}
}

// sorted returns the retained hits best first.
func (t *topK) sorted() []Hit {
	out := make([]Hit, len(t.h))
	copy(out, t.h)
	sortHits(out)
	return out
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return better(hits[i], hits[j]) })
}
