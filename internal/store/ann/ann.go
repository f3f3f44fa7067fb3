// Package ann implements a single-layer HNSW-style approximate nearest
// neighbor index over cosine similarity, keyed by an opaque string id
// (the claim id). It favors deterministic, replay-stable behavior over the
// full multi-layer HNSW construction: insertion order is preserved so that
// rebuilding from a write-ahead log reproduces the same graph.
package ann

import (
	"container/heap"
	"fmt"
	"math"
)

// TuningConfig bounds the neighbor fan-out and search expansion of the
// index.
type TuningConfig struct {
	MaxNeighborsBase      int
	MaxNeighborsUpper     int
	SearchExpansionFactor float64
	SearchExpansionMin    int
	SearchExpansionMax    int
}

// DefaultTuningConfig mirrors commonly used HNSW defaults scaled down for an
// in-process, single-layer index.
func DefaultTuningConfig() TuningConfig {
	return TuningConfig{
		MaxNeighborsBase:      16,
		MaxNeighborsUpper:     32,
		SearchExpansionFactor: 4.0,
		SearchExpansionMin:    32,
		SearchExpansionMax:    256,
	}
}

type node struct {
	id        string
	vector    []float32
	neighbors []string
}

// Index is a single-layer ANN graph. It is not safe for concurrent use;
// callers serialize access (internal/core holds the exclusive lock).
type Index struct {
	tuning     TuningConfig
	dimension  int
	entryPoint string
	nodes      map[string]*node
	order      []string
}

// New constructs an empty index with the given tuning.
func New(tuning TuningConfig) *Index {
	return &Index{tuning: tuning, nodes: make(map[string]*node)}
}

// Dimension reports the vector dimensionality fixed by the first insert, or
// 0 if empty.
func (idx *Index) Dimension() int { return idx.dimension }

// Tuning returns the neighbor/expansion bounds the index was built with.
func (idx *Index) Tuning() TuningConfig { return idx.tuning }

// Len reports how many vectors are indexed.
func (idx *Index) Len() int { return len(idx.nodes) }

// Entry is one indexed vector, as returned by Entries.
type Entry struct {
	ID     string
	Vector []float32
}

// Entries returns every indexed vector in insertion order. Replaying these
// in order (e.g. via WAL 'V' records) reproduces an equivalent ANN graph.
func (idx *Index) Entries() []Entry {
	entries := make([]Entry, 0, len(idx.order))
	for _, id := range idx.order {
		if n, ok := idx.nodes[id]; ok {
			entries = append(entries, Entry{ID: id, Vector: append([]float32(nil), n.vector...)})
		}
	}
	return entries
}

// VectorFor returns the unit-normalized vector stored for id, or false if
// id was never upserted.
func (idx *Index) VectorFor(id string) ([]float32, bool) {
	n, ok := idx.nodes[id]
	if !ok {
		return nil, false
	}
	return n.vector, true
}

// Upsert inserts or replaces the vector for id. Returns an error if the
// vector's dimensionality mismatches the index's established dimensionality.
func (idx *Index) Upsert(id string, vector []float32) error {
	if idx.dimension == 0 && len(idx.nodes) == 0 {
		idx.dimension = len(vector)
	}
	if len(vector) != idx.dimension {
		return fmt.Errorf("vector dimension %d does not match index dimension %d", len(vector), idx.dimension)
	}
	normalized := normalize(vector)

	if existing, ok := idx.nodes[id]; ok {
		existing.vector = normalized
		return nil
	}

	n := &node{id: id, vector: normalized}
	idx.nodes[id] = n
	idx.order = append(idx.order, id)

	if idx.entryPoint == "" {
		idx.entryPoint = id
		return nil
	}

	ef := idx.searchExpansion(idx.tuning.MaxNeighborsBase)
	candidates := idx.searchFrom(idx.entryPoint, normalized, ef, nil)

	limit := idx.tuning.MaxNeighborsBase
	if limit > len(candidates) {
		limit = len(candidates)
	}
	for i := 0; i < limit; i++ {
		idx.link(id, candidates[i].ID)
	}
	return nil
}

// link adds a symmetric edge between a and b, pruning either side's
// neighbor list back to MaxNeighborsUpper if it grows past that bound.
func (idx *Index) link(a, b string) {
	na := idx.nodes[a]
	nb := idx.nodes[b]
	if na == nil || nb == nil || a == b {
		return
	}
	na.neighbors = appendUnique(na.neighbors, b)
	nb.neighbors = appendUnique(nb.neighbors, a)

	if len(na.neighbors) > idx.tuning.MaxNeighborsUpper {
		na.neighbors = idx.pruneNeighbors(na)
	}
	if len(nb.neighbors) > idx.tuning.MaxNeighborsUpper {
		nb.neighbors = idx.pruneNeighbors(nb)
	}
}

func (idx *Index) pruneNeighbors(n *node) []string {
	type scored struct {
		id   string
		dist float32
	}
	scoredNeighbors := make([]scored, 0, len(n.neighbors))
	for _, nb := range n.neighbors {
		if other, ok := idx.nodes[nb]; ok {
			scoredNeighbors = append(scoredNeighbors, scored{nb, cosineDistance(n.vector, other.vector)})
		}
	}
	for i := 1; i < len(scoredNeighbors); i++ {
		j := i
		for j > 0 && scoredNeighbors[j-1].dist > scoredNeighbors[j].dist {
			scoredNeighbors[j-1], scoredNeighbors[j] = scoredNeighbors[j], scoredNeighbors[j-1]
			j--
		}
	}
	limit := idx.tuning.MaxNeighborsUpper
	if limit > len(scoredNeighbors) {
		limit = len(scoredNeighbors)
	}
	kept := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		kept = append(kept, scoredNeighbors[i].id)
	}
	return kept
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// Result is one match from Search, closer (lower cost) first.
type Result struct {
	ID       string
	Distance float32
}

// Search finds the k nearest neighbors to query, expanding the frontier by
// ef candidates. allowed, if non-nil, restricts results to that id set.
func (idx *Index) Search(query []float32, k int, ef int, allowed map[string]struct{}) []Result {
	if idx.entryPoint == "" || len(idx.nodes) == 0 {
		return nil
	}
	normalized := normalize(query)
	candidates := idx.searchFrom(idx.entryPoint, normalized, ef, allowed)
	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k]
}

// SearchExpansion clamps k*factor into [min, max], per the tuning config.
func (idx *Index) SearchExpansion(k int) int { return idx.searchExpansion(k) }

func (idx *Index) searchExpansion(k int) int {
	ef := int(float64(k) * idx.tuning.SearchExpansionFactor)
	if ef < idx.tuning.SearchExpansionMin {
		ef = idx.tuning.SearchExpansionMin
	}
	if ef > idx.tuning.SearchExpansionMax {
		ef = idx.tuning.SearchExpansionMax
	}
	return ef
}

type frontierItem struct {
	id   string
	dist float32
}

type frontierHeap []frontierItem

func (h frontierHeap) Len() int            { return len(h) }
func (h frontierHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h frontierHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *frontierHeap) Push(x interface{}) { *h = append(*h, x.(frontierItem)) }
func (h *frontierHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// searchFrom runs best-first expansion from entry, bounded by ef candidates
// visited, and returns all visited nodes passing the allowed filter sorted
// by ascending distance.
func (idx *Index) searchFrom(entry string, query []float32, ef int, allowed map[string]struct{}) []Result {
	visited := make(map[string]struct{})
	frontier := &frontierHeap{}
	heap.Init(frontier)

	entryNode := idx.nodes[entry]
	if entryNode == nil {
		return nil
	}
	heap.Push(frontier, frontierItem{entry, cosineDistance(query, entryNode.vector)})
	visited[entry] = struct{}{}

	var results []Result
	for frontier.Len() > 0 && len(visited) <= ef {
		current := heap.Pop(frontier).(frontierItem)
		n := idx.nodes[current.id]
		if n == nil {
			continue
		}
		if allowed == nil {
			results = append(results, Result{current.id, current.dist})
		} else if _, ok := allowed[current.id]; ok {
			results = append(results, Result{current.id, current.dist})
		}

		for _, nb := range n.neighbors {
			if _, ok := visited[nb]; ok {
				continue
			}
			visited[nb] = struct{}{}
			if nbNode := idx.nodes[nb]; nbNode != nil {
				heap.Push(frontier, frontierItem{nb, cosineDistance(query, nbNode.vector)})
			}
		}
	}

	for i := 1; i < len(results); i++ {
		j := i
		for j > 0 && results[j-1].Distance > results[j].Distance {
			results[j-1], results[j] = results[j], results[j-1]
			j--
		}
	}
	return results
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return append([]float32(nil), v...)
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// CosineDistance exposes the index's internal distance metric (1 - cosine
// similarity) for callers that need to score a raw vector pair directly,
// such as the retrieval planner's query-vector feature. Both inputs are
// normalized internally, so callers may pass raw (non-unit) vectors.
func CosineDistance(a, b []float32) float32 {
	return cosineDistance(normalize(a), normalize(b))
}

// cosineDistance returns a smaller-is-better cost derived from cosine
// similarity of two unit-normalized vectors: 1 - cosine_similarity.
func cosineDistance(a, b []float32) float32 {
	var dot float32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	return 1 - dot
}
