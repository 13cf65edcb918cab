// Package vectorindex implements the dense retriever's backing ANN
// structure: a Hierarchical Navigable Small World graph, adapted from the
// teacher's pkg/index/hnsw.go. Quantization and the IVF/flat variants the
// teacher also carries are dropped — see DESIGN.md — since spec.md §4.3
// specifies exactly one dense retriever, not an index-selection policy.
package vectorindex

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// DistanceFunc computes a distance between two vectors of equal length;
// smaller is closer.
type DistanceFunc func(a, b []float32) float32

// node is one vector in the graph.
type node struct {
	id        string
	vector    []float32
	level     int
	neighbors [][]string
	deleted   bool
}

// HNSW implements approximate k-NN search over float32 vectors.
type HNSW struct {
	m              int
	maxM           int
	efConstruction int

	mu    sync.RWMutex
	nodes map[string]*node
	entry string

	distFunc DistanceFunc
	rng      *rand.Rand
}

// NewHNSW creates an HNSW index with m bidirectional links per node and the
// given construction-time candidate list size.
func NewHNSW(m, efConstruction int, distFunc DistanceFunc) *HNSW {
	if distFunc == nil {
		distFunc = CosineDistance
	}
	return &HNSW{
		m:              m,
		maxM:           m * 2,
		efConstruction: efConstruction,
		nodes:          make(map[string]*node),
		distFunc:       distFunc,
		rng:            rand.New(rand.NewSource(1)),
	}
}

func (h *HNSW) selectLevel() int {
	level := 0
	for h.rng.Float64() < 0.5 && level < 16 {
		level++
	}
	return level
}

// Insert adds a vector under id. Returns an error if id already exists.
func (h *HNSW) Insert(id string, vector []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.nodes[id]; exists {
		return fmt.Errorf("vectorindex: node %q already exists", id)
	}

	level := h.selectLevel()
	n := &node{
		id:        id,
		vector:    vector,
		level:     level,
		neighbors: make([][]string, level+1),
	}
	for i := range n.neighbors {
		n.neighbors[i] = make([]string, 0)
	}
	h.nodes[id] = n

	if h.entry == "" {
		h.entry = id
		return nil
	}

	entryNode := h.nodes[h.entry]
	curr := []string{h.entry}
	for lc := entryNode.level; lc > level; lc-- {
		curr = h.searchLayerClosest(vector, curr, 1, lc)
	}
	for lc := level; lc >= 0; lc-- {
		m := h.m
		if lc == 0 {
			m = h.maxM
		}
		candidates := h.searchLayer(vector, curr, h.efConstruction, lc)
		neighbors := h.selectNeighbors(vector, candidates, m)
		n.neighbors[lc] = neighbors
		for _, nb := range neighbors {
			h.addConnection(nb, id, lc)
			nbNode := h.nodes[nb]
			maxConn := h.m
			if lc == 0 {
				maxConn = h.maxM
			}
			if lc < len(nbNode.neighbors) && len(nbNode.neighbors[lc]) > maxConn {
				nbNode.neighbors[lc] = h.selectNeighbors(nbNode.vector, nbNode.neighbors[lc], maxConn)
			}
		}
		curr = neighbors
	}

	if level > h.nodes[h.entry].level {
		h.entry = id
	}
	return nil
}

// Delete soft-deletes a node; it remains in the graph for connectivity but
// is excluded from search results.
func (h *HNSW) Delete(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, exists := h.nodes[id]
	if !exists {
		return fmt.Errorf("vectorindex: node %q not found", id)
	}
	n.deleted = true
	if h.entry == id {
		h.entry = ""
		for otherID, other := range h.nodes {
			if !other.deleted {
				h.entry = otherID
				break
			}
		}
	}
	return nil
}

// Search returns up to k nearest ids and their distances to query.
func (h *HNSW) Search(query []float32, k, ef int) ([]string, []float32) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.entry == "" {
		return nil, nil
	}
	entryNode := h.nodes[h.entry]
	curr := []string{h.entry}
	for layer := entryNode.level; layer > 0; layer-- {
		curr = h.searchLayerClosest(query, curr, 1, layer)
	}
	candidates := h.searchLayer(query, curr, ef, 0)

	type scored struct {
		id   string
		dist float32
	}
	results := make([]scored, 0, len(candidates))
	for _, id := range candidates {
		if n, ok := h.nodes[id]; ok && !n.deleted {
			results = append(results, scored{id: id, dist: h.distFunc(query, n.vector)})
		}
	}
	for i := 0; i < len(results)-1; i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].dist < results[i].dist {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
	if k > len(results) {
		k = len(results)
	}
	ids := make([]string, k)
	dists := make([]float32, k)
	for i := 0; i < k; i++ {
		ids[i] = results[i].id
		dists[i] = results[i].dist
	}
	return ids, dists
}

// Size returns the number of non-deleted nodes.
func (h *HNSW) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, n := range h.nodes {
		if !n.deleted {
			count++
		}
	}
	return count
}

func (h *HNSW) searchLayer(query []float32, entryPoints []string, ef, layer int) []string {
	visited := make(map[string]bool)
	candidates := &distHeap{}
	dynamic := &distHeap{}

	for _, p := range entryPoints {
		n, ok := h.nodes[p]
		if !ok {
			continue
		}
		d := h.distFunc(query, n.vector)
		heap.Push(candidates, &heapItem{id: p, dist: d})
		heap.Push(dynamic, &heapItem{id: p, dist: -d})
		visited[p] = true
	}

	for candidates.Len() > 0 {
		if dynamic.Len() > 0 {
			lowerBound := (*candidates)[0].dist
			if lowerBound > -(*dynamic)[0].dist {
				break
			}
		}
		curr := heap.Pop(candidates).(*heapItem)
		currNode, ok := h.nodes[curr.id]
		if !ok || layer >= len(currNode.neighbors) {
			continue
		}
		for _, nb := range currNode.neighbors[layer] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			nbNode, ok := h.nodes[nb]
			if !ok {
				continue
			}
			d := h.distFunc(query, nbNode.vector)
			if dynamic.Len() < ef || d < -(*dynamic)[0].dist {
				heap.Push(candidates, &heapItem{id: nb, dist: d})
				heap.Push(dynamic, &heapItem{id: nb, dist: -d})
				if dynamic.Len() > ef {
					heap.Pop(dynamic)
				}
			}
		}
	}

	result := make([]string, 0, dynamic.Len())
	for dynamic.Len() > 0 {
		result = append(result, heap.Pop(dynamic).(*heapItem).id)
	}
	for i := 0; i < len(result)/2; i++ {
		result[i], result[len(result)-1-i] = result[len(result)-1-i], result[i]
	}
	return result
}

func (h *HNSW) searchLayerClosest(query []float32, entryPoints []string, num, layer int) []string {
	candidates := h.searchLayer(query, entryPoints, num, layer)
	if len(candidates) > num {
		return candidates[:num]
	}
	return candidates
}

func (h *HNSW) selectNeighbors(query []float32, candidates []string, m int) []string {
	if len(candidates) <= m {
		return candidates
	}
	type pair struct {
		id   string
		dist float32
	}
	pairs := make([]pair, len(candidates))
	for i, c := range candidates {
		pairs[i] = pair{id: c, dist: h.distFunc(query, h.nodes[c].vector)}
	}
	for i := 0; i < len(pairs)-1; i++ {
		for j := i + 1; j < len(pairs); j++ {
			if pairs[j].dist < pairs[i].dist {
				pairs[i], pairs[j] = pairs[j], pairs[i]
			}
		}
	}
	result := make([]string, 0, m)
	for i := 0; i < m && i < len(pairs); i++ {
		result = append(result, pairs[i].id)
	}
	return result
}

func (h *HNSW) addConnection(from, to string, layer int) {
	n, ok := h.nodes[from]
	if !ok || layer >= len(n.neighbors) {
		return
	}
	for _, nb := range n.neighbors[layer] {
		if nb == to {
			return
		}
	}
	n.neighbors[layer] = append(n.neighbors[layer], to)
}

type heapItem struct {
	id   string
	dist float32
}

type distHeap []*heapItem

func (h distHeap) Len() int            { return len(h) }
func (h distHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h distHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *distHeap) Push(x interface{}) { *h = append(*h, x.(*heapItem)) }
func (h *distHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// CosineDistance returns 1 - cosine_similarity(a, b), in [0, 2].
func CosineDistance(a, b []float32) float32 {
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1.0
	}
	sim := dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
	return 1.0 - sim
}

// CosineSimilarity returns cosine similarity in [-1, 1].
func CosineSimilarity(a, b []float32) float32 {
	return 1.0 - CosineDistance(a, b)
}
