// Package sparse implements the BM25 sparse retriever from spec.md §4.2,
// adapted from the teacher's pkg/semantic-router/sparse.go BM25Encoder. The
// teacher's encoder only ever does a full Fit over a corpus; this version
// generalizes it into an incrementally maintained inverted index exposing
// Add/Remove/Search/RebuildFrom, guarded by a single RWMutex
// (single-writer/multi-reader per spec.md §5).
package sparse

import (
	"math"
	"sort"
	"sync"
)

// Tokenizer splits text into terms. The default Tokenizer here matches the
// teacher's tokenize(); a CJK bigram segmenter is selectable for
// sparse_retriever.use_word_segmentation.
type Tokenizer interface {
	Tokenize(text string) []string
}

// Hit is one BM25 search result.
type Hit struct {
	DocID int64
	Score float64
}

// Index is an incrementally maintained BM25 inverted index.
type Index struct {
	mu sync.RWMutex

	k1 float64
	b  float64
	tok Tokenizer

	postings  map[string]map[int64]int // term -> doc_id -> term frequency
	docLen    map[int64]int            // doc_id -> token count
	totalLen  int
	docCount  int
}

// NewIndex creates a BM25 index with the given parameters (defaults 1.2 and
// 0.75, matching the teacher's NewBM25Encoder) and tokenizer.
func NewIndex(k1, b float64, tok Tokenizer) *Index {
	if tok == nil {
		tok = DefaultTokenizer{}
	}
	return &Index{
		k1:       k1,
		b:        b,
		tok:      tok,
		postings: make(map[string]map[int64]int),
		docLen:   make(map[int64]int),
	}
}

// Add indexes a document's content under docID. Re-adding an existing
// docID is a no-op unless Remove was called first — callers are expected
// to call Remove before re-Add on content edits (see SPEC_FULL.md §9(c):
// edits are delete+insert, never in-place).
func (idx *Index) Add(docID int64, content string) {
	terms := idx.tok.Tokenize(content)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.addLocked(docID, terms)
}

func (idx *Index) addLocked(docID int64, terms []string) {
	if _, exists := idx.docLen[docID]; exists {
		return
	}
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	for term, count := range tf {
		if idx.postings[term] == nil {
			idx.postings[term] = make(map[int64]int)
		}
		idx.postings[term][docID] = count
	}
	idx.docLen[docID] = len(terms)
	idx.totalLen += len(terms)
	idx.docCount++
}

// Remove deletes a document from the index.
func (idx *Index) Remove(docID int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(docID)
}

func (idx *Index) removeLocked(docID int64) {
	length, exists := idx.docLen[docID]
	if !exists {
		return
	}
	for term, postings := range idx.postings {
		if _, ok := postings[docID]; ok {
			delete(postings, docID)
			if len(postings) == 0 {
				delete(idx.postings, term)
			}
		}
	}
	delete(idx.docLen, docID)
	idx.totalLen -= length
	idx.docCount--
}

// Document is one row handed to RebuildFrom.
type Document struct {
	DocID   int64
	Content string
}

// RebuildFrom replaces the entire index with a fresh build from storage,
// used at startup and on demand per spec.md §4.2.
func (idx *Index) RebuildFrom(docs []Document) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.postings = make(map[string]map[int64]int)
	idx.docLen = make(map[int64]int)
	idx.totalLen = 0
	idx.docCount = 0
	for _, d := range docs {
		idx.addLocked(d.DocID, idx.tok.Tokenize(d.Content))
	}
}

// avgDocLen returns the mean document length; callers must hold idx.mu.
func (idx *Index) avgDocLen() float64 {
	if idx.docCount == 0 {
		return 0
	}
	return float64(idx.totalLen) / float64(idx.docCount)
}

// idf computes the BM25 inverse document frequency for a term; callers
// must hold idx.mu.
func (idx *Index) idf(term string) float64 {
	df := len(idx.postings[term])
	if df == 0 {
		return 0
	}
	n := float64(idx.docCount)
	// BM25's probabilistic IDF, floored at zero so common terms never go
	// negative and silently invert ranking.
	v := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
	if v < 0 {
		v = 0
	}
	return v
}

// Search returns up to k documents ranked by raw BM25 score (unbounded
// above, not comparable across queries — fusion normalizes per-query).
func (idx *Index) Search(query string, k int) []Hit {
	terms := idx.tok.Tokenize(query)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.docCount == 0 || len(terms) == 0 {
		return nil
	}
	avgLen := idx.avgDocLen()

	scores := make(map[int64]float64)
	for _, term := range terms {
		postings := idx.postings[term]
		if postings == nil {
			continue
		}
		idfVal := idx.idf(term)
		if idfVal == 0 {
			continue
		}
		for docID, tf := range postings {
			dl := float64(idx.docLen[docID])
			numerator := float64(tf) * (idx.k1 + 1)
			denominator := float64(tf) + idx.k1*(1-idx.b+idx.b*dl/avgLen)
			scores[docID] += idfVal * numerator / denominator
		}
	}

	hits := make([]Hit, 0, len(scores))
	for docID, score := range scores {
		hits = append(hits, Hit{DocID: docID, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Size returns the number of indexed documents.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.docCount
}
