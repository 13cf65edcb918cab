package vectorindex

import (
	"math"
	"testing"
)

func TestInsertAndSearchReturnsNearestNeighbor(t *testing.T) {
	idx := NewHNSW(16, 200, CosineDistance)
	if err := idx.Insert("a", []float32{1, 0, 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := idx.Insert("b", []float32{0, 1, 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := idx.Insert("c", []float32{0.9, 0.1, 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ids, _ := idx.Search([]float32{1, 0, 0}, 1, 50)
	if len(ids) != 1 || (ids[0] != "a" && ids[0] != "c") {
		t.Fatalf("expected nearest neighbor to be a or c, got %v", ids)
	}
}

func TestDeleteRemovesFromSearchResults(t *testing.T) {
	idx := NewHNSW(16, 200, CosineDistance)
	for _, id := range []string{"a", "b", "c"} {
		if err := idx.Insert(id, []float32{1, 0, 0}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := idx.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	ids, _ := idx.Search([]float32{1, 0, 0}, 3, 50)
	for _, id := range ids {
		if id == "a" {
			t.Fatalf("deleted node should not appear in search results")
		}
	}
}

func TestSizeTracksInsertsAndDeletes(t *testing.T) {
	idx := NewHNSW(16, 200, CosineDistance)
	idx.Insert("a", []float32{1, 0})
	idx.Insert("b", []float32{0, 1})
	if idx.Size() != 2 {
		t.Fatalf("expected size 2, got %d", idx.Size())
	}
	idx.Delete("a")
	if idx.Size() != 1 {
		t.Fatalf("expected size 1 after delete, got %d", idx.Size())
	}
}

func TestCosineDistanceIdenticalVectorsIsZero(t *testing.T) {
	d := CosineDistance([]float32{1, 2, 3}, []float32{1, 2, 3})
	if math.Abs(float64(d)) > 1e-5 {
		t.Fatalf("expected distance ~0 for identical vectors, got %v", d)
	}
}

func TestCosineDistanceOrthogonalVectorsIsOne(t *testing.T) {
	d := CosineDistance([]float32{1, 0}, []float32{0, 1})
	if math.Abs(float64(d)-1) > 1e-5 {
		t.Fatalf("expected distance ~1 for orthogonal vectors, got %v", d)
	}
}

func TestCosineSimilarityOppositeVectorsIsNegativeOne(t *testing.T) {
	s := CosineSimilarity([]float32{1, 0}, []float32{-1, 0})
	if math.Abs(float64(s)+1) > 1e-5 {
		t.Fatalf("expected similarity ~-1 for opposite vectors, got %v", s)
	}
}
