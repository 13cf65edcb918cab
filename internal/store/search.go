package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DenseSearch embeds nothing itself (the caller already has the query
// embedding — see internal/recall) and returns up to k hits matching
// filter, ranked by cosine similarity normalized to [0, 1]. Delegates to
// the in-memory HNSW graph, then filters/validates against the document
// table, mirroring the teacher's store_search.go candidate-then-validate
// shape.
func (s *SQLiteStore) DenseSearch(ctx context.Context, queryEmbedding []float32, k int, filter Filter) ([]Scored, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("dense_search", ErrStoreClosed)
	}
	if !s.indexReady || s.index.Size() == 0 {
		return nil, nil
	}

	// Over-fetch from the ANN graph since some candidates may fail filter.
	ef := k * 4
	if ef < 50 {
		ef = 50
	}
	ids, dists := s.index.Search(queryEmbedding, ef, ef)
	if len(ids) == 0 {
		return nil, nil
	}

	docIDs := make([]int64, 0, len(ids))
	distByID := make(map[int64]float32, len(ids))
	for i, idStr := range ids {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		docIDs = append(docIDs, id)
		distByID[id] = dists[i]
	}

	allowed, err := s.filterDocIDs(ctx, docIDs, filter)
	if err != nil {
		return nil, wrapError("dense_search", err)
	}

	results := make([]Scored, 0, len(allowed))
	for _, id := range allowed {
		dist := distByID[id]
		sim := float64(1 - dist/2) // CosineDistance in [0,2] -> similarity in [0,1]
		if sim < 0 {
			sim = 0
		}
		if sim > 1 {
			sim = 1
		}
		results = append(results, Scored{DocID: id, Score: sim})
	}
	for i := 0; i < len(results)-1; i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].Score > results[i].Score {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// filterDocIDs restricts candidateIDs to those whose document row matches
// filter, preserving candidateIDs' order.
func (s *SQLiteStore) filterDocIDs(ctx context.Context, candidateIDs []int64, filter Filter) ([]int64, error) {
	if len(candidateIDs) == 0 {
		return nil, nil
	}
	where, args := buildFilterClause(filter)
	placeholders := make([]string, len(candidateIDs))
	idArgs := make([]any, len(candidateIDs))
	for i, id := range candidateIDs {
		placeholders[i] = "?"
		idArgs[i] = id
	}
	where = append(where, fmt.Sprintf("doc_id IN (%s)", strings.Join(placeholders, ",")))
	args = append(args, idArgs...)

	query := fmt.Sprintf(`SELECT doc_id FROM memories WHERE %s`, strings.Join(where, " AND "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ok := make(map[int64]bool, len(candidateIDs))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ok[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]int64, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		if ok[id] {
			result = append(result, id)
		}
	}
	return result, nil
}

// Touch updates last_access_time and increments access_count for each
// present doc_id, in one statement per id inside a single transaction —
// best-effort, called asynchronously by the Recall Engine per spec.md §4.5.
func (s *SQLiteStore) Touch(ctx context.Context, docIDs []int64, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("touch", ErrStoreClosed)
	}
	if len(docIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("touch", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE memories SET last_access_time = ?, access_count = access_count + 1 WHERE doc_id = ?`)
	if err != nil {
		return wrapError("touch", err)
	}
	defer stmt.Close()

	for _, id := range docIDs {
		if _, err := stmt.ExecContext(ctx, now, id); err != nil {
			return wrapError("touch", err)
		}
	}
	return wrapError("touch", tx.Commit())
}
