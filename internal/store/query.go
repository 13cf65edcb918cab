package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ScanPaginated returns memories in doc_id ascending order using keyset
// pagination (WHERE doc_id > ? ORDER BY doc_id LIMIT ?) rather than OFFSET,
// so a page is a stable point-in-time window even if rows are deleted
// concurrently — per spec.md §4.1.
func (s *SQLiteStore) ScanPaginated(ctx context.Context, afterDocID int64, pageSize int, filter Filter) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Page{}, wrapError("scan_paginated", ErrStoreClosed)
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	where, args := buildFilterClause(filter)
	where = append([]string{"doc_id > ?"}, where...)
	args = append([]any{afterDocID}, args...)

	query := fmt.Sprintf(`
		SELECT doc_id, content, event_type, importance, create_time, last_access_time, access_count, session_id, persona_id, status, metadata
		FROM memories
		WHERE %s
		ORDER BY doc_id ASC
		LIMIT ?
	`, strings.Join(where, " AND "))
	args = append(args, pageSize+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Page{}, wrapError("scan_paginated", err)
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return Page{}, wrapError("scan_paginated", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return Page{}, wrapError("scan_paginated", err)
	}

	hasMore := len(memories) > pageSize
	if hasMore {
		memories = memories[:pageSize]
	}
	next := int64(0)
	if hasMore {
		next = memories[len(memories)-1].DocID
	}
	return Page{Memories: memories, NextDocID: next, HasMore: hasMore}, nil
}

// GetByID returns one memory by doc_id.
func (s *SQLiteStore) GetByID(ctx context.Context, docID int64) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("get_by_id", ErrStoreClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, content, event_type, importance, create_time, last_access_time, access_count, session_id, persona_id, status, metadata
		FROM memories WHERE doc_id = ?
	`, docID)
	if err != nil {
		return nil, wrapError("get_by_id", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, wrapError("get_by_id", ErrNotFound)
	}
	return scanMemory(rows)
}

// GetEmbeddings batch-fetches embeddings by doc_id.
func (s *SQLiteStore) GetEmbeddings(ctx context.Context, docIDs []int64) (map[int64][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("get_embeddings", ErrStoreClosed)
	}
	if len(docIDs) == 0 {
		return map[int64][]float32{}, nil
	}

	placeholders := make([]string, len(docIDs))
	args := make([]any, len(docIDs))
	for i, id := range docIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT doc_id, embedding FROM vectors WHERE doc_id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError("get_embeddings", err)
	}
	defer rows.Close()

	result := make(map[int64][]float32, len(docIDs))
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, wrapError("get_embeddings", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, wrapError("get_embeddings", err)
		}
		result[id] = vec
	}
	return result, rows.Err()
}

// CountByStatus returns the number of memories in each lifecycle status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return StatusCounts{}, wrapError("count_by_status", ErrStoreClosed)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM memories GROUP BY status`)
	if err != nil {
		return StatusCounts{}, wrapError("count_by_status", err)
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return StatusCounts{}, wrapError("count_by_status", err)
		}
		switch Status(status) {
		case StatusActive:
			counts.Active = n
		case StatusArchived:
			counts.Archived = n
		case StatusDeleted:
			counts.Deleted = n
		}
	}
	return counts, rows.Err()
}

func scanMemory(rows *sql.Rows) (*Memory, error) {
	var m Memory
	var eventType, status string
	var sessionID, personaID sql.NullString
	var metaStr sql.NullString
	if err := rows.Scan(&m.DocID, &m.Content, &eventType, &m.Importance, &m.CreateTime,
		&m.LastAccessTime, &m.AccessCount, &sessionID, &personaID, &status, &metaStr); err != nil {
		return nil, fmt.Errorf("scan memory: %w", err)
	}
	m.EventType = EventType(eventType)
	m.Status = Status(status)
	if sessionID.Valid {
		m.SessionID = sessionID.String
	}
	if personaID.Valid {
		m.PersonaID = personaID.String
	}
	meta, err := decodeMetadata(metaStr)
	if err != nil {
		return nil, err
	}
	m.Metadata = meta
	return &m, nil
}

// buildFilterClause turns a Filter into SQL WHERE fragments and bind args.
func buildFilterClause(filter Filter) ([]string, []any) {
	var clauses []string
	var args []any

	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	} else {
		clauses = append(clauses, "status != ?")
		args = append(args, string(StatusDeleted))
	}
	if filter.PersonaID != nil {
		clauses = append(clauses, "persona_id = ?")
		args = append(args, *filter.PersonaID)
	}
	if filter.SessionID != nil {
		clauses = append(clauses, "session_id = ?")
		args = append(args, *filter.SessionID)
	}
	if filter.CreateTimeFrom != nil {
		clauses = append(clauses, "create_time >= ?")
		args = append(args, *filter.CreateTimeFrom)
	}
	if filter.CreateTimeTo != nil {
		clauses = append(clauses, "create_time <= ?")
		args = append(args, *filter.CreateTimeTo)
	}
	if filter.ImportanceFrom != nil {
		clauses = append(clauses, "importance >= ?")
		args = append(args, *filter.ImportanceFrom)
	}
	if filter.ImportanceTo != nil {
		clauses = append(clauses, "importance <= ?")
		args = append(args, *filter.ImportanceTo)
	}
	return clauses, args
}
