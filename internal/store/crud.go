package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/liliang-cn/recollect/internal/vectorindex"
)

const deleteChunkSize = 500

// Insert allocates a doc_id and writes the document row and vector row in
// one transaction, satisfying Invariant 1. Mirrors the teacher's
// store_crud.go Upsert, minus dimension auto-adaptation (spec.md §6: "the
// dimension is fixed at startup").
func (s *SQLiteStore) Insert(ctx context.Context, m *Memory, embedding []float32) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, wrapError("insert", ErrStoreClosed)
	}
	if err := validateVector(embedding); err != nil {
		return 0, wrapError("insert", err)
	}
	if s.dimension != 0 && len(embedding) != s.dimension {
		return 0, wrapError("insert", fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, s.dimension, len(embedding)))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapError("insert", err)
	}
	defer func() { _ = tx.Rollback() }()

	docID, err := insertOne(ctx, tx, m, embedding)
	if err != nil {
		return 0, wrapError("insert", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapError("insert", err)
	}

	if s.dimension == 0 {
		s.dimension = len(embedding)
	}
	s.ensureIndex()
	if err := s.index.Insert(docIDKey(docID), embedding); err != nil {
		s.logger.Warn("dense index insert failed", "doc_id", docID, "error", err)
	}

	return docID, nil
}

func insertOne(ctx context.Context, tx *sql.Tx, m *Memory, embedding []float32) (int64, error) {
	metaJSON, err := encodeMetadata(m.Metadata)
	if err != nil {
		return 0, err
	}
	if m.Status == "" {
		m.Status = StatusActive
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO memories (content, event_type, importance, create_time, last_access_time, access_count, session_id, persona_id, status, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.Content, string(m.EventType), m.Importance, m.CreateTime, m.LastAccessTime, m.AccessCount,
		nullable(m.SessionID), nullable(m.PersonaID), string(m.Status), metaJSON)
	if err != nil {
		return 0, fmt.Errorf("insert memory: %w", err)
	}
	docID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	blob, err := encodeVector(embedding)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO vectors (doc_id, embedding) VALUES (?, ?)`, docID, blob); err != nil {
		return 0, fmt.Errorf("insert vector: %w", err)
	}
	return docID, nil
}

// InsertMany writes many memories in one transaction, in the order given —
// the same shape as the teacher's UpsertBatch.
func (s *SQLiteStore) InsertMany(ctx context.Context, items []InsertItem) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, wrapError("insert_many", ErrStoreClosed)
	}
	if len(items) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapError("insert_many", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if err := validateVector(item.Embedding); err != nil {
			return nil, wrapError("insert_many", err)
		}
		docID, err := insertOne(ctx, tx, item.Memory, item.Embedding)
		if err != nil {
			return nil, wrapError("insert_many", err)
		}
		ids = append(ids, docID)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapError("insert_many", err)
	}

	s.ensureIndex()
	for i, item := range items {
		if s.dimension == 0 {
			s.dimension = len(item.Embedding)
		}
		if err := s.index.Insert(docIDKey(ids[i]), item.Embedding); err != nil {
			s.logger.Warn("dense index insert failed", "doc_id", ids[i], "error", err)
		}
	}
	return ids, nil
}

// DeleteMany removes both the document and vector rows for each id,
// chunked at deleteChunkSize ids per statement for SQLite's bound-parameter
// ceiling, with every chunk inside one transaction so the whole call
// commits or rolls back as a unit — following the teacher's DeleteBatch.
func (s *SQLiteStore) DeleteMany(ctx context.Context, docIDs []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, wrapError("delete_many", ErrStoreClosed)
	}
	if len(docIDs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapError("delete_many", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleted := 0
	for start := 0; start < len(docIDs); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(docIDs) {
			end = len(docIDs)
		}
		n, err := deleteChunk(ctx, tx, docIDs[start:end])
		if err != nil {
			return 0, wrapError("delete_many", err)
		}
		deleted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapError("delete_many", err)
	}

	if s.indexReady {
		for _, id := range docIDs {
			_ = s.index.Delete(docIDKey(id))
		}
	}
	return deleted, nil
}

func deleteChunk(ctx context.Context, tx *sql.Tx, ids []int64) (int, error) {
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}
	query := fmt.Sprintf(`DELETE FROM memories WHERE doc_id IN (%s)`, placeholders)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete memories: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteAll wipes both tables in a single transaction — used by the
// Forgetting Agent's nuke.
func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("delete_all", ErrStoreClosed)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("delete_all", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors`); err != nil {
		return wrapError("delete_all", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories`); err != nil {
		return wrapError("delete_all", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapError("delete_all", err)
	}

	s.index = vectorindex.NewHNSW(16, 200, vectorindex.CosineDistance)
	s.indexReady = true
	return nil
}

// Update patches {importance, last_access_time, access_count, status} in
// place. content and embedding are never updated here — see SPEC_FULL.md
// §9(c): a content edit is Delete + Insert with an "edited_from" metadata
// back-reference, composed by the caller.
func (s *SQLiteStore) Update(ctx context.Context, docID int64, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("update", ErrStoreClosed)
	}

	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if patch.Importance != nil {
		sets = append(sets, "importance = ?")
		args = append(args, *patch.Importance)
	}
	if patch.LastAccessTime != nil {
		sets = append(sets, "last_access_time = ?")
		args = append(args, *patch.LastAccessTime)
	}
	if patch.AccessCount != nil {
		sets = append(sets, "access_count = ?")
		args = append(args, *patch.AccessCount)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, docID)

	query := "UPDATE memories SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE doc_id = ?"

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapError("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapError("update", err)
	}
	if n == 0 {
		return wrapError("update", ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ensureIndex() {
	if !s.indexReady {
		s.index = vectorindex.NewHNSW(16, 200, vectorindex.CosineDistance)
		s.indexReady = true
	}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func encodeMetadata(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(s sql.NullString) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}
