// Package store implements the transactional document+vector storage
// contract from spec.md §4.1, adapted from the teacher's
// pkg/core.SQLiteStore. One SQLite file (modernc.org/sqlite, no cgo) holds
// both the memories table (the document index) and the vectors table (the
// paired vector index keyed on the same doc_id), written inside a single
// database/sql transaction per public write.
package store

import "context"

// EventType is the memory's epistemic category, spec.md §3.
type EventType string

const (
	EventFact         EventType = "FACT"
	EventPreference   EventType = "PREFERENCE"
	EventGoal         EventType = "GOAL"
	EventOpinion      EventType = "OPINION"
	EventRelationship EventType = "RELATIONSHIP"
	EventOther        EventType = "OTHER"
)

// Status is a memory's lifecycle state, spec.md §3.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// Memory is one persisted unit, matching the Memory Record table in
// spec.md §3. DocID is assigned by Insert and is zero for not-yet-inserted
// records.
type Memory struct {
	DocID           int64
	Content         string
	EventType       EventType
	Importance      float64
	CreateTime      int64
	LastAccessTime  int64
	AccessCount     int64
	SessionID       string // empty means global
	PersonaID       string // empty means shared across personas
	Status          Status
	Metadata        map[string]string
}

// Patch carries the subset of fields Update may mutate in place — content
// and embedding are deliberately excluded; see SPEC_FULL.md §9(c).
type Patch struct {
	Importance     *float64
	LastAccessTime *int64
	AccessCount    *int64
	Status         *Status
}

// Filter is an AND of optional predicates over the document index, used by
// ScanPaginated and DenseSearch.
type Filter struct {
	Status             Status // empty = no constraint
	PersonaID          *string
	SessionID          *string
	CreateTimeFrom     *int64
	CreateTimeTo       *int64
	ImportanceFrom     *float64
	ImportanceTo       *float64
}

// Scored pairs a doc_id with a similarity/relevance score.
type Scored struct {
	DocID int64
	Score float64
}

// StatusCounts is the result of CountByStatus.
type StatusCounts struct {
	Active   int64
	Archived int64
	Deleted  int64
}

// Page is one point-in-time window of ScanPaginated, ordered by doc_id
// ascending.
type Page struct {
	Memories []*Memory
	NextDocID int64 // doc_id to resume from; 0 if this was the last page
	HasMore   bool
}

// Store is the contract spec.md §4.1 specifies.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	Insert(ctx context.Context, m *Memory, embedding []float32) (int64, error)
	InsertMany(ctx context.Context, items []InsertItem) ([]int64, error)
	DeleteMany(ctx context.Context, docIDs []int64) (int, error)
	DeleteAll(ctx context.Context) error
	Update(ctx context.Context, docID int64, patch Patch) error

	ScanPaginated(ctx context.Context, afterDocID int64, pageSize int, filter Filter) (Page, error)

	DenseSearch(ctx context.Context, queryEmbedding []float32, k int, filter Filter) ([]Scored, error)
	GetEmbeddings(ctx context.Context, docIDs []int64) (map[int64][]float32, error)
	GetByID(ctx context.Context, docID int64) (*Memory, error)

	Touch(ctx context.Context, docIDs []int64, now int64) error
	CountByStatus(ctx context.Context) (StatusCounts, error)
}

// InsertItem is one row for InsertMany.
type InsertItem struct {
	Memory    *Memory
	Embedding []float32
}
