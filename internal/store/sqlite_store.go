package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/liliang-cn/recollect/internal/vectorindex"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the Store implementation backed by a single SQLite file,
// following the teacher's SQLiteStore in pkg/core/store.go: one WAL-mode
// connection pool, one schema, everything in one transaction per write.
type SQLiteStore struct {
	db         *sql.DB
	path       string
	dimension  int
	mu         sync.RWMutex
	closed     bool
	logger     Logger
	index      *vectorindex.HNSW
	indexReady bool
}

// Config configures a new SQLiteStore.
type Config struct {
	Path      string // file path; ":memory:" is supported for tests
	Dimension int    // expected embedding dimension, 0 = auto-detect on first insert
	Logger    Logger
}

// New creates a SQLiteStore. Init must be called before use.
func New(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, wrapError("new", fmt.Errorf("%w: path must not be empty", ErrInvalidConfig))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger
	}
	return &SQLiteStore{
		path:      cfg.Path,
		dimension: cfg.Dimension,
		logger:    logger,
	}, nil
}

// Init opens the database, creates the schema, and rebuilds the in-memory
// HNSW dense index from persisted vectors — following the teacher's
// Init/initHNSWIndex split in pkg/core/store.go.
func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("init", ErrStoreClosed)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return wrapError("init", fmt.Errorf("open database: %w", err))
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)
	s.db = db

	if err := s.createSchema(ctx); err != nil {
		return wrapError("init", err)
	}

	if err := s.rebuildIndex(ctx); err != nil {
		return wrapError("init", err)
	}

	return nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	const schemaSQL = `
	PRAGMA user_version = 1;

	CREATE TABLE IF NOT EXISTS memories (
		doc_id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		event_type TEXT NOT NULL CHECK(event_type IN ('FACT','PREFERENCE','GOAL','OPINION','RELATIONSHIP','OTHER')),
		importance REAL NOT NULL CHECK(importance >= 0 AND importance <= 1),
		create_time INTEGER NOT NULL,
		last_access_time INTEGER NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0 CHECK(access_count >= 0),
		session_id TEXT,
		persona_id TEXT,
		status TEXT NOT NULL CHECK(status IN ('active','archived','deleted')),
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status);
	CREATE INDEX IF NOT EXISTS idx_memories_session_id ON memories(session_id);
	CREATE INDEX IF NOT EXISTS idx_memories_persona_id ON memories(persona_id);
	CREATE INDEX IF NOT EXISTS idx_memories_create_time ON memories(create_time);

	CREATE TABLE IF NOT EXISTS vectors (
		doc_id INTEGER PRIMARY KEY,
		embedding BLOB NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES memories(doc_id) ON DELETE CASCADE
	);
	`
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// rebuildIndex loads every active/archived vector and reinserts it into a
// fresh HNSW graph, mirroring the teacher's initHNSWIndex startup rebuild.
func (s *SQLiteStore) rebuildIndex(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.doc_id, v.embedding
		FROM vectors v
		JOIN memories m ON m.doc_id = v.doc_id
		WHERE m.status != 'deleted'
	`)
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	defer rows.Close()

	var idx *vectorindex.HNSW
	for rows.Next() {
		var docID int64
		var blob []byte
		if err := rows.Scan(&docID, &blob); err != nil {
			return fmt.Errorf("rebuild index: scan: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			s.logger.Warn("skipping corrupt vector during rebuild", "doc_id", docID, "error", err)
			continue
		}
		if idx == nil {
			dim := s.dimension
			if dim == 0 {
				dim = len(vec)
			}
			idx = vectorindex.NewHNSW(16, 200, vectorindex.CosineDistance)
			if s.dimension == 0 {
				s.dimension = dim
			}
		}
		if err := idx.Insert(docIDKey(docID), vec); err != nil {
			s.logger.Warn("skipping vector during rebuild", "doc_id", docID, "error", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rebuild index: iterate: %w", err)
	}
	if idx == nil {
		idx = vectorindex.NewHNSW(16, 200, vectorindex.CosineDistance)
	}
	s.index = idx
	s.indexReady = true
	return nil
}

// Close closes the database connection. Safe to call once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func docIDKey(docID int64) string {
	return fmt.Sprintf("%d", docID)
}

var _ Store = (*SQLiteStore)(nil)
