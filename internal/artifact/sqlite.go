package artifact

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"agenthive/internal/logging"
)

// SQLiteStore is the durable Store implementation. A single connection and a
// write mutex serialize puts so ids stay unique under parallel invocation.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// NewSQLiteStore opens (or creates) the artifact database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteStore")
	defer timer.Stop()

	logging.Store("Opening artifact store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe with WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		content BLOB,
		meta TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_type ON artifacts(type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put persists a new artifact and returns its reference.
func (s *SQLiteStore) Put(typ string, content []byte, meta map[string]string) (Ref, error) {
	id := uuid.NewString()
	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return Ref{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT INTO artifacts (id, type, content, meta, created_at) VALUES (?, ?, ?, ?, ?)",
		id, typ, content, metaJSON, time.Now().UnixMilli(),
	)
	if err != nil {
		return Ref{}, fmt.Errorf("failed to store artifact: %w", err)
	}

	logging.StoreDebug("Put: stored %s artifact %s (%d bytes)", typ, id, len(content))
	return Ref{ID: id}, nil
}

// Get returns the artifact exactly as stored.
func (s *SQLiteStore) Get(ref Ref) (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var a Artifact
	var metaJSON sql.NullString
	var createdAt int64
	err := s.db.QueryRow(
		"SELECT id, type, content, meta, created_at FROM artifacts WHERE id = ?",
		ref.ID,
	).Scan(&a.ID, &a.Type, &a.Content, &metaJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Artifact{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, ref.ID)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to load artifact: %w", err)
	}

	a.CreatedAt = time.UnixMilli(createdAt)
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &a.Meta); err != nil {
			return Artifact{}, fmt.Errorf("failed to decode artifact meta: %w", err)
		}
	}
	return a, nil
}

// Reserve pre-allocates an output slot for async tool output.
func (s *SQLiteStore) Reserve(ext string) (Ref, error) {
	meta := map[string]string{MetaReserved: "true"}
	if ext != "" {
		meta[MetaExtension] = ext
	}
	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return Ref{}, err
	}

	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT INTO artifacts (id, type, content, meta, created_at) VALUES (?, ?, ?, ?, ?)",
		id, TypeBinary, []byte(nil), metaJSON, time.Now().UnixMilli(),
	)
	if err != nil {
		return Ref{}, fmt.Errorf("failed to reserve artifact slot: %w", err)
	}
	return Ref{ID: id}, nil
}

// Complete fills a reserved slot with its final type and content.
func (s *SQLiteStore) Complete(id, typ string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metaJSON sql.NullString
	err := s.db.QueryRow("SELECT meta FROM artifacts WHERE id = ?", id).Scan(&metaJSON)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to load artifact: %w", err)
	}

	var meta map[string]string
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &meta); err != nil {
			return fmt.Errorf("failed to decode artifact meta: %w", err)
		}
	}
	if meta[MetaReserved] != "true" {
		return fmt.Errorf("%w: %s", ErrArtifactComplete, id)
	}
	delete(meta, MetaReserved)
	newMeta, err := encodeMeta(meta)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		"UPDATE artifacts SET type = ?, content = ?, meta = ? WHERE id = ?",
		typ, content, newMeta, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete artifact: %w", err)
	}
	return nil
}

func encodeMeta(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode artifact meta: %w", err)
	}
	return string(data), nil
}
