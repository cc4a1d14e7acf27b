package quality

// Analysis snapshots are versioned per series so temporal stability can
// compare a fresh bundle against what the same investigation produced last
// time. The SQLite store survives restarts; the in-memory store backs
// configurations without a database path.

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"patlas/internal/logging"
)

// VersionRecord is one stored analysis snapshot.
type VersionRecord struct {
	SeriesID  string
	Version   int
	CreatedAt time.Time
	Payload   []byte
}

// VersionStore persists analysis snapshots per series.
type VersionStore interface {
	// Append stores payload as the next version of the series and returns
	// the assigned version number, starting at 1.
	Append(seriesID string, payload []byte, at time.Time) (int, error)
	// Latest returns the newest stored version, or nil when the series has
	// no history.
	Latest(seriesID string) (*VersionRecord, error)
	// Purge drops versions created before cutoff and reports how many were
	// removed.
	Purge(cutoff time.Time) (int, error)
	Close() error
}

// OpenVersionStore returns a SQLite-backed store at path, or an in-memory
// store when path is empty.
func OpenVersionStore(path string, logger *zap.Logger) (VersionStore, error) {
	if path == "" {
		return NewMemoryVersionStore(), nil
	}
	return NewSQLVersionStore(path, logger)
}

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLVersionStore keeps version history in a single SQLite database.
type SQLVersionStore struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// NewSQLVersionStore opens (or creates) the versions database at path.
func NewSQLVersionStore(path string, logger *zap.Logger) (*SQLVersionStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create versions directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open versions database: %w", err)
	}
	s := &SQLVersionStore{db: db, logger: logging.Named(logger, "versions")}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug("versions database opened", zap.String("path", path))
	return s, nil
}

func (s *SQLVersionStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_versions (
		series_id  TEXT    NOT NULL,
		version    INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		payload    BLOB    NOT NULL,
		PRIMARY KEY (series_id, version)
	);
	CREATE INDEX IF NOT EXISTS idx_versions_created ON analysis_versions(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create versions schema: %w", err)
	}
	return nil
}

// Append assigns the next version number inside a transaction so concurrent
// writers cannot collide on the same (series, version) pair.
func (s *SQLVersionStore) Append(seriesID string, payload []byte, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin version insert: %w", err)
	}
	defer tx.Rollback()

	var current sql.NullInt64
	if err := tx.QueryRow(
		`SELECT MAX(version) FROM analysis_versions WHERE series_id = ?`, seriesID,
	).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to read current version: %w", err)
	}
	next := int(current.Int64) + 1

	if _, err := tx.Exec(
		`INSERT INTO analysis_versions (series_id, version, created_at, payload) VALUES (?, ?, ?, ?)`,
		seriesID, next, at.UnixNano(), payload,
	); err != nil {
		return 0, fmt.Errorf("failed to insert version %d: %w", next, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit version insert: %w", err)
	}
	return next, nil
}

func (s *SQLVersionStore) Latest(seriesID string) (*VersionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := VersionRecord{SeriesID: seriesID}
	var createdAt int64
	err := s.db.QueryRow(
		`SELECT version, created_at, payload FROM analysis_versions
		 WHERE series_id = ? ORDER BY version DESC LIMIT 1`, seriesID,
	).Scan(&rec.Version, &createdAt, &rec.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest version: %w", err)
	}
	rec.CreatedAt = time.Unix(0, createdAt)
	return &rec, nil
}

func (s *SQLVersionStore) Purge(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM analysis_versions WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge versions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged versions: %w", err)
	}
	return int(n), nil
}

func (s *SQLVersionStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// IN-MEMORY STORE
// =============================================================================

// memorySeries keeps the version counter separate from the records so purges
// never reset version numbering.
type memorySeries struct {
	next    int
	records []VersionRecord
}

// MemoryVersionStore is the in-process fallback used when no database path is
// configured. Also convenient in tests.
type MemoryVersionStore struct {
	mu     sync.Mutex
	series map[string]*memorySeries
}

func NewMemoryVersionStore() *MemoryVersionStore {
	return &MemoryVersionStore{series: make(map[string]*memorySeries)}
}

func (m *MemoryVersionStore) Append(seriesID string, payload []byte, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.series[seriesID]
	if s == nil {
		s = &memorySeries{}
		m.series[seriesID] = s
	}
	s.next++
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.records = append(s.records, VersionRecord{
		SeriesID:  seriesID,
		Version:   s.next,
		CreatedAt: at,
		Payload:   buf,
	})
	return s.next, nil
}

func (m *MemoryVersionStore) Latest(seriesID string) (*VersionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.series[seriesID]
	if s == nil || len(s.records) == 0 {
		return nil, nil
	}
	rec := s.records[len(s.records)-1]
	return &rec, nil
}

func (m *MemoryVersionStore) Purge(cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, s := range m.series {
		kept := s.records[:0]
		for _, rec := range s.records {
			if rec.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		s.records = kept
	}
	return removed, nil
}

func (m *MemoryVersionStore) Close() error {
	return nil
}
