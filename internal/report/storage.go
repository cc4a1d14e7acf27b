package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"patlas/internal/logging"
)

const storageIndexFile = "storage_index.json"

// StoredReport is one report's entry in the storage index, pointing at the
// latest exported artifacts.
type StoredReport struct {
	ReportID      string            `json:"report_id"`
	Title         string            `json:"title"`
	LatestVersion int               `json:"latest_version"`
	Formats       []string          `json:"formats"`
	Files         map[string]string `json:"files"` // format -> path
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// storageIndexDoc is the on-disk shape of storage_index.json.
type storageIndexDoc struct {
	Reports map[string]*StoredReport `json:"reports"`
}

// Storage maintains the catalog of current report exports under the reports
// directory.
type Storage struct {
	mu     sync.Mutex
	dir    string
	logger *zap.Logger
	index  storageIndexDoc
}

// NewStorage opens (or creates) the reports directory and loads any existing
// catalog.
func NewStorage(dir string, logger *zap.Logger) (*Storage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create reports directory: %w", err)
	}
	s := &Storage{
		dir:    dir,
		logger: logging.Named(logger, "report.storage"),
		index:  storageIndexDoc{Reports: make(map[string]*StoredReport)},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) path() string { return filepath.Join(s.dir, storageIndexFile) }

func (s *Storage) load() error {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read storage index: %w", err)
	}
	if err := json.Unmarshal(data, &s.index); err != nil {
		return fmt.Errorf("failed to parse storage index: %w", err)
	}
	if s.index.Reports == nil {
		s.index.Reports = make(map[string]*StoredReport)
	}
	return nil
}

// persist writes the catalog. Caller holds mu.
func (s *Storage) persist() error {
	data, err := json.MarshalIndent(&s.index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage index: %w", err)
	}
	if err := os.WriteFile(s.path(), data, 0644); err != nil {
		return fmt.Errorf("failed to write storage index: %w", err)
	}
	return nil
}

// Put records the latest export of a report, preserving its first-seen
// creation time.
func (s *Storage) Put(entry StoredReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.index.Reports[entry.ReportID]; ok {
		entry.CreatedAt = existing.CreatedAt
	}
	s.index.Reports[entry.ReportID] = &entry
	return s.persist()
}

// Get looks up one report in the catalog.
func (s *Storage) Get(reportID string) (StoredReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.index.Reports[reportID]
	if !ok {
		return StoredReport{}, false
	}
	return *entry, true
}

// List returns the catalog, most recently updated first.
func (s *Storage) List() []StoredReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoredReport, 0, len(s.index.Reports))
	for _, entry := range s.index.Reports {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ReportID < out[j].ReportID
	})
	return out
}

// Remove drops a report from the catalog. Artifact removal is the version
// index's job; this only maintains the catalog.
func (s *Storage) Remove(reportID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index.Reports[reportID]; !ok {
		return false, nil
	}
	delete(s.index.Reports, reportID)
	if err := s.persist(); err != nil {
		return true, err
	}
	return true, nil
}
