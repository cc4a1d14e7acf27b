package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"patlas/internal/clock"
	"patlas/internal/logging"
	"patlas/internal/types"
)

const versionsIndexFile = "versions_index.json"

// reportHistory is one report's entry in the versions index.
type reportHistory struct {
	CreatedAt     time.Time             `json:"created_at"`
	LatestVersion int                   `json:"latest_version"`
	Versions      []types.ReportVersion `json:"versions"`
}

// versionsIndexDoc is the on-disk shape of versions_index.json.
type versionsIndexDoc struct {
	Reports map[string]*reportHistory `json:"reports"`
}

// VersionIndex tracks report versions under the versions directory. Each
// completed version gets a JSON manifest next to the index; retention keeps
// at most maxVersions per report, dropping the oldest together with its
// exported artifacts.
type VersionIndex struct {
	mu          sync.Mutex
	dir         string
	maxVersions int
	clk         clock.Clock
	logger      *zap.Logger
	index       versionsIndexDoc
}

// NewVersionIndex opens (or creates) the versions directory and loads any
// existing index.
func NewVersionIndex(dir string, maxVersions int, logger *zap.Logger, clk clock.Clock) (*VersionIndex, error) {
	if maxVersions <= 0 {
		maxVersions = 5
	}
	if clk == nil {
		clk = clock.System{}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create versions directory: %w", err)
	}
	v := &VersionIndex{
		dir:         dir,
		maxVersions: maxVersions,
		clk:         clk,
		logger:      logging.Named(logger, "report.versions"),
		index:       versionsIndexDoc{Reports: make(map[string]*reportHistory)},
	}
	if err := v.load(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *VersionIndex) path() string { return filepath.Join(v.dir, versionsIndexFile) }

func (v *VersionIndex) load() error {
	data, err := os.ReadFile(v.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read versions index: %w", err)
	}
	if err := json.Unmarshal(data, &v.index); err != nil {
		return fmt.Errorf("failed to parse versions index: %w", err)
	}
	if v.index.Reports == nil {
		v.index.Reports = make(map[string]*reportHistory)
	}
	return nil
}

// persist writes the index file. Caller holds mu.
func (v *VersionIndex) persist() error {
	data, err := json.MarshalIndent(&v.index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal versions index: %w", err)
	}
	if err := os.WriteFile(v.path(), data, 0644); err != nil {
		return fmt.Errorf("failed to write versions index: %w", err)
	}
	return nil
}

// Begin allocates the next version number for reportID and records it with
// status creating. Numbers are strictly increasing per report and are never
// reused, even after retention drops or failed versions.
func (v *VersionIndex) Begin(reportID string, parameters map[string]interface{}) (types.ReportVersion, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clk.Now()
	hist := v.index.Reports[reportID]
	if hist == nil {
		hist = &reportHistory{CreatedAt: now}
		v.index.Reports[reportID] = hist
	}
	hist.LatestVersion++

	ver := types.ReportVersion{
		VersionID:     uuid.NewString(),
		ReportID:      reportID,
		VersionNumber: hist.LatestVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        types.VersionCreating,
		Parameters:    parameters,
	}
	hist.Versions = append(hist.Versions, ver)
	if err := v.persist(); err != nil {
		return types.ReportVersion{}, err
	}
	return ver, nil
}

// Complete marks the version completed with its exported files, writes its
// manifest, and applies retention.
func (v *VersionIndex) Complete(ver types.ReportVersion, files map[string]types.VersionFile) (types.ReportVersion, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, err := v.find(ver)
	if err != nil {
		return types.ReportVersion{}, err
	}
	rec.Status = types.VersionCompleted
	rec.Files = files
	rec.UpdatedAt = v.clk.Now()

	if err := v.writeManifest(*rec); err != nil {
		return types.ReportVersion{}, err
	}
	completed := *rec
	v.trim(v.index.Reports[ver.ReportID])
	if err := v.persist(); err != nil {
		return types.ReportVersion{}, err
	}
	return completed, nil
}

// Fail marks the version failed. Failed versions stay in the history with
// their number spent and age out through retention like completed ones.
func (v *VersionIndex) Fail(ver types.ReportVersion) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, err := v.find(ver)
	if err != nil {
		return
	}
	rec.Status = types.VersionFailed
	rec.UpdatedAt = v.clk.Now()
	if err := v.persist(); err != nil {
		v.logger.Warn("failed to persist versions index", zap.Error(err))
	}
}

// find locates a version record by ID. Caller holds mu.
func (v *VersionIndex) find(ver types.ReportVersion) (*types.ReportVersion, error) {
	hist := v.index.Reports[ver.ReportID]
	if hist == nil {
		return nil, fmt.Errorf("unknown report %s", ver.ReportID)
	}
	for i := range hist.Versions {
		if hist.Versions[i].VersionID == ver.VersionID {
			return &hist.Versions[i], nil
		}
	}
	return nil, fmt.Errorf("unknown version %s for report %s", ver.VersionID, ver.ReportID)
}

func (v *VersionIndex) manifestPath(ver types.ReportVersion) string {
	return filepath.Join(v.dir, fmt.Sprintf("%s_v%d.json", ver.ReportID, ver.VersionNumber))
}

func (v *VersionIndex) writeManifest(ver types.ReportVersion) error {
	data, err := json.MarshalIndent(ver, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal version manifest: %w", err)
	}
	if err := os.WriteFile(v.manifestPath(ver), data, 0644); err != nil {
		return fmt.Errorf("failed to write version manifest: %w", err)
	}
	return nil
}

// trim drops versions beyond the retention cap, oldest first, deleting their
// artifacts. Caller holds mu.
func (v *VersionIndex) trim(hist *reportHistory) {
	for len(hist.Versions) > v.maxVersions {
		oldest := hist.Versions[0]
		hist.Versions = hist.Versions[1:]
		v.removeArtifacts(oldest)
		v.logger.Debug("retention dropped report version",
			zap.String("report_id", oldest.ReportID),
			zap.Int("version", oldest.VersionNumber))
	}
}

// removeArtifacts deletes a version's exported files and manifest. Missing
// files are not an error: the pdf fallback records the html artifact under
// two keys.
func (v *VersionIndex) removeArtifacts(ver types.ReportVersion) {
	for _, f := range ver.Files {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			v.logger.Warn("failed to remove version file",
				zap.String("path", f.Path), zap.Error(err))
		}
	}
	if err := os.Remove(v.manifestPath(ver)); err != nil && !os.IsNotExist(err) {
		v.logger.Warn("failed to remove version manifest",
			zap.String("path", v.manifestPath(ver)), zap.Error(err))
	}
}

// History returns copies of reportID's retained versions, oldest first.
func (v *VersionIndex) History(reportID string) []types.ReportVersion {
	v.mu.Lock()
	defer v.mu.Unlock()
	hist := v.index.Reports[reportID]
	if hist == nil {
		return nil
	}
	return append([]types.ReportVersion(nil), hist.Versions...)
}

// Latest returns the newest retained version of reportID.
func (v *VersionIndex) Latest(reportID string) (types.ReportVersion, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	hist := v.index.Reports[reportID]
	if hist == nil || len(hist.Versions) == 0 {
		return types.ReportVersion{}, false
	}
	return hist.Versions[len(hist.Versions)-1], true
}

// DeleteReport removes every retained version of reportID together with its
// artifacts and drops the report from the index. It returns the number of
// versions removed.
func (v *VersionIndex) DeleteReport(reportID string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	hist := v.index.Reports[reportID]
	if hist == nil {
		return 0, nil
	}
	for _, ver := range hist.Versions {
		v.removeArtifacts(ver)
	}
	removed := len(hist.Versions)
	delete(v.index.Reports, reportID)
	if err := v.persist(); err != nil {
		return removed, err
	}
	return removed, nil
}
