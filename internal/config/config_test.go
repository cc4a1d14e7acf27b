package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Balancer.DefaultCapacity)
	assert.Equal(t, 100, cfg.Balancer.PerformanceWindow)
	assert.Equal(t, 0.7, cfg.Quality.PassThreshold)
	assert.Equal(t, 0.6, cfg.Quality.WorkflowPassThreshold)
	assert.Equal(t, 1000, cfg.Quality.CacheCapacity)
	assert.Equal(t, 5, cfg.Report.MaxVersions)

	assert.Equal(t, 45*time.Second, cfg.DeadlineFor("search"))
	assert.Equal(t, 60*time.Second, cfg.DeadlineFor("analysis"))
	assert.Equal(t, 90*time.Second, cfg.DeadlineFor("report"))
	assert.Equal(t, 60*time.Second, cfg.DeadlineFor("unknown_type"))
	assert.Equal(t, 5*time.Minute, cfg.HeartbeatTimeout())
	assert.Equal(t, time.Hour, cfg.CacheTTL())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "patlas", cfg.Name)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "patlas.yaml")
	body := `
name: patlas-test
quality:
  pass_threshold: 0.65
  cache_capacity: 50
collab:
  deadlines:
    search: 10s
report:
  max_versions: 2
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "patlas-test", cfg.Name)
	assert.Equal(t, 0.65, cfg.Quality.PassThreshold)
	assert.Equal(t, 50, cfg.Quality.CacheCapacity)
	assert.Equal(t, 2, cfg.Report.MaxVersions)
	assert.Equal(t, 10*time.Second, cfg.DeadlineFor("search"))
	// Unspecified keys keep defaults.
	assert.Equal(t, 5, cfg.Balancer.DefaultCapacity)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("report:\n  max_versions: 0\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_versions")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PATLAS_OUTPUT_DIR", "/tmp/patlas-out")
	t.Setenv("PATLAS_QUALITY_THRESHOLD", "0.75")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/patlas-out", cfg.Report.OutputDir)
	assert.Equal(t, 0.75, cfg.Quality.PassThreshold)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "patlas.yaml")

	cfg := DefaultConfig()
	cfg.Name = "saved"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "saved", loaded.Name)
	assert.Equal(t, cfg.Quality.PassThreshold, loaded.Quality.PassThreshold)
}
