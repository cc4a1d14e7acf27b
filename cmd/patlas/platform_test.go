package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"patlas/internal/config"
	"patlas/internal/driver"
	"patlas/internal/report"
	"patlas/internal/types"
)

func testPlatform(t *testing.T) *platform {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Report.OutputDir = t.TempDir()

	p, err := buildPlatform(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(p.close)

	p.start(context.Background())
	require.NoError(t, p.waitForWorkers(context.Background()))
	return p
}

func TestPlatformAnalyzeEndToEnd(t *testing.T) {
	p := testPlatform(t)

	resp, err := p.driver.Execute(context.Background(), driver.Request{
		Keywords:  []string{"人工智能"},
		TimeRange: "2019-2025",
		Limit:     50,
	})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(resp.Patents), 15)
	require.NotNil(t, resp.Analysis)
	assert.ElementsMatch(t,
		[]types.AnalysisKind{types.AnalysisTrend, types.AnalysisCompetition,
			types.AnalysisTechnology, types.AnalysisGeographic},
		resp.Analysis.Modules())

	require.NotNil(t, resp.Quality)
	assert.True(t, resp.Quality.Passed)
	assert.False(t, resp.Degraded)

	require.NotNil(t, resp.Report)
	require.Len(t, resp.Report.Files, 2)
	for _, path := range resp.Report.Files {
		assert.FileExists(t, path)
	}
}

func TestPlatformAnalyzeStorageClusterBasic(t *testing.T) {
	p := testPlatform(t)

	resp, err := p.driver.Execute(context.Background(), driver.Request{
		Keywords: []string{"储能"},
		Depth:    driver.DepthBasic,
		Formats:  []string{report.FormatJSON},
	})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(resp.Patents), 8)
	require.NotNil(t, resp.Analysis)
	assert.ElementsMatch(t,
		[]types.AnalysisKind{types.AnalysisTrend, types.AnalysisCompetition},
		resp.Analysis.Modules())
	assert.NotNil(t, resp.Quality)

	require.NotNil(t, resp.Report)
	assert.FileExists(t, resp.Report.Files[report.FormatJSON])
}

func TestPlatformWorkersRoster(t *testing.T) {
	p := testPlatform(t)

	specialties := make(map[string][]string)
	for _, w := range p.manager.Workers() {
		specialties[w.WorkerID] = w.Specialties
	}

	require.Len(t, specialties, 3)
	assert.ElementsMatch(t, []string{types.TaskTypeCollect, types.TaskTypeSearch}, specialties["searcher"])
	assert.Equal(t, []string{types.TaskTypeAnalysis}, specialties["analyst"])
	assert.Equal(t, []string{types.TaskTypeReport}, specialties["reporter"])
}

func TestBuildPlatformOpensConfiguredStores(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Report.OutputDir = filepath.Join(dir, "reports")
	cfg.Registry.JournalPath = filepath.Join(dir, "journal")
	cfg.Quality.VersionsDBPath = filepath.Join(dir, "versions.db")

	p, err := buildPlatform(cfg, zap.NewNop())
	require.NoError(t, err)
	defer p.close()

	assert.NotNil(t, p.journal)
	assert.NotNil(t, p.store)
}
