package report

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patlas/internal/clock"
	"patlas/internal/types"
)

func testClock() *clock.Fake {
	return clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
}

func writeArtifact(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("artifact"), 0644))
	return path
}

func TestVersionNumbersNeverReused(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	artifacts := t.TempDir()
	vi, err := NewVersionIndex(dir, 2, nil, testClock())
	require.NoError(t, err)

	var paths []string
	for i := 1; i <= 3; i++ {
		ver, err := vi.Begin("rpt", nil)
		require.NoError(t, err)
		assert.Equal(t, i, ver.VersionNumber)
		assert.Equal(t, types.VersionCreating, ver.Status)

		path := writeArtifact(t, artifacts, fmt.Sprintf("rpt_v%d.html", i))
		paths = append(paths, path)
		completed, err := vi.Complete(ver, map[string]types.VersionFile{
			"html": {Path: path, Size: 8, Hash: "h"},
		})
		require.NoError(t, err)
		assert.Equal(t, types.VersionCompleted, completed.Status)
	}

	// Retention keeps the two newest; the dropped version takes its
	// artifact and manifest with it.
	hist := vi.History("rpt")
	require.Len(t, hist, 2)
	assert.Equal(t, 2, hist[0].VersionNumber)
	assert.Equal(t, 3, hist[1].VersionNumber)
	assert.NoFileExists(t, paths[0])
	assert.NoFileExists(t, filepath.Join(dir, "rpt_v1.json"))
	assert.FileExists(t, paths[1])
	assert.FileExists(t, paths[2])
	assert.FileExists(t, filepath.Join(dir, "rpt_v3.json"))

	next, err := vi.Begin("rpt", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, next.VersionNumber)
}

func TestFailedVersionSpendsItsNumber(t *testing.T) {
	t.Parallel()

	vi, err := NewVersionIndex(t.TempDir(), 5, nil, testClock())
	require.NoError(t, err)

	v1, err := vi.Begin("rpt", nil)
	require.NoError(t, err)
	vi.Fail(v1)

	hist := vi.History("rpt")
	require.Len(t, hist, 1)
	assert.Equal(t, types.VersionFailed, hist[0].Status)

	v2, err := vi.Begin("rpt", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.VersionNumber)
}

func TestVersionIndexReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clk := testClock()
	vi, err := NewVersionIndex(dir, 5, nil, clk)
	require.NoError(t, err)

	ver, err := vi.Begin("rpt", map[string]interface{}{"depth": "standard"})
	require.NoError(t, err)
	_, err = vi.Complete(ver, map[string]types.VersionFile{})
	require.NoError(t, err)

	reopened, err := NewVersionIndex(dir, 5, nil, clk)
	require.NoError(t, err)
	latest, ok := reopened.Latest("rpt")
	require.True(t, ok)
	assert.Equal(t, 1, latest.VersionNumber)
	assert.Equal(t, types.VersionCompleted, latest.Status)
	assert.Equal(t, "standard", latest.Parameters["depth"])

	next, err := reopened.Begin("rpt", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, next.VersionNumber)
}

func TestDeleteReportRemovesEverything(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	artifacts := t.TempDir()
	vi, err := NewVersionIndex(dir, 5, nil, testClock())
	require.NoError(t, err)

	html := writeArtifact(t, artifacts, "rpt_v1.html")
	v1, err := vi.Begin("rpt", nil)
	require.NoError(t, err)
	// The pdf fallback records the same artifact under two keys; deletion
	// must tolerate removing the path twice.
	_, err = vi.Complete(v1, map[string]types.VersionFile{
		"html": {Path: html},
		"pdf":  {Path: html},
	})
	require.NoError(t, err)

	removed, err := vi.DeleteReport("rpt")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, html)
	assert.NoFileExists(t, filepath.Join(dir, "rpt_v1.json"))
	assert.Empty(t, vi.History("rpt"))

	removed, err = vi.DeleteReport("unknown")
	require.NoError(t, err)
	assert.Zero(t, removed)

	// Deletion ends the lineage; the id starts fresh if reused.
	fresh, err := vi.Begin("rpt", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.VersionNumber)
}
