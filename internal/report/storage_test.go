package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageCatalog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewStorage(dir, nil)
	require.NoError(t, err)

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(StoredReport{
		ReportID: "rpt-a", Title: "甲", LatestVersion: 1,
		CreatedAt: t0, UpdatedAt: t0,
	}))
	require.NoError(t, s.Put(StoredReport{
		ReportID: "rpt-b", Title: "乙", LatestVersion: 1,
		CreatedAt: t0.Add(time.Minute), UpdatedAt: t0.Add(time.Minute),
	}))

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "rpt-b", list[0].ReportID)
	assert.Equal(t, "rpt-a", list[1].ReportID)

	// Re-putting keeps the first-seen creation time.
	require.NoError(t, s.Put(StoredReport{
		ReportID: "rpt-a", Title: "甲", LatestVersion: 2,
		CreatedAt: t0.Add(time.Hour), UpdatedAt: t0.Add(time.Hour),
	}))
	got, ok := s.Get("rpt-a")
	require.True(t, ok)
	assert.Equal(t, 2, got.LatestVersion)
	assert.Equal(t, t0, got.CreatedAt)
	assert.Equal(t, t0.Add(time.Hour), got.UpdatedAt)

	removed, err := s.Remove("rpt-b")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.Remove("rpt-b")
	require.NoError(t, err)
	assert.False(t, removed)

	// The catalog survives a reopen.
	reopened, err := NewStorage(dir, nil)
	require.NoError(t, err)
	got, ok = reopened.Get("rpt-a")
	require.True(t, ok)
	assert.Equal(t, 2, got.LatestVersion)
	_, ok = reopened.Get("rpt-b")
	assert.False(t, ok)
}
