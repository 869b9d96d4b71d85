package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tide-data-etl/internal/domain"
)

func newTestSQLiteStore(t *testing.T, site string) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tides.db"), site)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreLoadEmpty(t *testing.T) {
	s := newTestSQLiteStore(t, "01412150")

	idx, err := s.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.Index{}, idx)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t, "01412150")
	want := testIndex()

	require.NoError(t, s.Save(context.Background(), want))
	got, err := s.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLiteStoreSnapshotReplace(t *testing.T) {
	s := newTestSQLiteStore(t, "01412150")
	require.NoError(t, s.Save(context.Background(), testIndex()))

	smaller := testIndex()
	smaller.Peaks = smaller.Peaks[:1]
	require.NoError(t, s.Save(context.Background(), smaller))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, smaller, got)
}

func TestSQLiteStorePeaksOrdered(t *testing.T) {
	s := newTestSQLiteStore(t, "01412150")
	idx := testIndex()
	// Store rows out of order; Load must come back ascending.
	idx.Peaks = []domain.PeakRecord{idx.Peaks[1], idx.Peaks[0]}
	require.NoError(t, s.Save(context.Background(), idx))

	got, err := s.Load(context.Background())

	require.NoError(t, err)
	require.Len(t, got.Peaks, 2)
	assert.True(t, got.Peaks[0].Time.Before(got.Peaks[1].Time))
}

func TestSQLiteStoreSiteIsolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tides.db")

	bivalve, err := NewSQLiteStore(path, "01412150")
	require.NoError(t, err)
	t.Cleanup(func() { bivalve.Close() })

	battery, err := NewSQLiteStore(path, "8518750")
	require.NoError(t, err)
	t.Cleanup(func() { battery.Close() })

	idx := testIndex()
	require.NoError(t, bivalve.Save(context.Background(), idx))

	got, err := battery.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Index{}, got)

	kept, err := bivalve.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, idx, kept)
}

func TestSQLiteStoreZeroGeneratedAt(t *testing.T) {
	s := newTestSQLiteStore(t, "01412150")
	idx := domain.Index{
		Site:        "01412150",
		ThresholdFt: 4.19,
		Peaks: []domain.PeakRecord{
			{Time: time.Date(2024, time.March, 9, 3, 12, 0, 0, time.UTC), Ft: 4.51},
		},
	}

	require.NoError(t, s.Save(context.Background(), idx))
	got, err := s.Load(context.Background())

	require.NoError(t, err)
	assert.True(t, got.GeneratedAt.IsZero())
}
