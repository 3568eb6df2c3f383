package correction

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	r, err := s.BeginRun(ctx, "a.mzML")
	require.NoError(t, err)
	require.NoError(t, r.Record(ctx, 1, 0.002))
	require.NoError(t, r.Record(ctx, 2, 0.004))
	require.NoError(t, r.Record(ctx, 3, 0.006))

	tests := []struct {
		file, scanRange string
		want            float64
	}{
		{"a.mzML", "1-3", 0.004},
		{"a.mzML", "2-3", 0.005},
		{"a.mzML", "1-1", 0.002},
		{"a.mzML", "3-100", 0.006},
		{"a.mzML", "10-20", 0},
		{"b.mzML", "1-3", 0},
		{"a.mzML", "3-1", 0},
		{"a.mzML", "0-3", 0},
		{"a.mzML", "x-3", 0},
		{"a.mzML", "", 0},
		{"a.mzML", "1-2-3", 0},
	}
	for _, tt := range tests {
		t.Run(tt.file+" "+tt.scanRange, func(t *testing.T) {
			got, err := s.Query(ctx, tt.file, tt.scanRange)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestWriteOnce(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	r, err := s.BeginRun(ctx, "a.mzML")
	require.NoError(t, err)
	require.NoError(t, r.Record(ctx, 7, 0.001))
	err = r.Record(ctx, 7, 0.009)
	assert.ErrorIs(t, err, ErrAlreadyRecorded)

	got, err := s.Query(ctx, "a.mzML", "7-7")
	require.NoError(t, err)
	assert.InDelta(t, 0.001, got, 1e-12)
}

func TestLatestRunWins(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	r1, err := s.BeginRun(ctx, "a.mzML")
	require.NoError(t, err)
	require.NoError(t, r1.Record(ctx, 1, 0.01))
	r2, err := s.BeginRun(ctx, "a.mzML")
	require.NoError(t, err)
	assert.NotEqual(t, r1.ID, r2.ID)
	// same scan, new run
	require.NoError(t, r2.Record(ctx, 1, 0.003))

	got, err := s.Query(ctx, "a.mzML", "1-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.003, got, 1e-12)

	factors, err := s.Factors(ctx, "a.mzML")
	require.NoError(t, err)
	assert.Equal(t, []Factor{{Scan: 1, Correction: 0.003}}, factors)

	_, err = s.Factors(ctx, "b.mzML")
	assert.ErrorIs(t, err, ErrNoRun)
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "factors.db")
	s, err := Open(path)
	require.NoError(t, err)
	r, err := s.BeginRun(ctx, "a.mzML")
	require.NoError(t, err)
	require.NoError(t, r.Record(ctx, 4, -0.002))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Query(ctx, "a.mzML", "1-10")
	require.NoError(t, err)
	assert.InDelta(t, -0.002, got, 1e-12)
}
