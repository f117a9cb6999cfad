package service_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/devrev/tokensort/internal/errors"
	"github.com/devrev/tokensort/internal/metrics"
	"github.com/devrev/tokensort/internal/service"
	"github.com/devrev/tokensort/internal/storage/sstable"
	"github.com/devrev/tokensort/internal/storage/workdir"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCompaction(t *testing.T, m *metrics.Metrics) (*service.CompactionService, *workdir.WorkDir) {
	t.Helper()
	wd, err := workdir.New(t.TempDir(), uuid.NewString(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(wd.Release)
	return service.NewCompactionService(&service.CompactionConfig{Workers: 3}, wd, m, zap.NewNop()), wd
}

func records(t *testing.T, path string) []string {
	t.Helper()
	recs, err := sstable.ReadAll(path)
	require.NoError(t, err)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = string(r)
	}
	return out
}

func TestCompactPartition(t *testing.T) {
	svc, wd := newCompaction(t, nil)
	require.NoError(t, os.WriteFile(wd.LogPath(0), []byte("pear\napple\npear\n\nzoo\napple\nApple\n"), 0o644))

	st, err := svc.CompactPartition(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"Apple", "apple", "pear", "zoo"}, records(t, wd.TablePath(0)))
	assert.Equal(t, int64(6), st.Lines)
	assert.Equal(t, int64(4), st.Distinct)
	assert.Equal(t, wd.TablePath(0), st.SortedPath)

	info, err := os.Stat(wd.TablePath(0))
	require.NoError(t, err)
	assert.Equal(t, info.Size(), st.BytesOut)
}

func TestCompactPartition_EmptyStore(t *testing.T) {
	svc, wd := newCompaction(t, nil)
	require.NoError(t, os.WriteFile(wd.LogPath(5), nil, 0o644))

	st, err := svc.CompactPartition(context.Background(), 5)
	require.NoError(t, err)
	assert.Zero(t, st.Distinct)

	info, err := os.Stat(wd.TablePath(5))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestCompactPartition_MissingStoreIsFatal(t *testing.T) {
	svc, wd := newCompaction(t, nil)

	_, err := svc.CompactPartition(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeIO))

	_, statErr := os.Stat(wd.TablePath(5))
	assert.True(t, os.IsNotExist(statErr), "no sorted file for a vanished store")
}

func TestCompactAll(t *testing.T) {
	m := metrics.NewMetrics("test")
	svc, wd := newCompaction(t, m)
	for i := 0; i < 6; i++ {
		data := fmt.Sprintf("t%d-b\nt%d-a\nt%d-b\n", i, i, i)
		require.NoError(t, os.WriteFile(wd.LogPath(i), []byte(data), 0o644))
	}

	stats, err := svc.CompactAll(context.Background(), 6)
	require.NoError(t, err)
	require.Len(t, stats, 6)

	for i, st := range stats {
		assert.Equal(t, i, st.Index)
		assert.Equal(t, int64(2), st.Distinct)
		assert.Equal(t, []string{fmt.Sprintf("t%d-a", i), fmt.Sprintf("t%d-b", i)}, records(t, wd.TablePath(i)))
	}
	assert.Equal(t, 6.0, testutil.ToFloat64(m.PartitionsCompactedTotal))
}

func TestCompactAll_FailureIsFatal(t *testing.T) {
	svc, wd := newCompaction(t, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(wd.LogPath(i), []byte("tok\n"), 0o644))
	}
	// A directory where partition 1's sorted file must be created
	require.NoError(t, os.MkdirAll(filepath.Join(wd.TablePath(1), "x"), 0o755))

	_, err := svc.CompactAll(context.Background(), 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeIO))
}

func TestCompactAll_Canceled(t *testing.T) {
	svc, _ := newCompaction(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.CompactAll(ctx, 4)
	assert.ErrorIs(t, err, context.Canceled)
}
