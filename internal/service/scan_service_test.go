package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/devrev/tokensort/internal/metrics"
	"github.com/devrev/tokensort/internal/model"
	"github.com/devrev/tokensort/internal/router"
	"github.com/devrev/tokensort/internal/scanner"
	"github.com/devrev/tokensort/internal/service"
	"github.com/devrev/tokensort/internal/storage/partition"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func readPartitions(t *testing.T, store *partition.Store) []string {
	t.Helper()
	var lines []string
	for i := 0; i < store.Partitions(); i++ {
		data, err := os.ReadFile(store.Path(i))
		require.NoError(t, err)
		for _, l := range strings.Split(string(data), "\n") {
			if l != "" {
				lines = append(lines, l)
			}
		}
	}
	sort.Strings(lines)
	return lines
}

func TestScan_RoutesEveryToken(t *testing.T) {
	input := writeInputs(t, map[string]string{
		"a.txt": "Hello world hello\nWORLD again",
		"b.txt": "one two  three\tfour\n",
	})
	files, _, err := scanner.ListInputs(input)
	require.NoError(t, err)

	store, err := partition.Open(&partition.Config{Dir: t.TempDir(), Partitions: 3}, zap.NewNop())
	require.NoError(t, err)
	m := metrics.NewMetrics("scan")
	rt := router.New(3, store, 8)
	svc := service.NewScanService(&service.ScanConfig{ChunkSize: 5, Workers: 2}, rt, m, zap.NewNop())

	stats, err := svc.Scan(context.Background(), files)
	require.NoError(t, err)
	require.NoError(t, store.Seal())

	assert.Equal(t, int64(9), stats.Tokens)
	assert.Equal(t, stats.Chunks, stats.Scanned)
	assert.Empty(t, stats.Skipped)
	assert.Equal(t, int64(len("Hello world hello\nWORLD again")+len("one two  three\tfour\n")), stats.Bytes)
	assert.Equal(t, []string{"again", "four", "hello", "hello", "one", "three", "two", "world", "world"}, readPartitions(t, store))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.TokensRoutedTotal))

	// Every token of a partition hashes to that partition
	for i := 0; i < 3; i++ {
		data, err := os.ReadFile(store.Path(i))
		require.NoError(t, err)
		for _, l := range strings.Fields(string(data)) {
			assert.Equal(t, i, rt.Route([]byte(l)))
		}
	}
}

func TestScan_VanishedFileIsSkipped(t *testing.T) {
	input := writeInputs(t, map[string]string{
		"keep.txt": "kept",
		"gone.txt": "lost words here",
	})
	files, _, err := scanner.ListInputs(input)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(input, "gone.txt")))

	store, err := partition.Open(&partition.Config{Dir: t.TempDir(), Partitions: 2}, nil)
	require.NoError(t, err)
	svc := service.NewScanService(&service.ScanConfig{ChunkSize: 6, Workers: 2}, router.New(2, store, 0), nil, zap.NewNop())

	stats, err := svc.Scan(context.Background(), files)
	require.NoError(t, err)
	require.NoError(t, store.Seal())

	// gone.txt had 15 bytes, so 3 chunks of 6
	require.Len(t, stats.Skipped, 3)
	for i, u := range stats.Skipped {
		assert.Equal(t, filepath.Join(input, "gone.txt"), u.Path)
		assert.Equal(t, i, u.ChunkIndex)
		assert.NotEmpty(t, u.Reason)
	}
	assert.Equal(t, int64(1), stats.Tokens)
	assert.Equal(t, []string{"kept"}, readPartitions(t, store))
}

func TestScan_SealedStoreSkipsChunks(t *testing.T) {
	input := writeInputs(t, map[string]string{"a.txt": "late token"})
	files, _, err := scanner.ListInputs(input)
	require.NoError(t, err)

	store, err := partition.Open(&partition.Config{Dir: t.TempDir(), Partitions: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Seal())

	svc := service.NewScanService(&service.ScanConfig{ChunkSize: 1 << 20, Workers: 1}, router.New(1, store, 0), nil, zap.NewNop())
	stats, err := svc.Scan(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, stats.Skipped, 1)
	assert.Equal(t, []model.SkippedUnit{{Path: files[0].Path, ChunkIndex: 0, Reason: stats.Skipped[0].Reason}}, stats.Skipped)
	assert.Zero(t, stats.Scanned)
}

// flakyAppender accepts a fixed number of appends, then fails every one
type flakyAppender struct {
	mu       sync.Mutex
	accepted []string
	limit    int
}

func (f *flakyAppender) Append(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.accepted) >= f.limit {
		return errors.New("no space left on device")
	}
	f.accepted = append(f.accepted, string(data))
	return nil
}

func TestScan_PartiallyRoutedChunkIsCounted(t *testing.T) {
	input := writeInputs(t, map[string]string{"a.txt": "aaa bbb ccc ddd eee fff"})
	files, _, err := scanner.ListInputs(input)
	require.NoError(t, err)

	store := &flakyAppender{limit: 2}
	// One partition, 8 byte batches: two tokens per append
	svc := service.NewScanService(&service.ScanConfig{ChunkSize: 1 << 20, Workers: 1}, router.New(1, store, 8), nil, zap.NewNop())

	stats, err := svc.Scan(context.Background(), files)
	require.NoError(t, err)

	require.Len(t, stats.Skipped, 1)
	assert.Equal(t, int64(4), stats.Skipped[0].TokensRouted)
	assert.Equal(t, int64(4), stats.Tokens)
	assert.Equal(t, []string{"aaa\nbbb\n", "ccc\nddd\n"}, store.accepted)
}
