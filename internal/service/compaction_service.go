package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"github.com/devrev/tokensort/internal/errors"
	"github.com/devrev/tokensort/internal/metrics"
	"github.com/devrev/tokensort/internal/model"
	"github.com/devrev/tokensort/internal/storage/sstable"
	"github.com/devrev/tokensort/internal/storage/workdir"
	"github.com/devrev/tokensort/internal/util/workerpool"
	"go.uber.org/zap"
)

// CompactionService turns each partition's append store into a sorted,
// duplicate-free record file
type CompactionService struct {
	config          *CompactionConfig
	workDir         *workdir.WorkDir
	metrics         *metrics.Metrics
	logger          *zap.Logger
	bytesCompacted  uint64 // Atomic counter
	tablesCompacted uint64 // Atomic counter
}

// CompactionConfig holds compaction configuration
type CompactionConfig struct {
	Workers         int
	WriteBufferSize int
}

// NewCompactionService creates a new compaction service. m may be nil.
func NewCompactionService(cfg *CompactionConfig, wd *workdir.WorkDir, m *metrics.Metrics, logger *zap.Logger) *CompactionService {
	return &CompactionService{
		config:  cfg,
		workDir: wd,
		metrics: m,
		logger:  logger,
	}
}

// CompactAll compacts partitions [0, partitions) on a bounded pool. Any
// failing partition fails the whole phase, since its tokens would otherwise
// be missing from the output.
func (s *CompactionService) CompactAll(ctx context.Context, partitions int) ([]model.PartitionStats, error) {
	pool := workerpool.NewWorkerPool(&workerpool.Config{
		Name:        "compaction",
		MaxWorkers:  s.config.Workers,
		StopOnError: true,
		Logger:      s.logger,
	})

	// Each task writes only its own slot
	stats := make([]model.PartitionStats, partitions)
	tasks := make([]workerpool.Task, partitions)
	for i := range tasks {
		tasks[i] = workerpool.Task{
			ID: fmt.Sprintf("partition-%d", i),
			Fn: func(ctx context.Context) error {
				st, err := s.CompactPartition(ctx, i)
				stats[i] = st
				return err
			},
		}
	}

	_, err := pool.Run(ctx, tasks)
	pool.LogStats()
	if err != nil {
		return nil, err
	}

	s.logger.Info("Compaction phase completed",
		zap.Int("partitions", partitions),
		zap.Uint64("bytes_compacted", atomic.LoadUint64(&s.bytesCompacted)),
		zap.Uint64("tables_written", atomic.LoadUint64(&s.tablesCompacted)))

	return stats, nil
}

// CompactPartition reads partition i's append store, deduplicates its lines
// by exact bytes, sorts them and writes them as length-prefixed records. The
// store of every partition is created when the stores are opened, so a
// missing one means the run's artifacts were removed under it.
func (s *CompactionService) CompactPartition(ctx context.Context, i int) (model.PartitionStats, error) {
	st := model.PartitionStats{Index: i, SortedPath: s.workDir.TablePath(i)}
	if err := ctx.Err(); err != nil {
		return st, err
	}
	start := time.Now()

	logPath := s.workDir.LogPath(i)
	data, err := os.ReadFile(logPath)
	if err != nil {
		return st, errors.IOError("read partition store", logPath, err)
	}
	st.BytesIn = int64(len(data))

	// Step 1: Deduplicate
	set := make(map[string]struct{})
	for len(data) > 0 {
		line := data
		if j := bytes.IndexByte(data, '\n'); j >= 0 {
			line, data = data[:j], data[j+1:]
		} else {
			data = nil
		}
		if len(line) == 0 {
			continue
		}
		st.Lines++
		set[string(line)] = struct{}{}
	}

	// Step 2: Sort
	tokens := make([]string, 0, len(set))
	for tok := range set {
		tokens = append(tokens, tok)
	}
	slices.Sort(tokens)

	// Step 3: Write records
	writer, err := sstable.NewWriter(st.SortedPath, &sstable.WriterConfig{BufferSize: s.config.WriteBufferSize})
	if err != nil {
		return st, err
	}
	defer writer.Close()

	for _, tok := range tokens {
		if err := writer.WriteString(tok); err != nil {
			return st, err
		}
	}
	if err := writer.Finalize(); err != nil {
		return st, err
	}

	st.Distinct = writer.Records()
	st.BytesOut = writer.Size()
	st.Duration = time.Since(start)

	atomic.AddUint64(&s.bytesCompacted, uint64(st.BytesIn))
	atomic.AddUint64(&s.tablesCompacted, 1)
	if s.metrics != nil {
		s.metrics.PartitionsCompactedTotal.Inc()
		s.metrics.CompactionDuration.Observe(st.Duration.Seconds())
		s.metrics.CompactionBytesProcessed.Add(float64(st.BytesIn))
		s.metrics.CompactionBytesWritten.Add(float64(st.BytesOut))
	}

	s.logger.Debug("Partition compacted",
		zap.Int("partition", i),
		zap.Int64("lines", st.Lines),
		zap.Int64("distinct", st.Distinct),
		zap.Int64("bytes_in", st.BytesIn),
		zap.Int64("bytes_out", st.BytesOut),
		zap.Duration("duration", st.Duration))

	return st, nil
}
