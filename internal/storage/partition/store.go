package partition

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/devrev/tokensort/internal/errors"
	"go.uber.org/zap"
)

// LogName returns the file name of partition i's append store
func LogName(i int) string {
	return fmt.Sprintf("partition_%d.txt", i)
}

// TableName returns the file name of partition i's sorted record file
func TableName(i int) string {
	return fmt.Sprintf("partition_%d.bin", i)
}

// segment is one partition's append-only file. mu serializes writers of this
// partition only.
type segment struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	buf     *bufio.Writer
	sealed  bool
	bytes   int64
	appends int64
}

// Store owns the P append-only intermediate files written during the scan
// phase. Appends to different partitions never contend.
type Store struct {
	dir      string
	segments []*segment
	logger   *zap.Logger
	sealOnce sync.Once
	sealErr  error
	total    int64
}

// Config holds store configuration
type Config struct {
	Dir        string
	Partitions int
	BufferSize int
}

// Open creates (or truncates) one append file per partition
func Open(cfg *Config, logger *zap.Logger) (*Store, error) {
	if cfg.Partitions < 1 {
		return nil, errors.InvalidArgument(fmt.Sprintf("partition count must be at least 1, got %d", cfg.Partitions), nil)
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, errors.IOError("create directory", cfg.Dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 64 << 10
	}

	s := &Store{
		dir:      cfg.Dir,
		segments: make([]*segment, cfg.Partitions),
		logger:   logger,
	}

	for i := range s.segments {
		path := filepath.Join(cfg.Dir, LogName(i))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			s.closeOpened(i)
			return nil, errors.IOError("open partition store", path, err)
		}
		s.segments[i] = &segment{
			path: path,
			file: file,
			buf:  bufio.NewWriterSize(file, bufSize),
		}
	}

	logger.Info("Opened partition stores",
		zap.String("dir", cfg.Dir),
		zap.Int("partitions", cfg.Partitions),
		zap.Int("buffer_size", bufSize))

	return s, nil
}

// closeOpened closes the first n segments after a failed Open
func (s *Store) closeOpened(n int) {
	for _, seg := range s.segments[:n] {
		seg.file.Close()
	}
}

// Partitions returns the partition count
func (s *Store) Partitions() int {
	return len(s.segments)
}

// Append appends newline-terminated token data to partition i under that
// partition's lock
func (s *Store) Append(i int, data []byte) error {
	if i < 0 || i >= len(s.segments) {
		return errors.InvalidArgument(fmt.Sprintf("partition %d out of range [0, %d)", i, len(s.segments)), nil)
	}
	seg := s.segments[i]

	seg.mu.Lock()
	defer seg.mu.Unlock()

	if seg.sealed {
		return errors.Sealed(i)
	}

	n, err := seg.buf.Write(data)
	seg.bytes += int64(n)
	atomic.AddInt64(&s.total, int64(n))
	if err != nil {
		return errors.IOError("append to", seg.path, err)
	}
	seg.appends++
	return nil
}

// Seal flushes and closes every partition. No append succeeds afterwards.
// Seal is idempotent and returns the first error it hit.
func (s *Store) Seal() error {
	s.sealOnce.Do(func() {
		var firstErr error
		for i, seg := range s.segments {
			seg.mu.Lock()
			seg.sealed = true
			if err := seg.buf.Flush(); err != nil && firstErr == nil {
				firstErr = errors.IOError("flush partition store", seg.path, err)
			}
			if err := seg.file.Close(); err != nil && firstErr == nil {
				firstErr = errors.IOError("close partition store", seg.path, err)
			}
			seg.mu.Unlock()

			s.logger.Debug("Sealed partition store",
				zap.Int("partition", i),
				zap.Int64("bytes", seg.bytes),
				zap.Int64("appends", seg.appends))
		}
		s.sealErr = firstErr

		s.logger.Info("Sealed partition stores",
			zap.Int("partitions", len(s.segments)),
			zap.Int64("total_bytes", atomic.LoadInt64(&s.total)))
	})
	return s.sealErr
}

// Path returns the path of partition i's append file
func (s *Store) Path(i int) string {
	return s.segments[i].path
}

// Stats returns per-partition byte and append counts
func (s *Store) Stats() []SegmentStats {
	stats := make([]SegmentStats, len(s.segments))
	for i, seg := range s.segments {
		seg.mu.Lock()
		stats[i] = SegmentStats{Partition: i, Bytes: seg.bytes, Appends: seg.appends, Sealed: seg.sealed}
		seg.mu.Unlock()
	}
	return stats
}

// TotalBytes returns the bytes appended across all partitions
func (s *Store) TotalBytes() int64 {
	return atomic.LoadInt64(&s.total)
}

// SegmentStats describes one partition's append file
type SegmentStats struct {
	Partition int
	Bytes     int64
	Appends   int64
	Sealed    bool
}
