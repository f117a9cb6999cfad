package service

import (
	"bytes"
	"container/heap"
	"context"
	"io"

	"github.com/devrev/tokensort/internal/errors"
	"github.com/devrev/tokensort/internal/metrics"
	"github.com/devrev/tokensort/internal/model"
	"github.com/devrev/tokensort/internal/storage/sstable"
	"go.uber.org/zap"
)

// cancelCheckInterval is how many records the merge emits between context
// checks
const cancelCheckInterval = 1 << 14

// MergeService merges sorted partition files into one sorted output stream.
// A merge runs on a single goroutine.
type MergeService struct {
	config  *MergeConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// MergeConfig holds merge configuration
type MergeConfig struct {
	ReadBufferSize int
}

// NewMergeService creates a new merge service. m may be nil.
func NewMergeService(cfg *MergeConfig, m *metrics.Metrics, logger *zap.Logger) *MergeService {
	return &MergeService{config: cfg, metrics: m, logger: logger}
}

// Merge performs a k-way merge of the record files at paths and writes every
// distinct token to w as one line, in ascending byte order. paths[i] belongs
// to partition i, which breaks ties between equal heads. Equal adjacent
// tokens are collapsed. A corrupt or unsorted record file fails the merge.
func (s *MergeService) Merge(ctx context.Context, paths []string, w io.Writer) (model.MergeStats, error) {
	var stats model.MergeStats

	merger, err := newKWayMerger(paths, s.config.ReadBufferSize)
	if err != nil {
		return stats, err
	}
	defer merger.close()

	stats.Cursors = len(*merger.heap)

	s.logger.Info("Merging partitions",
		zap.Int("partitions", len(paths)),
		zap.Int("non_empty", stats.Cursors))

	var last []byte
	for merger.hasNext() {
		token, err := merger.next()
		if err != nil {
			return stats, err
		}
		if stats.Emitted > 0 && bytes.Equal(token, last) {
			stats.DuplicatesCollapsed++
		} else {
			if err := writeLine(w, token); err != nil {
				return stats, err
			}
			stats.Emitted++
			stats.BytesWritten += int64(len(token)) + 1
			last = token

			if stats.Emitted%cancelCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return stats, err
				}
			}
		}
	}
	stats.RecordsRead = merger.recordsRead

	if s.metrics != nil {
		s.metrics.DistinctTokensTotal.Add(float64(stats.Emitted))
		s.metrics.DuplicatesCollapsedTotal.Add(float64(stats.DuplicatesCollapsed))
		s.metrics.OutputBytesTotal.Add(float64(stats.BytesWritten))
	}
	if stats.DuplicatesCollapsed > 0 {
		s.logger.Warn("Merge collapsed duplicates across partitions",
			zap.Int64("duplicates", stats.DuplicatesCollapsed))
	}

	s.logger.Info("Merge completed",
		zap.Int64("records_read", stats.RecordsRead),
		zap.Int64("emitted", stats.Emitted),
		zap.Int64("bytes_written", stats.BytesWritten))

	return stats, nil
}

func writeLine(w io.Writer, token []byte) error {
	if _, err := w.Write(token); err != nil {
		return errors.IOError("write", "output", err)
	}
	if _, err := w.Write(newline); err != nil {
		return errors.IOError("write", "output", err)
	}
	return nil
}

var newline = []byte{'\n'}

// mergeCursor is the read position of one partition file
type mergeCursor struct {
	reader    *sstable.Reader
	partition int
	head      []byte
}

// mergeHeap implements heap.Interface for k-way merge
type mergeHeap []*mergeCursor

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if c := bytes.Compare(h[i].head, h[j].head); c != 0 {
		return c < 0
	}
	return h[i].partition < h[j].partition
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x interface{}) {
	*h = append(*h, x.(*mergeCursor))
}

func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// kWayMerger owns every cursor of a merge
type kWayMerger struct {
	heap        *mergeHeap
	readers     []*sstable.Reader
	recordsRead int64
}

// newKWayMerger opens every path and seeds the heap with the first record of
// each non-empty file
func newKWayMerger(paths []string, bufferSize int) (*kWayMerger, error) {
	m := &kWayMerger{heap: &mergeHeap{}}

	for i, path := range paths {
		reader, err := sstable.NewReader(path, bufferSize)
		if err != nil {
			m.close()
			return nil, err
		}
		m.readers = append(m.readers, reader)

		head, err := reader.Next()
		if err == io.EOF {
			continue
		}
		if err != nil {
			m.close()
			return nil, err
		}
		m.recordsRead++
		*m.heap = append(*m.heap, &mergeCursor{reader: reader, partition: i, head: head})
	}

	heap.Init(m.heap)
	return m, nil
}

// hasNext checks if there are more records
func (m *kWayMerger) hasNext() bool {
	return m.heap.Len() > 0
}

// next returns the smallest head and advances its cursor. The returned slice
// stays valid since every record is freshly allocated.
func (m *kWayMerger) next() ([]byte, error) {
	top := (*m.heap)[0]
	token := top.head

	rec, err := top.reader.Next()
	switch {
	case err == io.EOF:
		heap.Pop(m.heap)
	case err != nil:
		return nil, err
	default:
		m.recordsRead++
		if bytes.Compare(rec, token) <= 0 {
			return nil, errors.DecodeError(top.reader.Path(), top.reader.Offset(), "records are not in strictly ascending order", nil).
				WithDetail("partition", top.partition)
		}
		top.head = rec
		heap.Fix(m.heap, 0)
	}

	return token, nil
}

// close closes every reader
func (m *kWayMerger) close() {
	for _, r := range m.readers {
		r.Close()
	}
	m.readers = nil
}
