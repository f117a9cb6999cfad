package model

import "time"

// PartitionStats describes one compacted partition
type PartitionStats struct {
	Index      int
	Lines      int64 // tokens read from the append store
	Distinct   int64 // records written to the sorted file
	BytesIn    int64
	BytesOut   int64
	Duration   time.Duration
	SortedPath string
}

// MergeStats describes the output of the k-way merge
type MergeStats struct {
	Cursors             int // non-empty partition files opened
	RecordsRead         int64
	Emitted             int64
	DuplicatesCollapsed int64
	BytesWritten        int64
}
