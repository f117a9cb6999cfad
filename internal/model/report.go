package model

import "time"

// Phase names used in reports, logs and metrics
const (
	PhaseScan    = "scan"
	PhaseCompact = "compact"
	PhaseMerge   = "merge"
	PhaseCleanup = "cleanup"
)

// Report summarizes one pipeline run
type Report struct {
	RunID               string
	InputFiles          int
	InputBytes          int64
	Chunks              int
	TokensProcessed     int64
	IntermediateBytes   int64 // bytes appended to the partition stores
	LargestPartition    int64 // bytes of the largest partition store
	DistinctTokens      int64
	SkippedUnits        []SkippedUnit
	PartitionsCompacted int
	OutputPath          string
	OutputBytes         int64
	OutputChecksum      uint32
	CleanupFailures     int
	PhaseDurations      map[string]time.Duration
	StartedAt           time.Time
	Duration            time.Duration
}

// SkippedCount returns the number of skipped input units.
// A non-zero value is a warning, not a failure.
func (r *Report) SkippedCount() int {
	return len(r.SkippedUnits)
}
