package model

// InputFile is one read-only file of the corpus
type InputFile struct {
	Path string
	Size int64
}

// Chunk is a nominal byte range of an input file. The effective range is
// derived at read time by aligning both ends to whitespace.
type Chunk struct {
	File  InputFile
	Index int
	Start int64 // nominal, inclusive
	End   int64 // nominal, exclusive
}

// IsFirst reports whether the chunk covers byte 0 of its file
func (c Chunk) IsFirst() bool {
	return c.Start == 0
}

// IsLast reports whether the chunk covers the end of its file
func (c Chunk) IsLast() bool {
	return c.End >= c.File.Size
}

// SkippedUnit records a file or chunk that could not be processed.
// ChunkIndex is -1 when the whole file was skipped. A chunk that failed part
// way may already have routed some tokens; those are in TokensRouted and
// reach the output.
type SkippedUnit struct {
	Path         string
	ChunkIndex   int
	Reason       string
	TokensRouted int64
}

// ScanStats summarizes the scan phase
type ScanStats struct {
	Chunks  int   // chunks planned
	Scanned int   // chunks fully routed
	Tokens  int64 // tokens accepted by the partition stores, skipped chunks included
	Bytes   int64 // effective bytes read
	Skipped []SkippedUnit
}
