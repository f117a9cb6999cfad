package validation

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/devrev/tokensort/internal/errors"
)

const (
	// Partition limits
	MinPartitions = 1
	MaxPartitions = 1 << 16

	// Chunk size limits
	MinChunkSize = 1
	MaxChunkSize = 1 << 40 // 1 TiB
)

// Validator validates pipeline options before any work starts
type Validator struct {
	maxPartitions int
	maxChunkSize  int64
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxPartitions: MaxPartitions,
		maxChunkSize:  MaxChunkSize,
	}
}

// Options is the subset of configuration a run cannot start without
type Options struct {
	InputDir   string
	OutputPath string
	WorkDir    string
	Partitions int
	ChunkSize  int64
}

// ValidateOptions validates a complete option set
func (v *Validator) ValidateOptions(opts Options) error {
	if err := v.ValidatePartitions(opts.Partitions); err != nil {
		return err
	}

	if err := v.ValidateChunkSize(opts.ChunkSize); err != nil {
		return err
	}

	return v.ValidatePaths(opts.InputDir, opts.OutputPath, opts.WorkDir)
}

// ValidatePartitions validates the partition count
func (v *Validator) ValidatePartitions(n int) error {
	if n < MinPartitions {
		return errors.InvalidArgument(fmt.Sprintf("partition count must be at least %d, got %d", MinPartitions, n), nil).
			WithDetail("partitions", n)
	}
	if n > v.maxPartitions {
		return errors.InvalidArgument(fmt.Sprintf("partition count %d exceeds maximum %d", n, v.maxPartitions), nil).
			WithDetail("partitions", n)
	}
	return nil
}

// ValidateChunkSize validates the nominal chunk size in bytes
func (v *Validator) ValidateChunkSize(size int64) error {
	if size < MinChunkSize {
		return errors.InvalidArgument(fmt.Sprintf("chunk size must be at least %d byte, got %d", MinChunkSize, size), nil).
			WithDetail("chunk_size", size)
	}
	if size > v.maxChunkSize {
		return errors.InvalidArgument(fmt.Sprintf("chunk size %d exceeds maximum %d", size, v.maxChunkSize), nil).
			WithDetail("chunk_size", size)
	}
	return nil
}

// ValidatePaths checks that every path is usable and that nothing the run
// writes lands inside the input directory, where a later run would read it
// back as input.
func (v *Validator) ValidatePaths(inputDir, outputPath, workDir string) error {
	for name, p := range map[string]string{"input_dir": inputDir, "output_path": outputPath} {
		if err := ValidatePath(name, p); err != nil {
			return err
		}
	}
	if workDir != "" {
		if err := ValidatePath("work_dir", workDir); err != nil {
			return err
		}
	}

	if within(inputDir, filepath.Dir(outputPath)) {
		return errors.InvalidArgument(fmt.Sprintf("output path %s must not be inside input directory %s", outputPath, inputDir), nil)
	}
	if workDir != "" && within(inputDir, workDir) {
		return errors.InvalidArgument(fmt.Sprintf("work directory %s must not be inside input directory %s", workDir, inputDir), nil)
	}

	return nil
}

// ValidatePath validates a single named path
func ValidatePath(name, p string) error {
	if strings.TrimSpace(p) == "" {
		return errors.InvalidArgument(fmt.Sprintf("%s is required", name), nil)
	}
	if strings.Contains(p, "\x00") {
		return errors.InvalidArgument(fmt.Sprintf("%s cannot contain null bytes", name), nil)
	}
	return nil
}

// within reports whether p is dir or lies below it
func within(dir, p string) bool {
	d, err1 := filepath.Abs(dir)
	q, err2 := filepath.Abs(p)
	if err1 != nil || err2 != nil {
		return false
	}
	rel, err := filepath.Rel(d, q)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// EstimateWorkspaceSize estimates the scratch space a run needs for the given
// input volume. Append stores hold roughly the input bytes and the sorted
// partition files at most the same again plus a 4 byte prefix per record.
func EstimateWorkspaceSize(inputBytes int64) uint64 {
	if inputBytes <= 0 {
		return 0
	}
	appendStores := uint64(inputBytes)
	sortedFiles := uint64(inputBytes) + uint64(inputBytes)/2

	// Total with safety margin (20%)
	total := appendStores + sortedFiles
	return total + (total / 5)
}
