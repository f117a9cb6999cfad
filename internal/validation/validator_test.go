package validation

import (
	"path/filepath"
	"testing"

	"github.com/devrev/tokensort/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_ValidateOptions(t *testing.T) {
	base := t.TempDir()
	in := filepath.Join(base, "in")
	out := filepath.Join(base, "out", "sorted.txt")

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{
			name: "valid options",
			opts: Options{InputDir: in, OutputPath: out, Partitions: 328, ChunkSize: 256 << 20},
		},
		{
			name:    "zero partitions",
			opts:    Options{InputDir: in, OutputPath: out, Partitions: 0, ChunkSize: 1024},
			wantErr: true,
		},
		{
			name:    "too many partitions",
			opts:    Options{InputDir: in, OutputPath: out, Partitions: MaxPartitions + 1, ChunkSize: 1024},
			wantErr: true,
		},
		{
			name:    "zero chunk size",
			opts:    Options{InputDir: in, OutputPath: out, Partitions: 4, ChunkSize: 0},
			wantErr: true,
		},
		{
			name:    "missing input dir",
			opts:    Options{OutputPath: out, Partitions: 4, ChunkSize: 1},
			wantErr: true,
		},
		{
			name:    "output inside input dir",
			opts:    Options{InputDir: in, OutputPath: filepath.Join(in, "sorted.txt"), Partitions: 4, ChunkSize: 1},
			wantErr: true,
		},
		{
			name:    "work dir inside input dir",
			opts:    Options{InputDir: in, OutputPath: out, WorkDir: filepath.Join(in, "work"), Partitions: 4, ChunkSize: 1},
			wantErr: true,
		},
		{
			name: "sibling dir with common prefix",
			opts: Options{InputDir: in, OutputPath: filepath.Join(base, "input-sorted", "x.txt"), Partitions: 4, ChunkSize: 1},
		},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateOptions(tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrCodeInvalidArgument))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatorLimits(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePartitions(MaxPartitions))
	assert.Error(t, v.ValidatePartitions(MaxPartitions+1))
	assert.NoError(t, v.ValidateChunkSize(MaxChunkSize))
	assert.Error(t, v.ValidateChunkSize(MaxChunkSize+1))
}

func TestEstimateWorkspaceSize(t *testing.T) {
	assert.Equal(t, uint64(0), EstimateWorkspaceSize(0))
	assert.Equal(t, uint64(0), EstimateWorkspaceSize(-5))

	// 1000 + 1500 = 2500, plus 20%
	assert.Equal(t, uint64(3000), EstimateWorkspaceSize(1000))
}
