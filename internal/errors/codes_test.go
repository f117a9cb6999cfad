package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ErrCodeOK},
		{"plain error", io.EOF, ErrCodeInternal},
		{"io error", IOError("open", "/tmp/x", io.ErrUnexpectedEOF), ErrCodeIO},
		{"decode error", DecodeError("p.bin", 12, "short record", nil), ErrCodeDecode},
		{"wrapped directory error", fmt.Errorf("run: %w", DirectoryError("/in", nil)), ErrCodeDirectory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetCode(tt.err))
		})
	}
}

func TestPipelineError_Unwrap(t *testing.T) {
	err := IOError("read", "/data/a.txt", io.ErrUnexpectedEOF)

	assert.True(t, stderrors.Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, "read /data/a.txt: unexpected EOF", err.Error())
	assert.Equal(t, "/data/a.txt", err.Details["path"])
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("append: %w", Sealed(3))

	assert.True(t, Is(err, ErrCodeSealed))
	assert.False(t, Is(err, ErrCodeIO))
	assert.True(t, IsPipelineError(err))
	assert.False(t, IsPipelineError(io.EOF))
	assert.Equal(t, "Sealed", ErrCodeSealed.String())
}
