package scanner

import (
	"os"

	"github.com/devrev/tokensort/internal/errors"
	"github.com/devrev/tokensort/internal/model"
)

// OpenChunk opens the file of c for reading and advises the kernel about the
// range about to be read
func OpenChunk(c model.Chunk) (*os.File, error) {
	f, err := os.Open(c.File.Path)
	if err != nil {
		return nil, errors.IOError("open", c.File.Path, err)
	}
	adviseSequential(f, c.Start, c.End-c.Start)
	return f, nil
}
