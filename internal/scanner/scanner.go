// Package scanner lists the corpus and cuts every input file into chunks
// whose effective boundaries fall right after a whitespace byte, so that no
// token is ever split between two chunks.
//
// A chunk's nominal range is [i*C, (i+1)*C). Its effective range is
// [align(i*C), align((i+1)*C)) where align(x) is the offset just past the
// first whitespace byte at or after x, or the file size when there is none.
// Chunk 0 always starts at 0. Consecutive effective ranges therefore tile
// the file exactly, and end-of-file terminates the last token like a
// whitespace byte would.
//
// Only ASCII whitespace bytes are boundaries. None of them can occur inside
// a multi-byte UTF-8 sequence, so chunking never cuts an encoded rune.
package scanner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/devrev/tokensort/internal/errors"
	"github.com/devrev/tokensort/internal/model"
)

// alignProbeSize is how many bytes are read at a time while looking for a
// boundary past a nominal offset
const alignProbeSize = 4 << 10

// IsBoundary reports whether b may end a chunk
func IsBoundary(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// ListInputs returns the regular files of dir in name order. A missing or
// unreadable directory is fatal. Entries that cannot be stat'ed are returned
// as skipped units; sub-directories are ignored.
func ListInputs(dir string) ([]model.InputFile, []model.SkippedUnit, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, nil, errors.DirectoryError(dir, err)
	}
	if !info.IsDir() {
		return nil, nil, errors.DirectoryError(dir, fmt.Errorf("not a directory"))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, errors.DirectoryError(dir, err)
	}

	var (
		files   []model.InputFile
		skipped []model.SkippedUnit
	)
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		// Stat follows symlinks
		fi, err := os.Stat(path)
		if err != nil {
			skipped = append(skipped, model.SkippedUnit{Path: path, ChunkIndex: -1, Reason: err.Error()})
			continue
		}
		if !fi.Mode().IsRegular() {
			continue
		}
		files = append(files, model.InputFile{Path: path, Size: fi.Size()})
	}

	return files, skipped, nil
}

// PlanChunks returns ceil(size/chunkSize) nominal chunks for f
func PlanChunks(f model.InputFile, chunkSize int64) []model.Chunk {
	if f.Size <= 0 || chunkSize <= 0 {
		return nil
	}

	count := (f.Size + chunkSize - 1) / chunkSize
	chunks := make([]model.Chunk, 0, count)
	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, f.Size)
		chunks = append(chunks, model.Chunk{File: f, Index: int(i), Start: start, End: end})
	}
	return chunks
}

// EffectiveRange returns the whitespace-aligned [start, end) of c
func EffectiveRange(r io.ReaderAt, c model.Chunk) (int64, int64, error) {
	size := c.File.Size
	tmp := make([]byte, alignProbeSize)

	start := int64(0)
	if !c.IsFirst() {
		var err error
		if start, err = alignForward(r, c.Start, size, tmp); err != nil {
			return 0, 0, err
		}
	}

	end := size
	if !c.IsLast() {
		var err error
		if end, err = alignForward(r, c.End, size, tmp); err != nil {
			return 0, 0, err
		}
	}

	if end < start {
		end = start
	}
	return start, end, nil
}

// ReadChunk reads the effective range of c into buf, growing it when needed,
// and returns the filled slice. Reusing the returned slice across calls keeps
// a worker's memory at one chunk plus the longest straddling token.
func ReadChunk(r io.ReaderAt, c model.Chunk, buf []byte) ([]byte, error) {
	start, end, err := EffectiveRange(r, c)
	if err != nil {
		return buf[:0], errors.IOError("align chunk of", c.File.Path, err).
			WithDetail("chunk", c.Index)
	}

	n := int(end - start)
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if n == 0 {
		return buf, nil
	}

	if _, err := io.ReadFull(io.NewSectionReader(r, start, int64(n)), buf); err != nil {
		return buf[:0], errors.IOError("read chunk of", c.File.Path, err).
			WithDetail("chunk", c.Index).
			WithDetail("start", start).
			WithDetail("end", end)
	}
	return buf, nil
}

// alignForward returns the offset just past the first boundary byte at or
// after pos, or size when the file ends first
func alignForward(r io.ReaderAt, pos, size int64, tmp []byte) (int64, error) {
	for pos < size {
		want := min(int64(len(tmp)), size-pos)
		n, err := r.ReadAt(tmp[:want], pos)
		for i := 0; i < n; i++ {
			if IsBoundary(tmp[i]) {
				return pos + int64(i) + 1, nil
			}
		}
		pos += int64(n)
		if err == io.EOF {
			// The file is shorter than its listed size; EOF still terminates
			return pos, nil
		}
		if err != nil {
			return 0, err
		}
	}
	return size, nil
}
