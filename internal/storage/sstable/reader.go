package sstable

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/devrev/tokensort/internal/errors"
)

// Reader is a forward-only cursor over a record file
type Reader struct {
	path   string
	file   *os.File
	buf    *bufio.Reader
	size   int64
	offset int64
	header [RecordHeaderSize]byte
}

// NewReader opens a record file
func NewReader(filePath string, bufferSize int) (*Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.IOError("open", filePath, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.IOError("stat", filePath, err)
	}

	if bufferSize <= 0 {
		bufferSize = 64 << 10
	}

	return &Reader{
		path: filePath,
		file: file,
		buf:  bufio.NewReaderSize(file, bufferSize),
		size: info.Size(),
	}, nil
}

// Next returns the next record in a freshly allocated slice. It returns
// io.EOF after the last record and a DecodeError when the length prefix is
// truncated or declares more bytes than the file has left.
func (r *Reader) Next() ([]byte, error) {
	// Read record length
	n, err := io.ReadFull(r.buf, r.header[:])
	if err == io.EOF {
		return nil, io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		return nil, errors.DecodeError(r.path, r.offset, fmt.Sprintf("truncated length prefix (%d of %d bytes)", n, RecordHeaderSize), err)
	}
	if err != nil {
		return nil, errors.IOError("read", r.path, err)
	}

	length := int64(binary.LittleEndian.Uint32(r.header[:]))
	remaining := r.size - r.offset - RecordHeaderSize
	if length > remaining {
		return nil, errors.DecodeError(r.path, r.offset, fmt.Sprintf("record declares %d bytes but only %d remain", length, remaining), nil)
	}

	// Read record data
	record := make([]byte, length)
	if _, err := io.ReadFull(r.buf, record); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, errors.DecodeError(r.path, r.offset, "short record body", err)
		}
		return nil, errors.IOError("read", r.path, err)
	}

	r.offset += RecordHeaderSize + length
	return record, nil
}

// Offset returns the byte offset of the next record
func (r *Reader) Offset() int64 {
	return r.offset
}

// Size returns the file size observed when the reader was opened
func (r *Reader) Size() int64 {
	return r.size
}

// Path returns the file path
func (r *Reader) Path() string {
	return r.path
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadAll decodes every record of a file. Meant for tests and tooling, not
// for the merge path.
func ReadAll(filePath string) ([][]byte, error) {
	r, err := NewReader(filePath, 0)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var records [][]byte
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}
