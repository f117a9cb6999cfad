package sstable

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/devrev/tokensort/internal/errors"
)

// RecordHeaderSize is the size of the little-endian uint32 length prefix
// that precedes every record
const RecordHeaderSize = 4

// Writer writes length-prefixed records to a sorted partition file.
// It does not sort; callers hand it records in ascending order.
type Writer struct {
	path    string
	file    *os.File
	buf     *bufio.Writer
	header  [RecordHeaderSize]byte
	offset  int64
	records int64
}

// WriterConfig holds writer configuration
type WriterConfig struct {
	BufferSize int
}

// NewWriter creates a new record file, truncating any previous one
func NewWriter(filePath string, config *WriterConfig) (*Writer, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, errors.IOError("create", filePath, err)
	}

	size := 64 << 10
	if config != nil && config.BufferSize > 0 {
		size = config.BufferSize
	}

	return &Writer{
		path: filePath,
		file: file,
		buf:  bufio.NewWriterSize(file, size),
	}, nil
}

// Write appends one record
func (w *Writer) Write(record []byte) error {
	if err := w.writeHeader(len(record)); err != nil {
		return err
	}

	// Write record data
	n, err := w.buf.Write(record)
	if err != nil {
		return errors.IOError("write record to", w.path, err)
	}

	w.offset += int64(RecordHeaderSize + n)
	w.records++
	return nil
}

// WriteString appends one record from a string
func (w *Writer) WriteString(record string) error {
	if err := w.writeHeader(len(record)); err != nil {
		return err
	}

	n, err := w.buf.WriteString(record)
	if err != nil {
		return errors.IOError("write record to", w.path, err)
	}

	w.offset += int64(RecordHeaderSize + n)
	w.records++
	return nil
}

// writeHeader writes the length prefix of a record of n bytes
func (w *Writer) writeHeader(n int) error {
	if uint64(n) > math.MaxUint32 {
		return errors.InvalidArgument(fmt.Sprintf("record of %d bytes exceeds the 4 byte length prefix", n), nil)
	}

	binary.LittleEndian.PutUint32(w.header[:], uint32(n))
	if _, err := w.buf.Write(w.header[:]); err != nil {
		return errors.IOError("write record length to", w.path, err)
	}
	return nil
}

// Finalize flushes buffered records and syncs the file to disk
func (w *Writer) Finalize() error {
	if err := w.buf.Flush(); err != nil {
		return errors.IOError("flush", w.path, err)
	}
	if err := w.file.Sync(); err != nil {
		return errors.IOError("sync", w.path, err)
	}
	return nil
}

// Size returns the number of bytes written so far
func (w *Writer) Size() int64 {
	return w.offset
}

// Records returns the number of records written so far
func (w *Writer) Records() int64 {
	return w.records
}

// Path returns the file path
func (w *Writer) Path() string {
	return w.path
}

// Close closes the file without flushing; call Finalize first
func (w *Writer) Close() error {
	return w.file.Close()
}
