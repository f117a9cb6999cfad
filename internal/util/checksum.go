package util

import (
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
)

// Checksum utilities for output verification
// Uses CRC32 (IEEE polynomial) so two runs can be compared without diffing

var (
	// crc32Table is precomputed for better performance
	crc32Table = crc32.MakeTable(crc32.IEEE)
)

// ComputeChecksum computes a CRC32 checksum for the given data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// ChecksumWriter forwards writes to an underlying writer while keeping a
// running CRC32 and byte count of everything written through it
type ChecksumWriter struct {
	w     io.Writer
	crc   hash.Hash32
	count int64
}

// NewChecksumWriter wraps w
func NewChecksumWriter(w io.Writer) *ChecksumWriter {
	return &ChecksumWriter{
		w:   w,
		crc: crc32.New(crc32Table),
	}
}

// Write implements io.Writer. Only bytes accepted by the underlying writer
// are folded into the checksum.
func (c *ChecksumWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		c.crc.Write(p[:n])
		c.count += int64(n)
	}
	return n, err
}

// Sum32 returns the checksum of the bytes written so far
func (c *ChecksumWriter) Sum32() uint32 {
	return c.crc.Sum32()
}

// Count returns the number of bytes written so far
func (c *ChecksumWriter) Count() int64 {
	return c.count
}

// ChecksumFile computes the CRC32 of a whole file
func ChecksumFile(r io.Reader) (uint32, int64, error) {
	h := crc32.New(crc32Table)
	n, err := io.Copy(h, r)
	if err != nil {
		return 0, n, err
	}
	return h.Sum32(), n, nil
}

// VerifyFile re-reads path and checks that it holds exactly the size bytes
// with checksum sum that were written to it
func VerifyFile(path string, sum uint32, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	got, n, err := ChecksumFile(f)
	if err != nil {
		return err
	}
	if n != size || got != sum {
		return fmt.Errorf("read back %d bytes with crc32 %08x, wrote %d bytes with crc32 %08x", n, got, size, sum)
	}
	return nil
}
