//go:build linux

package scanner

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential hints the kernel that f is read front to back.
// Best effort: errors are ignored.
func adviseSequential(f *os.File, off, length int64) {
	_ = unix.Fadvise(int(f.Fd()), off, length, unix.FADV_SEQUENTIAL)
	_ = unix.Fadvise(int(f.Fd()), off, length, unix.FADV_WILLNEED)
}
