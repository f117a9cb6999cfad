//go:build !linux

package scanner

import "os"

func adviseSequential(f *os.File, off, length int64) {}
