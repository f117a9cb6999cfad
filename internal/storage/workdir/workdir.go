package workdir

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/devrev/tokensort/internal/errors"
	"github.com/devrev/tokensort/internal/storage/partition"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// maxLockAttempts bounds retries when the base directory is removed by a
// finishing run between open and lock
const maxLockAttempts = 3

// WorkDir is one run's scratch directory <base>/<runID>. The run holds an
// exclusive flock on it for its whole lifetime, which tells concurrent runs
// sharing the base that its artifacts are live. Creating and sweeping run
// directories happen under a shared and an exclusive flock on the base
// respectively, so a sweep never sees a run directory that is not locked yet.
type WorkDir struct {
	base   string
	runID  string
	dir    string
	lock   *os.File
	logger *zap.Logger
}

// New creates and locks the run directory of runID under base
func New(base, runID string, logger *zap.Logger) (*WorkDir, error) {
	if base == "" {
		return nil, errors.InvalidArgument("work directory is required", nil)
	}
	if runID == "" || runID == "." || runID == ".." || filepath.Base(runID) != runID {
		return nil, errors.InvalidArgument(fmt.Sprintf("invalid run id %q", runID), nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Join(base, runID)

	for attempt := 1; ; attempt++ {
		if err := os.MkdirAll(base, 0755); err != nil {
			return nil, errors.IOError("create work directory", base, err)
		}
		baseLock, err := lockDir(base, unix.LOCK_SH)
		if err != nil {
			return nil, errors.IOError("lock work directory", base, err)
		}
		if !stillLinked(base, baseLock) && attempt < maxLockAttempts {
			baseLock.Close()
			continue
		}

		var runLock *os.File
		err = os.Mkdir(dir, 0755)
		if err == nil {
			runLock, err = lockDir(dir, unix.LOCK_EX|unix.LOCK_NB)
		}
		baseLock.Close()
		if err != nil {
			return nil, errors.IOError("create run directory", dir, err)
		}

		return &WorkDir{base: base, runID: runID, dir: dir, lock: runLock, logger: logger}, nil
	}
}

// lockDir opens dir and takes a flock on it
func lockDir(dir string, how int) (*os.File, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// stillLinked reports whether path still names the directory f was opened on
func stillLinked(path string, f *os.File) bool {
	a, err := os.Stat(path)
	if err != nil {
		return false
	}
	b, err := f.Stat()
	if err != nil {
		return false
	}
	return os.SameFile(a, b)
}

// Dir returns the run directory path
func (w *WorkDir) Dir() string {
	return w.dir
}

// Base returns the directory shared by all runs
func (w *WorkDir) Base() string {
	return w.base
}

// LogPath returns the append store path of partition i
func (w *WorkDir) LogPath(i int) string {
	return filepath.Join(w.dir, partition.LogName(i))
}

// TablePath returns the sorted record file path of partition i
func (w *WorkDir) TablePath(i int) string {
	return filepath.Join(w.dir, partition.TableName(i))
}

// TablePaths returns the sorted record file paths of partitions [0, n)
func (w *WorkDir) TablePaths(n int) []string {
	paths := make([]string, n)
	for i := range paths {
		paths[i] = w.TablePath(i)
	}
	return paths
}

// SweepStale removes the run directories an interrupted earlier run left in
// the base. Only directories named by a run id whose flock is free are
// touched; runs still in progress keep theirs. Failures are logged and
// counted, never fatal.
func (w *WorkDir) SweepStale() (removed, failed int) {
	baseLock, err := lockDir(w.base, unix.LOCK_EX)
	if err != nil {
		w.logger.Warn("Failed to lock work directory for sweep", zap.String("dir", w.base), zap.Error(err))
		return 0, 1
	}
	defer baseLock.Close()

	entries, err := os.ReadDir(w.base)
	if err != nil {
		w.logger.Warn("Failed to list work directory", zap.String("dir", w.base), zap.Error(err))
		return 0, 1
	}

	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == w.runID {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}
		path := filepath.Join(w.base, entry.Name())

		lock, err := lockDir(path, unix.LOCK_EX|unix.LOCK_NB)
		if stderrors.Is(err, unix.EWOULDBLOCK) {
			w.logger.Debug("Run directory in use", zap.String("dir", path))
			continue
		}
		if err != nil {
			w.logger.Warn("Failed to lock stale run directory", zap.String("dir", path), zap.Error(err))
			failed++
			continue
		}
		err = os.RemoveAll(path)
		lock.Close()
		if err != nil {
			w.logger.Warn("Failed to remove stale run directory", zap.String("dir", path), zap.Error(err))
			failed++
			continue
		}
		removed++
	}

	if removed > 0 || failed > 0 {
		w.logger.Info("Swept stale run directories",
			zap.String("dir", w.base),
			zap.Int("removed", removed),
			zap.Int("failed", failed))
	}
	return removed, failed
}

// Cleanup removes the append store and sorted file of every partition, then
// the run directory and the base when nothing else lives in them, and
// releases the run's lock. Absent files are not failures. It never retries
// and returns the number of files that could not be removed.
func (w *WorkDir) Cleanup(partitions int) int {
	failed := 0
	for i := 0; i < partitions; i++ {
		if !w.remove(w.LogPath(i)) {
			failed++
		}
		if !w.remove(w.TablePath(i)) {
			failed++
		}
	}

	if err := os.Remove(w.dir); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		w.logger.Debug("Run directory left in place", zap.String("dir", w.dir), zap.Error(err))
	}
	w.Release()
	w.removeBaseIfEmpty()

	if failed > 0 {
		w.logger.Warn("Cleanup incomplete",
			zap.String("dir", w.dir),
			zap.Int("failed", failed))
	}
	return failed
}

// Release drops the run's lock. A later sweep may then remove whatever is
// left of the run directory.
func (w *WorkDir) Release() {
	if w.lock != nil {
		w.lock.Close()
		w.lock = nil
	}
}

// removeBaseIfEmpty removes the base under its exclusive lock so that no run
// is creating its directory at the same time
func (w *WorkDir) removeBaseIfEmpty() {
	baseLock, err := lockDir(w.base, unix.LOCK_EX)
	if err != nil {
		return
	}
	defer baseLock.Close()
	if err := os.Remove(w.base); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		w.logger.Debug("Work directory left in place", zap.String("dir", w.base), zap.Error(err))
	}
}

// remove deletes one file, treating an absent file as success
func (w *WorkDir) remove(path string) bool {
	err := os.Remove(path)
	if err == nil || stderrors.Is(err, fs.ErrNotExist) {
		return true
	}
	w.logger.Warn("Failed to remove partition artifact",
		zap.String("path", path),
		zap.Error(err))
	return false
}

// DiskUsageStats contains disk usage statistics of the work directory's
// filesystem
type DiskUsageStats struct {
	TotalBytes     uint64
	AvailableBytes uint64
	UsagePercent   float64
}

// DiskUsage reports usage of the filesystem holding the work directory
func (w *WorkDir) DiskUsage() (DiskUsageStats, error) {
	return DiskUsageOf(w.dir)
}

// DiskUsageOf reports usage of the filesystem holding path
func DiskUsageOf(path string) (DiskUsageStats, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return DiskUsageStats{}, errors.IOError("statfs", path, err)
	}

	totalBytes := stat.Blocks * uint64(stat.Bsize)
	availableBytes := stat.Bavail * uint64(stat.Bsize)
	var usagePercent float64
	if totalBytes > 0 {
		usagePercent = float64(totalBytes-availableBytes) / float64(totalBytes) * 100.0
	}

	return DiskUsageStats{
		TotalBytes:     totalBytes,
		AvailableBytes: availableBytes,
		UsagePercent:   usagePercent,
	}, nil
}

// CheckFreeSpace compares the available space with an estimate of what the
// run needs. A shortfall is returned as an error for the caller to log; the
// run may still fit since the estimate is generous.
func (w *WorkDir) CheckFreeSpace(required uint64) error {
	usage, err := w.DiskUsage()
	if err != nil {
		return err
	}
	if usage.AvailableBytes < required {
		return fmt.Errorf("work directory %s has %s available, estimated need is %s",
			w.dir, humanize.IBytes(usage.AvailableBytes), humanize.IBytes(required))
	}
	w.logger.Debug("Work directory free space ok",
		zap.String("available", humanize.IBytes(usage.AvailableBytes)),
		zap.String("required", humanize.IBytes(required)),
		zap.Float64("usage_percent", usage.UsagePercent))
	return nil
}
