package health

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/devrev/tokensort/internal/errors"
	"github.com/devrev/tokensort/internal/storage/workdir"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Status of a single check
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// fdHeadroom covers stdio, the output file, sockets and readers opened by
// the merge on top of the partition stores and chunk readers
const fdHeadroom = 64

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string
	Status    Status
	Message   string
	Timestamp time.Time
}

// Config describes the run the checks are made for
type Config struct {
	WorkDir       *workdir.WorkDir
	RequiredBytes uint64 // estimated scratch space
	Partitions    int
	Workers       int
	ChunkSize     int64
	MemInfoPath   string // default /proc/meminfo
}

// Checker runs preflight checks before a run starts. Critical results abort
// the run, warnings are only logged. Checks only observe the process and the
// filesystem; the file limit is raised beforehand with RaiseFileLimit.
type Checker struct {
	cfg    *Config
	logger *zap.Logger
	mu     sync.RWMutex
	checks map[string]CheckResult
}

// NewChecker creates a new checker
func NewChecker(cfg *Config, logger *zap.Logger) *Checker {
	if cfg.MemInfoPath == "" {
		cfg.MemInfoPath = "/proc/meminfo"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		cfg:    cfg,
		logger: logger,
		checks: make(map[string]CheckResult),
	}
}

// Run runs every check and returns an error for the first critical one
func (h *Checker) Run() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	checks := []func() CheckResult{
		h.checkWorkDirWritable,
		h.checkDiskSpace,
		h.checkFileDescriptors,
		h.checkMemory,
	}

	var firstErr error
	for _, check := range checks {
		result := check()
		h.checks[result.Name] = result

		switch result.Status {
		case StatusCritical:
			h.logger.Error("Preflight check failed",
				zap.String("check", result.Name),
				zap.String("message", result.Message))
			if firstErr == nil {
				firstErr = errors.IOError("preflight check "+result.Name, h.cfg.WorkDir.Dir(), fmt.Errorf("%s", result.Message))
			}
		case StatusWarning:
			h.logger.Warn("Preflight check warning",
				zap.String("check", result.Name),
				zap.String("message", result.Message))
		default:
			h.logger.Debug("Preflight check passed",
				zap.String("check", result.Name),
				zap.String("message", result.Message))
		}
	}
	return firstErr
}

// checkWorkDirWritable creates and removes a probe file in the work directory
func (h *Checker) checkWorkDirWritable() CheckResult {
	f, err := os.CreateTemp(h.cfg.WorkDir.Dir(), ".preflight-*")
	if err != nil {
		return result("work_dir_writable", StatusCritical, fmt.Sprintf("cannot write to work directory: %v", err))
	}
	f.Close()
	os.Remove(f.Name())

	return result("work_dir_writable", StatusHealthy, "work directory is writable")
}

// checkDiskSpace compares free space with the scratch estimate. The estimate
// is generous, so a shortfall is only a warning.
func (h *Checker) checkDiskSpace() CheckResult {
	usage, err := h.cfg.WorkDir.DiskUsage()
	if err != nil {
		return result("disk_space", StatusWarning, fmt.Sprintf("failed to stat filesystem: %v", err))
	}
	if err := h.cfg.WorkDir.CheckFreeSpace(h.cfg.RequiredBytes); err != nil {
		return result("disk_space", StatusWarning, err.Error())
	}
	return result("disk_space", StatusHealthy, fmt.Sprintf("disk usage: %.2f%%, available: %s",
		usage.UsagePercent, humanize.IBytes(usage.AvailableBytes)))
}

// checkFileDescriptors makes sure every partition store and chunk reader can
// be open at once
func (h *Checker) checkFileDescriptors() CheckResult {
	need := FilesNeeded(h.cfg.Partitions, h.cfg.Workers)

	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return result("file_descriptors", StatusWarning, fmt.Sprintf("failed to get rlimit: %v", err))
	}
	if rlimit.Cur < need {
		return result("file_descriptors", StatusCritical, fmt.Sprintf("run needs %d open files, soft limit is %d and hard limit %d", need, rlimit.Cur, rlimit.Max))
	}
	return result("file_descriptors", StatusHealthy, fmt.Sprintf("soft limit %d covers %d", rlimit.Cur, need))
}

// FilesNeeded returns how many descriptors a run may hold open at once
func FilesNeeded(partitions, workers int) uint64 {
	return uint64(partitions + workers + fdHeadroom)
}

// RaiseFileLimit raises the soft RLIMIT_NOFILE of the process to need when it
// is lower and the hard limit allows it. It returns the soft limit in effect
// afterwards.
func RaiseFileLimit(need uint64) (uint64, error) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return 0, err
	}
	if rlimit.Cur >= need || rlimit.Max < need {
		return rlimit.Cur, nil
	}

	raised := unix.Rlimit{Cur: need, Max: rlimit.Max}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &raised); err != nil {
		return rlimit.Cur, err
	}
	return need, nil
}

// checkMemory compares the scan phase's chunk buffers with available memory
func (h *Checker) checkMemory() CheckResult {
	available, err := memAvailable(h.cfg.MemInfoPath)
	if err != nil {
		return result("memory", StatusHealthy, "memory check not available on this platform")
	}

	inFlight := uint64(h.cfg.ChunkSize) * uint64(max(h.cfg.Workers, 1))
	if inFlight > available {
		return result("memory", StatusWarning, fmt.Sprintf("%d workers with %s chunks may hold %s, only %s available",
			h.cfg.Workers, humanize.IBytes(uint64(h.cfg.ChunkSize)), humanize.IBytes(inFlight), humanize.IBytes(available)))
	}
	return result("memory", StatusHealthy, fmt.Sprintf("chunk buffers need up to %s of %s available",
		humanize.IBytes(inFlight), humanize.IBytes(available)))
}

// memAvailable reads MemAvailable from a meminfo file, in bytes
func memAvailable(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := bytes.Fields(scanner.Bytes())
		if len(fields) < 2 || string(fields[0]) != "MemAvailable:" {
			continue
		}
		kb, err := strconv.ParseUint(string(fields[1]), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse MemAvailable: %w", err)
		}
		return kb << 10, nil
	}
	return 0, fmt.Errorf("MemAvailable not found in %s", path)
}

func result(name string, status Status, message string) CheckResult {
	return CheckResult{Name: name, Status: status, Message: message, Timestamp: time.Now()}
}

// GetChecks returns a copy of the latest results
func (h *Checker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}
