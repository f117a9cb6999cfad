package service

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/devrev/tokensort/internal/config"
	"github.com/devrev/tokensort/internal/errors"
	"github.com/devrev/tokensort/internal/health"
	"github.com/devrev/tokensort/internal/metrics"
	"github.com/devrev/tokensort/internal/model"
	"github.com/devrev/tokensort/internal/router"
	"github.com/devrev/tokensort/internal/scanner"
	"github.com/devrev/tokensort/internal/storage/partition"
	"github.com/devrev/tokensort/internal/storage/workdir"
	"github.com/devrev/tokensort/internal/util"
	"github.com/devrev/tokensort/internal/validation"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PhaseListener is notified when the pipeline enters a phase
type PhaseListener interface {
	SetPhase(phase string)
}

// PreflightListener is implemented by phase listeners that also want the
// preflight results
type PreflightListener interface {
	SetPreflight(checks map[string]health.CheckResult)
}

// PipelineService is the orchestration layer of a run: scan, seal, compact,
// merge and clean up, with a barrier between each phase
type PipelineService struct {
	config    *config.PipelineConfig
	validator *validation.Validator
	metrics   *metrics.Metrics
	listener  PhaseListener
	logger    *zap.Logger
	runID     string
}

// NewPipelineService creates a pipeline for one run. m may be nil, in which
// case a private registry is used.
func NewPipelineService(cfg *config.PipelineConfig, m *metrics.Metrics, logger *zap.Logger) *PipelineService {
	runID := uuid.NewString()
	if m == nil {
		m = metrics.NewMetrics(runID)
	}
	return &PipelineService{
		config:    cfg,
		validator: validation.NewValidator(),
		metrics:   m,
		logger:    logger.With(zap.String("run_id", runID)),
		runID:     runID,
	}
}

// SetPhaseListener sets the listener notified on phase changes
func (s *PipelineService) SetPhaseListener(l PhaseListener) {
	s.listener = l
}

// RunID returns the identifier of this run
func (s *PipelineService) RunID() string {
	return s.runID
}

// Run executes the whole pipeline. Structural problems (bad options, missing
// input directory, uncreatable output) fail before any work starts. Chunks
// that cannot be read are reported in Report.SkippedUnits.
func (s *PipelineService) Run(ctx context.Context) (*model.Report, error) {
	report := &model.Report{
		RunID:          s.runID,
		OutputPath:     s.config.OutputPath,
		PhaseDurations: make(map[string]time.Duration),
		StartedAt:      time.Now(),
	}
	cfg := s.config
	workDirPath := cfg.ResolveWorkDir()

	// Step 1: Validate options
	if err := s.validator.ValidateOptions(validation.Options{
		InputDir:   cfg.InputDir,
		OutputPath: cfg.OutputPath,
		WorkDir:    workDirPath,
		Partitions: cfg.Partitions,
		ChunkSize:  int64(cfg.ChunkSize),
	}); err != nil {
		s.logger.Error("Invalid pipeline options", zap.Error(err))
		return nil, err
	}

	// Step 2: List inputs
	files, skipped, err := scanner.ListInputs(cfg.InputDir)
	if err != nil {
		s.logger.Error("Failed to list input directory", zap.String("input_dir", cfg.InputDir), zap.Error(err))
		return nil, err
	}
	report.InputFiles = len(files)
	report.SkippedUnits = append(report.SkippedUnits, skipped...)
	for _, f := range files {
		report.InputBytes += f.Size
	}

	// Step 3: Create the output
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0755); err != nil {
		return nil, errors.IOError("create output directory", filepath.Dir(cfg.OutputPath), err)
	}
	out, err := os.Create(cfg.OutputPath)
	if err != nil {
		return nil, errors.IOError("create output", cfg.OutputPath, err)
	}
	succeeded := false
	defer func() {
		if !succeeded {
			out.Close()
			os.Remove(cfg.OutputPath)
		}
	}()

	// Step 4: Prepare this run's work directory and the partition stores
	wd, err := workdir.New(workDirPath, s.runID, s.logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if !succeeded {
			wd.Cleanup(cfg.Partitions)
		}
	}()
	wd.SweepStale()

	need := health.FilesNeeded(cfg.Partitions, cfg.Workers)
	if limit, err := health.RaiseFileLimit(need); err != nil {
		s.logger.Warn("Failed to raise open file limit", zap.Uint64("need", need), zap.Error(err))
	} else {
		s.logger.Debug("Open file limit", zap.Uint64("soft_limit", limit), zap.Uint64("need", need))
	}
	preflight := health.NewChecker(&health.Config{
		WorkDir:       wd,
		RequiredBytes: validation.EstimateWorkspaceSize(report.InputBytes),
		Partitions:    cfg.Partitions,
		Workers:       cfg.Workers,
		ChunkSize:     int64(cfg.ChunkSize),
	}, s.logger)
	err = preflight.Run()
	if l, ok := s.listener.(PreflightListener); ok {
		l.SetPreflight(preflight.GetChecks())
	}
	if err != nil {
		return nil, err
	}
	if usage, err := wd.DiskUsage(); err == nil {
		s.metrics.WorkDirAvailableBytes.Set(float64(usage.AvailableBytes))
	}

	store, err := partition.Open(&partition.Config{
		Dir:        wd.Dir(),
		Partitions: cfg.Partitions,
		BufferSize: int(cfg.WriteBufferSize),
	}, s.logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if !succeeded {
			store.Seal()
		}
	}()

	s.logger.Info("Pipeline started",
		zap.String("input_dir", cfg.InputDir),
		zap.String("output_path", cfg.OutputPath),
		zap.String("work_dir", wd.Dir()),
		zap.Int("files", len(files)),
		zap.String("input_size", humanize.IBytes(uint64(report.InputBytes))),
		zap.Int("partitions", cfg.Partitions),
		zap.String("chunk_size", cfg.ChunkSize.String()))

	// Step 5: Scan, tokenize and route
	s.enterPhase(model.PhaseScan)
	phaseStart := time.Now()
	rt := router.New(cfg.Partitions, store, int(cfg.BatchSize))
	scan := NewScanService(&ScanConfig{ChunkSize: int64(cfg.ChunkSize), Workers: cfg.Workers}, rt, s.metrics, s.logger)
	scanStats, err := scan.Scan(ctx, files)
	if err != nil {
		return nil, err
	}
	report.Chunks = scanStats.Chunks
	report.TokensProcessed = scanStats.Tokens
	report.SkippedUnits = append(report.SkippedUnits, scanStats.Skipped...)

	// Step 6: Barrier, no appends after this point
	if err := store.Seal(); err != nil {
		return nil, err
	}
	s.recordStoreStats(report, store)
	s.endPhase(report, model.PhaseScan, phaseStart)

	// Step 7: Compact partitions
	s.enterPhase(model.PhaseCompact)
	phaseStart = time.Now()
	compaction := NewCompactionService(&CompactionConfig{
		Workers:         cfg.CompactionWorkers,
		WriteBufferSize: int(cfg.WriteBufferSize),
	}, wd, s.metrics, s.logger)
	partStats, err := compaction.CompactAll(ctx, cfg.Partitions)
	if err != nil {
		s.logger.Error("Compaction failed", zap.Error(err))
		return nil, err
	}
	report.PartitionsCompacted = len(partStats)
	s.endPhase(report, model.PhaseCompact, phaseStart)

	// Step 8: Merge into the output
	s.enterPhase(model.PhaseMerge)
	phaseStart = time.Now()
	sum := util.NewChecksumWriter(out)
	bw := bufio.NewWriterSize(sum, int(cfg.WriteBufferSize))
	merge := NewMergeService(&MergeConfig{ReadBufferSize: int(cfg.WriteBufferSize)}, s.metrics, s.logger)
	mergeStats, err := merge.Merge(ctx, wd.TablePaths(cfg.Partitions), bw)
	if err != nil {
		s.logger.Error("Merge failed", zap.Error(err))
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, errors.IOError("flush output", cfg.OutputPath, err)
	}
	if err := out.Sync(); err != nil {
		return nil, errors.IOError("sync output", cfg.OutputPath, err)
	}
	if err := out.Close(); err != nil {
		return nil, errors.IOError("close output", cfg.OutputPath, err)
	}
	if err := util.VerifyFile(cfg.OutputPath, sum.Sum32(), sum.Count()); err != nil {
		s.logger.Error("Output verification failed", zap.String("output_path", cfg.OutputPath), zap.Error(err))
		return nil, errors.IOError("verify output", cfg.OutputPath, err)
	}
	succeeded = true
	report.DistinctTokens = mergeStats.Emitted
	report.OutputBytes = sum.Count()
	report.OutputChecksum = sum.Sum32()
	s.endPhase(report, model.PhaseMerge, phaseStart)

	// Step 9: Clean up once the output is durable
	s.enterPhase(model.PhaseCleanup)
	phaseStart = time.Now()
	report.CleanupFailures = wd.Cleanup(cfg.Partitions)
	s.metrics.CleanupFailuresTotal.Add(float64(report.CleanupFailures))
	s.endPhase(report, model.PhaseCleanup, phaseStart)

	report.Duration = time.Since(report.StartedAt)
	s.enterPhase("done")

	if n := report.SkippedCount(); n > 0 {
		s.logger.Warn("Some input units were skipped",
			zap.Int("skipped_units", n))
	}
	s.logger.Info("Pipeline completed",
		zap.Int64("tokens_processed", report.TokensProcessed),
		zap.Int64("distinct_tokens", report.DistinctTokens),
		zap.Int("skipped_units", report.SkippedCount()),
		zap.String("output_size", humanize.IBytes(uint64(report.OutputBytes))),
		zap.Uint32("output_crc32", report.OutputChecksum),
		zap.Int("cleanup_failures", report.CleanupFailures),
		zap.Duration("duration", report.Duration))

	return report, nil
}

// recordStoreStats reports the sealed partition store sizes. Compaction holds
// the largest one in memory.
func (s *PipelineService) recordStoreStats(report *model.Report, store *partition.Store) {
	report.IntermediateBytes = store.TotalBytes()
	for _, seg := range store.Stats() {
		report.LargestPartition = max(report.LargestPartition, seg.Bytes)
		s.metrics.PartitionStoreSize.Observe(float64(seg.Bytes))
	}

	mean := report.IntermediateBytes / int64(store.Partitions())
	s.logger.Info("Partition stores sealed",
		zap.String("total", humanize.IBytes(uint64(report.IntermediateBytes))),
		zap.String("largest", humanize.IBytes(uint64(report.LargestPartition))),
		zap.String("mean", humanize.IBytes(uint64(mean))))
}

// Metrics returns the metrics of this run
func (s *PipelineService) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *PipelineService) enterPhase(phase string) {
	if s.listener != nil {
		s.listener.SetPhase(phase)
	}
}

func (s *PipelineService) endPhase(report *model.Report, phase string, start time.Time) {
	d := time.Since(start)
	report.PhaseDurations[phase] = d
	s.metrics.ObservePhase(phase, d)
	s.logger.Info("Phase completed", zap.String("phase", phase), zap.Duration("duration", d))
}
