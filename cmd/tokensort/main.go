package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/tokensort/internal/config"
	"github.com/devrev/tokensort/internal/server"
	"github.com/devrev/tokensort/internal/service"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file (default $CONFIG_PATH)")
	inputDir := flag.String("input", "", "directory of input text files")
	outputPath := flag.String("output", "", "path of the sorted output file")
	workDir := flag.String("work-dir", "", "directory for intermediate partition files")
	partitions := flag.Int("partitions", 0, "number of partitions")
	chunkSize := flag.String("chunk-size", "", "nominal chunk size, e.g. 256MiB")
	workers := flag.Int("workers", 0, "scan and compaction workers")
	enableMetrics := flag.Bool("metrics", false, "serve Prometheus metrics during the run")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	flag.Parse()

	// Load configuration
	if *configPath == "" {
		*configPath = os.Getenv("CONFIG_PATH")
	}
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	// Flags given explicitly override the file
	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.Pipeline.InputDir = *inputDir
		case "output":
			cfg.Pipeline.OutputPath = *outputPath
		case "work-dir":
			cfg.Pipeline.WorkDir = *workDir
		case "partitions":
			cfg.Pipeline.Partitions = *partitions
		case "chunk-size":
			size, err := config.ParseByteSize(*chunkSize)
			if err != nil {
				flagErr = fmt.Errorf("invalid -chunk-size: %w", err)
			}
			cfg.Pipeline.ChunkSize = size
		case "workers":
			cfg.Pipeline.Workers = *workers
			cfg.Pipeline.CompactionWorkers = *workers
		case "metrics":
			cfg.Metrics.Enabled = *enableMetrics
		case "log-level":
			cfg.Logging.Level = *logLevel
		}
	})
	if flagErr != nil {
		fmt.Fprintln(os.Stderr, flagErr)
		return 1
	}
	if cfg.Pipeline.InputDir == "" {
		cfg.Pipeline.InputDir = "./test_cases"
	}
	if cfg.Pipeline.OutputPath == "" {
		cfg.Pipeline.OutputPath = "./unique_words_sorted.txt"
	}

	// Initialize logger
	logger, err := initLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		return 1
	}

	logger.Info("Configuration loaded",
		zap.String("config_path", *configPath),
		zap.String("input_dir", cfg.Pipeline.InputDir),
		zap.String("output_path", cfg.Pipeline.OutputPath),
		zap.Int("partitions", cfg.Pipeline.Partitions),
		zap.String("chunk_size", cfg.Pipeline.ChunkSize.String()),
		zap.Int("workers", cfg.Pipeline.Workers))

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline := service.NewPipelineService(&cfg.Pipeline, nil, logger)

	if cfg.Metrics.Enabled {
		metricsServer := server.NewMetricsServer(&server.MetricsServerConfig{
			Port: cfg.Metrics.Port,
			Path: cfg.Metrics.Path,
		}, pipeline.Metrics(), cfg.ResolveWorkDir(), logger)
		if err := metricsServer.Start(); err != nil {
			logger.Error("Failed to start metrics server", zap.Error(err))
			return 1
		}
		defer metricsServer.Stop()
		pipeline.SetPhaseListener(metricsServer)
	}

	report, err := pipeline.Run(ctx)

	if cfg.Metrics.PushGateway != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pipeline.Metrics().Push(pushCtx, cfg.Metrics.PushGateway, cfg.Metrics.Job); err != nil {
			logger.Warn("Failed to push metrics", zap.String("gateway", cfg.Metrics.PushGateway), zap.Error(err))
		}
		cancel()
	}

	if err != nil {
		logger.Error("Pipeline failed", zap.String("run_id", pipeline.RunID()), zap.Error(err))
		return 1
	}

	logger.Info("Run summary",
		zap.String("run_id", report.RunID),
		zap.String("output_path", report.OutputPath),
		zap.Int("input_files", report.InputFiles),
		zap.Int64("tokens_processed", report.TokensProcessed),
		zap.Int64("distinct_tokens", report.DistinctTokens),
		zap.Int64("largest_partition_bytes", report.LargestPartition),
		zap.Int("skipped_units", report.SkippedCount()),
		zap.Duration("duration", report.Duration))
	for _, u := range report.SkippedUnits {
		logger.Warn("Skipped input unit",
			zap.String("path", u.Path),
			zap.Int("chunk", u.ChunkIndex),
			zap.Int64("tokens_routed", u.TokensRouted),
			zap.String("reason", u.Reason))
	}
	return 0
}

// initLogger builds a production logger with the configured level and
// encoding
func initLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	if cfg.Format == "console" {
		zcfg.Encoding = "console"
	}
	return zcfg.Build()
}
