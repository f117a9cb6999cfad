package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/devrev/tokensort/internal/metrics"
	"github.com/devrev/tokensort/internal/model"
	"github.com/devrev/tokensort/internal/router"
	"github.com/devrev/tokensort/internal/scanner"
	"github.com/devrev/tokensort/internal/tokenizer"
	"github.com/devrev/tokensort/internal/util/workerpool"
	"go.uber.org/zap"
)

// ScanService reads every chunk of the corpus, tokenizes it and routes the
// tokens into the partition stores
type ScanService struct {
	config  *ScanConfig
	router  *router.Router
	metrics *metrics.Metrics
	logger  *zap.Logger
	states  sync.Pool
}

// ScanConfig holds scan configuration
type ScanConfig struct {
	ChunkSize int64
	Workers   int
}

// scanState is the per-worker scratch space: one chunk buffer, one tokenizer
// and one batch
type scanState struct {
	buf   []byte
	tok   *tokenizer.Tokenizer
	batch *router.Batch
}

// NewScanService creates a new scan service. m may be nil.
func NewScanService(cfg *ScanConfig, r *router.Router, m *metrics.Metrics, logger *zap.Logger) *ScanService {
	s := &ScanService{
		config:  cfg,
		router:  r,
		metrics: m,
		logger:  logger,
	}
	s.states.New = func() any {
		return &scanState{tok: tokenizer.New(), batch: r.NewBatch()}
	}
	return s
}

// Scan processes every chunk of files on a bounded pool. A chunk that fails
// is recorded as a skipped unit and the run goes on; only cancellation
// returns an error.
func (s *ScanService) Scan(ctx context.Context, files []model.InputFile) (model.ScanStats, error) {
	var chunks []model.Chunk
	for _, f := range files {
		chunks = append(chunks, scanner.PlanChunks(f, s.config.ChunkSize)...)
	}
	stats := model.ScanStats{Chunks: len(chunks)}

	s.logger.Info("Scanning input",
		zap.Int("files", len(files)),
		zap.Int("chunks", len(chunks)),
		zap.Int64("chunk_size", s.config.ChunkSize),
		zap.Int("workers", s.config.Workers))

	// Each task writes only its own slot
	var bytesRead int64
	routed := make([]int64, len(chunks))
	tasks := make([]workerpool.Task, len(chunks))
	for i, c := range chunks {
		tasks[i] = workerpool.Task{
			ID: fmt.Sprintf("%s#%d", c.File.Path, c.Index),
			Fn: func(ctx context.Context) error {
				n, read, err := s.scanChunk(ctx, c)
				routed[i] = n
				atomic.AddInt64(&bytesRead, read)
				return err
			},
		}
	}

	pool := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "scan",
		MaxWorkers: s.config.Workers,
		Logger:     s.logger,
	})
	failures, err := pool.Run(ctx, tasks)
	pool.LogStats()
	if err != nil {
		return stats, err
	}

	for _, f := range failures {
		c := chunks[f.Index]
		stats.Skipped = append(stats.Skipped, model.SkippedUnit{
			Path:         c.File.Path,
			ChunkIndex:   c.Index,
			Reason:       f.Err.Error(),
			TokensRouted: routed[f.Index],
		})
	}
	stats.Scanned = len(chunks) - len(failures)
	for _, n := range routed {
		stats.Tokens += n
	}
	stats.Bytes = bytesRead

	if s.metrics != nil {
		s.metrics.ChunksScannedTotal.Add(float64(stats.Scanned))
		s.metrics.ChunksSkippedTotal.Add(float64(len(stats.Skipped)))
		s.metrics.TokensRoutedTotal.Add(float64(stats.Tokens))
		s.metrics.InputBytesTotal.Add(float64(stats.Bytes))
	}

	return stats, nil
}

// scanChunk reads one chunk, routes its tokens and flushes the batch. It
// returns the tokens the store accepted, also when it fails part way, and
// the bytes read.
func (s *ScanService) scanChunk(ctx context.Context, c model.Chunk) (int64, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	st := s.states.Get().(*scanState)
	defer s.states.Put(st)
	defer st.batch.Reset()

	file, err := scanner.OpenChunk(c)
	if err != nil {
		return 0, 0, err
	}
	st.buf, err = scanner.ReadChunk(file, c, st.buf)
	file.Close()
	if err != nil {
		return 0, 0, err
	}
	read := int64(len(st.buf))

	for token := range st.tok.Tokens(st.buf) {
		if err := st.batch.Add(token); err != nil {
			return st.batch.Forwarded(), read, err
		}
	}
	if err := st.batch.Flush(); err != nil {
		return st.batch.Forwarded(), read, err
	}
	return st.batch.Forwarded(), read, nil
}
