package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/tokensort/internal/health"
	"github.com/devrev/tokensort/internal/metrics"
	"github.com/devrev/tokensort/internal/storage/workdir"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsServer serves a run's Prometheus metrics and its progress over HTTP
type MetricsServer struct {
	httpServer *http.Server
	metrics    *metrics.Metrics
	diskPath   string
	logger     *zap.Logger
	phase      atomic.Value
	mu         sync.RWMutex
	preflight  map[string]health.CheckResult
	startedAt  time.Time
	stopChan   chan struct{}
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Port int
	Path string
}

// NewMetricsServer creates a new metrics server. diskPath is the work
// directory whose filesystem is sampled; empty disables sampling.
func NewMetricsServer(cfg *MetricsServerConfig, m *metrics.Metrics, diskPath string, logger *zap.Logger) *MetricsServer {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()

	ms := &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		metrics:   m,
		diskPath:  diskPath,
		logger:    logger,
		startedAt: time.Now(),
		stopChan:  make(chan struct{}),
	}
	ms.phase.Store("starting")

	mux.Handle(path, promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", ms.healthHandler)

	return ms
}

// Handler returns the HTTP handler, mainly for tests
func (s *MetricsServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// SetPhase records the pipeline phase reported by /health
func (s *MetricsServer) SetPhase(phase string) {
	s.phase.Store(phase)
}

// SetPreflight records the preflight results reported by /health
func (s *MetricsServer) SetPreflight(checks map[string]health.CheckResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preflight = checks
}

// Start binds the listener and serves in the background
func (s *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("metrics server listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("Starting metrics server", zap.String("addr", ln.Addr().String()))

	go s.collectSystemMetrics()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the metrics server
func (s *MetricsServer) Stop() error {
	s.logger.Info("Stopping metrics server")

	close(s.stopChan)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	return nil
}

type healthResponse struct {
	Status     string                   `json:"status"`
	Phase      string                   `json:"phase"`
	Uptime     string                   `json:"uptime"`
	Goroutines int                      `json:"goroutines"`
	DiskUsage  float64                  `json:"disk_usage_percent,omitempty"`
	Preflight  map[string]checkResponse `json:"preflight,omitempty"`
	Timestamp  string                   `json:"timestamp"`
}

type checkResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// healthHandler reports liveness and the current phase
func (s *MetricsServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "healthy",
		Phase:      s.phase.Load().(string),
		Uptime:     time.Since(s.startedAt).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now().Format(time.RFC3339),
	}
	if s.diskPath != "" {
		if usage, err := workdir.DiskUsageOf(s.diskPath); err == nil {
			resp.DiskUsage = usage.UsagePercent
		}
	}

	s.mu.RLock()
	for name, c := range s.preflight {
		if resp.Preflight == nil {
			resp.Preflight = make(map[string]checkResponse, len(s.preflight))
		}
		resp.Preflight[name] = checkResponse{Status: string(c.Status), Message: c.Message}
		if c.Status != health.StatusHealthy && resp.Status == "healthy" {
			resp.Status = "degraded"
		}
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug("Failed to write health response", zap.Error(err))
	}
}

// collectSystemMetrics periodically samples free space of the work directory
func (s *MetricsServer) collectSystemMetrics() {
	if s.diskPath == "" {
		return
	}
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	s.updateSystemMetrics()
	for {
		select {
		case <-ticker.C:
			s.updateSystemMetrics()
		case <-s.stopChan:
			return
		}
	}
}

func (s *MetricsServer) updateSystemMetrics() {
	// The work directory only exists while a run is in progress
	usage, err := workdir.DiskUsageOf(s.diskPath)
	if err != nil {
		s.logger.Debug("Failed to get disk stats", zap.Error(err))
		return
	}
	s.metrics.WorkDirAvailableBytes.Set(float64(usage.AvailableBytes))
}
