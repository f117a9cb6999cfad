package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/devrev/tokensort/internal/validation"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ByteSize is a size in bytes that accepts humanized YAML values such as
// "256MiB" or "64KB" as well as plain integers.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	size, err := ParseByteSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*b = size
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return humanize.IBytes(uint64(b)), nil
}

// String returns the humanized size
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// ParseByteSize parses "256MiB", "1 GB", "4096" and friends
func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// PipelineConfig holds the parameters the engine receives at start
type PipelineConfig struct {
	InputDir          string   `yaml:"input_dir"`
	OutputPath        string   `yaml:"output_path"`
	WorkDir           string   `yaml:"work_dir"`
	Partitions        int      `yaml:"partitions"`
	ChunkSize         ByteSize `yaml:"chunk_size"`
	Workers           int      `yaml:"workers"`
	CompactionWorkers int      `yaml:"compaction_workers"`
	WriteBufferSize   ByteSize `yaml:"write_buffer_size"`
	BatchSize         ByteSize `yaml:"batch_size"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Port        int    `yaml:"port"`
	Path        string `yaml:"path"`
	PushGateway string `yaml:"push_gateway"`
	Job         string `yaml:"job"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration of a run
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Default returns a configuration with every default applied. Paths are left
// for the caller to fill in.
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if not specified
	setDefaults(&cfg)

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Pipeline.Partitions == 0 {
		cfg.Pipeline.Partitions = 328
	}
	if cfg.Pipeline.ChunkSize == 0 {
		cfg.Pipeline.ChunkSize = 256 << 20 // 256MiB
	}
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Pipeline.CompactionWorkers <= 0 {
		cfg.Pipeline.CompactionWorkers = cfg.Pipeline.Workers
	}
	if cfg.Pipeline.WriteBufferSize == 0 {
		cfg.Pipeline.WriteBufferSize = 64 << 10
	}
	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = 16 << 10
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9100
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Job == "" {
		cfg.Metrics.Job = "tokensort"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// ResolveWorkDir returns the configured work directory, or a hidden
// directory next to the output file.
func (c *PipelineConfig) ResolveWorkDir() string {
	if c.WorkDir != "" {
		return c.WorkDir
	}
	return filepath.Join(filepath.Dir(c.OutputPath), ".tokensort")
}

// ResolveWorkDir returns the work directory of the pipeline section
func (c *Config) ResolveWorkDir() string {
	return c.Pipeline.ResolveWorkDir()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	err := validation.NewValidator().ValidateOptions(validation.Options{
		InputDir:   c.Pipeline.InputDir,
		OutputPath: c.Pipeline.OutputPath,
		WorkDir:    c.ResolveWorkDir(),
		Partitions: c.Pipeline.Partitions,
		ChunkSize:  int64(c.Pipeline.ChunkSize),
	})
	if err != nil {
		return err
	}

	if c.Pipeline.WriteBufferSize < 0 || c.Pipeline.BatchSize < 0 {
		return fmt.Errorf("pipeline buffer sizes must not be negative")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
