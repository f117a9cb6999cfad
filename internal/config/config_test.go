package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadConfig(t *testing.T) {
	p := writeConfig(t, `
pipeline:
  input_dir: /data/in
  output_path: /data/out/sorted.txt
  partitions: 64
  chunk_size: 8MiB
  batch_size: 4096
metrics:
  enabled: true
  push_gateway: http://pushgateway:9091
logging:
  level: debug
  format: console
`)

	cfg, err := LoadConfig(p)
	require.NoError(t, err)

	assert.Equal(t, "/data/in", cfg.Pipeline.InputDir)
	assert.Equal(t, 64, cfg.Pipeline.Partitions)
	assert.Equal(t, ByteSize(8<<20), cfg.Pipeline.ChunkSize)
	assert.Equal(t, ByteSize(4096), cfg.Pipeline.BatchSize)
	assert.Equal(t, ByteSize(64<<10), cfg.Pipeline.WriteBufferSize)
	assert.Equal(t, "http://pushgateway:9091", cfg.Metrics.PushGateway)
	assert.Equal(t, "tokensort", cfg.Metrics.Job)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/data/out/.tokensort", cfg.ResolveWorkDir())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	p := writeConfig(t, "pipeline:\n  chunk_size: lots\n")
	_, err = LoadConfig(p)
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 328, cfg.Pipeline.Partitions)
	assert.Equal(t, ByteSize(256<<20), cfg.Pipeline.ChunkSize)
	assert.Equal(t, runtime.GOMAXPROCS(0), cfg.Pipeline.Workers)
	assert.Equal(t, cfg.Pipeline.Workers, cfg.Pipeline.CompactionWorkers)
	assert.Equal(t, "json", cfg.Logging.Format)

	// No paths yet
	assert.Error(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"explicit work dir", func(c *Config) { c.Pipeline.WorkDir = "/scratch/tokensort" }, false},
		{"negative partitions", func(c *Config) { c.Pipeline.Partitions = -1 }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad metrics port", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Port = 70000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Pipeline.InputDir = "/data/in"
			cfg.Pipeline.OutputPath = "/data/out/sorted.txt"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"4096", 4096},
		{"1KiB", 1024},
		{"1 KB", 1000},
		{"256MiB", 256 << 20},
		{"1GiB", 1 << 30},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseByteSize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseByteSize("many")
	assert.Error(t, err)
	assert.Equal(t, "256 MiB", ByteSize(256<<20).String())
}
