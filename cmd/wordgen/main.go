package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/devrev/tokensort/internal/config"
	"github.com/devrev/tokensort/internal/wordgen"
	"go.uber.org/zap"
)

func main() {
	dir := flag.String("dir", "./test_cases", "directory to write files into")
	size := flag.String("size", "100MiB", "bytes per file, e.g. 10MB")
	files := flag.Int("files", 1, "number of files to generate")
	seed := flag.Uint64("seed", 0, "random seed (0 picks one)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	bytesPerFile, err := config.ParseByteSize(*size)
	if err != nil {
		logger.Fatal("Invalid -size", zap.Error(err))
	}
	if *seed == 0 {
		*seed = rand.Uint64()
	}

	if err := os.MkdirAll(*dir, 0755); err != nil {
		logger.Fatal("Failed to create directory", zap.String("dir", *dir), zap.Error(err))
	}

	rng := wordgen.NewRand(*seed)
	next := 0
	for i := 0; i < *files; i++ {
		f, n, err := wordgen.CreateFile(*dir, next)
		if err != nil {
			logger.Fatal("Failed to create file", zap.String("dir", *dir), zap.Error(err))
		}
		next = n + 1
		path := f.Name()
		written, err := wordgen.Generate(f, int64(bytesPerFile), rng)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			logger.Fatal("Failed to write file", zap.String("path", path), zap.Error(err))
		}
		logger.Info("Generated word data",
			zap.String("path", path),
			zap.String("size", config.ByteSize(written).String()),
			zap.Uint64("seed", *seed))
	}
}
