// Package wordgen produces synthetic corpora of random alphabetic words for
// benchmarks and tests.
package wordgen

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
)

const (
	WordMin = 6
	WordMax = 8

	letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// Word returns one random word of WordMin to WordMax mixed-case letters
func Word(rng *rand.Rand) []byte {
	return appendWord(nil, rng)
}

func appendWord(dst []byte, rng *rand.Rand) []byte {
	n := WordMin + rng.IntN(WordMax-WordMin+1)
	for i := 0; i < n; i++ {
		dst = append(dst, letters[rng.IntN(len(letters))])
	}
	return dst
}

// Generate writes space-separated random words to w until at least size
// bytes were written, and returns the byte count
func Generate(w io.Writer, size int64, rng *rand.Rand) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64
	word := make([]byte, 0, WordMax+1)
	for written < size {
		word = append(appendWord(word[:0], rng), ' ')
		n, err := bw.Write(word)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, bw.Flush()
}

// NewRand returns a deterministic generator for seed
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// CreateFile creates the first output_<n>.txt in dir with n >= next that does
// not exist yet and returns it with n. Existing files are never truncated.
func CreateFile(dir string, next int) (*os.File, int, error) {
	for n := next; ; n++ {
		path := filepath.Join(dir, fmt.Sprintf("output_%d.txt", n))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, n, err
		}
		return f, n, nil
	}
}
