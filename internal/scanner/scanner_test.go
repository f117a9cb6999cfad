package scanner

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devrev/tokensort/internal/errors"
	"github.com/devrev/tokensort/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readAll reads every chunk of data with nominal size c and returns the
// effective pieces in order
func readAll(t *testing.T, data string, c int64) []string {
	t.Helper()
	f := model.InputFile{Path: "mem", Size: int64(len(data))}
	r := strings.NewReader(data)

	var pieces []string
	var buf []byte
	for _, chunk := range PlanChunks(f, c) {
		var err error
		buf, err = ReadChunk(r, chunk, buf)
		require.NoError(t, err)
		pieces = append(pieces, string(buf))
	}
	return pieces
}

func TestPlanChunks(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		chunkSize int64
		want      int
	}{
		{"empty file", 0, 10, 0},
		{"smaller than chunk", 5, 10, 1},
		{"exact multiple", 30, 10, 3},
		{"remainder", 31, 10, 4},
		{"one byte chunks", 7, 1, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := PlanChunks(model.InputFile{Path: "f", Size: tt.size}, tt.chunkSize)
			require.Len(t, chunks, tt.want)
			if tt.want == 0 {
				return
			}
			assert.Equal(t, int64(0), chunks[0].Start)
			assert.Equal(t, tt.size, chunks[len(chunks)-1].End)
			for i := 1; i < len(chunks); i++ {
				assert.Equal(t, chunks[i-1].End, chunks[i].Start)
				assert.Equal(t, i, chunks[i].Index)
			}
		})
	}
}

func TestReadChunk_TilesFile(t *testing.T) {
	inputs := []string{
		"Apple banana APPLE\nBanana apple\n",
		"ab cd",
		"supercalifragilistic short\ttabs\r\nand  double  spaces ",
		"   leading whitespace",
		"nowhitespaceatall",
		"héllo wörld ünïcode ñ",
		"\n\n\n",
	}

	for _, data := range inputs {
		for c := int64(1); c <= int64(len(data))+1; c++ {
			pieces := readAll(t, data, c)
			assert.Equal(t, data, strings.Join(pieces, ""), "chunk size %d", c)
		}
	}
}

func TestReadChunk_StraddlingToken(t *testing.T) {
	// "straddle" spans the nominal boundary at offset 8
	data := "aaaa bbstraddle cccc"
	pieces := readAll(t, data, 8)

	require.Len(t, pieces, 3)
	assert.Equal(t, "aaaa bbstraddle ", pieces[0])
	assert.Equal(t, "cccc", pieces[1])
	assert.Equal(t, "", pieces[2])

	count := 0
	for _, p := range pieces {
		count += strings.Count(p, "bbstraddle")
	}
	assert.Equal(t, 1, count)
}

func TestReadChunk_NoTrailingWhitespace(t *testing.T) {
	pieces := readAll(t, "first second last", 7)

	joined := strings.Join(pieces, "")
	assert.True(t, strings.HasSuffix(joined, "last"))
	assert.Equal(t, 1, strings.Count(joined, "last"))
}

func TestReadChunk_NeverSplitsRunes(t *testing.T) {
	data := "日本語 テキスト 中文 한국어"
	for c := int64(1); c <= int64(len(data)); c++ {
		for _, p := range readAll(t, data, c) {
			assert.True(t, bytes.Equal([]byte(p), bytes.ToValidUTF8([]byte(p), nil)), "chunk size %d split a rune: %q", c, p)
		}
	}
}

func TestReadChunk_ReusesBuffer(t *testing.T) {
	data := "one two three four"
	f := model.InputFile{Path: "mem", Size: int64(len(data))}
	chunks := PlanChunks(f, 4)

	buf := make([]byte, 0, 64)
	out, err := ReadChunk(strings.NewReader(data), chunks[0], buf)
	require.NoError(t, err)
	assert.Equal(t, "one ", string(out))
	assert.Equal(t, &buf[:1][0], &out[:1][0])
}

func TestIsBoundary(t *testing.T) {
	for _, b := range []byte(" \t\n\v\f\r") {
		assert.True(t, IsBoundary(b), "%q", b)
	}
	for _, b := range []byte("a0_-\x00\xa0\xc3") {
		assert.False(t, IsBoundary(b), "%q", b)
	}
}

func TestListInputs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("zebra"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("aardvark zebra"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone.txt"), filepath.Join(dir, "dangling")))

	files, skipped, err := ListInputs(dir)
	require.NoError(t, err)

	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "a.txt"), files[0].Path)
	assert.Equal(t, int64(14), files[0].Size)
	assert.Equal(t, filepath.Join(dir, "b.txt"), files[1].Path)

	require.Len(t, skipped, 1)
	assert.Equal(t, filepath.Join(dir, "dangling"), skipped[0].Path)
	assert.Equal(t, -1, skipped[0].ChunkIndex)
}

func TestListInputs_Errors(t *testing.T) {
	_, _, err := ListInputs(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeDirectory))

	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, _, err = ListInputs(file)
	assert.True(t, errors.Is(err, errors.ErrCodeDirectory))
}

func TestListInputs_Empty(t *testing.T) {
	files, skipped, err := ListInputs(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, skipped)
}

func TestOpenChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha beta gamma"), 0o644))

	f := model.InputFile{Path: path, Size: 16}
	chunks := PlanChunks(f, 8)
	require.Len(t, chunks, 2)

	file, err := OpenChunk(chunks[1])
	require.NoError(t, err)
	defer file.Close()

	got, err := ReadChunk(file, chunks[1], nil)
	require.NoError(t, err)
	assert.Equal(t, "gamma", string(got))

	_, err = OpenChunk(model.Chunk{File: model.InputFile{Path: filepath.Join(t.TempDir(), "nope")}})
	assert.True(t, errors.Is(err, errors.ErrCodeIO))
}
