package router

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	parts     map[int]*bytes.Buffer
	appends   int
	fail      error
	failAfter int // appends accepted before fail applies, when fail is set
}

func newMemStore() *memStore {
	return &memStore{parts: make(map[int]*bytes.Buffer)}
}

func (m *memStore) Append(p int, data []byte) error {
	if m.fail != nil && m.appends >= m.failAfter {
		return m.fail
	}
	if m.parts[p] == nil {
		m.parts[p] = &bytes.Buffer{}
	}
	m.parts[p].Write(data)
	m.appends++
	return nil
}

func TestRoute_Deterministic(t *testing.T) {
	for _, p := range []int{1, 2, 7, 64, 512} {
		a := New(p, nil, 0)
		b := New(p, nil, 0)
		for i := 0; i < 1000; i++ {
			tok := []byte(fmt.Sprintf("token-%d", i))
			got := a.Route(tok)
			assert.Equal(t, got, b.Route(tok))
			assert.GreaterOrEqual(t, got, 0)
			assert.Less(t, got, p)
		}
	}
}

func TestRoute_Stable(t *testing.T) {
	r := New(328, nil, 0)
	assert.Equal(t, r.Route([]byte("apple")), New(328, nil, 0).Route([]byte("apple")))
	assert.Equal(t, 0, New(1, nil, 0).Route([]byte("anything")))
}

func TestRoute_Spreads(t *testing.T) {
	r := New(16, nil, 0)
	seen := make(map[int]bool)
	for i := 0; i < 2000; i++ {
		seen[r.Route([]byte(fmt.Sprintf("w%d", i)))] = true
	}
	assert.Len(t, seen, 16)
}

func TestBatch_FlushesEveryToken(t *testing.T) {
	store := newMemStore()
	r := New(8, store, 32)
	batch := r.NewBatch()

	want := make(map[int][]string)
	for i := 0; i < 500; i++ {
		tok := []byte(fmt.Sprintf("tok%03d", i))
		want[r.Route(tok)] = append(want[r.Route(tok)], string(tok))
		require.NoError(t, batch.Add(tok))
	}
	require.NoError(t, batch.Flush())
	assert.Equal(t, int64(500), batch.Tokens())
	assert.Equal(t, int64(500), batch.Forwarded())

	for p, toks := range want {
		var expected bytes.Buffer
		for _, tok := range toks {
			expected.WriteString(tok + "\n")
		}
		require.NotNil(t, store.parts[p])
		assert.Equal(t, expected.String(), store.parts[p].String(), "partition %d", p)
	}

	// Staging amortizes appends
	assert.Less(t, store.appends, 500)
}

func TestBatch_FlushEmpty(t *testing.T) {
	store := newMemStore()
	batch := New(4, store, 0).NewBatch()
	require.NoError(t, batch.Flush())
	assert.Zero(t, store.appends)
}

func TestBatch_AppendError(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("disk full")
	batch := New(1, store, 4).NewBatch()

	assert.NoError(t, batch.Add([]byte("a")))
	assert.Error(t, batch.Add([]byte("bcd")))

	require.NoError(t, batch.Add([]byte("x")))
	assert.Error(t, batch.Flush())
}

func TestBatch_Reset(t *testing.T) {
	store := newMemStore()
	batch := New(2, store, 0).NewBatch()
	require.NoError(t, batch.Add([]byte("dropped")))
	batch.Reset()
	require.NoError(t, batch.Flush())
	assert.Zero(t, store.appends)
	assert.Zero(t, batch.Tokens())
}

func TestBatch_ForwardedCountsAcceptedTokens(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("disk full")
	store.failAfter = 1
	// One partition and a 4 byte threshold: "ab\ncd\n" goes out in one append
	batch := New(1, store, 4).NewBatch()

	require.NoError(t, batch.Add([]byte("ab")))
	assert.Zero(t, batch.Forwarded())
	require.NoError(t, batch.Add([]byte("cd")))
	assert.Equal(t, int64(2), batch.Forwarded())

	require.NoError(t, batch.Add([]byte("e")))
	assert.Error(t, batch.Add([]byte("f")))
	assert.Equal(t, int64(4), batch.Tokens())
	assert.Equal(t, int64(2), batch.Forwarded())
	assert.Equal(t, "ab\ncd\n", store.parts[0].String())

	batch.Reset()
	assert.Zero(t, batch.Forwarded())
}
