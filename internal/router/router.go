// Package router maps tokens to partitions and stages them for the
// partition append stores.
package router

import (
	"github.com/zeebo/xxh3"
)

// DefaultBatchSize is the staged byte count per partition that triggers a
// forward to the store
const DefaultBatchSize = 16 << 10

// Appender receives newline-terminated token data for one partition
type Appender interface {
	Append(partition int, data []byte) error
}

// Router assigns every token to one of P partitions. The seedless xxh3 hash
// keeps the assignment identical across runs and processes.
type Router struct {
	partitions int
	store      Appender
	batchSize  int
}

// New creates a router over store. batchSize <= 0 selects DefaultBatchSize.
func New(partitions int, store Appender, batchSize int) *Router {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Router{partitions: partitions, store: store, batchSize: batchSize}
}

// Partitions returns P
func (r *Router) Partitions() int {
	return r.partitions
}

// Route returns the partition index of token
func (r *Router) Route(token []byte) int {
	return int(xxh3.Hash(token) % uint64(r.partitions))
}

// Batch stages tokens per partition for one worker. It is not safe for
// concurrent use.
type Batch struct {
	router    *Router
	pending   [][]byte
	staged    []int64 // tokens held in pending, per partition
	tokens    int64
	forwarded int64
}

// NewBatch creates an empty batch
func (r *Router) NewBatch() *Batch {
	return &Batch{
		router:  r,
		pending: make([][]byte, r.partitions),
		staged:  make([]int64, r.partitions),
	}
}

// Add stages token as one line of its partition. Once a partition's staged
// bytes reach the batch size they are forwarded in a single append.
func (b *Batch) Add(token []byte) error {
	p := b.router.Route(token)
	buf := append(append(b.pending[p], token...), '\n')
	b.pending[p] = buf
	b.staged[p]++
	b.tokens++

	if len(buf) >= b.router.batchSize {
		return b.forward(p)
	}
	return nil
}

// Flush forwards every staged partition. It stops at the first failure.
func (b *Batch) Flush() error {
	for p := range b.pending {
		if len(b.pending[p]) == 0 {
			continue
		}
		if err := b.forward(p); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops staged data without forwarding it
func (b *Batch) Reset() {
	for p := range b.pending {
		b.pending[p] = b.pending[p][:0]
		b.staged[p] = 0
	}
	b.tokens = 0
	b.forwarded = 0
}

// Tokens returns how many tokens were added since the batch was created or
// reset
func (b *Batch) Tokens() int64 {
	return b.tokens
}

// Forwarded returns how many of those tokens the store accepted. It lags
// Tokens while tokens are staged and stays behind it when an append failed.
func (b *Batch) Forwarded() int64 {
	return b.forwarded
}

func (b *Batch) forward(p int) error {
	err := b.router.store.Append(p, b.pending[p])
	if err == nil {
		b.forwarded += b.staged[p]
	}
	b.pending[p] = b.pending[p][:0]
	b.staged[p] = 0
	return err
}
