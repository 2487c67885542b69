// Package pool provides reusable block buffers using sync.Pool.
package pool

import (
	"sync"

	"github.com/geosample/geosample/internal/model"
)

// DefaultBlockSize is the default number of cells per block buffer
// (a 512x512 tile).
const DefaultBlockSize = 512 * 512

// BlockBuffer wraps a class-value slice for pooled reuse.
type BlockBuffer struct {
	Values []model.ClassID
}

// Reset clears the buffer for reuse.
func (b *BlockBuffer) Reset() {
	b.Values = b.Values[:0]
}

// Grow resizes the buffer to exactly n cells, reallocating only when the
// capacity is too small.
func (b *BlockBuffer) Grow(n int) {
	if cap(b.Values) < n {
		b.Values = make([]model.ClassID, n)
		return
	}
	b.Values = b.Values[:n]
}

// Len returns the number of cells in the buffer.
func (b *BlockBuffer) Len() int {
	return len(b.Values)
}

// BlockPool manages reusable block buffers.
type BlockPool struct {
	pool sync.Pool
	size int
}

// NewBlockPool creates a pool whose fresh buffers hold size cells.
func NewBlockPool(size int) *BlockPool {
	if size <= 0 {
		size = DefaultBlockSize
	}
	bp := &BlockPool{size: size}
	bp.pool.New = func() any {
		return &BlockBuffer{
			Values: make([]model.ClassID, 0, size),
		}
	}
	return bp
}

// Get retrieves a buffer sized to n cells.
func (p *BlockPool) Get(n int) *BlockBuffer {
	buf := p.pool.Get().(*BlockBuffer)
	buf.Grow(n)
	return buf
}

// Put returns a buffer to the pool.
func (p *BlockPool) Put(buf *BlockBuffer) {
	buf.Reset()
	p.pool.Put(buf)
}
