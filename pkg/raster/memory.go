package raster

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/geosample/geosample/internal/model"
)

// MemoryPartition is an in-memory raster, used for tests and synthetic runs.
type MemoryPartition struct {
	id        string
	crs       *model.CRS
	transform GeoTransform
	width     int
	height    int
	values    []model.ClassID
	blockW    int
	blockH    int

	// FailAt makes EachBlock fail when it reaches the block with this
	// index. Negative disables it.
	FailAt int

	scans  atomic.Int64
	blocks atomic.Int64
}

// NewMemoryPartition creates a partition over values (row-major,
// width*height cells) read in blockW x blockH blocks.
func NewMemoryPartition(id string, crs *model.CRS, gt GeoTransform, width, height int, values []model.ClassID, blockW, blockH int) *MemoryPartition {
	if len(values) != width*height {
		panic(fmt.Sprintf("raster: %d values for %dx%d partition", len(values), width, height))
	}
	return &MemoryPartition{
		id:        id,
		crs:       crs,
		transform: gt,
		width:     width,
		height:    height,
		values:    values,
		blockW:    blockW,
		blockH:    blockH,
		FailAt:    -1,
	}
}

// Filled creates a width x height partition with every cell set to class.
func Filled(id string, crs *model.CRS, width, height int, class model.ClassID) *MemoryPartition {
	values := make([]model.ClassID, width*height)
	for i := range values {
		values[i] = class
	}
	return NewMemoryPartition(id, crs, GeoTransform{0, 1, 0, float64(height), 0, -1}, width, height, values, 0, 0)
}

func (p *MemoryPartition) ID() string              { return p.id }
func (p *MemoryPartition) CRS() *model.CRS         { return p.crs }
func (p *MemoryPartition) Transform() GeoTransform { return p.transform }
func (p *MemoryPartition) Size() (int, int)        { return p.width, p.height }
func (p *MemoryPartition) Close() error            { return nil }

// Scans returns how many times EachBlock was called.
func (p *MemoryPartition) Scans() int64 { return p.scans.Load() }

// BlocksRead returns how many blocks were handed to callbacks.
func (p *MemoryPartition) BlocksRead() int64 { return p.blocks.Load() }

// EachBlock implements Partition.
func (p *MemoryPartition) EachBlock(ctx context.Context, fn func(*Block) error) error {
	p.scans.Add(1)
	index := 0
	return tiles(p.width, p.height, p.blockW, p.blockH, func(rowOff, colOff, w, h int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if index == p.FailAt {
			return fmt.Errorf("read block %d of %s: injected failure", index, p.id)
		}
		index++

		b := &Block{RowOff: rowOff, ColOff: colOff, Width: w, Height: h, Values: make([]model.ClassID, 0, w*h)}
		for r := 0; r < h; r++ {
			start := (rowOff+r)*p.width + colOff
			b.Values = append(b.Values, p.values[start:start+w]...)
		}
		p.blocks.Add(1)
		return fn(b)
	})
}

// MemoryOpener serves MemoryPartitions by path.
type MemoryOpener struct {
	mu         sync.Mutex
	partitions map[string]*MemoryPartition
	opens      map[string]int
}

// NewMemoryOpener creates an opener with no partitions.
func NewMemoryOpener() *MemoryOpener {
	return &MemoryOpener{
		partitions: make(map[string]*MemoryPartition),
		opens:      make(map[string]int),
	}
}

// Add registers p under path.
func (o *MemoryOpener) Add(path string, p *MemoryPartition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.partitions[path] = p
}

// Opens returns how many times path was opened.
func (o *MemoryOpener) Opens(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens[path]
}

// Open implements Opener.
func (o *MemoryOpener) Open(ctx context.Context, path string) (Partition, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.partitions[path]
	if !ok {
		return nil, fmt.Errorf("open %s: no such partition", path)
	}
	o.opens[path]++
	return p, nil
}
