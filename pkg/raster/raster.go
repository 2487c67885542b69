// Package raster provides read access to classified raster partitions.
//
// A Partition exposes its CRS, its pixel-to-geographic transform and a
// sequence of disjoint rectangular blocks that cover it exactly once.
package raster

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/geosample/geosample/internal/model"
	gserrors "github.com/geosample/geosample/pkg/errors"
)

// Block is a rectangular window of class values in row-major order.
// Values is only valid for the duration of the EachBlock callback.
type Block struct {
	RowOff int
	ColOff int
	Width  int
	Height int
	Values []model.ClassID
}

// GeoTransform is an affine pixel-to-map transform in GDAL coefficient order:
// originX, pixelWidth, rowRotation, originY, columnRotation, pixelHeight.
type GeoTransform [6]float64

// XY returns the map coordinates of the centre of pixel (row, col).
func (g GeoTransform) XY(row, col int) (x, y float64) {
	c := float64(col) + 0.5
	r := float64(row) + 0.5
	return g[0] + c*g[1] + r*g[2], g[3] + c*g[4] + r*g[5]
}

// Partition is one raster source treated as an independent unit of work.
type Partition interface {
	// ID is the partition's stable identity, its file name.
	ID() string

	// CRS returns the coordinate reference system, or nil when absent.
	CRS() *model.CRS

	// Transform returns the pixel-to-map transform.
	Transform() GeoTransform

	// Size returns the raster dimensions in pixels.
	Size() (width, height int)

	// EachBlock calls fn for every block. Iteration stops at the first
	// error returned by fn or when ctx is done.
	EachBlock(ctx context.Context, fn func(*Block) error) error

	// Close releases the underlying source.
	Close() error
}

// Opener opens partitions by path.
type Opener interface {
	Open(ctx context.Context, path string) (Partition, error)
}

// PartitionID derives the partition identity from its path.
func PartitionID(path string) string {
	return filepath.Base(path)
}

// Discover returns the sorted paths in dir matching pattern. Finding no
// partition is configuration-fatal.
func Discover(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, gserrors.InvalidConfig("input.pattern", pattern, "invalid glob pattern")
	}
	if len(matches) == 0 {
		return nil, gserrors.NoPartitions(dir, pattern)
	}
	sort.Strings(matches)
	return matches, nil
}

// tiles walks a width x height raster in blockW x blockH windows, row-major.
func tiles(width, height, blockW, blockH int, fn func(rowOff, colOff, w, h int) error) error {
	if blockW <= 0 || blockW > width {
		blockW = width
	}
	if blockH <= 0 || blockH > height {
		blockH = height
	}
	for row := 0; row < height; row += blockH {
		h := min(blockH, height-row)
		for col := 0; col < width; col += blockW {
			w := min(blockW, width-col)
			if err := fn(row, col, w, h); err != nil {
				return err
			}
		}
	}
	return nil
}
