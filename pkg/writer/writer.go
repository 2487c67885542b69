// Package writer persists final sample sets as vector datasets.
package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/geosample/geosample/internal/model"
	gserrors "github.com/geosample/geosample/pkg/errors"
)

// Writer writes one final sample set to a file.
type Writer interface {
	// Write creates the dataset at path. path does not exist or is an
	// empty file.
	Write(ctx context.Context, path string, set *model.FinalSampleSet) error
}

// Format is an output dataset format.
type Format string

const (
	FormatGeoPackage Format = "gpkg"
	FormatGeoParquet Format = "parquet"
)

// ParseFormat parses a format name. Empty means GeoPackage.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "gpkg", "geopackage":
		return FormatGeoPackage, nil
	case "parquet", "geoparquet":
		return FormatGeoParquet, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string {
	return string(f)
}

// New returns the writer for a format.
func New(f Format) (Writer, error) {
	switch f {
	case FormatGeoPackage:
		return NewGeoPackageWriter(), nil
	case FormatGeoParquet:
		return NewGeoParquetWriter(DefaultParquetConfig()), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", f)
	}
}

// FileName returns the dataset file name for a class.
func FileName(class model.ClassID, f Format) string {
	return fmt.Sprintf("FINAL_SAMPLES_CLASS_%d.%s", class, f.Ext())
}

// LayerName returns the layer (table) name for a class.
func LayerName(class model.ClassID) string {
	return fmt.Sprintf("samples_class_%d", class)
}

// WriteSet writes set into dir and returns the dataset path. The dataset
// appears under its final name only once it is complete. An empty set is
// not written.
func WriteSet(ctx context.Context, dir string, f Format, set *model.FinalSampleSet) (string, error) {
	if set.Empty() {
		return "", gserrors.New(gserrors.CodeEmptyResult, "class has no pixels, nothing to write").
			WithContext("class", set.Class)
	}
	w, err := New(f)
	if err != nil {
		return "", gserrors.Wrap(err, gserrors.CodeInvalidConfig, "select output format")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", gserrors.Wrap(err, gserrors.CodeWriteFailed, "create output directory")
	}

	final := filepath.Join(dir, FileName(set.Class, f))
	tmp, err := os.CreateTemp(dir, "."+FileName(set.Class, f)+".tmp*")
	if err != nil {
		return "", gserrors.Wrap(err, gserrors.CodeWriteFailed, "create temp file")
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := w.Write(ctx, tmpPath, set); err != nil {
		os.Remove(tmpPath)
		return "", gserrors.Wrap(err, gserrors.CodeWriteFailed, "write dataset").
			WithContext("path", final)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return "", gserrors.Wrap(err, gserrors.CodeWriteFailed, "rename dataset").
			WithContext("path", final)
	}
	return final, nil
}

// bounds returns the extent of the points as minX, minY, maxX, maxY.
func bounds(pts []model.SamplePoint) [4]float64 {
	if len(pts) == 0 {
		return [4]float64{}
	}
	b := [4]float64{pts[0].X, pts[0].Y, pts[0].X, pts[0].Y}
	for _, p := range pts[1:] {
		b[0] = min(b[0], p.X)
		b[1] = min(b[1], p.Y)
		b[2] = max(b[2], p.X)
		b[3] = max(b[3], p.Y)
	}
	return b
}
