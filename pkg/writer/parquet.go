package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/geosample/geosample/internal/model"
)

// ParquetConfig holds GeoParquet writer options.
type ParquetConfig struct {
	// Compression is one of none, snappy, gzip, zstd, lz4.
	Compression string

	// BatchSize is the number of points per record batch.
	BatchSize int
}

// DefaultParquetConfig returns zstd compression and 64k-row batches.
func DefaultParquetConfig() ParquetConfig {
	return ParquetConfig{Compression: "zstd", BatchSize: 64 * 1024}
}

func parquetCodec(name string) compress.Compression {
	switch name {
	case "snappy":
		return compress.Codecs.Snappy
	case "gzip":
		return compress.Codecs.Gzip
	case "zstd":
		return compress.Codecs.Zstd
	case "lz4":
		return compress.Codecs.Lz4
	default:
		return compress.Codecs.Uncompressed
	}
}

// GeoParquetWriter writes GeoParquet 1.0 files with a WKB point column.
type GeoParquetWriter struct {
	cfg ParquetConfig
}

// NewGeoParquetWriter creates a GeoParquet writer.
func NewGeoParquetWriter(cfg ParquetConfig) *GeoParquetWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultParquetConfig().BatchSize
	}
	return &GeoParquetWriter{cfg: cfg}
}

type geoColumn struct {
	Encoding      string          `json:"encoding"`
	GeometryTypes []string        `json:"geometry_types"`
	CRS           json.RawMessage `json:"crs,omitempty"`
	BBox          []float64       `json:"bbox,omitempty"`
}

type geoMetadata struct {
	Version       string               `json:"version"`
	PrimaryColumn string               `json:"primary_column"`
	Columns       map[string]geoColumn `json:"columns"`
}

// projJSON returns a PROJJSON identifier for crs. Nil means unknown, which
// GeoParquet expresses as JSON null.
func projJSON(crs *model.CRS) json.RawMessage {
	switch {
	case crs == nil:
		return json.RawMessage("null")
	case crs.EPSG > 0:
		return json.RawMessage(fmt.Sprintf(`{"id":{"authority":"EPSG","code":%d}}`, crs.EPSG))
	default:
		name, _ := json.Marshal(crs.String())
		return json.RawMessage(fmt.Sprintf(`{"type":"EngineeringCRS","name":%s}`, name))
	}
}

func samplesSchema(set *model.FinalSampleSet) (*arrow.Schema, error) {
	b := bounds(set.Samples)
	geo, err := json.Marshal(geoMetadata{
		Version:       "1.0.0",
		PrimaryColumn: "geometry",
		Columns: map[string]geoColumn{
			"geometry": {
				Encoding:      "WKB",
				GeometryTypes: []string{"Point"},
				CRS:           projJSON(set.CRS),
				BBox:          b[:],
			},
		},
	})
	if err != nil {
		return nil, err
	}
	md := arrow.NewMetadata([]string{"geo"}, []string{string(geo)})
	return arrow.NewSchema([]arrow.Field{
		{Name: "geometry", Type: arrow.BinaryTypes.Binary, Nullable: false},
		{Name: "class_id", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "class_name", Type: arrow.BinaryTypes.String, Nullable: true},
	}, &md), nil
}

// Write implements Writer.
func (w *GeoParquetWriter) Write(ctx context.Context, path string, set *model.FinalSampleSet) error {
	schema, err := samplesSchema(set)
	if err != nil {
		return fmt.Errorf("failed to build geo metadata: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(parquetCodec(w.cfg.Compression)),
		parquet.WithDictionaryDefault(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	pw, err := pqarrow.NewFileWriter(schema, f, writerProps, arrowProps)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	alloc := memory.NewGoAllocator()
	geomBuilder := array.NewBinaryBuilder(alloc, arrow.BinaryTypes.Binary)
	classBuilder := array.NewInt32Builder(alloc)
	nameBuilder := array.NewStringBuilder(alloc)
	defer geomBuilder.Release()
	defer classBuilder.Release()
	defer nameBuilder.Release()

	flush := func(rows int) error {
		geomArray := geomBuilder.NewArray()
		classArray := classBuilder.NewArray()
		nameArray := nameBuilder.NewArray()
		defer geomArray.Release()
		defer classArray.Release()
		defer nameArray.Release()

		batch := array.NewRecord(schema, []arrow.Array{geomArray, classArray, nameArray}, int64(rows))
		defer batch.Release()
		if err := pw.Write(batch); err != nil {
			return fmt.Errorf("failed to write record batch: %w", err)
		}
		return nil
	}

	wkb := make([]byte, 0, wkbPointSize)
	rows := 0
	for _, pt := range set.Samples {
		if err := ctx.Err(); err != nil {
			pw.Close()
			return err
		}
		wkb = appendWKBPoint(wkb[:0], pt.X, pt.Y)
		geomBuilder.Append(wkb)
		classBuilder.Append(int32(pt.Class))
		if set.ClassName != "" {
			nameBuilder.Append(set.ClassName)
		} else {
			nameBuilder.AppendNull()
		}
		rows++
		if rows == w.cfg.BatchSize {
			if err := flush(rows); err != nil {
				pw.Close()
				return err
			}
			rows = 0
		}
	}
	if rows > 0 {
		if err := flush(rows); err != nil {
			pw.Close()
			return err
		}
	}

	if err := pw.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}
