package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geosample/geosample/internal/model"
)

func sampleResult(id string) *model.PartitionResult {
	return &model.PartitionResult{
		PartitionID:      id,
		Source:           "/data/" + id,
		CRS:              &model.CRS{EPSG: 32633},
		PerClassCapacity: 2,
		Samples: map[model.ClassID][]model.SamplePoint{
			10: {{X: 500000.5, Y: 4649999.5, Class: 10}, {X: 500010.5, Y: 4649989.5, Class: 10}},
			80: {{X: 500001.5, Y: 4649998.5, Class: 80}},
		},
		Counts:      map[model.ClassID]int64{10: 17, 80: 1, 95: 0},
		ExtractedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(string(c), func(t *testing.T) {
			codec, err := NewCodec(c)
			require.NoError(t, err)

			in := sampleResult("tile_001.tif")
			data, err := codec.Encode(in)
			require.NoError(t, err)
			assert.Equal(t, "GSR", string(data[:3]))

			out, err := codec.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, in.PartitionID, out.PartitionID)
			assert.Equal(t, in.CRS, out.CRS)
			assert.Equal(t, in.Samples, out.Samples)
			assert.Equal(t, in.Counts, out.Counts)
			assert.True(t, in.ExtractedAt.Equal(out.ExtractedAt))
		})
	}
}

func TestCodecDecodesAnyCompression(t *testing.T) {
	lz, err := NewCodec(CompressionLZ4)
	require.NoError(t, err)
	zs, err := NewCodec(CompressionZstd)
	require.NoError(t, err)

	data, err := lz.Encode(sampleResult("a"))
	require.NoError(t, err)

	out, err := zs.Decode(data)
	require.NoError(t, err)
	assert.EqualValues(t, 17, out.Counts[10])
}

func TestCodecRejectsGarbage(t *testing.T) {
	codec, err := NewCodec(CompressionNone)
	require.NoError(t, err)

	_, err = codec.Decode([]byte("nope"))
	assert.Error(t, err)

	_, err = codec.Decode([]byte{'G', 'S', 'R', 9, 0})
	assert.Error(t, err)

	_, err = codec.Decode([]byte{'G', 'S', 'R', 1, 7, '{'})
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)

	c, err = ParseCompression("lz4")
	require.NoError(t, err)
	assert.Equal(t, CompressionLZ4, c)

	_, err = ParseCompression("gzip")
	assert.Error(t, err)

	_, err = NewCodec("gzip")
	assert.Error(t, err)
}
