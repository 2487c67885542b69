package raster

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geosample/geosample/internal/model"
	gserrors "github.com/geosample/geosample/pkg/errors"
)

type tiffEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// buildGeoTIFF encodes an uncompressed little-endian 8-bit BlackIsZero
// GeoTIFF with a single strip. A nil geokeys slice omits the
// GeoKeyDirectory.
func buildGeoTIFF(width, height int, pix []byte, scale [3]float64, tie [6]float64, geokeys []uint16) []byte {
	return buildGrayGeoTIFF(width, height, pix, 1, scale, tie, geokeys)
}

func buildGrayGeoTIFF(width, height int, pix []byte, photometric uint16, scale [3]float64, tie [6]float64, geokeys []uint16) []byte {
	le := binary.LittleEndian
	var entries []tiffEntry
	short := func(tag uint16, vs ...uint16) {
		b := make([]byte, 2*len(vs))
		for i, v := range vs {
			le.PutUint16(b[2*i:], v)
		}
		entries = append(entries, tiffEntry{tag, typeShort, uint32(len(vs)), b})
	}
	long := func(tag uint16, v uint32) {
		b := make([]byte, 4)
		le.PutUint32(b, v)
		entries = append(entries, tiffEntry{tag, typeLong, 1, b})
	}
	double := func(tag uint16, vs ...float64) {
		b := make([]byte, 8*len(vs))
		for i, v := range vs {
			le.PutUint64(b[8*i:], math.Float64bits(v))
		}
		entries = append(entries, tiffEntry{tag, typeDouble, uint32(len(vs)), b})
	}

	short(tagImageWidth, uint16(width))
	short(tagImageLength, uint16(height))
	short(258, 8) // BitsPerSample
	short(259, 1) // Compression: none
	short(tagPhotometric, photometric)
	long(273, 0)  // StripOffsets, patched below
	short(277, 1) // SamplesPerPixel
	short(tagRowsPerStrip, uint16(height))
	long(279, uint32(len(pix)))
	double(tagModelPixelScale, scale[:]...)
	double(tagModelTiepoint, tie[:]...)
	if geokeys != nil {
		short(tagGeoKeyDirectory, geokeys...)
	}

	dataOff := 8 + 2 + 12*len(entries) + 4
	var extra bytes.Buffer
	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		if len(e.data) > 4 {
			offsets[i] = uint32(dataOff + extra.Len())
			extra.Write(e.data)
		}
	}
	pixOff := uint32(dataOff + extra.Len())
	for i := range entries {
		if entries[i].tag == 273 {
			le.PutUint32(entries[i].data, pixOff)
		}
	}

	var out bytes.Buffer
	out.WriteString("II")
	binary.Write(&out, le, uint16(42))
	binary.Write(&out, le, uint32(8))
	binary.Write(&out, le, uint16(len(entries)))
	for i, e := range entries {
		binary.Write(&out, le, e.tag)
		binary.Write(&out, le, e.typ)
		binary.Write(&out, le, e.count)
		var val [4]byte
		if len(e.data) > 4 {
			le.PutUint32(val[:], offsets[i])
		} else {
			copy(val[:], e.data)
		}
		out.Write(val[:])
	}
	binary.Write(&out, le, uint32(0))
	out.Write(extra.Bytes())
	out.Write(pix)
	return out.Bytes()
}

var wgs84Keys = []uint16{
	1, 1, 0, 3,
	1024, 0, 1, 2, // GTModelType: geographic
	keyGTRasterType, 0, 1, 1, // PixelIsArea
	keyGeographicType, 0, 1, 4326,
}

func writeTIFF(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tile_N50E010.tif")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestGeoTIFFOpenReadsCRSAndTransform(t *testing.T) {
	pix := []byte{
		10, 10, 20, 0,
		30, 10, 0, 0,
		80, 80, 80, 95,
	}
	path := writeTIFF(t, buildGeoTIFF(4, 3, pix, [3]float64{0.5, 0.25, 0}, [6]float64{0, 0, 0, 100, 50, 0}, wgs84Keys))

	p, err := NewGeoTIFFOpener().Open(context.Background(), path)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, "tile_N50E010.tif", p.ID())
	require.NotNil(t, p.CRS())
	assert.Equal(t, 4326, p.CRS().EPSG)

	w, h := p.Size()
	assert.Equal(t, 4, w)
	assert.Equal(t, 3, h)

	x, y := p.Transform().XY(0, 0)
	assert.InDelta(t, 100.25, x, 1e-12)
	assert.InDelta(t, 49.875, y, 1e-12)

	var got []model.ClassID
	err = p.EachBlock(context.Background(), func(b *Block) error {
		for r := 0; r < b.Height; r++ {
			for c := 0; c < b.Width; c++ {
				got = append(got, b.Values[r*b.Width+c])
			}
		}
		return nil
	})
	require.NoError(t, err)
	want := make([]model.ClassID, len(pix))
	for i, v := range pix {
		want[i] = model.ClassID(v)
	}
	assert.Equal(t, want, got)
}

func TestGeoTIFFWhiteIsZeroKeepsStoredClassValues(t *testing.T) {
	pix := []byte{0, 10, 20, 255}
	path := writeTIFF(t, buildGrayGeoTIFF(2, 2, pix, photometricWhiteIsZero, [3]float64{1, 1, 0}, [6]float64{0, 0, 0, 0, 2, 0}, wgs84Keys))

	p, err := NewGeoTIFFOpener().Open(context.Background(), path)
	require.NoError(t, err)
	defer p.Close()

	var got []model.ClassID
	require.NoError(t, p.EachBlock(context.Background(), func(b *Block) error {
		got = append(got, b.Values[:b.Width*b.Height]...)
		return nil
	}))
	assert.Equal(t, []model.ClassID{0, 10, 20, 255}, got)
}

func TestGeoTIFFWithoutGeoKeysHasNoCRS(t *testing.T) {
	path := writeTIFF(t, buildGeoTIFF(2, 2, []byte{10, 10, 10, 10}, [3]float64{1, 1, 0}, [6]float64{0, 0, 0, 0, 2, 0}, nil))

	p, err := NewGeoTIFFOpener().Open(context.Background(), path)
	require.NoError(t, err)
	defer p.Close()
	assert.Nil(t, p.CRS())
}

func TestGeoTIFFPixelIsPointShiftsOrigin(t *testing.T) {
	keys := []uint16{
		1, 1, 0, 2,
		keyGTRasterType, 0, 1, rasterPixelIsPoint,
		keyProjectedCSType, 0, 1, 32633,
	}
	path := writeTIFF(t, buildGeoTIFF(2, 2, []byte{1, 2, 3, 4}, [3]float64{10, 10, 0}, [6]float64{0, 0, 0, 500000, 6000000, 0}, keys))

	p, err := NewGeoTIFFOpener().Open(context.Background(), path)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 32633, p.CRS().EPSG)
	x, y := p.Transform().XY(0, 0)
	assert.InDelta(t, 500000.0, x, 1e-9)
	assert.InDelta(t, 6000000.0, y, 1e-9)
}

func TestGeoTIFFRejectsNonTIFF(t *testing.T) {
	path := writeTIFF(t, []byte("definitely not a tiff"))
	_, err := NewGeoTIFFOpener().Open(context.Background(), path)
	require.Error(t, err)
	assert.True(t, gserrors.IsCode(err, gserrors.CodeUnsupportedRaster))
}

func TestGeoTIFFMissingFile(t *testing.T) {
	_, err := NewGeoTIFFOpener().Open(context.Background(), filepath.Join(t.TempDir(), "nope.tif"))
	assert.True(t, gserrors.IsCode(err, gserrors.CodeRasterOpen))
}
