package raster

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
)

// TIFF and GeoTIFF tags read from the first IFD.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagPhotometric         = 262
	tagRowsPerStrip        = 278
	tagTileWidth           = 322
	tagTileLength          = 323
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoASCIIParams      = 34737
)

// PhotometricInterpretation values.
const photometricWhiteIsZero = 0

// GeoKey IDs.
const (
	keyGTRasterType    = 1025
	keyGTCitation      = 1026
	keyGeographicType  = 2048
	keyGeogCitation    = 2049
	keyProjectedCSType = 3072
	keyPCSCitation     = 3073

	rasterPixelIsPoint = 2
	userDefined        = 32767
)

// TIFF field types.
const (
	typeByte   = 1
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

var typeSize = map[uint16]uint32{
	typeByte:   1,
	typeASCII:  1,
	typeShort:  2,
	typeLong:   4,
	typeDouble: 8,
}

type ifdEntry struct {
	typ   uint16
	count uint32
	raw   [4]byte
}

// ifd is the first image file directory of a classic (non-Big) TIFF.
type ifd struct {
	r       io.ReaderAt
	order   binary.ByteOrder
	entries map[uint16]ifdEntry
}

func readIFD(r io.ReaderAt) (*ifd, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("read tiff header: %w", err)
	}

	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a tiff file")
	}
	switch magic := order.Uint16(hdr[2:4]); magic {
	case 42:
	case 43:
		return nil, fmt.Errorf("bigtiff is not supported")
	default:
		return nil, fmt.Errorf("bad tiff magic %d", magic)
	}

	off := int64(order.Uint32(hdr[4:8]))
	var nbuf [2]byte
	if _, err := r.ReadAt(nbuf[:], off); err != nil {
		return nil, fmt.Errorf("read ifd: %w", err)
	}
	n := int(order.Uint16(nbuf[:]))

	buf := make([]byte, 12*n)
	if _, err := r.ReadAt(buf, off+2); err != nil {
		return nil, fmt.Errorf("read ifd entries: %w", err)
	}

	d := &ifd{r: r, order: order, entries: make(map[uint16]ifdEntry, n)}
	for i := 0; i < n; i++ {
		e := buf[12*i : 12*i+12]
		var entry ifdEntry
		entry.typ = order.Uint16(e[2:4])
		entry.count = order.Uint32(e[4:8])
		copy(entry.raw[:], e[8:12])
		d.entries[order.Uint16(e[0:2])] = entry
	}
	return d, nil
}

// data returns the bytes of a tag's value, following the offset when the
// value does not fit inline.
func (d *ifd) data(tag uint16) (ifdEntry, []byte, bool, error) {
	e, ok := d.entries[tag]
	if !ok {
		return e, nil, false, nil
	}
	size, known := typeSize[e.typ]
	if !known {
		return e, nil, true, fmt.Errorf("tag %d: unsupported field type %d", tag, e.typ)
	}
	n := size * e.count
	if n <= 4 {
		return e, e.raw[:n], true, nil
	}
	buf := make([]byte, n)
	if _, err := d.r.ReadAt(buf, int64(d.order.Uint32(e.raw[:]))); err != nil {
		return e, nil, true, fmt.Errorf("tag %d: %w", tag, err)
	}
	return e, buf, true, nil
}

func (d *ifd) uints(tag uint16) ([]uint32, bool, error) {
	e, buf, ok, err := d.data(tag)
	if !ok || err != nil {
		return nil, ok, err
	}
	out := make([]uint32, e.count)
	for i := range out {
		switch e.typ {
		case typeByte:
			out[i] = uint32(buf[i])
		case typeShort:
			out[i] = uint32(d.order.Uint16(buf[2*i:]))
		case typeLong:
			out[i] = d.order.Uint32(buf[4*i:])
		default:
			return nil, true, fmt.Errorf("tag %d: type %d is not an integer", tag, e.typ)
		}
	}
	return out, true, nil
}

func (d *ifd) scalar(tag uint16) (uint32, bool, error) {
	vs, ok, err := d.uints(tag)
	if !ok || err != nil || len(vs) == 0 {
		return 0, ok && len(vs) > 0, err
	}
	return vs[0], true, nil
}

func (d *ifd) doubles(tag uint16) ([]float64, bool, error) {
	e, buf, ok, err := d.data(tag)
	if !ok || err != nil {
		return nil, ok, err
	}
	if e.typ != typeDouble {
		return nil, true, fmt.Errorf("tag %d: type %d is not double", tag, e.typ)
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(d.order.Uint64(buf[8*i:]))
	}
	return out, true, nil
}

func (d *ifd) ascii(tag uint16) (string, bool, error) {
	e, buf, ok, err := d.data(tag)
	if !ok || err != nil {
		return "", ok, err
	}
	if e.typ != typeASCII {
		return "", true, fmt.Errorf("tag %d: type %d is not ascii", tag, e.typ)
	}
	return string(buf), true, nil
}

// geoKeys holds the decoded GeoKeyDirectory. Short-valued keys land in
// shorts, ASCII-valued keys in strings.
type geoKeys struct {
	shorts  map[uint16]uint16
	strings map[uint16]string
}

func (d *ifd) geoKeys() (*geoKeys, bool, error) {
	dir, ok, err := d.uints(tagGeoKeyDirectory)
	if !ok || err != nil {
		return nil, ok, err
	}
	if len(dir) < 4 {
		return nil, true, fmt.Errorf("geokey directory too short")
	}
	asciiParams, _, err := d.ascii(tagGeoASCIIParams)
	if err != nil {
		return nil, true, err
	}

	keys := &geoKeys{shorts: make(map[uint16]uint16), strings: make(map[uint16]string)}
	n := int(dir[3])
	for i := 0; i < n; i++ {
		base := 4 + 4*i
		if base+4 > len(dir) {
			return nil, true, fmt.Errorf("geokey directory truncated at key %d", i)
		}
		id, loc, count, val := uint16(dir[base]), dir[base+1], dir[base+2], dir[base+3]
		switch loc {
		case 0:
			keys.shorts[id] = uint16(val)
		case tagGeoASCIIParams:
			end := int(val + count)
			if int(val) <= len(asciiParams) && end <= len(asciiParams) {
				keys.strings[id] = strings.TrimRight(asciiParams[val:end], "|\x00")
			}
		case tagGeoDoubleParams:
			// Double-valued keys carry projection parameters we do not need.
		}
	}
	return keys, true, nil
}

// crs resolves the CRS from the GeoKeys, preferring a projected system.
func (k *geoKeys) crs() (code int, citation string, ok bool) {
	citation = k.strings[keyPCSCitation]
	if citation == "" {
		citation = k.strings[keyGTCitation]
	}
	if citation == "" {
		citation = k.strings[keyGeogCitation]
	}

	if pcs, found := k.shorts[keyProjectedCSType]; found && pcs > 0 {
		if pcs == userDefined {
			return 0, citation, true
		}
		return int(pcs), citation, true
	}
	if gcs, found := k.shorts[keyGeographicType]; found && gcs > 0 {
		if gcs == userDefined {
			return 0, citation, true
		}
		return int(gcs), citation, true
	}
	return 0, "", false
}
