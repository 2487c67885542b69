package writer

import (
	"encoding/binary"
	"math"
)

const (
	wkbLittleEndian = 1
	wkbPoint        = 1
	wkbPointSize    = 1 + 4 + 8 + 8
)

// appendWKBPoint appends a little-endian WKB point.
func appendWKBPoint(dst []byte, x, y float64) []byte {
	dst = append(dst, wkbLittleEndian)
	dst = binary.LittleEndian.AppendUint32(dst, wkbPoint)
	dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(x))
	dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(y))
	return dst
}
