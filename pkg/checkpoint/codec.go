package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/geosample/geosample/internal/model"
)

// Compression selects how partition records are compressed.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ParseCompression validates a compression name. Empty means zstd.
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case "":
		return CompressionZstd, nil
	case CompressionNone, CompressionZstd, CompressionLZ4:
		return Compression(s), nil
	default:
		return "", fmt.Errorf("unknown compression %q", s)
	}
}

// Record header: "GSR", format version, compression id.
var recordMagic = []byte("GSR")

const recordVersion = 1

var compressionIDs = map[Compression]byte{
	CompressionNone: 0,
	CompressionZstd: 1,
	CompressionLZ4:  2,
}

// Codec serializes partition results as JSON behind a small header that
// names the compression, so records stay readable after the configured
// compression changes. A Codec is safe for concurrent use.
type Codec struct {
	compression Compression

	// zstd state is created on first use.
	encoder func() (*zstd.Encoder, error)
	decoder func() (*zstd.Decoder, error)
}

// NewCodec creates a codec that writes with the given compression.
func NewCodec(c Compression) (*Codec, error) {
	if _, ok := compressionIDs[c]; !ok {
		return nil, fmt.Errorf("unknown compression %q", c)
	}
	return &Codec{
		compression: c,
		encoder: sync.OnceValues(func() (*zstd.Encoder, error) {
			return zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		}),
		decoder: sync.OnceValues(func() (*zstd.Decoder, error) {
			return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		}),
	}, nil
}

// Compression returns the compression used for writes.
func (c *Codec) Compression() Compression {
	return c.compression
}

// Encode serializes a partition result.
func (c *Codec) Encode(r *model.PartitionResult) ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal partition result: %w", err)
	}

	out := make([]byte, 0, len(payload)/2+8)
	out = append(out, recordMagic...)
	out = append(out, recordVersion, compressionIDs[c.compression])

	switch c.compression {
	case CompressionNone:
		out = append(out, payload...)
	case CompressionZstd:
		enc, err := c.encoder()
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		out = enc.EncodeAll(payload, out)
	case CompressionLZ4:
		buf := bytes.NewBuffer(out)
		w := lz4.NewWriter(buf)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		out = buf.Bytes()
	}
	return out, nil
}

// Decode parses a record produced by Encode with any compression.
func (c *Codec) Decode(data []byte) (*model.PartitionResult, error) {
	if len(data) < len(recordMagic)+2 || !bytes.Equal(data[:len(recordMagic)], recordMagic) {
		return nil, fmt.Errorf("not a partition record")
	}
	if v := data[len(recordMagic)]; v != recordVersion {
		return nil, fmt.Errorf("unsupported record version %d", v)
	}
	id := data[len(recordMagic)+1]
	body := data[len(recordMagic)+2:]

	var payload []byte
	switch id {
	case compressionIDs[CompressionNone]:
		payload = body
	case compressionIDs[CompressionZstd]:
		dec, err := c.decoder()
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		payload, err = dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
	case compressionIDs[CompressionLZ4]:
		var err error
		payload, err = io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown compression id %d", id)
	}

	var r model.PartitionResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal partition result: %w", err)
	}
	return &r, nil
}
