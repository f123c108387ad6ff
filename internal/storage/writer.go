package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// MagicHeader opens every framed payload.
var MagicHeader = []byte("MESHTEL1")

// frameHeaderSize is magic + compression tag + raw length.
const frameHeaderSize = 8 + 1 + 4

// Compression identifies the algorithm used for a frame payload. The values
// are written to disk and must not change.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
	CompressionLZ4  Compression = 2
)

// String returns the configuration name of the compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "zstd", "":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// Framer wraps serialized payloads in the on-disk frame
//
//	[MagicHeader 8][compression 1][raw length uint32 LE][payload]
//
// Pack is deterministic for a given input and compression. A Framer is safe
// for concurrent use.
type Framer struct {
	compression Compression
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

// NewFramer creates a Framer that compresses with c. Frames of any
// compression can be unpacked regardless of c.
func NewFramer(c Compression) (*Framer, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &Framer{compression: c, encoder: enc, decoder: dec}, nil
}

// Compression returns the algorithm used by Pack.
func (f *Framer) Compression() Compression {
	return f.compression
}

// Pack compresses raw and prepends the frame header.
func (f *Framer) Pack(raw []byte) ([]byte, error) {
	if uint64(len(raw)) > math.MaxUint32 {
		return nil, fmt.Errorf("payload of %d bytes exceeds frame limit", len(raw))
	}

	tag := f.compression
	var payload []byte
	switch tag {
	case CompressionZstd:
		payload = f.encoder.EncodeAll(raw, make([]byte, 0, len(raw)))
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			// Incompressible input.
			tag = CompressionNone
			payload = raw
		} else {
			payload = buf[:n]
		}
	case CompressionNone:
		payload = raw
	default:
		return nil, fmt.Errorf("unsupported compression %s", tag)
	}

	out := make([]byte, frameHeaderSize, frameHeaderSize+len(payload))
	copy(out, MagicHeader)
	out[8] = byte(tag)
	binary.LittleEndian.PutUint32(out[9:13], uint32(len(raw)))
	return append(out, payload...), nil
}
