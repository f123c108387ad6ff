package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

var ErrInvalidHeader = errors.New("invalid frame header")

// Unpack validates the frame header and returns the decompressed payload.
func (f *Framer) Unpack(data []byte) ([]byte, error) {
	if len(data) < frameHeaderSize || !bytes.Equal(data[:8], MagicHeader) {
		return nil, ErrInvalidHeader
	}

	tag := Compression(data[8])
	rawLen := int(binary.LittleEndian.Uint32(data[9:13]))
	payload := data[frameHeaderSize:]

	var raw []byte
	switch tag {
	case CompressionNone:
		raw = payload
	case CompressionZstd:
		out, err := f.decoder.DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		raw = out
	case CompressionLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		raw = out[:n]
	default:
		return nil, fmt.Errorf("%w: unknown compression tag %d", ErrInvalidHeader, tag)
	}

	if len(raw) != rawLen {
		return nil, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrInvalidHeader, len(raw), rawLen)
	}
	return raw, nil
}
