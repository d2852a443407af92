// Package compression provides wire-level payload compression for transfers.
package compression

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/pierrec/lz4/v4"
)

var (
	ErrInvalidInput     = errors.New("invalid input data")
	ErrCompressFailed   = errors.New("compression failed")
	ErrDecompressFailed = errors.New("decompression failed")
)

// headerSize is magic(4) + original_size(4) + checksum(4).
const headerSize = 12

// LZ4Compressor handles network-level compression of transfer payloads.
type LZ4Compressor struct {
	level int
}

// NewLZ4Compressor creates a new LZ4 compressor.
func NewLZ4Compressor(level int) *LZ4Compressor {
	if level < 1 {
		level = 1
	}
	if level > 12 {
		level = 12
	}
	return &LZ4Compressor{level: level}
}

// Compress compresses data using LZ4 block mode.
func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidInput
	}

	// Header: [magic(4)] [original_size(4)] [checksum(4)]
	var buf bytes.Buffer
	buf.Write([]byte("LZ4C"))
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(data))

	compressed := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompressFailed, err)
	}

	buf.Write(compressed[:n])
	return buf.Bytes(), nil
}

// Decompress decompresses LZ4 data and verifies the checksum.
func (c *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, ErrInvalidInput
	}

	magic := string(data[:4])
	if magic != "LZ4C" {
		return nil, fmt.Errorf("%w: invalid magic", ErrDecompressFailed)
	}

	originalSize := binary.LittleEndian.Uint32(data[4:8])
	expectedChecksum := binary.LittleEndian.Uint32(data[8:12])

	result := make([]byte, originalSize)
	n, err := lz4.UncompressBlock(data[headerSize:], result)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}

	actualChecksum := crc32.ChecksumIEEE(result[:n])
	if actualChecksum != expectedChecksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrDecompressFailed)
	}

	return result[:n], nil
}

// OriginalSize returns the original size from the header.
func (c *LZ4Compressor) OriginalSize(compressed []byte) (int, error) {
	if len(compressed) < headerSize {
		return 0, ErrInvalidInput
	}
	return int(binary.LittleEndian.Uint32(compressed[4:8])), nil
}

// CompressionRatio returns the compression ratio achieved.
func (c *LZ4Compressor) CompressionRatio(original, compressed []byte) float32 {
	if len(compressed) == 0 {
		return 0
	}
	return float32(len(original)) / float32(len(compressed))
}
