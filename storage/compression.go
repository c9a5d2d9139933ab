package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// CompressionType represents the compression algorithm used
type CompressionType uint8

const (
	CompressionNone   CompressionType = 0
	CompressionLZ4    CompressionType = 1
	CompressionSnappy CompressionType = 2
)

// CompressionTypeFromString maps a config value to a CompressionType
func CompressionTypeFromString(alg string) (CompressionType, error) {
	switch alg {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "snappy":
		return CompressionSnappy, nil
	default:
		return CompressionNone, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}
}

// Compressed block layout:
// [0-1]:  Magic number (0xC0DE)
// [2]:    Compression type (0=none, 1=LZ4, 2=Snappy)
// [3]:    Reserved
// [4-7]:  Uncompressed size
// [8-11]: Compressed size
// [12-15]: CRC32 of the original payload
// [16+]:  Compressed data
const (
	compressedBlockMagic    = 0xC0DE
	compressedHeaderSize    = 16
	minCompressionThreshold = 64 // Minimum bytes saved to keep the compressed form
)

// CompressBlock compresses a payload with the given algorithm into a
// self-describing framed block. When compression saves less than the
// threshold the payload is stored uncompressed under the same framing.
func CompressBlock(data []byte, compressionType CompressionType) ([]byte, error) {
	checksum := crc32.ChecksumIEEE(data)

	var compressed []byte

	switch compressionType {
	case CompressionNone:
		compressed = data

	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("LZ4 compression failed: %w", err)
		}
		if n == 0 {
			// Incompressible input; lz4 signals this with a zero length
			compressed = data
			compressionType = CompressionNone
		} else {
			compressed = buf[:n]
		}

	case CompressionSnappy:
		compressed = snappy.Encode(nil, data)

	default:
		return nil, fmt.Errorf("unsupported compression type: %d", compressionType)
	}

	if compressionType != CompressionNone {
		savings := len(data) - len(compressed)
		if savings < minCompressionThreshold {
			compressionType = CompressionNone
			compressed = data
		}
	}

	block := make([]byte, compressedHeaderSize+len(compressed))
	binary.LittleEndian.PutUint16(block[0:2], compressedBlockMagic)
	block[2] = byte(compressionType)
	binary.LittleEndian.PutUint32(block[4:8], uint32(len(data)))
	binary.LittleEndian.PutUint32(block[8:12], uint32(len(compressed)))
	binary.LittleEndian.PutUint32(block[12:16], checksum)
	copy(block[compressedHeaderSize:], compressed)

	return block, nil
}

// DecompressBlock reverses CompressBlock, verifying the framing and the
// payload checksum.
func DecompressBlock(block []byte) ([]byte, error) {
	if len(block) < compressedHeaderSize {
		return nil, fmt.Errorf("compressed block too short: %d bytes", len(block))
	}

	if binary.LittleEndian.Uint16(block[0:2]) != compressedBlockMagic {
		return nil, fmt.Errorf("bad compressed block magic")
	}

	compressionType := CompressionType(block[2])
	uncompressedSize := binary.LittleEndian.Uint32(block[4:8])
	compressedSize := binary.LittleEndian.Uint32(block[8:12])
	checksum := binary.LittleEndian.Uint32(block[12:16])

	if int(compressedSize) != len(block)-compressedHeaderSize {
		return nil, fmt.Errorf("compressed size mismatch: header says %d, block carries %d",
			compressedSize, len(block)-compressedHeaderSize)
	}

	payload := block[compressedHeaderSize:]

	var decompressed []byte
	switch compressionType {
	case CompressionNone:
		decompressed = payload

	case CompressionLZ4:
		decompressed = make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(payload, decompressed)
		if err != nil {
			return nil, fmt.Errorf("LZ4 decompression failed: %w", err)
		}
		decompressed = decompressed[:n]

	case CompressionSnappy:
		var err error
		decompressed, err = snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("snappy decompression failed: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported compression type: %d", compressionType)
	}

	if uint32(len(decompressed)) != uncompressedSize {
		return nil, fmt.Errorf("uncompressed size mismatch: expected %d, got %d",
			uncompressedSize, len(decompressed))
	}

	if crc32.ChecksumIEEE(decompressed) != checksum {
		return nil, fmt.Errorf("checksum mismatch after decompression")
	}

	return decompressed, nil
}
