package unityfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"
)

// Compression is the block compression scheme stored in the low flag bits
type Compression uint16

const (
	CompressionNone  Compression = 0
	CompressionLZMA  Compression = 1
	CompressionLZ4   Compression = 2
	CompressionLZ4HC Compression = 3
)

// String returns the string representation of the compression scheme
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZMA:
		return "lzma"
	case CompressionLZ4:
		return "lz4"
	case CompressionLZ4HC:
		return "lz4hc"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(c))
	}
}

// lzmaPropsSize is the properties prefix Unity keeps in front of LZMA data:
// one lc/lp/pb byte and a little-endian dictionary size
const lzmaPropsSize = 5

func decompress(src []byte, c Compression, size int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(src) < size {
			return nil, fmt.Errorf("stored block of %d bytes, want %d: %w", len(src), size, ErrTruncated)
		}
		return src[:size], nil

	case CompressionLZ4, CompressionLZ4HC:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, fmt.Errorf("failed to decode lz4 block: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("lz4 block decoded to %d bytes, want %d: %w", n, size, ErrTruncated)
		}
		return dst, nil

	case CompressionLZMA:
		return decompressLZMA(src, size)

	default:
		return nil, fmt.Errorf("compression %s: %w", c, ErrUnsupported)
	}
}

// decompressLZMA rebuilds the classic 13 byte LZMA header (props, dictionary
// size, uncompressed size) that the lzma reader expects.
func decompressLZMA(src []byte, size int) ([]byte, error) {
	if len(src) < lzmaPropsSize {
		return nil, fmt.Errorf("lzma block of %d bytes: %w", len(src), ErrTruncated)
	}
	header := make([]byte, lzmaPropsSize+8)
	copy(header, src[:lzmaPropsSize])
	binary.LittleEndian.PutUint64(header[lzmaPropsSize:], uint64(size))

	r, err := lzma.NewReader(io.MultiReader(bytes.NewReader(header), bytes.NewReader(src[lzmaPropsSize:])))
	if err != nil {
		return nil, fmt.Errorf("failed to open lzma stream: %w", err)
	}
	dst := make([]byte, size)
	if _, err := io.ReadFull(r, dst); err != nil {
		return nil, fmt.Errorf("failed to decode lzma block: %w", unexpectedEOF(err))
	}
	return dst, nil
}

// Compress encodes src the way a bundle block of scheme c is stored. LZ4
// output that would not shrink the data is reported with ok false so callers
// can store the block plain.
func Compress(src []byte, c Compression) (out []byte, ok bool, err error) {
	switch c {
	case CompressionNone:
		return src, true, nil

	case CompressionLZ4, CompressionLZ4HC:
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		var n int
		if c == CompressionLZ4HC {
			n, err = lz4.CompressBlockHC(src, dst, lz4.Level9, nil, nil)
		} else {
			n, err = lz4.CompressBlock(src, dst, nil)
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to encode lz4 block: %w", err)
		}
		if n == 0 || n >= len(src) {
			return nil, false, nil
		}
		return dst[:n], true, nil

	case CompressionLZMA:
		var buf bytes.Buffer
		w, err := lzma.WriterConfig{Size: int64(len(src)), SizeInHeader: true}.NewWriter(&buf)
		if err != nil {
			return nil, false, fmt.Errorf("failed to open lzma writer: %w", err)
		}
		if _, err := w.Write(src); err != nil {
			return nil, false, fmt.Errorf("failed to encode lzma block: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, false, fmt.Errorf("failed to finish lzma block: %w", err)
		}
		// drop the 8 byte size field, Unity keeps only props and dict size
		enc := buf.Bytes()
		out := append(append([]byte(nil), enc[:lzmaPropsSize]...), enc[lzmaPropsSize+8:]...)
		return out, true, nil

	default:
		return nil, false, fmt.Errorf("compression %s: %w", c, ErrUnsupported)
	}
}
