// Package unityfs reads UnityFS asset bundles and the serialized files
// stored inside them.
//
// A bundle is a header, a blocks-info table and a sequence of data blocks.
// The blocks, once decompressed and concatenated, form one data stream; the
// blocks-info table also lists the nodes (named byte ranges) within that
// stream. Node 0 is normally a serialized file holding typed objects and
// node 1 the resource blob (.resS / .resource) their payloads point into.
package unityfs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrTruncated is returned when a structure runs past the end of its data
	ErrTruncated = errors.New("unexpected end of data")

	// ErrUnsupported is returned for signatures, versions or compression
	// schemes this package does not handle
	ErrUnsupported = errors.New("unsupported format")

	// ErrMalformed is returned for structurally inconsistent data
	ErrMalformed = errors.New("malformed data")

	// ErrNoRange is returned when a requested node index does not exist
	ErrNoRange = errors.New("no such range")
)

// Stream is the byte source a bundle is read from
type Stream interface {
	io.Reader
	io.Seeker
	io.ReaderAt
}

const bundleSignature = "UnityFS"

// Header flag bits
const (
	flagCompressionMask   = 0x3f
	flagCombinedInfo      = 0x40
	flagInfoAtEnd         = 0x80
	flagPaddingAtStart    = 0x200
	headerReadSize        = 512
	blocksInfoHashSize    = 16
	maxBlocksInfoSize     = 64 << 20
	maxUncompressedBundle = 4 << 30
)

// Header is the fixed bundle header
type Header struct {
	Signature                  string
	FormatVersion              uint32
	UnityVersion               string
	UnityRevision              string
	Size                       int64
	CompressedBlocksInfoSize   uint32
	UncompressedBlocksInfoSize uint32
	Flags                      uint32
}

// Block is one storage block of the bundle data stream
type Block struct {
	UncompressedSize uint32
	CompressedSize   uint32
	Flags            uint16
}

// Compression returns the compression scheme of the block
func (b Block) Compression() Compression {
	return Compression(b.Flags & flagCompressionMask)
}

// Node is a named range of the decompressed data stream
type Node struct {
	Offset int64
	Size   int64
	Flags  uint32
	Path   string
}

// Bundle is an opened UnityFS bundle
type Bundle struct {
	Header Header
	Blocks []Block
	Nodes  []Node

	src         Stream
	blocksStart int64

	// data is the stream node ranges are resolved against. It is src until
	// Unpack replaces it with the decompressed blocks.
	data Stream
	base int64
}

// Open parses the bundle header and blocks info from r. The blocks
// themselves are not read; call Unpack first when Compressed reports true.
func Open(r Stream) (*Bundle, error) {
	head := make([]byte, headerReadSize)
	n, err := r.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read bundle header: %w", err)
	}
	br := newBinReader(head[:n], binary.BigEndian, "bundle header")

	var h Header
	h.Signature = br.cstring()
	if br.err == nil && h.Signature != bundleSignature {
		return nil, fmt.Errorf("bundle signature %q: %w", h.Signature, ErrUnsupported)
	}
	h.FormatVersion = br.u32()
	h.UnityVersion = br.cstring()
	h.UnityRevision = br.cstring()
	h.Size = br.i64()
	h.CompressedBlocksInfoSize = br.u32()
	h.UncompressedBlocksInfoSize = br.u32()
	h.Flags = br.u32()
	if br.err != nil {
		return nil, br.err
	}
	if h.FormatVersion < 6 {
		return nil, fmt.Errorf("bundle format version %d: %w", h.FormatVersion, ErrUnsupported)
	}
	if h.UncompressedBlocksInfoSize > maxBlocksInfoSize || h.CompressedBlocksInfoSize > maxBlocksInfoSize {
		return nil, fmt.Errorf("blocks info of %d bytes: %w", h.UncompressedBlocksInfoSize, ErrUnsupported)
	}

	pos := int64(br.pos)
	if h.FormatVersion >= 7 {
		pos = alignUp(pos, 16)
	}

	var infoOffset, blocksStart int64
	if h.Flags&flagInfoAtEnd != 0 {
		infoOffset = h.Size - int64(h.CompressedBlocksInfoSize)
		blocksStart = pos
	} else {
		infoOffset = pos
		blocksStart = pos + int64(h.CompressedBlocksInfoSize)
	}
	if h.Flags&flagPaddingAtStart != 0 {
		blocksStart = alignUp(blocksStart, 16)
	}

	raw := make([]byte, h.CompressedBlocksInfoSize)
	if _, err := r.ReadAt(raw, infoOffset); err != nil {
		return nil, fmt.Errorf("failed to read blocks info at %d: %w", infoOffset, unexpectedEOF(err))
	}
	info, err := decompress(raw, Compression(h.Flags&flagCompressionMask), int(h.UncompressedBlocksInfoSize))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress blocks info: %w", err)
	}

	b := &Bundle{
		Header:      h,
		src:         r,
		blocksStart: blocksStart,
		data:        r,
		base:        blocksStart,
	}
	if err := b.parseBlocksInfo(info); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bundle) parseBlocksInfo(info []byte) error {
	br := newBinReader(info, binary.BigEndian, "blocks info")
	br.skip(blocksInfoHashSize)

	blockCount := br.i32()
	if br.err == nil && (blockCount < 0 || int(blockCount)*10 > len(info)) {
		return fmt.Errorf("block count %d: %w", blockCount, ErrTruncated)
	}
	b.Blocks = make([]Block, 0, blockCount)
	for i := int32(0); i < blockCount && br.err == nil; i++ {
		b.Blocks = append(b.Blocks, Block{
			UncompressedSize: br.u32(),
			CompressedSize:   br.u32(),
			Flags:            br.u16(),
		})
	}

	nodeCount := br.i32()
	if br.err == nil && (nodeCount < 0 || int(nodeCount)*21 > len(info)) {
		return fmt.Errorf("node count %d: %w", nodeCount, ErrTruncated)
	}
	b.Nodes = make([]Node, 0, nodeCount)
	for i := int32(0); i < nodeCount && br.err == nil; i++ {
		b.Nodes = append(b.Nodes, Node{
			Offset: br.i64(),
			Size:   br.i64(),
			Flags:  br.u32(),
			Path:   br.cstring(),
		})
	}
	return br.err
}

// Compressed reports whether any data block is stored compressed
func (b *Bundle) Compressed() bool {
	if b.data != b.src {
		return false
	}
	for _, blk := range b.Blocks {
		if blk.Compression() != CompressionNone {
			return true
		}
	}
	return false
}

// Unpack decompresses every block into memory. After Unpack, Data returns
// the in-memory stream and ranges are relative to it.
func (b *Bundle) Unpack() error {
	if !b.Compressed() {
		return nil
	}

	var total int64
	for _, blk := range b.Blocks {
		total += int64(blk.UncompressedSize)
	}
	if total > maxUncompressedBundle {
		return fmt.Errorf("bundle data of %d bytes: %w", total, ErrUnsupported)
	}

	out := make([]byte, 0, total)
	offset := b.blocksStart
	for i, blk := range b.Blocks {
		raw := make([]byte, blk.CompressedSize)
		if _, err := b.src.ReadAt(raw, offset); err != nil {
			return fmt.Errorf("failed to read block %d at %d: %w", i, offset, unexpectedEOF(err))
		}
		plain, err := decompress(raw, blk.Compression(), int(blk.UncompressedSize))
		if err != nil {
			return fmt.Errorf("failed to decompress block %d: %w", i, err)
		}
		out = append(out, plain...)
		offset += int64(blk.CompressedSize)
	}

	b.data = bytes.NewReader(out)
	b.base = 0
	return nil
}

// Data returns the stream that FileRange offsets address
func (b *Bundle) Data() Stream {
	return b.data
}

// FileRange returns the absolute offset within Data and the size of node i
func (b *Bundle) FileRange(i int) (offset, size int64, err error) {
	if i < 0 || i >= len(b.Nodes) {
		return 0, 0, fmt.Errorf("range %d of %d: %w", i, len(b.Nodes), ErrNoRange)
	}
	n := b.Nodes[i]
	return b.base + n.Offset, n.Size, nil
}

// Section returns a bounded view over node i
func (b *Bundle) Section(i int) (*io.SectionReader, error) {
	offset, size, err := b.FileRange(i)
	if err != nil {
		return nil, err
	}
	return io.NewSectionReader(b.data, offset, size), nil
}

// Close drops the references the bundle holds. The caller's stream is not
// closed.
func (b *Bundle) Close() error {
	b.data = nil
	b.src = nil
	return nil
}

func alignUp(v, n int64) int64 {
	if rem := v % n; rem != 0 {
		return v + n - rem
	}
	return v
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
