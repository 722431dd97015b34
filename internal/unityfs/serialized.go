package unityfs

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Well known class ids
const (
	ClassTexture2D     = 28
	ClassTextAsset     = 49
	ClassAudioClip     = 83
	ClassMonoBehaviour = 114
)

const (
	minSerializedVersion = 17
	maxSerializedVersion = 22
	maxSerializedSize    = 1 << 30
)

// SerializedHeader is the fixed header of a serialized file. It is always
// big-endian; Endian selects the byte order of everything after it.
type SerializedHeader struct {
	MetadataSize uint32
	FileSize     int64
	Version      uint32
	DataOffset   int64
	Endian       uint8
}

// byteOrder returns the order of the metadata and object data
func (h SerializedHeader) byteOrder() binary.ByteOrder {
	if h.Endian != 0 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// SerializedType is one entry of the type table
type SerializedType struct {
	ClassID         int32
	IsStripped      bool
	ScriptTypeIndex int16
	ScriptID        [16]byte
	OldTypeHash     [16]byte
	Tree            *TypeNode
	Dependencies    []int32
}

// ObjectInfo locates one object within the file
type ObjectInfo struct {
	PathID    int64
	ByteStart int64
	ByteSize  uint32
	TypeID    int32
	ClassID   int32
}

// SerializedFile is a parsed serialized file held in memory
type SerializedFile struct {
	Header         SerializedHeader
	UnityVersion   string
	TargetPlatform int32
	EnableTypeTree bool
	Types          []SerializedType
	Objects        []ObjectInfo

	data []byte
}

// ReadSerialized reads size bytes from r and parses them as a serialized
// file. Objects are decoded lazily by ReadObject.
func ReadSerialized(r io.ReaderAt, size int64) (*SerializedFile, error) {
	if size < 20 || size > maxSerializedSize {
		return nil, fmt.Errorf("serialized file of %d bytes: %w", size, ErrUnsupported)
	}
	data := make([]byte, size)
	if n, err := r.ReadAt(data, 0); n < len(data) {
		return nil, fmt.Errorf("failed to read serialized file: %w", unexpectedEOF(err))
	}
	return ParseSerialized(data)
}

// ParseSerialized parses an in-memory serialized file. The file keeps a
// reference to data.
func ParseSerialized(data []byte) (*SerializedFile, error) {
	hr := newBinReader(data, binary.BigEndian, "serialized header")
	var h SerializedHeader
	h.MetadataSize = hr.u32()
	h.FileSize = int64(hr.u32())
	h.Version = hr.u32()
	h.DataOffset = int64(hr.u32())
	h.Endian = hr.u8()
	hr.skip(3)
	if hr.err != nil {
		return nil, hr.err
	}
	if h.Version < minSerializedVersion || h.Version > maxSerializedVersion {
		return nil, fmt.Errorf("serialized file version %d: %w", h.Version, ErrUnsupported)
	}
	if h.Version >= 22 {
		h.MetadataSize = hr.u32()
		h.FileSize = hr.i64()
		h.DataOffset = hr.i64()
		hr.skip(8)
		if hr.err != nil {
			return nil, hr.err
		}
	}

	f := &SerializedFile{Header: h, data: data}

	br := newBinReader(data, h.byteOrder(), "serialized metadata")
	br.pos = hr.pos
	f.UnityVersion = br.cstring()
	f.TargetPlatform = br.i32()
	f.EnableTypeTree = br.bool()
	if br.err != nil {
		return nil, br.err
	}

	typeCount := br.i32()
	if br.err != nil {
		return nil, br.err
	}
	if typeCount < 0 || int64(typeCount)*23 > int64(len(data)) {
		return nil, fmt.Errorf("type count %d: %w", typeCount, ErrMalformed)
	}
	f.Types = make([]SerializedType, 0, typeCount)
	for i := int32(0); i < typeCount; i++ {
		t, err := f.readType(br)
		if err != nil {
			return nil, fmt.Errorf("type %d: %w", i, err)
		}
		f.Types = append(f.Types, t)
	}

	objectCount := br.i32()
	if br.err != nil {
		return nil, br.err
	}
	if objectCount < 0 || int64(objectCount)*20 > int64(len(data)) {
		return nil, fmt.Errorf("object count %d: %w", objectCount, ErrMalformed)
	}
	f.Objects = make([]ObjectInfo, 0, objectCount)
	for i := int32(0); i < objectCount; i++ {
		br.align(4)
		var o ObjectInfo
		o.PathID = br.i64()
		if h.Version >= 22 {
			o.ByteStart = br.i64()
		} else {
			o.ByteStart = int64(br.u32())
		}
		o.ByteStart += h.DataOffset
		o.ByteSize = br.u32()
		o.TypeID = br.i32()
		if br.err != nil {
			return nil, fmt.Errorf("object %d: %w", i, br.err)
		}
		if o.TypeID < 0 || int(o.TypeID) >= len(f.Types) {
			return nil, fmt.Errorf("object %d has type index %d of %d: %w", i, o.TypeID, len(f.Types), ErrMalformed)
		}
		o.ClassID = f.Types[o.TypeID].ClassID
		f.Objects = append(f.Objects, o)
	}

	return f, nil
}

func (f *SerializedFile) readType(br *binReader) (SerializedType, error) {
	var t SerializedType
	t.ClassID = br.i32()
	t.IsStripped = br.bool()
	t.ScriptTypeIndex = br.i16()
	if t.ClassID == ClassMonoBehaviour {
		copy(t.ScriptID[:], br.bytes(16))
	}
	copy(t.OldTypeHash[:], br.bytes(16))
	if br.err != nil {
		return t, br.err
	}

	if f.EnableTypeTree {
		tree, err := readTypeTree(br, f.Header.Version)
		if err != nil {
			return t, err
		}
		t.Tree = tree
		if f.Header.Version >= 21 {
			n := br.i32()
			if br.err == nil && (n < 0 || int(n)*4 > len(br.buf)-br.pos) {
				return t, fmt.Errorf("dependency count %d: %w", n, ErrMalformed)
			}
			for j := int32(0); j < n && br.err == nil; j++ {
				t.Dependencies = append(t.Dependencies, br.i32())
			}
		}
	}
	return t, br.err
}

// Find returns the first object of the given class
func (f *SerializedFile) Find(classID int32) (ObjectInfo, bool) {
	for _, o := range f.Objects {
		if o.ClassID == classID {
			return o, true
		}
	}
	return ObjectInfo{}, false
}

// ObjectData returns the raw bytes of an object
func (f *SerializedFile) ObjectData(o ObjectInfo) ([]byte, error) {
	end := o.ByteStart + int64(o.ByteSize)
	if o.ByteStart < 0 || end > int64(len(f.data)) {
		return nil, fmt.Errorf("object %d spans [%d, %d) of %d bytes: %w", o.PathID, o.ByteStart, end, len(f.data), ErrTruncated)
	}
	return f.data[o.ByteStart:end], nil
}

// ReadObject decodes an object into a field tree using its type tree
func (f *SerializedFile) ReadObject(o ObjectInfo) (*Field, error) {
	if !f.EnableTypeTree {
		return nil, fmt.Errorf("object %d: file has no type trees: %w", o.PathID, ErrUnsupported)
	}
	if o.TypeID < 0 || int(o.TypeID) >= len(f.Types) {
		return nil, fmt.Errorf("object %d has type index %d: %w", o.PathID, o.TypeID, ErrMalformed)
	}
	raw, err := f.ObjectData(o)
	if err != nil {
		return nil, err
	}
	field, err := DecodeObject(raw, f.Header.byteOrder(), f.Types[o.TypeID].Tree)
	if err != nil {
		return nil, fmt.Errorf("failed to decode object %d: %w", o.PathID, err)
	}
	return field, nil
}

// Close releases the file's buffer
func (f *SerializedFile) Close() error {
	f.data = nil
	return nil
}
