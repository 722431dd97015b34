// Package unityfstest builds UnityFS bundles for tests. The bundles carry a
// serialized file with type trees in range 0 and a resource blob in range 1,
// the same layout game builds ship.
package unityfstest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/phiinfo/phi-extract/internal/unityfs"
)

// Defaults written into generated files
const (
	UnityVersion      = "2019.4.31f1"
	TargetPlatform    = 13 // Android
	SerializedVersion = 22
	BundleVersion     = 7
	DefaultBlockSize  = 128 << 10
	cabName           = "CAB-9f3c1e2ab0d44c56"
	nodeFlagSerialize = 4
)

// Object is one record to store in the serialized file
type Object struct {
	PathID  int64
	ClassID int32
	Tree    *unityfs.TypeNode
	Values  map[string]any
}

// Texture describes a Texture2D record. Inline keeps the pixels in the
// record's image data instead of the resource blob.
type Texture struct {
	Name   string
	Width  int
	Height int
	Format int
	Data   []byte
	Inline bool
}

// Audio describes an AudioClip record
type Audio struct {
	Name   string
	Length float32
	Data   []byte
}

// Text describes a TextAsset record
type Text struct {
	Name   string
	Script string
}

// Builder accumulates records and encodes them as a serialized file or a
// bundle
type Builder struct {
	// Compression is applied to every data block
	Compression unityfs.Compression

	// InfoCompression is applied to the blocks info table
	InfoCompression unityfs.Compression

	// InfoAtEnd stores the blocks info after the data blocks
	InfoAtEnd bool

	// BlockSize splits the data stream into blocks of at most this size
	BlockSize int

	// Version is the serialized file format version
	Version uint32

	// NoResource omits range 1 from the bundle
	NoResource bool

	objects  []Object
	resource bytes.Buffer
	nextID   int64
}

// New returns a builder with uncompressed blocks and the default versions
func New() *Builder {
	return &Builder{
		BlockSize: DefaultBlockSize,
		Version:   SerializedVersion,
		nextID:    1,
	}
}

// Add appends an arbitrary record. A zero PathID is assigned automatically.
func (b *Builder) Add(obj Object) *Builder {
	if obj.PathID == 0 {
		obj.PathID = b.nextID
	}
	b.nextID = obj.PathID + 1
	b.objects = append(b.objects, obj)
	return b
}

// addResource appends data to the resource blob at a 16 byte boundary
func (b *Builder) addResource(data []byte) (offset int64) {
	for b.resource.Len()%16 != 0 {
		b.resource.WriteByte(0)
	}
	offset = int64(b.resource.Len())
	b.resource.Write(data)
	return offset
}

// AddTexture appends a Texture2D record
func (b *Builder) AddTexture(t Texture) *Builder {
	stream := map[string]any{"offset": uint64(0), "size": uint32(0), "path": ""}
	var inline []byte
	if t.Inline {
		inline = t.Data
	} else {
		stream["offset"] = uint64(b.addResource(t.Data))
		stream["size"] = uint32(len(t.Data))
		stream["path"] = "archive:/" + cabName + "/" + cabName + ".resS"
	}
	return b.Add(Object{
		ClassID: unityfs.ClassTexture2D,
		Tree:    Texture2DTree(),
		Values: map[string]any{
			"m_Name":                 t.Name,
			"m_ForcedFallbackFormat": 4,
			"m_Width":                t.Width,
			"m_Height":               t.Height,
			"m_CompleteImageSize":    len(t.Data),
			"m_TextureFormat":        t.Format,
			"m_MipCount":             1,
			"m_IsReadable":           false,
			"m_ImageCount":           1,
			"m_TextureDimension":     2,
			"image data":             inline,
			"m_StreamData":           stream,
		},
	})
}

// AddAudio appends an AudioClip record whose samples live in the resource blob
func (b *Builder) AddAudio(a Audio) *Builder {
	offset := b.addResource(a.Data)
	return b.Add(Object{
		ClassID: unityfs.ClassAudioClip,
		Tree:    AudioClipTree(),
		Values: map[string]any{
			"m_Name":          a.Name,
			"m_LoadType":      1,
			"m_Channels":      2,
			"m_Frequency":     44100,
			"m_BitsPerSample": 16,
			"m_Length":        a.Length,
			"m_Resource": map[string]any{
				"m_Source": "archive:/" + cabName + "/" + cabName + ".resource",
				"m_Offset": uint64(offset),
				"m_Size":   uint64(len(a.Data)),
			},
			"m_CompressionFormat": 1,
		},
	})
}

// AddText appends a TextAsset record
func (b *Builder) AddText(t Text) *Builder {
	return b.Add(Object{
		ClassID: unityfs.ClassTextAsset,
		Tree:    TextAssetTree(),
		Values: map[string]any{
			"m_Name":   t.Name,
			"m_Script": t.Script,
		},
	})
}

// Resource returns the resource blob written so far
func (b *Builder) Resource() []byte {
	return b.resource.Bytes()
}

// Serialized encodes the records as a serialized file
func (b *Builder) Serialized() ([]byte, error) {
	version := b.Version
	if version == 0 {
		version = SerializedVersion
	}

	// object payloads, each 8 byte aligned relative to the data offset
	var payload bytes.Buffer
	type placed struct {
		start int64
		size  uint32
	}
	places := make([]placed, len(b.objects))
	for i, obj := range b.objects {
		for payload.Len()%8 != 0 {
			payload.WriteByte(0)
		}
		raw, err := EncodeObject(obj.Tree, obj.Values)
		if err != nil {
			return nil, fmt.Errorf("failed to encode object %d: %w", obj.PathID, err)
		}
		places[i] = placed{start: int64(payload.Len()), size: uint32(len(raw))}
		payload.Write(raw)
	}

	// one type per class, in first-seen order
	typeIndex := map[int32]int32{}
	var types []Object
	for _, obj := range b.objects {
		if _, ok := typeIndex[obj.ClassID]; !ok {
			typeIndex[obj.ClassID] = int32(len(types))
			types = append(types, obj)
		}
	}

	headerSize := 20
	if version >= 22 {
		headerSize = 48
	}
	w := &writer{order: binary.LittleEndian}
	w.buf.Write(make([]byte, headerSize))

	w.cstring(UnityVersion)
	w.i32(TargetPlatform)
	w.u8(1)
	w.i32(int32(len(types)))
	for _, t := range types {
		w.i32(t.ClassID)
		w.u8(0)
		w.i16(-1)
		if t.ClassID == unityfs.ClassMonoBehaviour {
			w.buf.Write(make([]byte, 16))
		}
		w.buf.Write(make([]byte, 16))
		writeTypeTree(w, t.Tree, version)
		if version >= 21 {
			w.i32(0)
		}
	}

	w.i32(int32(len(b.objects)))
	for i, obj := range b.objects {
		w.align(4)
		w.i64(obj.PathID)
		if version >= 22 {
			w.i64(places[i].start)
		} else {
			w.u32(uint32(places[i].start))
		}
		w.u32(places[i].size)
		w.i32(typeIndex[obj.ClassID])
	}
	w.i32(0) // script types
	w.i32(0) // externals
	if version >= 20 {
		w.i32(0) // ref types
	}
	w.cstring("")

	metadataSize := w.buf.Len() - headerSize
	w.align(16)
	dataOffset := w.buf.Len()
	w.buf.Write(payload.Bytes())

	out := w.buf.Bytes()
	be := binary.BigEndian
	if version >= 22 {
		be.PutUint32(out[8:], version)
		out[16] = 0
		be.PutUint32(out[20:], uint32(metadataSize))
		be.PutUint64(out[24:], uint64(len(out)))
		be.PutUint64(out[32:], uint64(dataOffset))
	} else {
		be.PutUint32(out[0:], uint32(metadataSize))
		be.PutUint32(out[4:], uint32(len(out)))
		be.PutUint32(out[8:], version)
		be.PutUint32(out[12:], uint32(dataOffset))
		out[16] = 0
	}
	return out, nil
}

// Bundle encodes the records as a UnityFS bundle. Range 0 is the serialized
// file and range 1 the resource blob unless NoResource is set.
func (b *Builder) Bundle() ([]byte, error) {
	serialized, err := b.Serialized()
	if err != nil {
		return nil, err
	}

	type node struct {
		offset, size int64
		flags        uint32
		path         string
	}
	nodes := []node{{offset: 0, size: int64(len(serialized)), flags: nodeFlagSerialize, path: cabName}}
	data := append([]byte(nil), serialized...)
	if !b.NoResource {
		nodes = append(nodes, node{offset: int64(len(data)), size: int64(b.resource.Len()), path: cabName + ".resS"})
		data = append(data, b.resource.Bytes()...)
	}

	blockSize := b.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	var blocks bytes.Buffer
	info := &writer{order: binary.BigEndian}
	info.buf.Write(make([]byte, 16))
	blockCount := (len(data) + blockSize - 1) / blockSize
	if blockCount == 0 {
		blockCount = 1
	}
	info.i32(int32(blockCount))
	for i := 0; i < blockCount; i++ {
		end := min((i+1)*blockSize, len(data))
		chunk := data[i*blockSize : end]
		enc, ok, err := unityfs.Compress(chunk, b.Compression)
		if err != nil {
			return nil, err
		}
		flags := uint16(b.Compression)
		if !ok {
			enc, flags = chunk, uint16(unityfs.CompressionNone)
		}
		info.u32(uint32(len(chunk)))
		info.u32(uint32(len(enc)))
		info.u16(flags)
		blocks.Write(enc)
	}
	info.i32(int32(len(nodes)))
	for _, n := range nodes {
		info.i64(n.offset)
		info.i64(n.size)
		info.u32(n.flags)
		info.cstring(n.path)
	}

	rawInfo := info.buf.Bytes()
	encInfo, ok, err := unityfs.Compress(rawInfo, b.InfoCompression)
	if err != nil {
		return nil, err
	}
	infoCompression := b.InfoCompression
	if !ok {
		encInfo, infoCompression = rawInfo, unityfs.CompressionNone
	}

	flags := uint32(infoCompression) | 0x40
	if b.InfoAtEnd {
		flags |= 0x80
	}

	w := &writer{order: binary.BigEndian}
	w.cstring("UnityFS")
	w.u32(BundleVersion)
	w.cstring("5.x.x")
	w.cstring(UnityVersion)
	sizePos := w.buf.Len()
	w.i64(0)
	w.u32(uint32(len(encInfo)))
	w.u32(uint32(len(rawInfo)))
	w.u32(flags)
	w.align(16)
	if b.InfoAtEnd {
		w.buf.Write(blocks.Bytes())
		w.buf.Write(encInfo)
	} else {
		w.buf.Write(encInfo)
		w.buf.Write(blocks.Bytes())
	}

	out := w.buf.Bytes()
	binary.BigEndian.PutUint64(out[sizePos:], uint64(len(out)))
	return out, nil
}

// writer mirrors the package's decoder for encoding
type writer struct {
	buf   bytes.Buffer
	order binary.AppendByteOrder
}

func (w *writer) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *writer) u16(v uint16) { w.buf.Write(w.order.AppendUint16(nil, v)) }
func (w *writer) i16(v int16)  { w.u16(uint16(v)) }
func (w *writer) u32(v uint32) { w.buf.Write(w.order.AppendUint32(nil, v)) }
func (w *writer) i32(v int32)  { w.u32(uint32(v)) }
func (w *writer) u64(v uint64) { w.buf.Write(w.order.AppendUint64(nil, v)) }
func (w *writer) i64(v int64)  { w.u64(uint64(v)) }

func (w *writer) cstring(s string) {
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
}

func (w *writer) align(n int) {
	for w.buf.Len()%n != 0 {
		w.buf.WriteByte(0)
	}
}

func writeTypeTree(w *writer, root *unityfs.TypeNode, version uint32) {
	nodes := root.Flatten()

	var strs bytes.Buffer
	local := map[string]uint32{}
	offset := func(s string) uint32 {
		if off, ok := unityfs.CommonStringOffset(s); ok {
			return off
		}
		if off, ok := local[s]; ok {
			return off
		}
		off := uint32(strs.Len())
		local[s] = off
		strs.WriteString(s)
		strs.WriteByte(0)
		return off
	}

	w.i32(int32(len(nodes)))
	// offsets are assigned before the string buffer size is known
	typeOffs := make([]uint32, len(nodes))
	nameOffs := make([]uint32, len(nodes))
	for i, n := range nodes {
		typeOffs[i] = offset(n.Type)
		nameOffs[i] = offset(n.Name)
	}
	w.i32(int32(strs.Len()))
	for i, n := range nodes {
		w.u16(n.Version)
		w.u8(n.Level)
		w.u8(n.TypeFlags)
		w.u32(typeOffs[i])
		w.u32(nameOffs[i])
		w.i32(n.ByteSize)
		w.i32(int32(i))
		w.i32(n.MetaFlag)
		if version >= 19 {
			w.u64(0)
		}
	}
	w.buf.Write(strs.Bytes())
}

// EncodeObject encodes values with the layout of tree. Composite values are
// map[string]any keyed by field name; missing fields encode as zero.
func EncodeObject(tree *unityfs.TypeNode, values map[string]any) ([]byte, error) {
	w := &writer{order: binary.LittleEndian}
	if err := encodeField(w, tree, values); err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}

func encodeField(w *writer, n *unityfs.TypeNode, v any) error {
	align := n.Aligned()

	switch {
	case n.IsArray():
		if len(n.Children) < 2 {
			return fmt.Errorf("array %s without element type", n.Name)
		}
		elem := n.Children[1]
		switch vals := v.(type) {
		case []byte:
			w.i32(int32(len(vals)))
			w.buf.Write(vals)
		case []any:
			w.i32(int32(len(vals)))
			for _, e := range vals {
				if err := encodeField(w, elem, e); err != nil {
					return err
				}
			}
		case nil:
			w.i32(0)
		default:
			return fmt.Errorf("array %s: unsupported value %T", n.Name, v)
		}

	case n.Type == "string":
		s, _ := v.(string)
		w.i32(int32(len(s)))
		w.buf.WriteString(s)
		if len(n.Children) > 0 && n.Children[0].Aligned() {
			align = true
		}

	case n.Type == "TypelessData":
		data, _ := v.([]byte)
		w.i32(int32(len(data)))
		w.buf.Write(data)

	case len(n.Children) == 0:
		if err := encodePrimitive(w, n, v); err != nil {
			return err
		}

	default:
		fields, _ := v.(map[string]any)
		if len(n.Children) == 1 && n.Children[0].IsArray() && fields == nil {
			// vectors accept the element slice directly
			if err := encodeField(w, n.Children[0], v); err != nil {
				return err
			}
			break
		}
		for _, c := range n.Children {
			if err := encodeField(w, c, fields[c.Name]); err != nil {
				return err
			}
		}
	}

	if align {
		w.align(4)
	}
	return nil
}

func encodePrimitive(w *writer, n *unityfs.TypeNode, v any) error {
	switch n.Type {
	case "bool":
		b, _ := v.(bool)
		if b {
			w.u8(1)
		} else {
			w.u8(0)
		}
	case "SInt8", "char", "UInt8":
		w.u8(uint8(toInt(v)))
	case "short", "SInt16", "unsigned short", "UInt16":
		w.u16(uint16(toInt(v)))
	case "int", "SInt32", "unsigned int", "UInt32", "Type*":
		w.u32(uint32(toInt(v)))
	case "long long", "SInt64", "unsigned long long", "UInt64", "FileSize":
		w.u64(uint64(toInt(v)))
	case "float":
		w.u32(math.Float32bits(float32(toFloat(v))))
	case "double":
		w.u64(math.Float64bits(toFloat(v)))
	default:
		return fmt.Errorf("field %s: unsupported primitive %s", n.Name, n.Type)
	}
	return nil
}

func toInt(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case bool:
		if x {
			return 1
		}
	}
	return 0
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float32:
		return float64(x)
	case float64:
		return x
	}
	return float64(toInt(v))
}
