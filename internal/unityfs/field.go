package unityfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ErrFieldNotFound is returned by Lookup when a field path does not exist
var ErrFieldNotFound = errors.New("field not found")

const maxFieldDepth = 64

// Field is a decoded value. Primitive fields carry Value (int64, uint64,
// float64, bool, string or []byte); composite fields and arrays carry
// Children, in declaration or element order.
type Field struct {
	Name     string
	Type     string
	Value    any
	Children []*Field
}

// Child returns the direct child with the given name. It is safe to call on
// a nil field so lookups can be chained.
func (f *Field) Child(name string) *Field {
	if f == nil {
		return nil
	}
	for _, c := range f.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Lookup resolves a dotted field path such as "m_StreamData.offset"
func (f *Field) Lookup(path string) (*Field, error) {
	cur := f
	for _, part := range strings.Split(path, ".") {
		next := cur.Child(part)
		if next == nil {
			return nil, fmt.Errorf("%s in %s: %w", path, f.Type, ErrFieldNotFound)
		}
		cur = next
	}
	return cur, nil
}

// Int returns an integer field as int64. Non-integer values return 0.
func (f *Field) Int() int64 {
	switch v := f.value().(type) {
	case int64:
		return v
	case uint64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

// Uint returns an integer field as uint64
func (f *Field) Uint() uint64 {
	switch v := f.value().(type) {
	case uint64:
		return v
	case int64:
		return uint64(v)
	}
	return 0
}

// Float returns a numeric field as float64
func (f *Field) Float() float64 {
	switch v := f.value().(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	}
	return 0
}

// Bool returns a bool field
func (f *Field) Bool() bool {
	v, _ := f.value().(bool)
	return v
}

// Str returns a string field. Byte arrays are returned as text.
func (f *Field) Str() string {
	switch v := f.value().(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

// Bytes returns a byte array, TypelessData or string field as bytes
func (f *Field) Bytes() []byte {
	switch v := f.value().(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	if a := f.array(); a != nil && a != f {
		return a.Bytes()
	}
	return nil
}

// Len returns the element count of an array or vector field
func (f *Field) Len() int {
	a := f.array()
	if a == nil {
		return 0
	}
	if b, ok := a.Value.([]byte); ok {
		return len(b)
	}
	return len(a.Children)
}

func (f *Field) value() any {
	if f == nil {
		return nil
	}
	return f.Value
}

// array returns f when it is an array, or its Array child for vector-like
// composites
func (f *Field) array() *Field {
	if f == nil {
		return nil
	}
	if f.Type == "Array" {
		return f
	}
	return f.Child("Array")
}

// DecodeObject decodes raw object bytes with the given type tree. Alignment
// is relative to the start of raw.
func DecodeObject(raw []byte, order binary.ByteOrder, tree *TypeNode) (*Field, error) {
	if tree == nil {
		return nil, fmt.Errorf("object without type tree: %w", ErrUnsupported)
	}
	br := newBinReader(raw, order, "object data")
	f := decodeField(br, tree, 0)
	if br.err != nil {
		return nil, br.err
	}
	return f, nil
}

func decodeField(br *binReader, n *TypeNode, depth int) *Field {
	if depth > maxFieldDepth {
		if br.err == nil {
			br.err = fmt.Errorf("type tree nested deeper than %d: %w", maxFieldDepth, ErrMalformed)
		}
		return nil
	}
	f := &Field{Name: n.Name, Type: n.Type}
	align := n.Aligned()

	switch {
	case n.IsArray():
		decodeArray(br, n, f, depth)

	case n.Type == "string":
		size := br.i32()
		if br.err == nil && (size < 0 || int(size) > len(br.buf)-br.pos) {
			br.err = fmt.Errorf("string %s of %d bytes at offset %d: %w", n.Name, size, br.pos, ErrTruncated)
			return f
		}
		f.Value = string(br.bytes(int(size)))
		if len(n.Children) > 0 && n.Children[0].Aligned() {
			align = true
		}

	case n.Type == "TypelessData":
		size := br.i32()
		if br.err == nil && (size < 0 || int(size) > len(br.buf)-br.pos) {
			br.err = fmt.Errorf("data %s of %d bytes at offset %d: %w", n.Name, size, br.pos, ErrTruncated)
			return f
		}
		f.Value = append([]byte(nil), br.bytes(int(size))...)

	case len(n.Children) == 0:
		f.Value = decodePrimitive(br, n)

	default:
		f.Children = make([]*Field, 0, len(n.Children))
		for _, c := range n.Children {
			child := decodeField(br, c, depth+1)
			if br.err != nil {
				return f
			}
			f.Children = append(f.Children, child)
		}
	}

	if align {
		br.align(4)
	}
	return f
}

// decodeArray reads an array node: an element count followed by elements of
// the node's second child
func decodeArray(br *binReader, n *TypeNode, f *Field, depth int) {
	if len(n.Children) < 2 {
		br.err = fmt.Errorf("array %s without element type: %w", n.Name, ErrMalformed)
		return
	}
	elem := n.Children[1]
	count := br.i32()
	if br.err != nil {
		return
	}
	remaining := len(br.buf) - br.pos
	if count < 0 || int(count) > remaining {
		br.err = fmt.Errorf("array %s of %d elements at offset %d: %w", n.Name, count, br.pos, ErrTruncated)
		return
	}

	if elem.ByteSize == 1 && len(elem.Children) == 0 {
		f.Value = append([]byte(nil), br.bytes(int(count))...)
		return
	}

	f.Children = make([]*Field, 0, count)
	for i := int32(0); i < count; i++ {
		child := decodeField(br, elem, depth+1)
		if br.err != nil {
			return
		}
		f.Children = append(f.Children, child)
	}
}

func decodePrimitive(br *binReader, n *TypeNode) any {
	switch n.Type {
	case "bool":
		return br.bool()
	case "SInt8":
		return int64(int8(br.u8()))
	case "char", "UInt8":
		return uint64(br.u8())
	case "short", "SInt16":
		return int64(br.i16())
	case "unsigned short", "UInt16":
		return uint64(br.u16())
	case "int", "SInt32":
		return int64(br.i32())
	case "unsigned int", "UInt32", "Type*":
		return uint64(br.u32())
	case "long long", "SInt64":
		return br.i64()
	case "unsigned long long", "UInt64", "FileSize":
		return br.u64()
	case "float":
		return float64(br.f32())
	case "double":
		return br.f64()
	}

	// unknown leaf types are skipped by their declared size
	switch n.ByteSize {
	case 1:
		return uint64(br.u8())
	case 2:
		return uint64(br.u16())
	case 4:
		return uint64(br.u32())
	case 8:
		return br.u64()
	}
	if n.ByteSize > 0 {
		return append([]byte(nil), br.bytes(int(n.ByteSize))...)
	}
	return nil
}
