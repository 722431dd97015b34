package unityfs

import (
	"fmt"
	"strconv"
)

// Type node flag bits
const (
	typeFlagArray = 0x1

	// MetaFlagAlign marks a field whose end is padded to a 4 byte boundary
	MetaFlagAlign = 0x4000

	commonStringFlag = 0x80000000
)

// commonStringList is the engine's built-in string table. Type tree string
// offsets with the high bit set index into it; each entry's offset is the
// sum of the preceding lengths plus their NUL terminators.
var commonStringList = []string{
	"AABB", "AnimationClip", "AnimationCurve", "AnimationState", "Array",
	"Base", "BitField", "bitset", "bool", "char", "ColorRGBA", "Component",
	"data", "deque", "double", "dynamic_array", "FastPropertyName", "first",
	"float", "Font", "GameObject", "Generic Mono", "GradientNEW", "GUID",
	"GUIStyle", "int", "list", "long long", "map", "Matrix4x4f", "MdFour",
	"MonoBehaviour", "MonoScript", "m_ByteSize", "m_Curve",
	"m_EditorClassIdentifier", "m_EditorHideFlags", "m_Enabled",
	"m_ExtensionPtr", "m_GameObject", "m_Index", "m_IsArray", "m_IsStatic",
	"m_MetaFlag", "m_Name", "m_ObjectHideFlags", "m_PrefabInternal",
	"m_PrefabParentObject", "m_Script", "m_StaticEditorFlags", "m_Type",
	"m_Version", "Object", "pair", "PPtr<Component>", "PPtr<GameObject>",
	"PPtr<Material>", "PPtr<MonoBehaviour>", "PPtr<MonoScript>",
	"PPtr<Object>", "PPtr<Prefab>", "PPtr<Sprite>", "PPtr<TextAsset>",
	"PPtr<Texture>", "PPtr<Texture2D>", "PPtr<Transform>", "Prefab",
	"Quaternionf", "Rectf", "RectInt", "RectOffset", "second", "set",
	"short", "size", "SInt16", "SInt32", "SInt64", "SInt8", "staticvector",
	"string", "TextAsset", "TextMesh", "Texture", "Texture2D", "Transform",
	"TypelessData", "UInt16", "UInt32", "UInt64", "UInt8", "unsigned int",
	"unsigned long long", "unsigned short", "vector", "Vector2f",
	"Vector3f", "Vector4f", "m_ScriptingClassIdentifier", "Gradient",
	"Type*", "int2_storage", "int3_storage", "BoundsInt",
	"m_CorrespondingSourceObject", "m_PrefabInstance", "m_PrefabAsset",
	"FileSize", "Hash128",
}

var (
	commonStrings       map[uint32]string
	commonStringOffsets map[string]uint32
)

func init() {
	commonStrings = make(map[uint32]string, len(commonStringList))
	commonStringOffsets = make(map[string]uint32, len(commonStringList))
	var off uint32
	for _, s := range commonStringList {
		commonStrings[off] = s
		commonStringOffsets[s] = off
		off += uint32(len(s)) + 1
	}
}

// CommonStringOffset returns the flagged type tree offset of s when s is in
// the built-in table
func CommonStringOffset(s string) (uint32, bool) {
	off, ok := commonStringOffsets[s]
	if !ok {
		return 0, false
	}
	return off | commonStringFlag, true
}

// TypeNode is one field definition of a type tree. Children are the nodes
// one level deeper that follow it in the flat encoding.
type TypeNode struct {
	Version     uint16
	Level       uint8
	TypeFlags   uint8
	Type        string
	Name        string
	ByteSize    int32
	Index       int32
	MetaFlag    int32
	RefTypeHash uint64
	Children    []*TypeNode
}

// IsArray reports whether the node is an array wrapper
func (n *TypeNode) IsArray() bool {
	return n.TypeFlags&typeFlagArray != 0
}

// Aligned reports whether the field is padded to 4 bytes after decoding
func (n *TypeNode) Aligned() bool {
	return n.MetaFlag&MetaFlagAlign != 0
}

// Child returns the direct child with the given field name
func (n *TypeNode) Child(name string) *TypeNode {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Flatten returns the node and its descendants in encoding order, with
// Level set from the depth below n.
func (n *TypeNode) Flatten() []*TypeNode {
	var out []*TypeNode
	var walk func(*TypeNode, uint8)
	walk = func(node *TypeNode, level uint8) {
		node.Level = level
		out = append(out, node)
		for _, c := range node.Children {
			walk(c, level+1)
		}
	}
	walk(n, 0)
	return out
}

func lookupString(buf []byte, off uint32) string {
	if off&commonStringFlag != 0 {
		if s, ok := commonStrings[off&^commonStringFlag]; ok {
			return s
		}
		return "unknown(" + strconv.FormatUint(uint64(off&^commonStringFlag), 10) + ")"
	}
	if int(off) >= len(buf) {
		return "unknown(" + strconv.FormatUint(uint64(off), 10) + ")"
	}
	for i := int(off); i < len(buf); i++ {
		if buf[i] == 0 {
			return string(buf[off:i])
		}
	}
	return string(buf[off:])
}

// readTypeTree decodes one blob-format type tree and links the flat node
// list into a tree rooted at the first node
func readTypeTree(br *binReader, version uint32) (*TypeNode, error) {
	nodeCount := br.i32()
	strSize := br.i32()
	if br.err != nil {
		return nil, br.err
	}
	nodeSize := 24
	if version >= 19 {
		nodeSize = 32
	}
	if nodeCount <= 0 || strSize < 0 || int64(nodeCount)*int64(nodeSize)+int64(strSize) > int64(len(br.buf)-br.pos) {
		return nil, fmt.Errorf("type tree of %d nodes and %d string bytes: %w", nodeCount, strSize, ErrTruncated)
	}

	type rawNode struct {
		node          *TypeNode
		typeOff, name uint32
	}
	raw := make([]rawNode, nodeCount)
	for i := range raw {
		n := &TypeNode{}
		n.Version = br.u16()
		n.Level = br.u8()
		n.TypeFlags = br.u8()
		raw[i].typeOff = br.u32()
		raw[i].name = br.u32()
		n.ByteSize = br.i32()
		n.Index = br.i32()
		n.MetaFlag = br.i32()
		if version >= 19 {
			n.RefTypeHash = br.u64()
		}
		raw[i].node = n
	}
	strBuf := br.bytes(int(strSize))
	if br.err != nil {
		return nil, br.err
	}

	for i := range raw {
		raw[i].node.Type = lookupString(strBuf, raw[i].typeOff)
		raw[i].node.Name = lookupString(strBuf, raw[i].name)
	}

	root := raw[0].node
	stack := []*TypeNode{root}
	for _, r := range raw[1:] {
		n := r.node
		for len(stack) > 0 && stack[len(stack)-1].Level >= n.Level {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			return nil, fmt.Errorf("type node %s %s at level %d has no parent: %w", n.Type, n.Name, n.Level, ErrMalformed)
		}
		parent := stack[len(stack)-1]
		parent.Children = append(parent.Children, n)
		stack = append(stack, n)
	}
	return root, nil
}
