package unityfstest

import "github.com/phiinfo/phi-extract/internal/unityfs"

func leaf(typ, name string, size int32) *unityfs.TypeNode {
	return &unityfs.TypeNode{Version: 1, Type: typ, Name: name, ByteSize: size}
}

func aligned(n *unityfs.TypeNode) *unityfs.TypeNode {
	n.MetaFlag |= unityfs.MetaFlagAlign
	return n
}

func composite(typ, name string, children ...*unityfs.TypeNode) *unityfs.TypeNode {
	return &unityfs.TypeNode{Version: 1, Type: typ, Name: name, ByteSize: -1, Children: children}
}

func array(elem *unityfs.TypeNode) *unityfs.TypeNode {
	return &unityfs.TypeNode{
		Version:   1,
		TypeFlags: 1,
		Type:      "Array",
		Name:      "Array",
		ByteSize:  -1,
		Children:  []*unityfs.TypeNode{leaf("int", "size", 4), elem},
	}
}

func stringField(name string) *unityfs.TypeNode {
	return composite("string", name, aligned(array(leaf("char", "data", 1))))
}

func typeless(name string) *unityfs.TypeNode {
	return aligned(&unityfs.TypeNode{
		Version:  1,
		Type:     "TypelessData",
		Name:     name,
		ByteSize: -1,
		Children: []*unityfs.TypeNode{leaf("int", "size", 4), leaf("UInt8", "data", 1)},
	})
}

// Texture2DTree returns the Texture2D layout of 2019.4 builds
func Texture2DTree() *unityfs.TypeNode {
	return composite("Texture2D", "Base",
		stringField("m_Name"),
		leaf("int", "m_ForcedFallbackFormat", 4),
		aligned(leaf("bool", "m_DownscaleFallback", 1)),
		leaf("int", "m_Width", 4),
		leaf("int", "m_Height", 4),
		leaf("int", "m_CompleteImageSize", 4),
		leaf("int", "m_TextureFormat", 4),
		leaf("int", "m_MipCount", 4),
		leaf("bool", "m_IsReadable", 1),
		aligned(leaf("bool", "m_StreamingMipmaps", 1)),
		leaf("int", "m_StreamingMipmapsPriority", 4),
		leaf("int", "m_ImageCount", 4),
		leaf("int", "m_TextureDimension", 4),
		typeless("image data"),
		composite("StreamingInfo", "m_StreamData",
			leaf("UInt64", "offset", 8),
			leaf("unsigned int", "size", 4),
			stringField("path"),
		),
	)
}

// AudioClipTree returns the AudioClip layout of 2019.4 builds
func AudioClipTree() *unityfs.TypeNode {
	return composite("AudioClip", "Base",
		stringField("m_Name"),
		leaf("int", "m_LoadType", 4),
		leaf("int", "m_Channels", 4),
		leaf("int", "m_Frequency", 4),
		leaf("int", "m_BitsPerSample", 4),
		leaf("float", "m_Length", 4),
		leaf("bool", "m_IsTrackerFormat", 1),
		aligned(leaf("bool", "m_Ambisonic", 1)),
		leaf("int", "m_SubsoundIndex", 4),
		leaf("bool", "m_PreloadAudioData", 1),
		leaf("bool", "m_LoadInBackground", 1),
		aligned(leaf("bool", "m_Legacy3D", 1)),
		composite("StreamedResource", "m_Resource",
			stringField("m_Source"),
			leaf("UInt64", "m_Offset", 8),
			leaf("UInt64", "m_Size", 8),
		),
		leaf("int", "m_CompressionFormat", 4),
	)
}

// TextAssetTree returns the TextAsset layout
func TextAssetTree() *unityfs.TypeNode {
	return composite("TextAsset", "Base",
		stringField("m_Name"),
		stringField("m_Script"),
	)
}
