package unityfs_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/phiinfo/phi-extract/internal/unityfs"
	"github.com/phiinfo/phi-extract/internal/unityfs/unityfstest"
)

func lookup(t *testing.T, f *unityfs.Field, path string) *unityfs.Field {
	t.Helper()
	v, err := f.Lookup(path)
	if err != nil {
		t.Fatalf("Lookup(%s) error = %v", path, err)
	}
	return v
}

func TestReadSerializedObjects(t *testing.T) {
	for _, version := range []uint32{17, 19, 21, 22} {
		builder := sampleBuilder()
		builder.Version = version
		data, err := builder.Serialized()
		if err != nil {
			t.Fatalf("v%d: Serialized() error = %v", version, err)
		}

		sf, err := unityfs.ReadSerialized(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			t.Fatalf("v%d: ReadSerialized() error = %v", version, err)
		}
		if sf.Header.Version != version {
			t.Errorf("v%d: Version = %d", version, sf.Header.Version)
		}
		if sf.UnityVersion != unityfstest.UnityVersion {
			t.Errorf("v%d: UnityVersion = %q", version, sf.UnityVersion)
		}
		if len(sf.Objects) != 3 || len(sf.Types) != 3 {
			t.Fatalf("v%d: %d objects, %d types, want 3 and 3", version, len(sf.Objects), len(sf.Types))
		}

		tex, ok := sf.Find(unityfs.ClassTexture2D)
		if !ok {
			t.Fatalf("v%d: Find(Texture2D) found nothing", version)
		}
		field, err := sf.ReadObject(tex)
		if err != nil {
			t.Fatalf("v%d: ReadObject() error = %v", version, err)
		}
		if got := lookup(t, field, "m_Name").Str(); got != "Illustration" {
			t.Errorf("v%d: m_Name = %q", version, got)
		}
		if w, h := lookup(t, field, "m_Width").Int(), lookup(t, field, "m_Height").Int(); w != 64 || h != 32 {
			t.Errorf("v%d: size = %dx%d, want 64x32", version, w, h)
		}
		if got := lookup(t, field, "m_StreamData.size").Uint(); got != 64*32*4 {
			t.Errorf("v%d: m_StreamData.size = %d", version, got)
		}
		if got := lookup(t, field, "m_StreamData.path").Str(); got == "" {
			t.Errorf("v%d: m_StreamData.path is empty", version)
		}

		audio, _ := sf.Find(unityfs.ClassAudioClip)
		field, err = sf.ReadObject(audio)
		if err != nil {
			t.Fatalf("v%d: ReadObject(audio) error = %v", version, err)
		}
		if got := lookup(t, field, "m_Length").Float(); got != 123.5 {
			t.Errorf("v%d: m_Length = %v, want 123.5", version, got)
		}
		if got := lookup(t, field, "m_Resource.m_Size").Uint(); got != 2400 {
			t.Errorf("v%d: m_Resource.m_Size = %d, want 2400", version, got)
		}
		if got := lookup(t, field, "m_CompressionFormat").Int(); got != 1 {
			t.Errorf("v%d: m_CompressionFormat = %d, want 1", version, got)
		}

		text, _ := sf.Find(unityfs.ClassTextAsset)
		field, err = sf.ReadObject(text)
		if err != nil {
			t.Fatalf("v%d: ReadObject(text) error = %v", version, err)
		}
		if got := lookup(t, field, "m_Script").Str(); got != `{"formatVersion":3}` {
			t.Errorf("v%d: m_Script = %q", version, got)
		}

		_ = sf.Close()
	}
}

func TestInlineImageData(t *testing.T) {
	pixels := []byte{1, 2, 3, 4, 5, 6, 7}
	data, err := unityfstest.New().
		AddTexture(unityfstest.Texture{Name: "tiny", Width: 1, Height: 1, Data: pixels, Inline: true}).
		Serialized()
	if err != nil {
		t.Fatalf("Serialized() error = %v", err)
	}
	sf, err := unityfs.ParseSerialized(data)
	if err != nil {
		t.Fatalf("ParseSerialized() error = %v", err)
	}
	obj, _ := sf.Find(unityfs.ClassTexture2D)
	field, err := sf.ReadObject(obj)
	if err != nil {
		t.Fatalf("ReadObject() error = %v", err)
	}
	if got := lookup(t, field, "image data").Bytes(); !bytes.Equal(got, pixels) {
		t.Errorf("image data = %v, want %v", got, pixels)
	}
	if got := lookup(t, field, "m_StreamData.size").Uint(); got != 0 {
		t.Errorf("m_StreamData.size = %d, want 0", got)
	}
}

func TestLookupMissingField(t *testing.T) {
	data, _ := unityfstest.New().AddText(unityfstest.Text{Name: "a"}).Serialized()
	sf, err := unityfs.ParseSerialized(data)
	if err != nil {
		t.Fatalf("ParseSerialized() error = %v", err)
	}
	field, err := sf.ReadObject(sf.Objects[0])
	if err != nil {
		t.Fatalf("ReadObject() error = %v", err)
	}
	if _, err := field.Lookup("m_Script.nope"); !errors.Is(err, unityfs.ErrFieldNotFound) {
		t.Errorf("Lookup() error = %v, want ErrFieldNotFound", err)
	}
	if _, ok := sf.Find(unityfs.ClassAudioClip); ok {
		t.Error("Find(AudioClip) found an object in a text-only file")
	}
}

func TestParseSerializedErrors(t *testing.T) {
	data, err := sampleBuilder().Serialized()
	if err != nil {
		t.Fatalf("Serialized() error = %v", err)
	}

	oldVersion := append([]byte(nil), data...)
	binary.BigEndian.PutUint32(oldVersion[8:], 9)

	// header and unity version only
	truncated := data[:60]

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"old version", oldVersion, unityfs.ErrUnsupported},
		{"truncated metadata", truncated, unityfs.ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := unityfs.ParseSerialized(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("ParseSerialized() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeObjectTruncated(t *testing.T) {
	raw, err := unityfstest.EncodeObject(unityfstest.TextAssetTree(), map[string]any{
		"m_Name":   "chart",
		"m_Script": "0123456789",
	})
	if err != nil {
		t.Fatalf("EncodeObject() error = %v", err)
	}
	if _, err := unityfs.DecodeObject(raw[:len(raw)-6], binary.LittleEndian, unityfstest.TextAssetTree()); !errors.Is(err, unityfs.ErrTruncated) {
		t.Errorf("DecodeObject() error = %v, want ErrTruncated", err)
	}
}
