// Package catalogtest encodes addressables catalogs for tests
package catalogtest

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"

	"github.com/phiinfo/phi-extract/internal/catalog"
)

const entryStride = 28

type bucket struct {
	key string
	ref int // -1 for no entry slot
}

// Builder maps asset paths to bundle names. Every bundle name becomes its
// own key and asset keys reference it by index.
type Builder struct {
	buckets []bucket
	bundles map[string]int
}

// New returns an empty builder
func New() *Builder {
	return &Builder{bundles: make(map[string]int)}
}

// Add maps path to bundle
func (b *Builder) Add(path, bundle string) *Builder {
	idx, ok := b.bundles[bundle]
	if !ok {
		idx = len(b.buckets)
		b.bundles[bundle] = idx
		b.buckets = append(b.buckets, bucket{key: bundle, ref: -1})
	}
	b.buckets = append(b.buckets, bucket{key: path, ref: idx})
	return b
}

// Buffers encodes the key, bucket and entry buffers
func (b *Builder) Buffers() (keyData, bucketData, entryData []byte) {
	var keys, bkt, entries bytes.Buffer
	le := binary.LittleEndian

	_ = binary.Write(&bkt, le, int32(len(b.buckets)))
	_ = binary.Write(&entries, le, int32(len(b.buckets)))
	for i, bk := range b.buckets {
		_ = binary.Write(&bkt, le, int32(keys.Len()))
		keys.WriteByte(byte(catalog.KeyUTF8))
		_ = binary.Write(&keys, le, int32(len(bk.key)))
		keys.WriteString(bk.key)

		entry := make([]byte, entryStride)
		le.PutUint16(entry[8:], 0xFFFF)
		if bk.ref >= 0 {
			_ = binary.Write(&bkt, le, int32(1))
			_ = binary.Write(&bkt, le, int32(i))
			le.PutUint16(entry[8:], uint16(bk.ref))
		} else {
			_ = binary.Write(&bkt, le, int32(0))
		}
		entries.Write(entry)
	}
	return keys.Bytes(), bkt.Bytes(), entries.Bytes()
}

// Table decodes the encoded buffers
func (b *Builder) Table() (*catalog.Table, error) {
	return catalog.New(b.Buffers())
}

// JSON encodes the catalog as a catalog.json document
func (b *Builder) JSON() []byte {
	keyData, bucketData, entryData := b.Buffers()
	doc, _ := json.Marshal(map[string]string{
		"m_KeyDataString":    base64.StdEncoding.EncodeToString(keyData),
		"m_BucketDataString": base64.StdEncoding.EncodeToString(bucketData),
		"m_EntryDataString":  base64.StdEncoding.EncodeToString(entryData),
	})
	return doc
}
