// Package catalog decodes the addressable asset catalog that maps logical
// asset paths to the bundles holding them.
//
// The catalog is stored as three buffers: keys, buckets and entries. Each
// bucket names one key and the first entry slot for it; the entry carries a
// 16-bit index back into the bucket table, which is resolved once after
// the whole table is read. Resolution is a single hop: a reference is
// replaced with the key of the entry it points at, never with that entry's
// own value.
package catalog

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/text/encoding/unicode"
)

var (
	// ErrMalformed is returned when the catalog buffers reference data
	// past the end of a buffer or contain an unknown key tag.
	ErrMalformed = errors.New("malformed catalog")

	// ErrLookupMiss is returned when a path is absent from the catalog,
	// its value is unresolved, or the resolved key is not a string.
	ErrLookupMiss = errors.New("catalog lookup miss")
)

// KeyType is the tag byte that precedes every key in the key buffer
type KeyType byte

const (
	KeyUTF8  KeyType = 0
	KeyUTF16 KeyType = 1
	KeyByte  KeyType = 4
)

const (
	// entrySize is the fixed stride of the entry buffer
	entrySize = 28

	// noneMarker is the reference index meaning "no reference"
	noneMarker = 0xFFFF
)

// String returns the string representation of the key type
func (t KeyType) String() string {
	switch t {
	case KeyUTF8:
		return "utf8"
	case KeyUTF16:
		return "utf16"
	case KeyByte:
		return "byte"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// Key is a catalog key. Str is set for the string variants, Byte for KeyByte.
type Key struct {
	Type KeyType
	Str  string
	Byte byte
}

// IsString reports whether the key is one of the string variants.
func (k Key) IsString() bool {
	return k.Type == KeyUTF8 || k.Type == KeyUTF16
}

// Equal compares two keys. Strings compare against strings, bytes against bytes.
func (k Key) Equal(o Key) bool {
	if k.Type != o.Type {
		return false
	}
	switch k.Type {
	case KeyUTF8, KeyUTF16:
		return k.Str == o.Str
	case KeyByte:
		return k.Byte == o.Byte
	default:
		return false
	}
}

func (k Key) String() string {
	if k.Type == KeyByte {
		return strconv.Itoa(int(k.Byte))
	}
	return k.Str
}

// Value is the value attached to an entry. Exactly one of the two forms is
// populated: a raw reference index still pointing into the table, or the key
// of the entry that reference resolved to.
type Value struct {
	Raw      uint16
	Resolved *Key
}

// IsReference reports whether the value is still an unresolved reference.
func (v *Value) IsReference() bool {
	return v.Resolved == nil
}

// Entry is a single row of the catalog. Its position in the table is
// significant since references address entries by index.
type Entry struct {
	Key   Key
	Value *Value
}

// Table is a decoded catalog
type Table struct {
	entries []Entry
}

// New decodes a catalog from its three raw buffers
func New(keyData, bucketData, entryData []byte) (*Table, error) {
	entries, err := parse(keyData, bucketData, entryData)
	if err != nil {
		return nil, err
	}
	resolve(entries)
	return &Table{entries: entries}, nil
}

// document is the subset of the addressables catalog.json we need
type document struct {
	KeyData    string `json:"m_KeyDataString"`
	BucketData string `json:"m_BucketDataString"`
	EntryData  string `json:"m_EntryDataString"`
}

// FromJSON decodes a catalog from a catalog.json document whose three
// buffers are base64 encoded
func FromJSON(r io.Reader) (*Table, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode catalog json: %w", err)
	}

	keyData, err := base64.StdEncoding.DecodeString(doc.KeyData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key data: %w", err)
	}
	bucketData, err := base64.StdEncoding.DecodeString(doc.BucketData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode bucket data: %w", err)
	}
	entryData, err := base64.StdEncoding.DecodeString(doc.EntryData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode entry data: %w", err)
	}

	return New(keyData, bucketData, entryData)
}

// Entries returns the table in index order. The slice must not be modified.
func (t *Table) Entries() []Entry {
	return t.entries
}

// Len returns the number of entries
func (t *Table) Len() int {
	return len(t.entries)
}

// Get returns the value of the first string key equal to path, or nil.
func (t *Table) Get(path string) *Value {
	for i := range t.entries {
		if t.entries[i].Key.IsString() && t.entries[i].Key.Str == path {
			return t.entries[i].Value
		}
	}
	return nil
}

// GetKey returns the value of the first key equal to k, or nil.
func (t *Table) GetKey(k Key) *Value {
	for i := range t.entries {
		if t.entries[i].Key.Equal(k) {
			return t.entries[i].Value
		}
	}
	return nil
}

// Bundle returns the name of the bundle that holds the asset at path
func (t *Table) Bundle(path string) (string, error) {
	v := t.Get(path)
	if v == nil {
		return "", fmt.Errorf("asset %s not found in catalog: %w", path, ErrLookupMiss)
	}
	if v.Resolved == nil {
		return "", fmt.Errorf("asset %s has no resolved bundle path: %w", path, ErrLookupMiss)
	}
	if !v.Resolved.IsString() {
		return "", fmt.Errorf("asset %s has invalid resolved bundle path: %w", path, ErrLookupMiss)
	}
	return v.Resolved.Str, nil
}

// reader walks a little-endian buffer and reports overruns as ErrMalformed
type reader struct {
	name string
	data []byte
	pos  int
}

func (r *reader) int32() (int32, error) {
	if r.pos < 0 || r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("%s: read of 4 bytes at offset %d past end (%d): %w", r.name, r.pos, len(r.data), ErrMalformed)
	}
	v := int32(binary.LittleEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	return v, nil
}

var utf16Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func readKey(keyData []byte, pos int) (Key, error) {
	if pos < 0 || pos >= len(keyData) {
		return Key{}, fmt.Errorf("key offset %d past end (%d): %w", pos, len(keyData), ErrMalformed)
	}
	tag := KeyType(keyData[pos])
	pos++

	switch tag {
	case KeyUTF8, KeyUTF16:
		r := reader{name: "key data", data: keyData, pos: pos}
		length, err := r.int32()
		if err != nil {
			return Key{}, err
		}
		start := r.pos
		if length < 0 || start+int(length) > len(keyData) {
			return Key{}, fmt.Errorf("key string of %d bytes at offset %d past end (%d): %w", length, start, len(keyData), ErrMalformed)
		}
		raw := keyData[start : start+int(length)]
		if tag == KeyUTF8 {
			return Key{Type: tag, Str: string(raw)}, nil
		}
		decoded, err := utf16Decoder.NewDecoder().Bytes(raw)
		if err != nil {
			return Key{}, fmt.Errorf("key string at offset %d: %v: %w", start, err, ErrMalformed)
		}
		return Key{Type: tag, Str: string(decoded)}, nil

	case KeyByte:
		if pos >= len(keyData) {
			return Key{}, fmt.Errorf("byte key at offset %d past end (%d): %w", pos, len(keyData), ErrMalformed)
		}
		return Key{Type: tag, Byte: keyData[pos]}, nil

	default:
		return Key{}, fmt.Errorf("unknown key type %d at offset %d: %w", tag, pos-1, ErrMalformed)
	}
}

func parse(keyData, bucketData, entryData []byte) ([]Entry, error) {
	buckets := reader{name: "bucket data", data: bucketData}

	count, err := buckets.int32()
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("negative bucket count %d: %w", count, ErrMalformed)
	}

	// every bucket needs at least 8 bytes, so count bounds the allocation
	if int64(count)*8 > int64(len(bucketData)) {
		return nil, fmt.Errorf("bucket count %d exceeds bucket data (%d bytes): %w", count, len(bucketData), ErrMalformed)
	}
	table := make([]Entry, 0, count)

	for i := int32(0); i < count; i++ {
		keyPos, err := buckets.int32()
		if err != nil {
			return nil, err
		}
		key, err := readKey(keyData, int(keyPos))
		if err != nil {
			return nil, fmt.Errorf("bucket %d: %w", i, err)
		}

		entryCount, err := buckets.int32()
		if err != nil {
			return nil, err
		}

		var value *Value
		if entryCount > 0 {
			entryPos, err := buckets.int32()
			if err != nil {
				return nil, err
			}
			// only the first entry slot is kept
			for j := int32(1); j < entryCount; j++ {
				if _, err := buckets.int32(); err != nil {
					return nil, err
				}
			}

			entryStart := 4 + entrySize*int(entryPos)
			if entryStart >= 0 && entryStart+9 < len(entryData) {
				raw := uint16(entryData[entryStart+8]) | uint16(entryData[entryStart+9])<<8
				value = &Value{Raw: raw}
			}
		}

		table = append(table, Entry{Key: key, Value: value})
	}

	return table, nil
}

// resolve replaces every in-range reference with the key of the entry it
// points at. It never follows a second hop.
func resolve(table []Entry) {
	resolved := make([]*Value, len(table))
	for i := range table {
		v := table[i].Value
		if v == nil || !v.IsReference() {
			continue
		}
		if v.Raw == noneMarker || int(v.Raw) >= len(table) {
			continue
		}
		key := table[v.Raw].Key
		resolved[i] = &Value{Resolved: &key}
	}
	for i, v := range resolved {
		if v != nil {
			table[i].Value = v
		}
	}
}
