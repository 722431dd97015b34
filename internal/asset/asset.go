// Package asset pulls payloads out of UnityFS bundles: texture pixels,
// audio samples and text assets.
//
// A bundle's range 0 is the serialized record index. Texture and audio
// records only describe where their bytes live in range 1, so those are
// read from the bundle's data stream with ReadRange; text records carry
// their content inline.
package asset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/phiinfo/phi-extract/internal/unityfs"
)

var (
	// ErrRecordNotFound is returned when a bundle holds no record of the
	// requested kind
	ErrRecordNotFound = errors.New("record not found")

	// ErrTruncatedRead is returned when a range read hits end of stream
	// before the requested size
	ErrTruncatedRead = errors.New("truncated read")

	// ErrMissingRange is returned when a record points into range 1 and the
	// bundle has no range 1
	ErrMissingRange = errors.New("bundle has no data range")

	// ErrTooLarge is returned when a record declares a payload above the
	// extractor's limit
	ErrTooLarge = errors.New("payload too large")
)

// DefaultMaxPayload bounds the size of a single extracted payload
const DefaultMaxPayload = 512 << 20

// Kind selects which record type to extract
type Kind int

const (
	KindImage Kind = iota
	KindAudio
	KindText
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindAudio:
		return "audio"
	case KindText:
		return "text"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// ParseKind parses a kind name. "music" is accepted for audio.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "image":
		return KindImage, nil
	case "audio", "music":
		return KindAudio, nil
	case "text":
		return KindText, nil
	default:
		return 0, fmt.Errorf("unknown asset kind %q", s)
	}
}

func (k Kind) classID() int32 {
	switch k {
	case KindImage:
		return unityfs.ClassTexture2D
	case KindAudio:
		return unityfs.ClassAudioClip
	default:
		return unityfs.ClassTextAsset
	}
}

// Payload is an extracted asset
type Payload interface {
	Kind() Kind
	Bytes() []byte
}

// Image is raw texture data. Format is the engine's texture format code and
// is zero when the record has none.
type Image struct {
	Width  int
	Height int
	Format int
	Data   []byte
}

func (*Image) Kind() Kind { return KindImage }
func (i *Image) Bytes() []byte { return i.Data }

// WithHeader returns the pixels prefixed by the little-endian 32-bit width
// and height
func (i *Image) WithHeader() []byte {
	out := make([]byte, 8, 8+len(i.Data))
	binary.LittleEndian.PutUint32(out[0:], uint32(i.Width))
	binary.LittleEndian.PutUint32(out[4:], uint32(i.Height))
	return append(out, i.Data...)
}

// Audio is raw audio clip data with its length in seconds
type Audio struct {
	Length float32
	Data   []byte
}

func (*Audio) Kind() Kind { return KindAudio }
func (a *Audio) Bytes() []byte { return a.Data }

// Text is the content of a text asset
type Text struct {
	Content string
}

func (*Text) Kind() Kind { return KindText }
func (t *Text) Bytes() []byte { return []byte(t.Content) }

// ReadRange reads exactly size bytes at offset from s. The stream position
// in effect before the call is restored on return, whether or not the read
// succeeded.
func ReadRange(s io.ReadSeeker, offset, size int64) (data []byte, err error) {
	if offset < 0 || size < 0 {
		return nil, fmt.Errorf("invalid range at %d of %d bytes", offset, size)
	}
	pos, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream position: %w", err)
	}
	defer func() {
		if _, serr := s.Seek(pos, io.SeekStart); serr != nil && err == nil {
			data, err = nil, fmt.Errorf("failed to restore stream position: %w", serr)
		}
	}()

	if _, err := s.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to %d: %w", offset, err)
	}
	buf := make([]byte, size)
	if n, err := io.ReadFull(s, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("read %d of %d bytes at %d: %w", n, size, offset, ErrTruncatedRead)
		}
		return nil, fmt.Errorf("failed to read %d bytes at %d: %w", size, offset, err)
	}
	return buf, nil
}

// Extractor decodes payloads from bundle streams. The zero value is ready
// to use.
type Extractor struct {
	// MaxPayload caps the declared size of range payloads. Zero means
	// DefaultMaxPayload.
	MaxPayload int64
}

func (e *Extractor) maxPayload() int64 {
	if e.MaxPayload > 0 {
		return e.MaxPayload
	}
	return DefaultMaxPayload
}

// Extract decodes the first record of the given kind in the bundle read
// from r
func (e *Extractor) Extract(r unityfs.Stream, kind Kind) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindImage:
		var img *Image
		img, err = e.Image(r)
		p = img
	case KindAudio:
		var clip *Audio
		clip, err = e.Audio(r)
		p = clip
	case KindText:
		var text *Text
		text, err = e.Text(r)
		p = text
	default:
		return nil, fmt.Errorf("unsupported asset kind %s", kind)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Image extracts the first Texture2D record
func (e *Extractor) Image(r unityfs.Stream) (*Image, error) {
	var img *Image
	err := e.process(r, KindImage, func(b *unityfs.Bundle, rec *unityfs.Field) error {
		height, err := rec.Lookup("m_Height")
		if err != nil {
			return err
		}
		width, err := rec.Lookup("m_Width")
		if err != nil {
			return err
		}
		img = &Image{Width: int(width.Int()), Height: int(height.Int())}
		if format := rec.Child("m_TextureFormat"); format != nil {
			img.Format = int(format.Int())
		}

		stream := rec.Child("m_StreamData")
		offset, size := stream.Child("offset").Int(), stream.Child("size").Int()
		if stream == nil || size == 0 {
			img.Data = rec.Child("image data").Bytes()
			return nil
		}
		img.Data, err = e.readBlob(b, offset, size)
		return err
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Audio extracts the first AudioClip record
func (e *Extractor) Audio(r unityfs.Stream) (*Audio, error) {
	var clip *Audio
	err := e.process(r, KindAudio, func(b *unityfs.Bundle, rec *unityfs.Field) error {
		offset, err := rec.Lookup("m_Resource.m_Offset")
		if err != nil {
			return err
		}
		size, err := rec.Lookup("m_Resource.m_Size")
		if err != nil {
			return err
		}
		length, err := rec.Lookup("m_Length")
		if err != nil {
			return err
		}
		clip = &Audio{Length: float32(length.Float())}
		clip.Data, err = e.readBlob(b, offset.Int(), size.Int())
		return err
	})
	if err != nil {
		return nil, err
	}
	return clip, nil
}

// Text extracts the first TextAsset record
func (e *Extractor) Text(r unityfs.Stream) (*Text, error) {
	var text *Text
	err := e.process(r, KindText, func(_ *unityfs.Bundle, rec *unityfs.Field) error {
		script, err := rec.Lookup("m_Script")
		if err != nil {
			return err
		}
		text = &Text{Content: script.Str()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return text, nil
}

// readBlob reads size bytes at offset within range 1
func (e *Extractor) readBlob(b *unityfs.Bundle, offset, size int64) ([]byte, error) {
	if size > e.maxPayload() {
		return nil, fmt.Errorf("record declares %d bytes, limit %d: %w", size, e.maxPayload(), ErrTooLarge)
	}
	base, _, err := b.FileRange(1)
	if errors.Is(err, unityfs.ErrNoRange) {
		return nil, fmt.Errorf("record points at %d bytes outside the index: %w", size, ErrMissingRange)
	}
	if err != nil {
		return nil, err
	}
	return ReadRange(b.Data(), base+offset, size)
}

// process opens the bundle, parses range 0 and hands the first record of
// kind to fn. The bundle and record index are released on every path.
func (e *Extractor) process(r unityfs.Stream, kind Kind, fn func(*unityfs.Bundle, *unityfs.Field) error) error {
	b, err := unityfs.Open(r)
	if err != nil {
		return fmt.Errorf("failed to open bundle: %w", err)
	}
	defer func() { _ = b.Close() }()

	if b.Compressed() {
		if err := b.Unpack(); err != nil {
			return fmt.Errorf("failed to unpack bundle: %w", err)
		}
	}

	index, err := b.Section(0)
	if err != nil {
		return fmt.Errorf("failed to locate record index: %w", err)
	}
	sf, err := unityfs.ReadSerialized(index, index.Size())
	if err != nil {
		return fmt.Errorf("failed to read record index: %w", err)
	}
	defer func() { _ = sf.Close() }()

	obj, ok := sf.Find(kind.classID())
	if !ok {
		return fmt.Errorf("no %s record in bundle: %w", kind, ErrRecordNotFound)
	}
	rec, err := sf.ReadObject(obj)
	if err != nil {
		return err
	}
	if err := fn(b, rec); err != nil {
		return fmt.Errorf("%s record %d: %w", kind, obj.PathID, err)
	}
	return nil
}
