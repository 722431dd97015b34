package detector

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Format represents the detected input or package format
type Format int

const (
	// FormatUnknown indicates the format could not be determined
	FormatUnknown Format = iota

	// FormatZip indicates a zip archive such as an APK
	FormatZip

	// FormatDirectory indicates a directory of bundle files
	FormatDirectory

	// FormatRemote indicates an archive served over HTTP
	FormatRemote

	// FormatBundle indicates a single UnityFS bundle
	FormatBundle

	// FormatTar indicates an uncompressed tar package
	FormatTar

	// FormatZstd indicates a zstd-compressed stream
	FormatZstd

	// FormatLZ4 indicates an lz4 frame stream
	FormatLZ4
)

// SniffLen is the number of leading bytes Sniff inspects
const SniffLen = 264

var (
	zipMagic     = []byte("PK\x03\x04")
	bundleMagic  = []byte("UnityFS\x00")
	zstdMagic    = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic     = []byte{0x04, 0x22, 0x4d, 0x18}
	tarMagic     = []byte("ustar")
	tarMagicOff  = 257
	emptyZipHead = []byte("PK\x05\x06")
)

// String returns the string representation of the format
func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatDirectory:
		return "directory"
	case FormatRemote:
		return "remote"
	case FormatBundle:
		return "unityfs"
	case FormatTar:
		return "tar"
	case FormatZstd:
		return "zstd"
	case FormatLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format name as printed by String. "apk" is
// accepted for zip and "auto" yields FormatUnknown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return FormatUnknown, nil
	case "zip", "apk":
		return FormatZip, nil
	case "directory", "dir":
		return FormatDirectory, nil
	case "remote", "url":
		return FormatRemote, nil
	case "unityfs", "bundle":
		return FormatBundle, nil
	default:
		return FormatUnknown, fmt.Errorf("unknown format %q", s)
	}
}

// IsRemote reports whether location is an http(s) URL
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Sniff determines a format from the leading bytes of a stream
func Sniff(header []byte) Format {
	switch {
	case bytes.HasPrefix(header, zipMagic), bytes.HasPrefix(header, emptyZipHead):
		return FormatZip
	case bytes.HasPrefix(header, bundleMagic):
		return FormatBundle
	case bytes.HasPrefix(header, zstdMagic):
		return FormatZstd
	case bytes.HasPrefix(header, lz4Magic):
		return FormatLZ4
	case len(header) >= tarMagicOff+len(tarMagic) && bytes.Equal(header[tarMagicOff:tarMagicOff+len(tarMagic)], tarMagic):
		return FormatTar
	default:
		return FormatUnknown
	}
}

// Detect determines the format of an input location: a URL, a directory,
// or a local file identified by its magic bytes
func Detect(location string) (Format, error) {
	if IsRemote(location) {
		return FormatRemote, nil
	}

	info, err := os.Stat(location)
	if err != nil {
		return FormatUnknown, fmt.Errorf("failed to stat %s: %w", location, err)
	}
	if info.IsDir() {
		return FormatDirectory, nil
	}

	f, err := os.Open(location)
	if err != nil {
		return FormatUnknown, fmt.Errorf("failed to open %s: %w", location, err)
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, SniffLen)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, fmt.Errorf("failed to read %s: %w", location, err)
	}
	return Sniff(header[:n]), nil
}
