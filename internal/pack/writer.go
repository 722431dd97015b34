package pack

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// MetadataEntry is the name of the first entry of every package
const MetadataEntry = "metadata.json"

// FilePrefix prefixes the content id in payload entry names
const FilePrefix = "files/"

// Compression selects whole-package compression
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ParseCompression parses a compression name. The empty string is none.
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd, CompressionLZ4:
		return Compression(s), nil
	default:
		return "", fmt.Errorf("unknown compression %q (want none, zstd or lz4)", s)
	}
}

// WriteOptions controls package encoding
type WriteOptions struct {
	Compression Compression

	// ModTime is stamped on every entry. Zero means the current time.
	ModTime time.Time
}

// FileName returns the entry name of a content id
func FileName(id int) string {
	return FilePrefix + strconv.Itoa(id)
}

// WritePackage writes res to w: metadata.json, then one files/<id> entry
// per content id in ascending order.
func WritePackage(w io.Writer, res *Result, opts WriteOptions) error {
	cw, err := compressWriter(w, opts.Compression)
	if err != nil {
		return err
	}

	meta, err := json.MarshalIndent(res.Metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now()
	}
	modTime = modTime.Truncate(time.Second)

	tw := tar.NewWriter(cw)
	if err := writeEntry(tw, MetadataEntry, meta, modTime); err != nil {
		return err
	}
	for id := 0; id < res.Registry.Len(); id++ {
		data, err := res.Registry.Blob(id)
		if err != nil {
			return err
		}
		if err := writeEntry(tw, FileName(id), data, modTime); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("failed to finish %s stream: %w", opts.Compression, err)
	}
	return nil
}

func writeEntry(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     int64(len(data)),
		Mode:     0o644,
		ModTime:  modTime,
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func compressWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case "", CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return zw, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}
