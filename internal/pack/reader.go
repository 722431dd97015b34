package pack

import (
	"archive/tar"
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/phiinfo/phi-extract/internal/detector"
	"github.com/phiinfo/phi-extract/internal/pathutil"
)

var (
	// ErrEntryNotFound is returned when a package has no entry of the
	// requested name
	ErrEntryNotFound = errors.New("entry not found")

	// ErrBadPackage is returned when a package does not start with
	// metadata.json or holds an unexpected entry
	ErrBadPackage = errors.New("malformed package")
)

// Package is a fully read package
type Package struct {
	Metadata Document
	Files    map[int][]byte
}

// tarStream is a tar reader over a possibly compressed package
type tarStream struct {
	*tar.Reader
	closer func()
}

// openTar detects the package compression from its magic bytes
func openTar(r io.Reader) (*tarStream, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(detector.SniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read package header: %w", err)
	}

	switch detector.Sniff(head) {
	case detector.FormatZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return &tarStream{Reader: tar.NewReader(zr), closer: zr.Close}, nil
	case detector.FormatLZ4:
		return &tarStream{Reader: tar.NewReader(lz4.NewReader(br)), closer: func() {}}, nil
	default:
		return &tarStream{Reader: tar.NewReader(br), closer: func() {}}, nil
	}
}

// ListEntries lists the regular file entries of a package in order
func ListEntries(r io.Reader) ([]string, error) {
	ts, err := openTar(r)
	if err != nil {
		return nil, err
	}
	defer ts.closer()

	var files []string
	for {
		header, err := ts.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar entry: %w", err)
		}
		if header.Typeflag == tar.TypeReg {
			files = append(files, header.Name)
		}
	}
	return files, nil
}

// ExtractEntry copies the content of the named entry to w
func ExtractEntry(r io.Reader, name string, w io.Writer) error {
	ts, err := openTar(r)
	if err != nil {
		return err
	}
	defer ts.closer()

	target := pathutil.Normalize(name)
	for {
		header, err := ts.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}
		if pathutil.Normalize(header.Name) != target {
			continue
		}
		if header.Typeflag != tar.TypeReg {
			return fmt.Errorf("entry %s is not a regular file (type: %d)", name, header.Typeflag)
		}
		if _, err := io.Copy(w, ts); err != nil {
			return fmt.Errorf("failed to copy entry contents: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%s: %w", name, ErrEntryNotFound)
}

// ReadPackage reads a whole package into memory. The first entry must be
// metadata.json and every other entry files/<id>.
func ReadPackage(r io.Reader) (*Package, error) {
	ts, err := openTar(r)
	if err != nil {
		return nil, err
	}
	defer ts.closer()

	pkg := &Package{Files: make(map[int][]byte)}
	sawMetadata := false
	for i := 0; ; i++ {
		header, err := ts.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar entry: %w", err)
		}
		data, err := io.ReadAll(ts)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", header.Name, err)
		}

		name := pathutil.Normalize(header.Name)
		if i == 0 {
			if name != MetadataEntry {
				return nil, fmt.Errorf("first entry is %s, want %s: %w", name, MetadataEntry, ErrBadPackage)
			}
			if err := json.Unmarshal(data, &pkg.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
			sawMetadata = true
			continue
		}

		idText, ok := strings.CutPrefix(name, FilePrefix)
		if !ok {
			return nil, fmt.Errorf("unexpected entry %s: %w", name, ErrBadPackage)
		}
		id, err := strconv.Atoi(idText)
		if err != nil {
			return nil, fmt.Errorf("entry %s has no numeric id: %w", name, ErrBadPackage)
		}
		pkg.Files[id] = data
	}
	if !sawMetadata {
		return nil, fmt.Errorf("empty package: %w", ErrBadPackage)
	}
	return pkg, nil
}
