// Package source supplies bundle byte streams by name: entries of an APK,
// files in a directory, or in-memory blobs.
package source

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/phiinfo/phi-extract/internal/pathutil"
)

// ErrNotFound is returned when no entry has the requested name
var ErrNotFound = errors.New("bundle not found")

// DefaultBundlePrefix is where addressable bundles live inside an APK
const DefaultBundlePrefix = "assets/aa/Android/"

// DefaultCatalogEntry is the APK entry holding the addressables catalog
const DefaultCatalogEntry = "assets/aa/catalog.json"

// Stream is a seekable, random-access bundle stream
type Stream interface {
	io.Reader
	io.Seeker
	io.ReaderAt
	io.Closer
}

// Source opens named entries
type Source interface {
	Open(ctx context.Context, name string) (Stream, error)
}

// Lister is implemented by sources that can enumerate their entries
type Lister interface {
	Names() []string
}

// FileReader is implemented by sources that can return a whole entry
type FileReader interface {
	ReadFile(name string) ([]byte, error)
}

type nopCloser struct {
	*io.SectionReader
}

func (nopCloser) Close() error { return nil }

type bytesStream struct {
	*bytes.Reader
}

func (bytesStream) Close() error { return nil }

// Zip reads entries of a zip archive such as an APK. Stored entries are
// served as views on the archive; deflated entries are inflated into memory
// on open.
type Zip struct {
	r  io.ReaderAt
	zr *zip.Reader
	rc io.Closer

	// inflating shares the archive reader
	mu     sync.Mutex
	byName map[string]*zip.File
}

// NewZip reads the central directory of the archive in r
func NewZip(r io.ReaderAt, size int64) (*Zip, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to read zip directory: %w", err)
	}
	z := &Zip{r: r, zr: zr, byName: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		name := pathutil.Normalize(f.Name)
		if _, dup := z.byName[name]; !dup {
			z.byName[name] = f
		}
	}
	if c, ok := r.(io.Closer); ok {
		z.rc = c
	}
	return z, nil
}

// OpenZip opens an archive on disk
func OpenZip(path string) (*Zip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	z, err := NewZip(f, info.Size())
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return z, nil
}

// Open returns the named entry
func (z *Zip) Open(_ context.Context, name string) (Stream, error) {
	f, ok := z.byName[pathutil.Normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	if f.Method == zip.Store {
		off, err := f.DataOffset()
		if err != nil {
			return nil, fmt.Errorf("failed to locate %s: %w", name, err)
		}
		return nopCloser{io.NewSectionReader(z.r, off, int64(f.UncompressedSize64))}, nil
	}

	data, err := z.inflate(f)
	if err != nil {
		return nil, err
	}
	return bytesStream{bytes.NewReader(data)}, nil
}

// ReadFile returns the full content of the named entry
func (z *Zip) ReadFile(name string) ([]byte, error) {
	f, ok := z.byName[pathutil.Normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return z.inflate(f)
}

func (z *Zip) inflate(f *zip.File) ([]byte, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	return data, nil
}

// Names lists every entry name in archive order
func (z *Zip) Names() []string {
	names := make([]string, 0, len(z.zr.File))
	for _, f := range z.zr.File {
		names = append(names, pathutil.Normalize(f.Name))
	}
	return names
}

// Close closes the underlying file when the Zip opened it
func (z *Zip) Close() error {
	if z.rc != nil {
		return z.rc.Close()
	}
	return nil
}

// Prefixed resolves names relative to a directory inside another source
type Prefixed struct {
	Source Source
	Prefix string
}

// Open opens Prefix+name in the wrapped source
func (p *Prefixed) Open(ctx context.Context, name string) (Stream, error) {
	return p.Source.Open(ctx, p.Prefix+name)
}

// Names lists the wrapped source's entries under Prefix, with the prefix
// removed
func (p *Prefixed) Names() []string {
	l, ok := p.Source.(Lister)
	if !ok {
		return nil
	}
	var names []string
	for _, n := range l.Names() {
		if rest, ok := strings.CutPrefix(n, p.Prefix); ok && rest != "" {
			names = append(names, rest)
		}
	}
	return names
}

// Dir serves files below a directory
type Dir struct {
	Root string
}

// Open opens the named file. Names may not escape Root.
func (d *Dir) Open(_ context.Context, name string) (Stream, error) {
	clean := pathutil.Normalize(name)
	if !fs.ValidPath(clean) {
		return nil, fmt.Errorf("invalid bundle name %q: %w", name, ErrNotFound)
	}
	f, err := os.Open(filepath.Join(d.Root, filepath.FromSlash(clean)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

// Names lists regular files below Root as slash separated relative paths
func (d *Dir) Names() []string {
	var names []string
	_ = filepath.WalkDir(d.Root, func(path string, e fs.DirEntry, err error) error {
		if err != nil || !e.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(d.Root, path)
		if err == nil {
			names = append(names, filepath.ToSlash(rel))
		}
		return nil
	})
	return names
}

// ReadFile returns the content of the named file
func (d *Dir) ReadFile(name string) ([]byte, error) {
	s, err := d.Open(context.Background(), name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Close() }()
	return io.ReadAll(s)
}

// Memory serves in-memory blobs. It is safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory returns an empty store
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Put stores data under name, replacing any previous blob
func (m *Memory) Put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = data
}

// Delete removes name
func (m *Memory) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, name)
}

// Open returns a reader over the named blob
func (m *Memory) Open(_ context.Context, name string) (Stream, error) {
	m.mu.RLock()
	data, ok := m.blobs[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return bytesStream{bytes.NewReader(data)}, nil
}

// ReadFile returns the named blob
func (m *Memory) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return data, nil
}

// Names lists the stored names in sorted order
func (m *Memory) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.blobs))
	for n := range m.blobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
