package source

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
)

func buildZip(t *testing.T, entries map[string][]byte, method uint16) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range sortedKeys(entries) {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			t.Fatalf("CreateHeader() error = %v", err)
		}
		if _, err := w.Write(entries[name]); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return buf.Bytes()
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestZip(t *testing.T) {
	entries := map[string][]byte{
		"assets/aa/catalog.json":          []byte(`{"m_KeyDataString":""}`),
		"assets/aa/Android/song_a.bundle": bytes.Repeat([]byte("UnityFS"), 50),
	}

	for _, method := range []uint16{zip.Store, zip.Deflate} {
		data := buildZip(t, entries, method)
		z, err := NewZip(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			t.Fatalf("NewZip() error = %v", err)
		}

		s, err := z.Open(context.Background(), "assets/aa/Android/song_a.bundle")
		if err != nil {
			t.Fatalf("method %d: Open() error = %v", method, err)
		}
		got, err := io.ReadAll(s)
		if err != nil {
			t.Fatalf("method %d: ReadAll() error = %v", method, err)
		}
		if !bytes.Equal(got, entries["assets/aa/Android/song_a.bundle"]) {
			t.Errorf("method %d: entry content mismatch", method)
		}
		_ = s.Close()

		// random access must not disturb the sequential position
		s, _ = z.Open(context.Background(), "/assets/aa/Android/song_a.bundle")
		head := make([]byte, 7)
		if _, err := s.ReadAt(head, 7); err != nil || string(head) != "UnityFS" {
			t.Errorf("method %d: ReadAt() = %q, %v", method, head, err)
		}
		if pos, _ := s.Seek(0, io.SeekCurrent); pos != 0 {
			t.Errorf("method %d: position after ReadAt = %d, want 0", method, pos)
		}

		catalog, err := z.ReadFile(DefaultCatalogEntry)
		if err != nil || string(catalog) != `{"m_KeyDataString":""}` {
			t.Errorf("method %d: ReadFile() = %q, %v", method, catalog, err)
		}

		if _, err := z.Open(context.Background(), "assets/aa/Android/missing.bundle"); !errors.Is(err, ErrNotFound) {
			t.Errorf("method %d: Open(missing) error = %v, want ErrNotFound", method, err)
		}
	}
}

func TestZipStoredEntryIsAView(t *testing.T) {
	payload := []byte("stored bundle bytes")
	data := buildZip(t, map[string][]byte{"a.bundle": payload}, zip.Store)
	z, err := NewZip(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("NewZip() error = %v", err)
	}
	s, err := z.Open(context.Background(), "a.bundle")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	view, ok := s.(nopCloser)
	if !ok {
		t.Fatalf("stored entry opened as %T, want a section view", s)
	}
	if view.Size() != int64(len(payload)) {
		t.Errorf("section size = %d, want %d", view.Size(), len(payload))
	}
}

func TestPrefixed(t *testing.T) {
	mem := NewMemory()
	mem.Put(DefaultBundlePrefix+"x.bundle", []byte("x"))
	mem.Put("assets/aa/catalog.json", []byte("{}"))

	p := &Prefixed{Source: mem, Prefix: DefaultBundlePrefix}
	s, err := p.Open(context.Background(), "x.bundle")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	got, _ := io.ReadAll(s)
	if string(got) != "x" {
		t.Errorf("content = %q, want x", got)
	}
	if names := p.Names(); !reflect.DeepEqual(names, []string{"x.bundle"}) {
		t.Errorf("Names() = %v, want [x.bundle]", names)
	}
	if _, err := p.Open(context.Background(), "catalog.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(catalog.json) error = %v, want ErrNotFound", err)
	}
}

func TestDir(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "b.bundle"), []byte("bundle"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := &Dir{Root: root}
	s, err := d.Open(context.Background(), "sub/b.bundle")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	got, _ := io.ReadAll(s)
	_ = s.Close()
	if string(got) != "bundle" {
		t.Errorf("content = %q", got)
	}

	if names := d.Names(); !reflect.DeepEqual(names, []string{"sub/b.bundle"}) {
		t.Errorf("Names() = %v", names)
	}

	for _, name := range []string{"missing.bundle", "../outside", "sub/../../x"} {
		if _, err := d.Open(context.Background(), name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Open(%q) error = %v, want ErrNotFound", name, err)
		}
	}
}
