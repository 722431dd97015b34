package remote

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// newRangeServer serves data with HEAD and single-range GET support and
// counts the GET requests it receives
func newRangeServer(t *testing.T, data []byte, gets *atomic.Int32) *httptest.Server {
	t.Helper()
	size := int64(len(data))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
			w.WriteHeader(http.StatusOK)
			return
		}
		if gets != nil {
			gets.Add(1)
		}

		var start, end int64
		if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end); err != nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
		if start < 0 || start >= size {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if end >= size {
			end = size - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(data[start : end+1])
	}))
	t.Cleanup(server.Close)
	return server
}

func TestReader(t *testing.T) {
	testData := []byte("Hello, World! This is test data for remote reader.")
	server := newRangeServer(t, testData, nil)

	reader, err := NewReader(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	defer func() { _ = reader.Close() }()

	if reader.Size() != int64(len(testData)) {
		t.Errorf("Size() = %d, want %d", reader.Size(), len(testData))
	}

	buf := make([]byte, 5)
	n, err := reader.ReadAt(buf, 0)
	if err != nil || n != 5 || string(buf) != "Hello" {
		t.Errorf("ReadAt(0) = %d, %q, %v, want 5, Hello, nil", n, buf, err)
	}

	buf = make([]byte, 5)
	if _, err := reader.ReadAt(buf, 7); err != nil || string(buf) != "World" {
		t.Errorf("ReadAt(7) = %q, %v, want World", buf, err)
	}

	buf = make([]byte, 10)
	if _, err := reader.ReadAt(buf, int64(len(testData))); err != io.EOF {
		t.Errorf("ReadAt(end) error = %v, want io.EOF", err)
	}

	buf = make([]byte, 10)
	n, err = reader.ReadAt(buf, int64(len(testData))-4)
	if n != 4 || err != io.EOF {
		t.Errorf("ReadAt(tail) = %d, %v, want 4, io.EOF", n, err)
	}
}

func TestReaderReadAhead(t *testing.T) {
	testData := bytes.Repeat([]byte("0123456789"), 100)
	var gets atomic.Int32
	server := newRangeServer(t, testData, &gets)

	reader, err := NewReader(context.Background(), server.URL, WithReadAhead(256))
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}

	buf := make([]byte, 8)
	for _, off := range []int64{0, 8, 100, 200} {
		if _, err := reader.ReadAt(buf, off); err != nil {
			t.Fatalf("ReadAt(%d) error = %v", off, err)
		}
		if !bytes.Equal(buf, testData[off:off+8]) {
			t.Errorf("ReadAt(%d) = %q", off, buf)
		}
	}
	if got := gets.Load(); got != 1 {
		t.Errorf("reads inside one window issued %d requests, want 1", got)
	}

	if _, err := reader.ReadAt(buf, 500); err != nil {
		t.Fatalf("ReadAt(500) error = %v", err)
	}
	if got := gets.Load(); got != 2 {
		t.Errorf("read outside the window issued %d requests total, want 2", got)
	}

	// reads at least as large as the window bypass it
	large := make([]byte, 300)
	if _, err := reader.ReadAt(large, 600); err != nil {
		t.Fatalf("ReadAt(600) error = %v", err)
	}
	if !bytes.Equal(large, testData[600:900]) {
		t.Error("large read returned wrong data")
	}
}

func TestReaderNoRangeSupport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "100")
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	_, err := NewReader(context.Background(), server.URL)
	if !errors.Is(err, ErrNoRangeSupport) {
		t.Errorf("NewReader() error = %v, want ErrNoRangeSupport", err)
	}
}

func TestReaderZip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "assets/aa/catalog.json", Method: zip.Store})
	if err != nil {
		t.Fatalf("CreateHeader() error = %v", err)
	}
	_, _ = w.Write([]byte(`{"m_KeyDataString":""}`))
	if err := zw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	server := newRangeServer(t, buf.Bytes(), nil)
	reader, err := NewReader(context.Background(), server.URL, WithReadAhead(64))
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}

	zr, err := zip.NewReader(reader, reader.Size())
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "assets/aa/catalog.json" {
		t.Fatalf("zip entries = %v", zr.File)
	}
}
