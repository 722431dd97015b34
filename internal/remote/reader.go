// Package remote reads APKs served over HTTP without downloading them,
// using Range requests behind an io.ReaderAt.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrNoRangeSupport is returned when the server does not advertise byte
// range support
var ErrNoRangeSupport = errors.New("server does not support range requests")

// DefaultReadAhead is the window fetched for small reads
const DefaultReadAhead = 1 << 20

// Reader implements io.ReaderAt for remote HTTP resources using Range requests.
// Small reads are served from a read-ahead window so that walking a zip
// central directory costs a handful of requests.
type Reader struct {
	URL    string
	Client *http.Client

	ctx       context.Context
	size      int64
	readAhead int

	cacheMu    sync.RWMutex
	cacheStart int64
	cacheData  []byte
}

// Option configures a Reader
type Option func(*Reader)

// WithClient sets the HTTP client used for all requests
func WithClient(c *http.Client) Option {
	return func(r *Reader) { r.Client = c }
}

// WithReadAhead sets the read-ahead window. Zero disables caching.
func WithReadAhead(n int) Option {
	return func(r *Reader) { r.readAhead = n }
}

// NewReader issues a HEAD request to learn the resource size and confirm
// range support. ctx bounds the HEAD and every later range request.
func NewReader(ctx context.Context, url string, opts ...Option) (*Reader, error) {
	r := &Reader{
		URL:       url,
		Client:    http.DefaultClient,
		ctx:       ctx,
		readAhead: DefaultReadAhead,
	}
	for _, opt := range opts {
		opt(r)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to HEAD %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HEAD request failed with status: %d", resp.StatusCode)
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return nil, fmt.Errorf("%s: %w", url, ErrNoRangeSupport)
	}
	if resp.ContentLength < 0 {
		return nil, fmt.Errorf("HEAD %s did not report a content length", url)
	}

	r.size = resp.ContentLength
	return r, nil
}

// ReadAt implements io.ReaderAt
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= r.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if n, ok := r.fromCache(p, off); ok {
		return n, r.eofAt(off, n, len(p))
	}

	if len(p) < r.readAhead {
		window, err := r.fetch(off, int64(r.readAhead))
		if err != nil {
			return 0, err
		}
		r.cacheMu.Lock()
		r.cacheStart, r.cacheData = off, window
		r.cacheMu.Unlock()
		n := copy(p, window)
		return n, r.eofAt(off, n, len(p))
	}

	data, err := r.fetch(off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	return n, r.eofAt(off, n, len(p))
}

func (r *Reader) fromCache(p []byte, off int64) (int, bool) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	end := r.cacheStart + int64(len(r.cacheData))
	if r.cacheData == nil || off < r.cacheStart || off >= end {
		return 0, false
	}
	// a read running past the window is only served when the window
	// already reaches the end of the resource
	if off+int64(len(p)) > end && end < r.size {
		return 0, false
	}
	return copy(p, r.cacheData[off-r.cacheStart:]), true
}

func (r *Reader) eofAt(off int64, n, want int) error {
	if n < want && off+int64(n) >= r.size {
		return io.EOF
	}
	if n < want {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// fetch requests up to length bytes at off, clamped to the resource size
func (r *Reader) fetch(off, length int64) ([]byte, error) {
	end := off + length - 1
	if end >= r.size {
		end = r.size - 1
	}

	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute range request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body := io.Reader(resp.Body)
	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		// the server ignored the range, skip to the offset ourselves
		if _, err := io.CopyN(io.Discard, resp.Body, off); err != nil {
			return nil, fmt.Errorf("failed to skip to offset %d: %w", off, err)
		}
	default:
		return nil, fmt.Errorf("range request failed with status: %d", resp.StatusCode)
	}

	buf := make([]byte, end-off+1)
	n, err := io.ReadFull(body, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return buf[:n], nil
}

// Size returns the total size of the remote resource
func (r *Reader) Size() int64 {
	return r.size
}

// Close drops the read-ahead window
func (r *Reader) Close() error {
	r.cacheMu.Lock()
	r.cacheData = nil
	r.cacheMu.Unlock()
	return nil
}
