// Package pack extracts every asset named by a manifest, deduplicates
// repeated paths under dense content ids and writes the result as a tar
// package: metadata.json followed by files/<id>.
package pack

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"github.com/phiinfo/phi-extract/internal/asset"
)

// Metadata describes a stored payload. Width, Height and Format are set for
// images and Length for audio.
type Metadata struct {
	Kind   string  `json:"kind"`
	Size   int     `json:"size"`
	Blake3 string  `json:"blake3"`
	Width  int     `json:"width,omitempty"`
	Height int     `json:"height,omitempty"`
	Format int     `json:"format,omitempty"`
	Length float32 `json:"length,omitempty"`
}

// Leaf is a manifest path replaced by its stored content
type Leaf struct {
	ContentID int      `json:"content_id"`
	Metadata  Metadata `json:"metadata"`
}

// FetchFunc produces the payload of a path
type FetchFunc func(ctx context.Context, path string, kind asset.Kind) (asset.Payload, error)

// Registry maps paths to content ids. Each path is fetched at most once;
// concurrent callers for the same path share the one fetch. A content id is
// allocated, its bytes stored and the path published in a single critical
// section after the fetch succeeds, so ids are dense and every id is
// reachable from a path. Failed paths are remembered and get no id.
type Registry struct {
	group singleflight.Group

	mu     sync.Mutex
	byPath map[string]Leaf
	failed map[string]error
	blobs  [][]byte
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byPath: make(map[string]Leaf),
		failed: make(map[string]error),
	}
}

// lookup reports whether path has already been fetched and with what
// outcome
func (r *Registry) lookup(path string) (Leaf, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if leaf, ok := r.byPath[path]; ok {
		return leaf, true, nil
	}
	if err, ok := r.failed[path]; ok {
		return Leaf{}, true, err
	}
	return Leaf{}, false, nil
}

// GetOrCreate returns the leaf of path, calling fetch if the path has not
// been seen. The error of a failed fetch is returned to every caller for
// that path.
func (r *Registry) GetOrCreate(ctx context.Context, path string, kind asset.Kind, fetch FetchFunc) (Leaf, error) {
	if leaf, ok, err := r.lookup(path); ok {
		return leaf, err
	}

	v, err, _ := r.group.Do(path, func() (any, error) {
		// a flight for path may have completed since the lookup above
		if leaf, ok, err := r.lookup(path); ok {
			return leaf, err
		}

		p, err := fetch(ctx, path, kind)
		if err == nil && p == nil {
			err = fmt.Errorf("no %s payload for %s", kind, path)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			r.failed[path] = err
			return Leaf{}, err
		}
		data := p.Bytes()
		leaf := Leaf{ContentID: len(r.blobs), Metadata: describe(p, data)}
		r.blobs = append(r.blobs, data)
		r.byPath[path] = leaf
		return leaf, nil
	})
	if err != nil {
		return Leaf{}, err
	}
	return v.(Leaf), nil
}

// Len returns the number of stored payloads. Content ids are [0, Len()).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blobs)
}

// Blob returns the bytes stored under id
func (r *Registry) Blob(id int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.blobs) {
		return nil, fmt.Errorf("content id %d out of range [0, %d)", id, len(r.blobs))
	}
	return r.blobs[id], nil
}

// Failures returns the failed paths in sorted order with their errors
func (r *Registry) Failures() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	diags := make([]Diagnostic, 0, len(r.failed))
	for path, err := range r.failed {
		diags = append(diags, Diagnostic{Path: path, Err: err})
	}
	sort.Slice(diags, func(i, j int) bool { return diags[i].Path < diags[j].Path })
	return diags
}

func describe(p asset.Payload, data []byte) Metadata {
	sum := blake3.Sum256(data)
	m := Metadata{
		Kind:   p.Kind().String(),
		Size:   len(data),
		Blake3: hex.EncodeToString(sum[:]),
	}
	switch v := p.(type) {
	case *asset.Image:
		m.Width, m.Height, m.Format = v.Width, v.Height, v.Format
	case *asset.Audio:
		m.Length = v.Length
	}
	return m
}
